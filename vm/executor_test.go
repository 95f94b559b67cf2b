package vm_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolmart/core"
	"github.com/tolelom/tolmart/events"
	"github.com/tolelom/tolmart/internal/testutil"
	"github.com/tolelom/tolmart/vm"
	"github.com/tolelom/tolmart/wallet"

	_ "github.com/tolelom/tolmart/vm/modules"
)

func newLedger(t *testing.T) (*testutil.Ledger, *wallet.Wallet, *wallet.Wallet) {
	alice, bob := testutil.NewWallet(t), testutil.NewWallet(t)
	l := testutil.NewLedger(t, testutil.Genesis(map[string]uint64{alice.PubKey(): 1_000}, alice.PubKey()))
	return l, alice, bob
}

func nonceOf(t *testing.T, l *testutil.Ledger, w *wallet.Wallet) uint64 {
	t.Helper()
	acc, err := l.State.GetAccount(w.PubKey())
	require.NoError(t, err)
	return acc.Nonce
}

func TestExecuteTxChargesFeeAndNonce(t *testing.T) {
	l, alice, bob := newLedger(t)

	tx, err := alice.NewTxWithFee(core.TxTransfer, 7, core.TransferPayload{To: bob.PubKey(), Amount: 100})
	require.NoError(t, err)
	r := l.ApplyBlock(tx)[0]
	require.True(t, r.OK(), r.Error)
	assert.Equal(t, tx.ID, r.TxID)

	assert.Equal(t, uint64(893), l.Balance(alice.PubKey()))
	assert.Equal(t, uint64(100), l.Balance(bob.PubKey()))
	assert.Equal(t, uint64(1), nonceOf(t, l, alice))

	require.Len(t, l.EventsOf(events.EventTokenTransfer), 1)
	executed := l.EventsOf(events.EventTxExecuted)
	require.Len(t, executed, 1)
	assert.Equal(t, tx.ID, executed[0].TxID)
}

func TestExecuteTxFailureRevertsEverything(t *testing.T) {
	l, alice, bob := newLedger(t)
	root := l.Root()

	tx, err := alice.NewTxWithFee(core.TxTransfer, 7, core.TransferPayload{To: bob.PubKey(), Amount: 5_000})
	require.NoError(t, err)
	r := l.ApplyBlock(tx)[0]
	assert.Equal(t, core.CodeTransferFailed, r.Code)
	assert.NotEmpty(t, r.Error)

	assert.Equal(t, root, l.Root())
	assert.Equal(t, uint64(1_000), l.Balance(alice.PubKey()))
	assert.Equal(t, uint64(0), nonceOf(t, l, alice))
	assert.Empty(t, l.EventsOf(events.EventTokenTransfer))

	failed := l.EventsOf(events.EventTxFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, uint32(core.CodeTransferFailed), failed[0].Data["code"])
}

func TestExecuteTxEnvelope(t *testing.T) {
	l, alice, bob := newLedger(t)
	transfer := core.TransferPayload{To: bob.PubKey(), Amount: 1}

	t.Run("tampered", func(t *testing.T) {
		tx, err := alice.NewTx(core.TxTransfer, transfer)
		require.NoError(t, err)
		alice.Rewind()
		tx.Payload = json.RawMessage(`{"to":"` + bob.PubKey() + `","amount":900}`)
		assert.Equal(t, core.CodeNotAuthorized, l.ApplyBlock(tx)[0].Code)
	})

	t.Run("foreign chain", func(t *testing.T) {
		foreign := wallet.New("elsewhere", alice.PrivKey())
		tx, err := foreign.NewTx(core.TxTransfer, transfer)
		require.NoError(t, err)
		assert.Equal(t, core.CodeInvalidParameters, l.ApplyBlock(tx)[0].Code)
	})

	t.Run("nonce gap", func(t *testing.T) {
		alice.SetNonce(3)
		tx, err := alice.NewTx(core.TxTransfer, transfer)
		require.NoError(t, err)
		assert.Equal(t, core.CodeInvalidParameters, l.ApplyBlock(tx)[0].Code)
		alice.SetNonce(0)
	})

	t.Run("fee above balance", func(t *testing.T) {
		tx, err := alice.NewTxWithFee(core.TxTransfer, 1_001, transfer)
		require.NoError(t, err)
		alice.Rewind()
		assert.Equal(t, core.CodeTransferFailed, l.ApplyBlock(tx)[0].Code)
	})

	t.Run("unknown type", func(t *testing.T) {
		tx, err := alice.NewTx(core.TxType("mint_gold"), nil)
		require.NoError(t, err)
		alice.Rewind()
		assert.Equal(t, core.CodeInvalidParameters, l.ApplyBlock(tx)[0].Code)
	})

	t.Run("malformed payload", func(t *testing.T) {
		tx, err := alice.NewTx(core.TxTransfer, "not an object")
		require.NoError(t, err)
		alice.Rewind()
		assert.Equal(t, core.CodeInvalidParameters, l.ApplyBlock(tx)[0].Code)
	})

	assert.Equal(t, uint64(0), nonceOf(t, l, alice))
	l.MustSubmit(alice, core.TxTransfer, transfer)
}

func TestExecuteBlockKeepsOrder(t *testing.T) {
	l, alice, bob := newLedger(t)

	first, err := alice.Transfer(bob.PubKey(), 600)
	require.NoError(t, err)
	second, err := alice.Transfer(bob.PubKey(), 600)
	require.NoError(t, err)
	third, err := alice.Transfer(bob.PubKey(), 400)
	require.NoError(t, err)

	receipts := l.ApplyBlock(first, second, third)
	require.Len(t, receipts, 3)
	assert.True(t, receipts[0].OK())
	assert.Equal(t, core.CodeTransferFailed, receipts[1].Code)
	// the failed tx kept nonce 1, so the third is out of order
	assert.Equal(t, core.CodeInvalidParameters, receipts[2].Code)
	assert.Equal(t, uint64(400), l.Balance(alice.PubKey()))
}

func TestRegistry(t *testing.T) {
	r := vm.NewRegistry()
	noop := func(*vm.Context, json.RawMessage) error { return nil }
	r.Register(core.TxTransfer, noop)
	assert.Panics(t, func() { r.Register(core.TxTransfer, noop) })
	assert.Equal(t, []core.TxType{core.TxTransfer}, r.Types())

	all := vm.RegisteredTypes()
	assert.Len(t, all, 29)
	assert.Contains(t, all, core.TxResolveDispute)
	assert.Contains(t, all, core.TxSetFeeRecipient)
}
