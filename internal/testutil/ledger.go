package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolmart/config"
	"github.com/tolelom/tolmart/core"
	"github.com/tolelom/tolmart/events"
	"github.com/tolelom/tolmart/internal/logging"
	"github.com/tolelom/tolmart/storage"
	"github.com/tolelom/tolmart/vm"
	"github.com/tolelom/tolmart/wallet"
)

// ChainID is the chain id every test ledger runs under.
const ChainID = "tolmart-test"

// Ledger executes transactions against an in-memory state, one block per
// Submit, committing after each block. Handlers register themselves, so
// callers must import the modules they exercise.
type Ledger struct {
	t      testing.TB
	DB     *MemDB
	State  *storage.StateDB
	Exec   *vm.Executor
	Events []events.Event
	height int64
}

// Genesis returns a genesis section with default params.
func Genesis(alloc map[string]uint64, admins ...string) *config.GenesisConfig {
	return &config.GenesisConfig{
		ChainID: ChainID,
		Alloc:   alloc,
		Admins:  admins,
		Params:  *core.DefaultParams(),
	}
}

// NewLedger applies g to a fresh state and commits it as height 0.
func NewLedger(t testing.TB, g *config.GenesisConfig) *Ledger {
	t.Helper()
	db := NewMemDB()
	st := storage.NewStateDB(db)
	require.NoError(t, config.ApplyGenesis(g, st))
	require.NoError(t, st.Commit())

	l := &Ledger{t: t, DB: db, State: st}
	emitter := events.NewEmitter(logging.Discard())
	emitter.SubscribeAll(func(ev events.Event) { l.Events = append(l.Events, ev) })
	l.Exec = vm.NewExecutor(st, emitter, logging.Discard())
	return l
}

// NewWallet returns a fresh wallet on the test chain.
func NewWallet(t testing.TB) *wallet.Wallet {
	t.Helper()
	w, err := wallet.Generate(ChainID)
	require.NoError(t, err)
	return w
}

// Height is the height of the last executed block.
func (l *Ledger) Height() int64 { return l.height }

// Advance skips n empty blocks.
func (l *Ledger) Advance(n int64) { l.height += n }

// SetNextHeight makes the next ApplyBlock run at height h.
func (l *Ledger) SetNextHeight(h int64) { l.height = h - 1 }

// ApplyBlock executes txs as the next block and commits the result.
func (l *Ledger) ApplyBlock(txs ...*core.Transaction) []*core.Receipt {
	l.t.Helper()
	l.height++
	block := core.NewBlock(ChainID, l.height, "", "", txs)
	receipts, err := l.Exec.ExecuteBlock(block)
	require.NoError(l.t, err)
	require.NoError(l.t, l.State.Commit())
	return receipts
}

// Submit signs a transaction from w and executes it in its own block. A
// failed transaction gives its nonce back to w.
func (l *Ledger) Submit(w *wallet.Wallet, typ core.TxType, payload any) *core.Receipt {
	l.t.Helper()
	tx, err := w.NewTx(typ, payload)
	require.NoError(l.t, err)
	r := l.ApplyBlock(tx)[0]
	if !r.OK() {
		w.Rewind()
	}
	return r
}

// MustSubmit is Submit that fails the test unless the transaction succeeds.
func (l *Ledger) MustSubmit(w *wallet.Wallet, typ core.TxType, payload any) *core.Receipt {
	l.t.Helper()
	r := l.Submit(w, typ, payload)
	require.Truef(l.t, r.OK(), "%s failed with %d: %s", typ, r.Code, r.Error)
	return r
}

// Root is the committed state root.
func (l *Ledger) Root() string { return l.State.ComputeRoot() }

// Balance reads addr's balance.
func (l *Ledger) Balance(addr string) uint64 {
	l.t.Helper()
	acc, err := l.State.GetAccount(addr)
	require.NoError(l.t, err)
	return acc.Balance
}

// EventsOf returns the collected events of type typ.
func (l *Ledger) EventsOf(typ events.EventType) []events.Event {
	var out []events.Event
	for _, ev := range l.Events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// View runs fn against the ledger state, satisfying rpc.Ledger.
func (l *Ledger) View(fn func(st core.State) error) error { return fn(l.State) }
