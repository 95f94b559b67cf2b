package settlement_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolmart/core"
	"github.com/tolelom/tolmart/internal/testutil"
	"github.com/tolelom/tolmart/settlement"
)

func TestSplit(t *testing.T) {
	cases := []struct {
		name         string
		price        uint64
		royalty, fee uint16
		want         settlement.Payout
	}{
		{"royalty only", 2000, 1000, 0, settlement.Payout{Royalty: 200, Seller: 1800}},
		{"fee and royalty", 10_000, 500, 250, settlement.Payout{Fee: 250, Royalty: 500, Seller: 9250}},
		{"floors both", 99, 1000, 1000, settlement.Payout{Fee: 9, Royalty: 9, Seller: 81}},
		{"max price", math.MaxUint64, 1, 0, settlement.Payout{Royalty: math.MaxUint64 / 10_000, Seller: math.MaxUint64 - math.MaxUint64/10_000}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := settlement.Split(tc.price, tc.royalty, tc.fee)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.price, got.Fee+got.Royalty+got.Seller)
		})
	}

	_, err := settlement.Split(100, 6000, 5000)
	assert.Equal(t, core.CodeInvalidParameters, core.CodeOf(err))
}

func TestArithmetic(t *testing.T) {
	v, err := settlement.MulDiv(math.MaxUint64, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64/4*3+2), v)

	_, err = settlement.MulDiv(math.MaxUint64, 2, 1)
	assert.ErrorIs(t, err, core.ErrOverflow)
	_, err = settlement.MulDiv(1, 1, 0)
	assert.Equal(t, core.CodeInvalidParameters, core.CodeOf(err))

	_, err = settlement.Add(math.MaxUint64, 1)
	assert.ErrorIs(t, err, core.ErrOverflow)
	s, err := settlement.Sum(1, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), s)
	_, err = settlement.Sum(math.MaxUint64-1, 1, 1)
	assert.Equal(t, core.CodeInvalidParameters, core.CodeOf(err))
}

func fund(t *testing.T, st core.State, addr string, amount uint64) {
	t.Helper()
	require.NoError(t, st.SetAccount(&core.Account{Address: addr, Balance: amount}))
}

func balance(t *testing.T, st core.State, addr string) uint64 {
	t.Helper()
	acc, err := st.GetAccount(addr)
	require.NoError(t, err)
	return acc.Balance
}

func TestTransfer(t *testing.T) {
	st := testutil.NewStateDB()
	fund(t, st, "a", 100)

	err := settlement.Transfer(st, "a", "b", 101)
	assert.Equal(t, core.CodeTransferFailed, core.CodeOf(err))
	require.NoError(t, settlement.Lock(st, "a", 60))
	require.NoError(t, settlement.Unlock(st, "b", 25))
	assert.Equal(t, uint64(40), balance(t, st, "a"))
	assert.Equal(t, uint64(25), balance(t, st, "b"))
	assert.Equal(t, uint64(35), balance(t, st, core.CustodyAddress))

	fund(t, st, "full", math.MaxUint64)
	assert.ErrorIs(t, settlement.Credit(st, "full", 1), core.ErrOverflow)
}

func TestPay(t *testing.T) {
	st := testutil.NewStateDB()
	fund(t, st, "buyer", 10_000)
	require.NoError(t, st.SetAdmin(&core.AdminState{FeeBips: 250}))

	sale := settlement.Sale{Seller: "seller", Price: 4_000, RoyaltyBips: 500, RoyaltyRecipient: "artist"}
	p, err := settlement.Pay(st, "buyer", sale)
	require.NoError(t, err)
	assert.Equal(t, settlement.Payout{Royalty: 200, Seller: 3_800}, p, "no recipient, no fee")

	require.NoError(t, st.SetAdmin(&core.AdminState{FeeBips: 250, FeeRecipient: "house"}))
	p, err = settlement.Pay(st, "buyer", sale)
	require.NoError(t, err)
	assert.Equal(t, settlement.Payout{Fee: 100, Royalty: 200, Seller: 3_700}, p)

	assert.Equal(t, uint64(2_000), balance(t, st, "buyer"))
	assert.Equal(t, uint64(100), balance(t, st, "house"))
	assert.Equal(t, uint64(400), balance(t, st, "artist"))
	assert.Equal(t, uint64(7_500), balance(t, st, "seller"))
}

func TestBook(t *testing.T) {
	st := testutil.NewStateDB()
	rec := settlement.Record{Kind: core.KindListing, RefID: 4, Buyer: "b", Seller: "s", Amount: 70, Block: 9}
	require.NoError(t, settlement.Book(st, rec))
	require.NoError(t, settlement.Book(st, rec))

	rep, err := st.GetReputation("s", core.RoleSeller)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rep.SuccessfulTxs)
	assert.Equal(t, uint64(140), rep.TotalVolume)

	n, err := st.HistoryCount("b")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
	h, err := st.GetHistory("b", 1)
	require.NoError(t, err)
	assert.Equal(t, core.RoleBuyer, h.Role)
	assert.Equal(t, "s", h.Counterparty)

	require.NoError(t, settlement.AppendPrice(st, 4, 70, 9, settlement.PriceSold))
	entries, err := st.GetPriceHistory(4)
	require.NoError(t, err)
	assert.Equal(t, []core.PriceEntry{{Price: 70, Block: 9, Event: "sold"}}, entries)
}
