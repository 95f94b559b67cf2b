package market_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolmart/core"
	"github.com/tolelom/tolmart/events"
	"github.com/tolelom/tolmart/vm/modules/market"
)

func TestBundleShares(t *testing.T) {
	cases := []struct {
		name     string
		prices   []uint64
		discount uint16
		charge   uint64
		shares   []uint64
	}{
		{"half off", []uint64{1000, 2000}, 5000, 1500, []uint64{500, 1000}},
		{"no discount", []uint64{7, 9}, 0, 16, []uint64{7, 9}},
		{"rounding goes to last", []uint64{333, 333, 334}, 3333, 667, []uint64{222, 222, 223}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			charge, shares, err := market.BundleShares(tc.prices, tc.discount)
			require.NoError(t, err)
			assert.Equal(t, tc.charge, charge)
			assert.Equal(t, tc.shares, shares)
			var sum uint64
			for _, s := range shares {
				sum += s
			}
			assert.Equal(t, charge, sum)
		})
	}

	_, _, err := market.BundleShares(nil, 0)
	assert.Equal(t, core.CodeInvalidParameters, core.CodeOf(err))
	_, _, err = market.BundleShares([]uint64{^uint64(0), 1}, 0)
	assert.Equal(t, core.CodeInvalidParameters, core.CodeOf(err))
}

func TestBuyBundleEscrowsEveryMember(t *testing.T) {
	f := newFixture(t)
	a := f.list(1000, 0)
	b := f.list(2000, 0)
	f.MustSubmit(f.other, core.TxCreateBundle, core.CreateBundlePayload{ListingIDs: []uint64{a, b}, DiscountBips: 5000})

	f.MustSubmit(f.buyer, core.TxBuyBundle, core.BundlePayload{BundleID: 1})

	assert.Equal(t, uint64(startBalance-1500), f.Balance(f.buyer.PubKey()))
	assert.Equal(t, uint64(1500), f.Balance(core.CustodyAddress))
	ea, eb := f.escrow(a), f.escrow(b)
	assert.Equal(t, uint64(500), ea.Amount)
	assert.Equal(t, uint64(1000), eb.Amount)
	assert.Equal(t, uint64(1), ea.BundleID)
	assert.Equal(t, core.EscrowPending, eb.State)

	children := f.EventsOf(events.EventBundleChild)
	require.Len(t, children, 2)
	assert.Equal(t, a, children[0].Data["escrow_id"])
	assert.Equal(t, b, children[1].Data["escrow_id"])

	f.MustSubmit(f.buyer, core.TxConfirmReceipt, core.EscrowPayload{EscrowID: b})
	assert.Equal(t, uint64(startBalance+1000), f.Balance(f.seller.PubKey()))
}

func TestBuyBundleIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	a := f.list(1000, 0)
	b := f.list(2000, 0)
	f.MustSubmit(f.other, core.TxCreateBundle, core.CreateBundlePayload{ListingIDs: []uint64{a, b}, DiscountBips: 1000})
	f.MustSubmit(f.other, core.TxBuyListingEscrow, core.ListingPayload{ListingID: b})
	root := f.Root()

	r := f.Submit(f.buyer, core.TxBuyBundle, core.BundlePayload{BundleID: 1})
	assert.Equal(t, core.CodeInvalidParameters, r.Code)
	assert.Equal(t, root, f.Root())
	_, err := f.State.GetEscrow(a)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Empty(t, f.EventsOf(events.EventBundleChild))
}

func TestCreateBundleValidation(t *testing.T) {
	f := newFixture(t, func(p *core.Params) { p.MaxBundleSize = 3 })
	a := f.list(10, 0)
	b := f.list(10, 0)

	cases := []struct {
		name string
		p    core.CreateBundlePayload
		code core.Code
	}{
		{"empty", core.CreateBundlePayload{}, core.CodeInvalidParameters},
		{"duplicate", core.CreateBundlePayload{ListingIDs: []uint64{a, a}}, core.CodeInvalidParameters},
		{"too many", core.CreateBundlePayload{ListingIDs: []uint64{a, b, 3, 4}}, core.CodeInvalidParameters},
		{"discount over cap", core.CreateBundlePayload{ListingIDs: []uint64{a}, DiscountBips: 5001}, core.CodeInvalidParameters},
		{"missing listing", core.CreateBundlePayload{ListingIDs: []uint64{a, 99}}, core.CodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := f.Submit(f.buyer, core.TxCreateBundle, tc.p)
			assert.Equal(t, tc.code, r.Code)
		})
	}

	r := f.Submit(f.buyer, core.TxBuyBundle, core.BundlePayload{BundleID: 1})
	assert.Equal(t, core.CodeNotFound, r.Code)
}

func TestBuyBundleInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	a := f.list(startBalance, 0)
	b := f.list(startBalance, 0)
	f.MustSubmit(f.other, core.TxCreateBundle, core.CreateBundlePayload{ListingIDs: []uint64{a, b}, DiscountBips: 1000})

	r := f.Submit(f.buyer, core.TxBuyBundle, core.BundlePayload{BundleID: 1})
	assert.Equal(t, core.CodeTransferFailed, r.Code)
	assert.Equal(t, uint64(startBalance), f.Balance(f.buyer.PubKey()))
}

func TestCuratedPackPaysCurator(t *testing.T) {
	f := newFixture(t)
	a := f.list(1000, 0)
	b := f.list(2000, 0)

	r := f.Submit(f.other, core.TxCreatePack, core.CreatePackPayload{ListingIDs: []uint64{a, b}})
	assert.Equal(t, core.CodeInvalidParameters, r.Code, "zero price")
	f.MustSubmit(f.other, core.TxCreatePack, core.CreatePackPayload{ListingIDs: []uint64{a, b}, Price: 700})

	r = f.Submit(f.other, core.TxBuyPack, core.PackPayload{PackID: 1})
	assert.Equal(t, core.CodeWrongParty, r.Code)

	f.MustSubmit(f.buyer, core.TxBuyPack, core.PackPayload{PackID: 1})
	assert.Equal(t, uint64(startBalance-700), f.Balance(f.buyer.PubKey()))
	assert.Equal(t, uint64(startBalance+700), f.Balance(f.other.PubKey()))
	assert.Equal(t, uint64(startBalance), f.Balance(f.seller.PubKey()))

	for _, id := range []uint64{a, b} {
		_, err := f.listing(id)
		assert.NoError(t, err, "pack members are untouched")
		_, err = f.State.GetEscrow(id)
		assert.ErrorIs(t, err, core.ErrNotFound)
	}
	rep, err := f.State.GetReputation(f.other.PubKey(), core.RoleSeller)
	require.NoError(t, err)
	assert.Equal(t, uint64(700), rep.TotalVolume)

	r = f.Submit(f.buyer, core.TxBuyPack, core.PackPayload{PackID: 2})
	assert.Equal(t, core.CodeNotFound, r.Code)
}

func TestToggleWishlist(t *testing.T) {
	f := newFixture(t, func(p *core.Params) { p.MaxWishlist = 2 })
	a := f.list(10, 0)
	b := f.list(10, 0)
	c := f.list(10, 0)

	r := f.Submit(f.buyer, core.TxToggleWishlist, core.ListingPayload{ListingID: 99})
	assert.Equal(t, core.CodeNotFound, r.Code)

	f.MustSubmit(f.buyer, core.TxToggleWishlist, core.ListingPayload{ListingID: a})
	f.MustSubmit(f.buyer, core.TxToggleWishlist, core.ListingPayload{ListingID: b})
	r = f.Submit(f.buyer, core.TxToggleWishlist, core.ListingPayload{ListingID: c})
	assert.Equal(t, core.CodeInvalidParameters, r.Code, "wishlist full")

	ids, err := f.State.GetWishlist(f.buyer.PubKey())
	require.NoError(t, err)
	assert.Equal(t, []uint64{a, b}, ids)

	f.MustSubmit(f.other, core.TxBuyListing, core.ListingPayload{ListingID: a})
	f.MustSubmit(f.buyer, core.TxToggleWishlist, core.ListingPayload{ListingID: a})
	ids, err = f.State.GetWishlist(f.buyer.PubKey())
	require.NoError(t, err)
	assert.Equal(t, []uint64{b}, ids)

	f.MustSubmit(f.buyer, core.TxToggleWishlist, core.ListingPayload{ListingID: b})
	ids, err = f.State.GetWishlist(f.buyer.PubKey())
	require.NoError(t, err)
	assert.Empty(t, ids)
}
