package market_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolmart/core"
	"github.com/tolelom/tolmart/events"
)

var deliveryHash = strings.Repeat("ab", 32)

func TestEscrowOpensAtBlockZero(t *testing.T) {
	f := newFixture(t)
	create, err := f.seller.CreateListing(core.CreateListingPayload{Price: 5000, RoyaltyRecipient: f.royalty.PubKey()})
	require.NoError(t, err)
	buy, err := f.buyer.BuyListingEscrow(1)
	require.NoError(t, err)

	f.SetNextHeight(0)
	for _, r := range f.ApplyBlock(create, buy) {
		require.True(t, r.OK(), r.Error)
	}

	e := f.escrow(1)
	assert.Equal(t, uint64(144), e.TimeoutBlock)
	assert.Equal(t, core.EscrowPending, e.State)
	assert.Equal(t, uint64(5000), e.Amount)
	assert.Equal(t, uint64(startBalance-5000), f.Balance(f.buyer.PubKey()))
	assert.Equal(t, uint64(5000), f.Balance(core.CustodyAddress))

	_, err = f.listing(1)
	assert.NoError(t, err, "escrowed listings stay until settlement")
}

func TestEscrowAttestAndConfirm(t *testing.T) {
	f := newFixture(t)
	id := f.list(2000, 1000)
	f.MustSubmit(f.buyer, core.TxBuyListingEscrow, core.ListingPayload{ListingID: id})

	r := f.Submit(f.other, core.TxBuyListingEscrow, core.ListingPayload{ListingID: id})
	assert.Equal(t, core.CodeInvalidParameters, r.Code, "a live escrow blocks other buyers")

	attest := core.AttestDeliveryPayload{EscrowID: id, DeliveryHash: deliveryHash}
	r = f.Submit(f.buyer, core.TxAttestDelivery, attest)
	assert.Equal(t, core.CodeWrongParty, r.Code)
	r = f.Submit(f.other, core.TxAttestDelivery, attest)
	assert.Equal(t, core.CodeNotAuthorized, r.Code)
	r = f.Submit(f.seller, core.TxAttestDelivery, core.AttestDeliveryPayload{EscrowID: id, DeliveryHash: "abc"})
	assert.Equal(t, core.CodeInvalidParameters, r.Code)
	r = f.Submit(f.seller, core.TxAttestDelivery, core.AttestDeliveryPayload{EscrowID: 42, DeliveryHash: deliveryHash})
	assert.Equal(t, core.CodeNotFound, r.Code)

	f.MustSubmit(f.seller, core.TxAttestDelivery, attest)
	assert.Equal(t, core.EscrowDelivered, f.escrow(id).State)
	assert.Equal(t, deliveryHash, f.escrow(id).DeliveryHash)

	r = f.Submit(f.seller, core.TxConfirmReceipt, core.EscrowPayload{EscrowID: id})
	assert.Equal(t, core.CodeWrongParty, r.Code)
	f.MustSubmit(f.buyer, core.TxConfirmReceipt, core.EscrowPayload{EscrowID: id})

	assert.Equal(t, core.EscrowReleased, f.escrow(id).State)
	assert.Equal(t, uint64(0), f.Balance(core.CustodyAddress))
	assert.Equal(t, uint64(startBalance+1800), f.Balance(f.seller.PubKey()))
	assert.Equal(t, uint64(startBalance+200), f.Balance(f.royalty.PubKey()))
	_, err := f.listing(id)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, uint64(1), f.reputation(f.seller, core.RoleSeller).SuccessfulTxs)
	assert.Equal(t, uint64(2000), f.reputation(f.buyer, core.RoleBuyer).TotalVolume)

	// terminal states accept no further transitions
	r = f.Submit(f.buyer, core.TxConfirmReceipt, core.EscrowPayload{EscrowID: id})
	assert.Equal(t, core.CodeInvalidParameters, r.Code)
	r = f.Submit(f.seller, core.TxAttestDelivery, attest)
	assert.Equal(t, core.CodeInvalidParameters, r.Code)
}

func TestConfirmReceiptFromPending(t *testing.T) {
	f := newFixture(t)
	id := f.list(1000, 0)
	f.MustSubmit(f.buyer, core.TxBuyListingEscrow, core.ListingPayload{ListingID: id})
	f.MustSubmit(f.buyer, core.TxConfirmReceipt, core.EscrowPayload{EscrowID: id})

	assert.Equal(t, core.EscrowReleased, f.escrow(id).State)
	assert.Equal(t, uint64(startBalance+1000), f.Balance(f.seller.PubKey()))
	assert.Len(t, f.EventsOf(events.EventEscrowReleased), 1)
}

func TestReleaseEscrowAfterTimeoutRefunds(t *testing.T) {
	f := newFixture(t)
	id := f.list(3000, 500)
	f.MustSubmit(f.buyer, core.TxBuyListingEscrow, core.ListingPayload{ListingID: id})
	timeout := f.escrow(id).TimeoutBlock

	r := f.Submit(f.seller, core.TxReleaseEscrow, core.EscrowPayload{EscrowID: id})
	assert.Equal(t, core.CodeInvalidParameters, r.Code, "too early")

	// the next block runs exactly at the timeout block, which is still too early
	f.SetNextHeight(int64(timeout))
	r = f.Submit(f.seller, core.TxReleaseEscrow, core.EscrowPayload{EscrowID: id})
	assert.Equal(t, core.CodeInvalidParameters, r.Code)

	r = f.Submit(f.other, core.TxReleaseEscrow, core.EscrowPayload{EscrowID: id})
	assert.Equal(t, core.CodeNotAuthorized, r.Code)

	f.MustSubmit(f.seller, core.TxReleaseEscrow, core.EscrowPayload{EscrowID: id})
	assert.Equal(t, core.EscrowRefunded, f.escrow(id).State)
	assert.Equal(t, uint64(startBalance), f.Balance(f.buyer.PubKey()), "refunds carry no royalty deduction")
	assert.Equal(t, uint64(startBalance), f.Balance(f.royalty.PubKey()))
	assert.Equal(t, uint64(0), f.reputation(f.seller, core.RoleSeller).SuccessfulTxs)

	_, err := f.listing(id)
	require.NoError(t, err, "refunded listings go back on the market")
	f.MustSubmit(f.other, core.TxBuyListingEscrow, core.ListingPayload{ListingID: id})
	e := f.escrow(id)
	assert.Equal(t, core.EscrowPending, e.State)
	assert.Equal(t, f.other.PubKey(), e.Buyer)
}

func TestReleaseEscrowAfterTimeoutPaysAttestedSeller(t *testing.T) {
	f := newFixture(t)
	id := f.list(3000, 0)
	f.MustSubmit(f.buyer, core.TxBuyListingEscrow, core.ListingPayload{ListingID: id})
	f.MustSubmit(f.seller, core.TxAttestDelivery, core.AttestDeliveryPayload{EscrowID: id, DeliveryHash: deliveryHash})

	f.Advance(200)
	f.MustSubmit(f.seller, core.TxReleaseEscrow, core.EscrowPayload{EscrowID: id})
	assert.Equal(t, core.EscrowReleased, f.escrow(id).State)
	assert.Equal(t, uint64(startBalance+3000), f.Balance(f.seller.PubKey()))
}

func TestRejectDeliveryOpensDispute(t *testing.T) {
	f := newFixture(t)
	id := f.list(3000, 0)
	f.MustSubmit(f.buyer, core.TxBuyListingEscrow, core.ListingPayload{ListingID: id})

	reject := core.EscrowReasonPayload{EscrowID: id, Reason: "wrong file"}
	r := f.Submit(f.buyer, core.TxRejectDelivery, reject)
	assert.Equal(t, core.CodeInvalidParameters, r.Code, "nothing delivered yet")

	f.MustSubmit(f.seller, core.TxAttestDelivery, core.AttestDeliveryPayload{EscrowID: id, DeliveryHash: deliveryHash})
	r = f.Submit(f.buyer, core.TxRejectDelivery, core.EscrowReasonPayload{EscrowID: id})
	assert.Equal(t, core.CodeInvalidParameters, r.Code, "empty reason")
	r = f.Submit(f.seller, core.TxRejectDelivery, reject)
	assert.Equal(t, core.CodeWrongParty, r.Code)

	f.MustSubmit(f.buyer, core.TxRejectDelivery, reject)
	e := f.escrow(id)
	assert.Equal(t, core.EscrowDisputed, e.State)
	assert.Equal(t, uint64(1), e.DisputeID)

	d, err := f.State.GetDispute(1)
	require.NoError(t, err)
	assert.Equal(t, id, d.EscrowID)
	assert.Equal(t, "wrong file", d.Reason)

	f.Advance(500)
	r = f.Submit(f.buyer, core.TxReleaseEscrow, core.EscrowPayload{EscrowID: id})
	assert.Equal(t, core.CodeInvalidParameters, r.Code, "disputed escrows settle only through arbitration")
}
