package market

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/tolmart/core"
	"github.com/tolelom/tolmart/events"
	"github.com/tolelom/tolmart/settlement"
	"github.com/tolelom/tolmart/vm"
)

const (
	deliveryHashLen = 32
	maxReason       = 500
)

func init() {
	vm.Register(core.TxAttestDelivery, vm.Guarded(handleAttestDelivery))
	vm.Register(core.TxConfirmReceipt, vm.Guarded(handleConfirmReceipt))
	vm.Register(core.TxRejectDelivery, vm.Guarded(handleRejectDelivery))
	vm.Register(core.TxReleaseEscrow, vm.Guarded(handleReleaseEscrow))
}

// checkNoLiveEscrow fails if listing id is under a non-terminal escrow.
func checkNoLiveEscrow(st core.State, id uint64) error {
	e, err := st.GetEscrow(id)
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !e.State.Terminal() {
		return core.Errorf(core.ErrInvalidState, "listing %d is escrowed (%s)", id, e.State)
	}
	return nil
}

// openEscrow locks amount from the caller into custody for listing l. A
// previous terminal escrow on the same listing is replaced.
func openEscrow(ctx *vm.Context, l *core.Listing, amount, bundleID uint64) (*core.Escrow, error) {
	params, err := ctx.State.GetParams()
	if err != nil {
		return nil, err
	}
	timeout, err := settlement.Add(ctx.Height(), params.EscrowTimeoutBlocks)
	if err != nil {
		return nil, err
	}
	if err := settlement.Lock(ctx.State, ctx.Sender(), amount); err != nil {
		return nil, err
	}
	e := &core.Escrow{
		ListingID:        l.ID,
		Buyer:            ctx.Sender(),
		Seller:           l.Seller,
		Amount:           amount,
		RoyaltyBips:      l.RoyaltyBips,
		RoyaltyRecipient: l.RoyaltyRecipient,
		NFT:              l.NFT,
		BundleID:         bundleID,
		State:            core.EscrowPending,
		CreatedAtBlock:   ctx.Height(),
		TimeoutBlock:     timeout,
	}
	if err := ctx.State.SetEscrow(e); err != nil {
		return nil, err
	}
	return e, nil
}

// LoadEscrow returns escrow id or a 404.
func LoadEscrow(st core.State, id uint64) (*core.Escrow, error) {
	e, err := st.GetEscrow(id)
	if err != nil {
		return nil, fmt.Errorf("escrow %d: %w", id, err)
	}
	return e, nil
}

// PartyOf reports which side of e the principal is on. Outsiders get 401.
func PartyOf(e *core.Escrow, who string) (core.Side, error) {
	switch who {
	case e.Buyer:
		return core.SideBuyer, nil
	case e.Seller:
		return core.SideSeller, nil
	}
	return "", core.Errorf(core.ErrNotAuthorized, "not a party to escrow %d", e.ListingID)
}

func requireSide(e *core.Escrow, who string, want core.Side) error {
	side, err := PartyOf(e, who)
	if err != nil {
		return err
	}
	if side != want {
		return core.Errorf(core.ErrWrongParty, "only the %s may do this on escrow %d", want, e.ListingID)
	}
	return nil
}

// Release pays an escrow out to the seller with the normal split and closes
// the underlying listing.
func Release(ctx *vm.Context, e *core.Escrow) error {
	payout, err := settlement.Pay(ctx.State, core.CustodyAddress, saleOf(e.Seller, e.Amount, e.RoyaltyBips, e.RoyaltyRecipient))
	if err != nil {
		return err
	}
	l, err := ctx.State.GetListing(e.ListingID)
	if err != nil {
		return fmt.Errorf("listing %d: %w", e.ListingID, err)
	}
	if err := closeListing(ctx, l, e.Buyer, e.Amount); err != nil {
		return err
	}
	e.State = core.EscrowReleased
	if err := ctx.State.SetEscrow(e); err != nil {
		return err
	}
	ctx.Emit(events.EventEscrowReleased, map[string]any{
		"escrow_id":  e.ListingID,
		"buyer":      e.Buyer,
		"seller":     e.Seller,
		"amount":     e.Amount,
		"royalty":    payout.Royalty,
		"fee":        payout.Fee,
		"seller_amt": payout.Seller,
	})
	return nil
}

// Refund returns the full escrowed amount to the buyer. The listing stays
// on the market.
func Refund(ctx *vm.Context, e *core.Escrow) error {
	if err := settlement.Unlock(ctx.State, e.Buyer, e.Amount); err != nil {
		return err
	}
	e.State = core.EscrowRefunded
	if err := ctx.State.SetEscrow(e); err != nil {
		return err
	}
	ctx.Emit(events.EventEscrowRefunded, map[string]any{
		"escrow_id": e.ListingID,
		"buyer":     e.Buyer,
		"amount":    e.Amount,
	})
	return nil
}

// OpenDispute moves a pending or delivered escrow into arbitration.
func OpenDispute(ctx *vm.Context, e *core.Escrow, reason string) (*core.Dispute, error) {
	if reason == "" || len(reason) > maxReason {
		return nil, core.Errorf(core.ErrInvalidParameters, "reason must be 1..%d chars", maxReason)
	}
	if e.State != core.EscrowPending && e.State != core.EscrowDelivered {
		return nil, core.Errorf(core.ErrInvalidState, "escrow %d is %s", e.ListingID, e.State)
	}
	id, err := ctx.State.NextID(core.KindDispute)
	if err != nil {
		return nil, err
	}
	d := &core.Dispute{
		ID:             id,
		EscrowID:       e.ListingID,
		Creator:        ctx.Sender(),
		Reason:         reason,
		CreatedAtBlock: ctx.Height(),
	}
	if err := ctx.State.SetDispute(d); err != nil {
		return nil, err
	}
	e.State = core.EscrowDisputed
	e.DisputeID = id
	if err := ctx.State.SetEscrow(e); err != nil {
		return nil, err
	}
	ctx.Emit(events.EventDisputeOpened, map[string]any{
		"dispute_id": id,
		"escrow_id":  e.ListingID,
		"creator":    d.Creator,
	})
	return d, nil
}

func handleAttestDelivery(ctx *vm.Context, payload json.RawMessage) error {
	var p core.AttestDeliveryPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	raw, err := hex.DecodeString(p.DeliveryHash)
	if err != nil || len(raw) != deliveryHashLen || hex.EncodeToString(raw) != p.DeliveryHash {
		return core.Errorf(core.ErrInvalidParameters, "delivery hash must be %d bytes of lowercase hex", deliveryHashLen)
	}
	e, err := LoadEscrow(ctx.State, p.EscrowID)
	if err != nil {
		return err
	}
	if err := requireSide(e, ctx.Sender(), core.SideSeller); err != nil {
		return err
	}
	if e.State != core.EscrowPending {
		return core.Errorf(core.ErrInvalidState, "escrow %d is %s", e.ListingID, e.State)
	}
	e.State = core.EscrowDelivered
	e.DeliveryHash = p.DeliveryHash
	if err := ctx.State.SetEscrow(e); err != nil {
		return err
	}
	ctx.Emit(events.EventEscrowAttested, map[string]any{
		"escrow_id":     e.ListingID,
		"seller":        e.Seller,
		"delivery_hash": e.DeliveryHash,
	})
	return nil
}

func handleConfirmReceipt(ctx *vm.Context, payload json.RawMessage) error {
	var p core.EscrowPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	e, err := LoadEscrow(ctx.State, p.EscrowID)
	if err != nil {
		return err
	}
	if err := requireSide(e, ctx.Sender(), core.SideBuyer); err != nil {
		return err
	}
	if e.State != core.EscrowPending && e.State != core.EscrowDelivered {
		return core.Errorf(core.ErrInvalidState, "escrow %d is %s", e.ListingID, e.State)
	}
	return Release(ctx, e)
}

func handleRejectDelivery(ctx *vm.Context, payload json.RawMessage) error {
	var p core.EscrowReasonPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	e, err := LoadEscrow(ctx.State, p.EscrowID)
	if err != nil {
		return err
	}
	if err := requireSide(e, ctx.Sender(), core.SideBuyer); err != nil {
		return err
	}
	if e.State != core.EscrowDelivered {
		return core.Errorf(core.ErrInvalidState, "escrow %d is %s, not delivered", e.ListingID, e.State)
	}
	_, err = OpenDispute(ctx, e, p.Reason)
	return err
}

// handleReleaseEscrow is the timeout valve. Once the timeout block has
// passed either party may settle: a pending escrow is refunded, a delivered
// one (seller attested, buyer silent) is released.
func handleReleaseEscrow(ctx *vm.Context, payload json.RawMessage) error {
	var p core.EscrowPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	e, err := LoadEscrow(ctx.State, p.EscrowID)
	if err != nil {
		return err
	}
	if _, err := PartyOf(e, ctx.Sender()); err != nil {
		return err
	}
	if ctx.Height() <= e.TimeoutBlock {
		return core.Errorf(core.ErrInvalidState, "escrow %d times out after block %d", e.ListingID, e.TimeoutBlock)
	}
	switch e.State {
	case core.EscrowPending:
		return Refund(ctx, e)
	case core.EscrowDelivered:
		return Release(ctx, e)
	default:
		return core.Errorf(core.ErrInvalidState, "escrow %d is %s", e.ListingID, e.State)
	}
}
