package market

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/tolmart/core"
	"github.com/tolelom/tolmart/events"
	"github.com/tolelom/tolmart/settlement"
	"github.com/tolelom/tolmart/vm"
)

func init() {
	vm.Register(core.TxCreateBundle, vm.Guarded(handleCreateBundle))
	vm.Register(core.TxBuyBundle, vm.Guarded(handleBuyBundle))
	vm.Register(core.TxCreatePack, vm.Guarded(handleCreatePack))
	vm.Register(core.TxBuyPack, vm.Guarded(handleBuyPack))
}

// checkMembers validates a group of listing ids: 1..limit entries, no
// duplicates, each resolving to a live listing.
func checkMembers(st core.State, ids []uint64, limit int) error {
	if len(ids) == 0 || len(ids) > limit {
		return core.Errorf(core.ErrInvalidParameters, "need 1..%d listings, got %d", limit, len(ids))
	}
	seen := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return core.Errorf(core.ErrInvalidParameters, "duplicate listing %d", id)
		}
		seen[id] = true
	}
	for _, id := range ids {
		if _, err := st.GetListing(id); err != nil {
			return fmt.Errorf("listing %d: %w", id, err)
		}
	}
	return nil
}

func handleCreateBundle(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CreateBundlePayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	params, err := ctx.State.GetParams()
	if err != nil {
		return err
	}
	if p.DiscountBips > params.MaxDiscountBips {
		return core.Errorf(core.ErrInvalidParameters, "discount %d bips exceeds %d", p.DiscountBips, params.MaxDiscountBips)
	}
	if err := checkMembers(ctx.State, p.ListingIDs, params.MaxBundleSize); err != nil {
		return err
	}

	id, err := ctx.State.NextID(core.KindBundle)
	if err != nil {
		return err
	}
	b := &core.Bundle{
		ID:             id,
		ListingIDs:     p.ListingIDs,
		DiscountBips:   p.DiscountBips,
		Creator:        ctx.Sender(),
		CreatedAtBlock: ctx.Height(),
	}
	if err := ctx.State.SetBundle(b); err != nil {
		return err
	}
	ctx.Emit(events.EventBundleCreated, map[string]any{
		"bundle_id":     id,
		"creator":       b.Creator,
		"listing_ids":   b.ListingIDs,
		"discount_bips": b.DiscountBips,
	})
	return nil
}

// BundleShares computes what a bundle buyer pays and how it is split over
// the members. The charge is total minus the floored discount; each member
// gets its own floored discounted price and the last member absorbs the
// rounding remainder so the shares sum to the charge exactly.
func BundleShares(prices []uint64, discountBips uint16) (charge uint64, shares []uint64, err error) {
	if len(prices) == 0 {
		return 0, nil, core.Errorf(core.ErrInvalidParameters, "empty bundle")
	}
	total, err := settlement.Sum(prices...)
	if err != nil {
		return 0, nil, err
	}
	discount, err := settlement.MulBips(total, discountBips)
	if err != nil {
		return 0, nil, err
	}
	charge = total - discount

	keep := uint64(core.BipsDenominator - discountBips)
	shares = make([]uint64, len(prices))
	var allotted uint64
	for i, price := range prices {
		if shares[i], err = settlement.MulDiv(price, keep, core.BipsDenominator); err != nil {
			return 0, nil, err
		}
		allotted += shares[i]
	}
	shares[len(shares)-1] += charge - allotted
	return charge, shares, nil
}

func handleBuyBundle(ctx *vm.Context, payload json.RawMessage) error {
	var p core.BundlePayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	b, err := ctx.State.GetBundle(p.BundleID)
	if err != nil {
		return fmt.Errorf("bundle %d: %w", p.BundleID, err)
	}

	listings := make([]*core.Listing, len(b.ListingIDs))
	prices := make([]uint64, len(b.ListingIDs))
	for i, id := range b.ListingIDs {
		if listings[i], err = loadPurchasable(ctx, id); err != nil {
			return err
		}
		prices[i] = listings[i].Price
	}
	charge, shares, err := BundleShares(prices, b.DiscountBips)
	if err != nil {
		return err
	}
	acc, err := ctx.State.GetAccount(ctx.Sender())
	if err != nil {
		return err
	}
	if acc.Balance < charge {
		return core.Errorf(core.ErrTransferFailed, "insufficient balance: have %d need %d", acc.Balance, charge)
	}

	for i, l := range listings {
		e, err := openEscrow(ctx, l, shares[i], b.ID)
		if err != nil {
			return err
		}
		ctx.Emit(events.EventBundleChild, map[string]any{
			"bundle_id":     b.ID,
			"escrow_id":     e.ListingID,
			"buyer":         e.Buyer,
			"seller":        e.Seller,
			"amount":        e.Amount,
			"timeout_block": e.TimeoutBlock,
		})
	}
	return nil
}

func handleCreatePack(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CreatePackPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	params, err := ctx.State.GetParams()
	if err != nil {
		return err
	}
	if p.Price == 0 {
		return core.Errorf(core.ErrInvalidParameters, "pack price must be > 0")
	}
	if err := checkMembers(ctx.State, p.ListingIDs, params.MaxPackSize); err != nil {
		return err
	}

	id, err := ctx.State.NextID(core.KindPack)
	if err != nil {
		return err
	}
	pack := &core.CuratedPack{
		ID:             id,
		ListingIDs:     p.ListingIDs,
		Price:          p.Price,
		Curator:        ctx.Sender(),
		CreatedAtBlock: ctx.Height(),
	}
	if err := ctx.State.SetPack(pack); err != nil {
		return err
	}
	ctx.Emit(events.EventPackCreated, map[string]any{
		"pack_id":     id,
		"curator":     pack.Curator,
		"listing_ids": pack.ListingIDs,
		"price":       pack.Price,
	})
	return nil
}

// handleBuyPack pays the curator the full pack price. Member listings are
// left as they are.
func handleBuyPack(ctx *vm.Context, payload json.RawMessage) error {
	var p core.PackPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	pack, err := ctx.State.GetPack(p.PackID)
	if err != nil {
		return fmt.Errorf("pack %d: %w", p.PackID, err)
	}
	buyer := ctx.Sender()
	if pack.Curator == buyer {
		return core.Errorf(core.ErrWrongParty, "curator cannot buy own pack %d", pack.ID)
	}
	if err := settlement.Transfer(ctx.State, buyer, pack.Curator, pack.Price); err != nil {
		return err
	}
	if err := settlement.Book(ctx.State, settlement.Record{
		Kind:   core.KindPack,
		RefID:  pack.ID,
		Buyer:  buyer,
		Seller: pack.Curator,
		Amount: pack.Price,
		Block:  ctx.Height(),
	}); err != nil {
		return err
	}
	ctx.Emit(events.EventPackSold, map[string]any{
		"pack_id": pack.ID,
		"buyer":   buyer,
		"curator": pack.Curator,
		"price":   pack.Price,
	})
	return nil
}
