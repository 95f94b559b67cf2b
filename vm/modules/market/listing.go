package market

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/tolmart/core"
	"github.com/tolelom/tolmart/events"
	"github.com/tolelom/tolmart/settlement"
	"github.com/tolelom/tolmart/vm"
)

const maxLicenseTerms = 256

func init() {
	vm.Register(core.TxCreateListing, vm.Guarded(handleCreateListing))
	vm.Register(core.TxBuyListing, vm.Guarded(handleBuyListing))
	vm.Register(core.TxBuyListingEscrow, vm.Guarded(handleBuyListingEscrow))
}

// ListingLock is the NFT lock owner string for listing id.
func ListingLock(id uint64) string { return fmt.Sprintf("listing:%d", id) }

func handleCreateListing(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CreateListingPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	params, err := ctx.State.GetParams()
	if err != nil {
		return err
	}
	if p.Price == 0 {
		return core.Errorf(core.ErrInvalidParameters, "price must be > 0")
	}
	if p.RoyaltyBips > params.MaxRoyaltyBips {
		return core.Errorf(core.ErrInvalidParameters, "royalty %d bips exceeds %d", p.RoyaltyBips, params.MaxRoyaltyBips)
	}
	if err := core.ValidatePrincipal("royalty_recipient", p.RoyaltyRecipient); err != nil {
		return err
	}
	if len(p.LicenseTerms) > maxLicenseTerms {
		return core.Errorf(core.ErrInvalidParameters, "license terms longer than %d", maxLicenseTerms)
	}

	var nft *core.NFT
	if p.NFT != nil {
		if nft, err = ctx.State.GetNFT(*p.NFT); err != nil {
			return fmt.Errorf("nft %s: %w", p.NFT.Key(), err)
		}
		if nft.Owner != ctx.Sender() {
			return core.Errorf(core.ErrWrongParty, "caller does not own %s", p.NFT.Key())
		}
		if nft.LockedBy != "" {
			return core.Errorf(core.ErrInvalidState, "%s is locked by %s", p.NFT.Key(), nft.LockedBy)
		}
	}

	id, err := ctx.State.NextID(core.KindListing)
	if err != nil {
		return err
	}
	l := &core.Listing{
		ID:               id,
		Seller:           ctx.Sender(),
		Price:            p.Price,
		RoyaltyBips:      p.RoyaltyBips,
		RoyaltyRecipient: p.RoyaltyRecipient,
		NFT:              p.NFT,
		LicenseTerms:     p.LicenseTerms,
		CreatedAtBlock:   ctx.Height(),
	}
	if err := ctx.State.SetListing(l); err != nil {
		return err
	}
	if nft != nil {
		nft.LockedBy = ListingLock(id)
		if err := ctx.State.SetNFT(nft); err != nil {
			return err
		}
	}
	if err := settlement.AppendPrice(ctx.State, id, p.Price, ctx.Height(), settlement.PriceListed); err != nil {
		return err
	}

	ctx.Emit(events.EventListingCreated, map[string]any{
		"listing_id":    id,
		"seller":        l.Seller,
		"price":         l.Price,
		"royalty_bips":  l.RoyaltyBips,
		"has_nft":       l.NFT != nil,
		"license_terms": l.LicenseTerms != "",
	})
	return nil
}

// loadPurchasable fetches a listing the caller may buy: it must exist, not
// be the caller's own, and not sit under a live escrow.
func loadPurchasable(ctx *vm.Context, id uint64) (*core.Listing, error) {
	l, err := ctx.State.GetListing(id)
	if err != nil {
		return nil, fmt.Errorf("listing %d: %w", id, err)
	}
	if l.Seller == ctx.Sender() {
		return nil, core.Errorf(core.ErrWrongParty, "seller cannot buy own listing %d", id)
	}
	if err := checkNoLiveEscrow(ctx.State, id); err != nil {
		return nil, err
	}
	return l, nil
}

func handleBuyListing(ctx *vm.Context, payload json.RawMessage) error {
	var p core.ListingPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	l, err := loadPurchasable(ctx, p.ListingID)
	if err != nil {
		return err
	}

	buyer := ctx.Sender()
	acc, err := ctx.State.GetAccount(buyer)
	if err != nil {
		return err
	}
	if acc.Balance < l.Price {
		return core.Errorf(core.ErrTransferFailed, "insufficient balance: have %d need %d", acc.Balance, l.Price)
	}
	payout, err := settlement.Pay(ctx.State, buyer, saleOf(l.Seller, l.Price, l.RoyaltyBips, l.RoyaltyRecipient))
	if err != nil {
		return err
	}
	if err := closeListing(ctx, l, buyer, l.Price); err != nil {
		return err
	}

	ctx.Emit(events.EventListingSold, map[string]any{
		"listing_id": l.ID,
		"buyer":      buyer,
		"seller":     l.Seller,
		"price":      l.Price,
		"royalty":    payout.Royalty,
		"fee":        payout.Fee,
		"seller_amt": payout.Seller,
	})
	return nil
}

func handleBuyListingEscrow(ctx *vm.Context, payload json.RawMessage) error {
	var p core.ListingPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	l, err := loadPurchasable(ctx, p.ListingID)
	if err != nil {
		return err
	}
	e, err := openEscrow(ctx, l, l.Price, 0)
	if err != nil {
		return err
	}

	ctx.Emit(events.EventEscrowCreated, map[string]any{
		"escrow_id":     e.ListingID,
		"buyer":         e.Buyer,
		"seller":        e.Seller,
		"amount":        e.Amount,
		"timeout_block": e.TimeoutBlock,
	})
	return nil
}

func saleOf(seller string, price uint64, royaltyBips uint16, royaltyRecipient string) settlement.Sale {
	return settlement.Sale{Seller: seller, Price: price, RoyaltyBips: royaltyBips, RoyaltyRecipient: royaltyRecipient}
}

// closeListing finishes a sale of l to buyer: the listing is deleted, its
// NFT (if any) changes hands and the settlement is booked.
func closeListing(ctx *vm.Context, l *core.Listing, buyer string, amount uint64) error {
	if l.NFT != nil {
		nft, err := ctx.State.GetNFT(*l.NFT)
		if err != nil {
			return fmt.Errorf("nft %s: %w", l.NFT.Key(), err)
		}
		nft.Owner = buyer
		nft.LockedBy = ""
		if err := ctx.State.SetNFT(nft); err != nil {
			return err
		}
	}
	if err := ctx.State.DeleteListing(l.ID); err != nil {
		return err
	}
	if err := settlement.AppendPrice(ctx.State, l.ID, amount, ctx.Height(), settlement.PriceSold); err != nil {
		return err
	}
	return settlement.Book(ctx.State, settlement.Record{
		Kind:   core.KindListing,
		RefID:  l.ID,
		Buyer:  buyer,
		Seller: l.Seller,
		Amount: amount,
		Block:  ctx.Height(),
	})
}
