package auction

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/tolmart/core"
	"github.com/tolelom/tolmart/events"
	"github.com/tolelom/tolmart/settlement"
	"github.com/tolelom/tolmart/vm"
)

func init() {
	vm.Register(core.TxCreateAuction, vm.Guarded(handleCreateAuction))
	vm.Register(core.TxPlaceBid, vm.Guarded(handlePlaceBid))
	vm.Register(core.TxEndAuction, vm.Guarded(handleEndAuction))
}

func lockOf(id uint64) string { return fmt.Sprintf("auction:%d", id) }

func loadAuction(st core.State, id uint64) (*core.Auction, error) {
	a, err := st.GetAuction(id)
	if err != nil {
		return nil, fmt.Errorf("auction %d: %w", id, err)
	}
	return a, nil
}

func handleCreateAuction(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CreateAuctionPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	if p.DurationBlocks == 0 {
		return core.Errorf(core.ErrInvalidParameters, "duration must be > 0 blocks")
	}
	endBlock, err := settlement.Add(ctx.Height(), p.DurationBlocks)
	if err != nil {
		return err
	}

	nft, err := ctx.State.GetNFT(p.NFT)
	if err != nil {
		return fmt.Errorf("nft %s: %w", p.NFT.Key(), err)
	}
	if nft.Owner != ctx.Sender() {
		return core.Errorf(core.ErrWrongParty, "caller does not own %s", p.NFT.Key())
	}
	if nft.LockedBy != "" {
		return core.Errorf(core.ErrInvalidState, "%s is locked by %s", p.NFT.Key(), nft.LockedBy)
	}

	id, err := ctx.State.NextID(core.KindAuction)
	if err != nil {
		return err
	}
	a := &core.Auction{
		ID:           id,
		NFT:          p.NFT,
		Seller:       ctx.Sender(),
		StartPrice:   p.StartPrice,
		ReservePrice: p.ReservePrice,
		EndBlock:     endBlock,
	}
	if err := ctx.State.SetAuction(a); err != nil {
		return err
	}
	nft.Owner = core.CustodyAddress
	nft.LockedBy = lockOf(id)
	if err := ctx.State.SetNFT(nft); err != nil {
		return err
	}

	ctx.Emit(events.EventAuctionCreated, map[string]any{
		"auction_id":    id,
		"seller":        a.Seller,
		"nft":           p.NFT.Key(),
		"start_price":   a.StartPrice,
		"reserve_price": a.ReservePrice,
		"end_block":     a.EndBlock,
	})
	return nil
}

func handlePlaceBid(ctx *vm.Context, payload json.RawMessage) error {
	var p core.PlaceBidPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	a, err := loadAuction(ctx.State, p.AuctionID)
	if err != nil {
		return err
	}
	bidder := ctx.Sender()
	if bidder == a.Seller {
		return core.Errorf(core.ErrWrongParty, "seller cannot bid on auction %d", a.ID)
	}
	if a.Ended || ctx.Height() >= a.EndBlock {
		return core.Errorf(core.ErrInvalidState, "auction %d closed at block %d", a.ID, a.EndBlock)
	}
	if floor := max(a.StartPrice, a.HighestBid); p.Amount <= floor {
		return core.Errorf(core.ErrInvalidParameters, "bid %d must exceed %d", p.Amount, floor)
	}

	if a.HighestBidder != "" {
		if err := settlement.Unlock(ctx.State, a.HighestBidder, a.HighestBid); err != nil {
			return err
		}
	}
	if err := settlement.Lock(ctx.State, bidder, p.Amount); err != nil {
		return err
	}
	prev := a.HighestBidder
	a.HighestBidder = bidder
	a.HighestBid = p.Amount
	if err := ctx.State.SetAuction(a); err != nil {
		return err
	}

	ctx.Emit(events.EventBidPlaced, map[string]any{
		"auction_id":      a.ID,
		"bidder":          bidder,
		"amount":          p.Amount,
		"refunded_bidder": prev,
	})
	return nil
}

// handleEndAuction settles an auction once its end block is reached. Anyone
// may call it. A bid at or above reserve buys the NFT; otherwise the NFT
// returns to the seller and any standing bid is refunded.
func handleEndAuction(ctx *vm.Context, payload json.RawMessage) error {
	var p core.EndAuctionPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	a, err := loadAuction(ctx.State, p.AuctionID)
	if err != nil {
		return err
	}
	if p.NFT != a.NFT {
		return core.Errorf(core.ErrInvalidParameters, "auction %d is for %s, not %s", a.ID, a.NFT.Key(), p.NFT.Key())
	}
	if a.Ended {
		return core.Errorf(core.ErrInvalidState, "auction %d already ended", a.ID)
	}
	if ctx.Height() < a.EndBlock {
		return core.Errorf(core.ErrInvalidState, "auction %d ends at block %d", a.ID, a.EndBlock)
	}

	nft, err := ctx.State.GetNFT(a.NFT)
	if err != nil {
		return fmt.Errorf("nft %s: %w", a.NFT.Key(), err)
	}
	sold := a.HighestBidder != "" && a.HighestBid >= a.ReservePrice
	data := map[string]any{
		"auction_id": a.ID,
		"nft":        a.NFT.Key(),
		"seller":     a.Seller,
		"sold":       sold,
	}
	if sold {
		payout, err := settlement.Pay(ctx.State, core.CustodyAddress, settlement.Sale{Seller: a.Seller, Price: a.HighestBid})
		if err != nil {
			return err
		}
		nft.Owner = a.HighestBidder
		if err := settlement.Book(ctx.State, settlement.Record{
			Kind:   core.KindAuction,
			RefID:  a.ID,
			Buyer:  a.HighestBidder,
			Seller: a.Seller,
			Amount: a.HighestBid,
			Block:  ctx.Height(),
		}); err != nil {
			return err
		}
		data["winner"] = a.HighestBidder
		data["price"] = a.HighestBid
		data["fee"] = payout.Fee
	} else {
		nft.Owner = a.Seller
		if a.HighestBidder != "" {
			if err := settlement.Unlock(ctx.State, a.HighestBidder, a.HighestBid); err != nil {
				return err
			}
			data["refunded_bidder"] = a.HighestBidder
			data["refunded"] = a.HighestBid
		}
	}
	nft.LockedBy = ""
	if err := ctx.State.SetNFT(nft); err != nil {
		return err
	}
	a.Ended = true
	if err := ctx.State.SetAuction(a); err != nil {
		return err
	}

	ctx.Emit(events.EventAuctionEnded, data)
	return nil
}
