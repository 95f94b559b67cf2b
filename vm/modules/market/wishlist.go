package market

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/tolmart/core"
	"github.com/tolelom/tolmart/events"
	"github.com/tolelom/tolmart/vm"
)

func init() {
	vm.Register(core.TxToggleWishlist, vm.Guarded(handleToggleWishlist))
}

// handleToggleWishlist adds the listing to the caller's wishlist, or removes
// it if already present. Removal works even after the listing is gone.
func handleToggleWishlist(ctx *vm.Context, payload json.RawMessage) error {
	var p core.ListingPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	who := ctx.Sender()
	ids, err := ctx.State.GetWishlist(who)
	if err != nil {
		return err
	}

	for i, id := range ids {
		if id == p.ListingID {
			ids = append(ids[:i], ids[i+1:]...)
			if err := ctx.State.SetWishlist(who, ids); err != nil {
				return err
			}
			ctx.Emit(events.EventWishlist, map[string]any{"principal": who, "listing_id": p.ListingID, "added": false})
			return nil
		}
	}

	params, err := ctx.State.GetParams()
	if err != nil {
		return err
	}
	if len(ids) >= params.MaxWishlist {
		return core.Errorf(core.ErrInvalidParameters, "wishlist holds at most %d listings", params.MaxWishlist)
	}
	if _, err := ctx.State.GetListing(p.ListingID); err != nil {
		return fmt.Errorf("listing %d: %w", p.ListingID, err)
	}
	if err := ctx.State.SetWishlist(who, append(ids, p.ListingID)); err != nil {
		return err
	}
	ctx.Emit(events.EventWishlist, map[string]any{"principal": who, "listing_id": p.ListingID, "added": true})
	return nil
}
