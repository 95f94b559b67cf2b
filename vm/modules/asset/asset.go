package asset

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/tolmart/core"
	"github.com/tolelom/tolmart/events"
	"github.com/tolelom/tolmart/vm"
)

func init() {
	vm.Register(core.TxMintNFT, vm.Guarded(handleMintNFT))
	vm.Register(core.TxTransferNFT, vm.Guarded(handleTransferNFT))
}

func handleMintNFT(ctx *vm.Context, payload json.RawMessage) error {
	var p core.MintNFTPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	owner := p.Owner
	if owner == "" {
		owner = ctx.Sender()
	} else if err := core.ValidatePrincipal("owner", owner); err != nil {
		return err
	}

	coll, err := ctx.State.GetCollection(p.Contract)
	if err != nil {
		return fmt.Errorf("collection %q: %w", p.Contract, err)
	}
	if coll.Creator != ctx.Sender() {
		return core.Errorf(core.ErrWrongParty, "only the collection creator can mint")
	}

	ref := core.NFTRef{Contract: p.Contract, TokenID: p.TokenID}
	_, err = ctx.State.GetNFT(ref)
	if err == nil {
		return core.Errorf(core.ErrInvalidState, "token %s already minted", ref.Key())
	}
	if !errors.Is(err, core.ErrNotFound) {
		return err
	}

	nft := &core.NFT{
		Contract:   p.Contract,
		TokenID:    p.TokenID,
		Owner:      owner,
		Properties: p.Properties,
		MintedAt:   ctx.Height(),
	}
	if err := ctx.State.SetNFT(nft); err != nil {
		return err
	}

	ctx.Emit(events.EventNFTMinted, map[string]any{"nft": ref.Key(), "owner": owner})
	return nil
}

func handleTransferNFT(ctx *vm.Context, payload json.RawMessage) error {
	var p core.TransferNFTPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	if err := core.ValidatePrincipal("to", p.To); err != nil {
		return err
	}

	nft, err := ctx.State.GetNFT(p.NFT)
	if err != nil {
		return fmt.Errorf("nft %s: %w", p.NFT.Key(), err)
	}
	if nft.Owner != ctx.Sender() {
		return core.Errorf(core.ErrWrongParty, "only the owner can transfer %s", p.NFT.Key())
	}
	if nft.LockedBy != "" {
		return core.Errorf(core.ErrInvalidState, "%s is locked by %s", p.NFT.Key(), nft.LockedBy)
	}

	nft.Owner = p.To
	if err := ctx.State.SetNFT(nft); err != nil {
		return err
	}

	ctx.Emit(events.EventNFTTransfer, map[string]any{"nft": p.NFT.Key(), "from": ctx.Sender(), "to": p.To})
	return nil
}
