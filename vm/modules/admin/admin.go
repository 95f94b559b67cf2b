// Package admin implements the administrative surface of the marketplace.
// Admin transactions are never pause-gated, so a paused ledger can always
// be unpaused.
package admin

import (
	"encoding/json"

	"github.com/tolelom/tolmart/core"
	"github.com/tolelom/tolmart/events"
	"github.com/tolelom/tolmart/vm"
)

// MaxFeeBips caps the marketplace fee at 10%.
const MaxFeeBips = 1_000

func init() {
	vm.Register(core.TxPause, handlePause)
	vm.Register(core.TxUnpause, handleUnpause)
	vm.Register(core.TxAddAdmin, handleAddAdmin)
	vm.Register(core.TxRemoveAdmin, handleRemoveAdmin)
	vm.Register(core.TxSetFee, handleSetFee)
	vm.Register(core.TxSetFeeRecipient, handleSetFeeRecipient)
}

// loadAsAdmin returns the admin state after checking the sender is an admin.
func loadAsAdmin(ctx *vm.Context) (*core.AdminState, error) {
	a, err := ctx.State.GetAdmin()
	if err != nil {
		return nil, err
	}
	if !a.IsAdmin(ctx.Sender()) {
		return nil, core.Errorf(core.ErrWrongParty, "%s is not an admin", ctx.Sender())
	}
	return a, nil
}

func setPaused(ctx *vm.Context, paused bool) error {
	a, err := loadAsAdmin(ctx)
	if err != nil {
		return err
	}
	if a.Paused == paused {
		return core.Errorf(core.ErrInvalidState, "paused is already %t", paused)
	}
	a.Paused = paused
	if err := ctx.State.SetAdmin(a); err != nil {
		return err
	}
	typ := events.EventUnpaused
	if paused {
		typ = events.EventPaused
	}
	ctx.Emit(typ, map[string]any{"admin": ctx.Sender()})
	return nil
}

func handlePause(ctx *vm.Context, _ json.RawMessage) error   { return setPaused(ctx, true) }
func handleUnpause(ctx *vm.Context, _ json.RawMessage) error { return setPaused(ctx, false) }

func handleAddAdmin(ctx *vm.Context, payload json.RawMessage) error {
	a, err := loadAsAdmin(ctx)
	if err != nil {
		return err
	}
	var p core.PrincipalPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	if err := core.ValidatePrincipal("principal", p.Principal); err != nil {
		return err
	}
	if a.IsAdmin(p.Principal) {
		return core.Errorf(core.ErrInvalidState, "%s is already an admin", p.Principal)
	}
	a.Admins = append(a.Admins, p.Principal)
	if err := ctx.State.SetAdmin(a); err != nil {
		return err
	}
	ctx.Emit(events.EventAdminAdded, map[string]any{"admin": ctx.Sender(), "principal": p.Principal})
	return nil
}

func handleRemoveAdmin(ctx *vm.Context, payload json.RawMessage) error {
	a, err := loadAsAdmin(ctx)
	if err != nil {
		return err
	}
	var p core.PrincipalPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	if !a.IsAdmin(p.Principal) {
		return core.Errorf(core.ErrNotFound, "%s is not an admin", p.Principal)
	}
	if len(a.Admins) == 1 {
		return core.Errorf(core.ErrInvalidState, "cannot remove the last admin")
	}
	kept := make([]string, 0, len(a.Admins)-1)
	for _, x := range a.Admins {
		if x != p.Principal {
			kept = append(kept, x)
		}
	}
	a.Admins = kept
	if err := ctx.State.SetAdmin(a); err != nil {
		return err
	}
	ctx.Emit(events.EventAdminRemoved, map[string]any{"admin": ctx.Sender(), "principal": p.Principal})
	return nil
}

func handleSetFee(ctx *vm.Context, payload json.RawMessage) error {
	a, err := loadAsAdmin(ctx)
	if err != nil {
		return err
	}
	var p core.SetFeePayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	if p.FeeBips > MaxFeeBips {
		return core.Errorf(core.ErrInvalidParameters, "fee %d bips exceeds %d", p.FeeBips, MaxFeeBips)
	}
	a.FeeBips = p.FeeBips
	if err := ctx.State.SetAdmin(a); err != nil {
		return err
	}
	ctx.Emit(events.EventFeeSet, map[string]any{"admin": ctx.Sender(), "fee_bips": p.FeeBips})
	return nil
}

func handleSetFeeRecipient(ctx *vm.Context, payload json.RawMessage) error {
	a, err := loadAsAdmin(ctx)
	if err != nil {
		return err
	}
	var p core.PrincipalPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	if err := core.ValidatePrincipal("principal", p.Principal); err != nil {
		return err
	}
	a.FeeRecipient = p.Principal
	if err := ctx.State.SetAdmin(a); err != nil {
		return err
	}
	ctx.Emit(events.EventFeeRecipient, map[string]any{"admin": ctx.Sender(), "principal": p.Principal})
	return nil
}
