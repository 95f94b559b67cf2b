package economy

import (
	"encoding/json"

	"github.com/tolelom/tolmart/core"
	"github.com/tolelom/tolmart/events"
	"github.com/tolelom/tolmart/settlement"
	"github.com/tolelom/tolmart/vm"
)

func init() {
	vm.Register(core.TxTransfer, vm.Guarded(handleTransfer))
}

func handleTransfer(ctx *vm.Context, payload json.RawMessage) error {
	var p core.TransferPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	if p.Amount == 0 {
		return core.Errorf(core.ErrInvalidParameters, "transfer amount must be > 0")
	}
	if err := core.ValidatePrincipal("to", p.To); err != nil {
		return err
	}
	if p.To == ctx.Sender() {
		return core.Errorf(core.ErrInvalidParameters, "cannot transfer to self")
	}
	if err := settlement.Transfer(ctx.State, ctx.Sender(), p.To, p.Amount); err != nil {
		return err
	}

	ctx.Emit(events.EventTokenTransfer, map[string]any{
		"from":   ctx.Sender(),
		"to":     p.To,
		"amount": p.Amount,
	})
	return nil
}
