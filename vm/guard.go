package vm

import (
	"encoding/json"

	"github.com/tolelom/tolmart/core"
)

// Decode unmarshals a transaction payload, reporting malformed input as 400.
func Decode(payload json.RawMessage, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return core.Errorf(core.ErrInvalidParameters, "decode payload: %v", err)
	}
	return nil
}

// CheckNotPaused returns ErrPaused while the marketplace is paused.
func CheckNotPaused(ctx *Context) error {
	admin, err := ctx.State.GetAdmin()
	if err != nil {
		return err
	}
	if admin.Paused {
		return core.ErrPaused
	}
	return nil
}

// Guarded wraps a marketplace handler with the pause check. The check runs
// before the payload is even decoded so a paused ledger reveals nothing.
func Guarded(h Handler) Handler {
	return func(ctx *Context, payload json.RawMessage) error {
		if err := CheckNotPaused(ctx); err != nil {
			return err
		}
		return h(ctx, payload)
	}
}
