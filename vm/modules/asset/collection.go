package asset

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/tolelom/tolmart/core"
	"github.com/tolelom/tolmart/events"
	"github.com/tolelom/tolmart/vm"
)

const (
	maxCollectionID   = 64
	maxCollectionName = 128
)

func init() {
	vm.Register(core.TxRegisterCollection, vm.Guarded(handleRegisterCollection))
}

func handleRegisterCollection(ctx *vm.Context, payload json.RawMessage) error {
	var p core.RegisterCollectionPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	if p.ID == "" || len(p.ID) > maxCollectionID || strings.Contains(p.ID, ":") {
		return core.Errorf(core.ErrInvalidParameters, "collection id must be 1..%d chars without ':'", maxCollectionID)
	}
	if len(p.Name) > maxCollectionName {
		return core.Errorf(core.ErrInvalidParameters, "collection name longer than %d", maxCollectionName)
	}

	// Prevent overwriting an existing collection
	_, err := ctx.State.GetCollection(p.ID)
	if err == nil {
		return core.Errorf(core.ErrInvalidState, "collection %q already exists", p.ID)
	}
	if !errors.Is(err, core.ErrNotFound) {
		return err
	}

	c := &core.Collection{ID: p.ID, Name: p.Name, Creator: ctx.Sender()}
	if err := ctx.State.SetCollection(c); err != nil {
		return err
	}

	ctx.Emit(events.EventCollectionReg, map[string]any{"collection": p.ID, "name": p.Name, "creator": c.Creator})
	return nil
}
