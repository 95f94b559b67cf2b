package dispute

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/tolmart/core"
	"github.com/tolelom/tolmart/events"
	"github.com/tolelom/tolmart/settlement"
	"github.com/tolelom/tolmart/vm"
	"github.com/tolelom/tolmart/vm/modules/market"
)

func init() {
	vm.Register(core.TxCreateDispute, vm.Guarded(handleCreateDispute))
	vm.Register(core.TxStakeDispute, vm.Guarded(handleStake))
	vm.Register(core.TxVoteDispute, vm.Guarded(handleVote))
	vm.Register(core.TxResolveDispute, vm.Guarded(handleResolve))
}

func loadOpen(st core.State, id uint64) (*core.Dispute, error) {
	d, err := st.GetDispute(id)
	if err != nil {
		return nil, fmt.Errorf("dispute %d: %w", id, err)
	}
	if d.Resolved {
		return nil, core.Errorf(core.ErrInvalidState, "dispute %d already resolved", id)
	}
	return d, nil
}

func handleCreateDispute(ctx *vm.Context, payload json.RawMessage) error {
	var p core.EscrowReasonPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	e, err := market.LoadEscrow(ctx.State, p.EscrowID)
	if err != nil {
		return err
	}
	if _, err := market.PartyOf(e, ctx.Sender()); err != nil {
		return err
	}
	_, err = market.OpenDispute(ctx, e, p.Reason)
	return err
}

// handleStake locks funds behind one side of a dispute. Repeat stakes on the
// same side add up; switching sides is refused.
func handleStake(ctx *vm.Context, payload json.RawMessage) error {
	var p core.StakePayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	if !p.Side.Valid() {
		return core.Errorf(core.ErrInvalidParameters, "unknown side %q", p.Side)
	}
	params, err := ctx.State.GetParams()
	if err != nil {
		return err
	}
	if p.Amount == 0 || p.Amount < params.MinStake {
		return core.Errorf(core.ErrInvalidParameters, "stake %d below minimum %d", p.Amount, params.MinStake)
	}
	d, err := loadOpen(ctx.State, p.DisputeID)
	if err != nil {
		return err
	}

	staker := ctx.Sender()
	st, err := ctx.State.GetStake(d.ID, staker)
	switch {
	case errors.Is(err, core.ErrNotFound):
		st = &core.Stake{DisputeID: d.ID, Staker: staker, Side: p.Side}
		d.Stakers = append(d.Stakers, staker)
	case err != nil:
		return err
	case st.Side != p.Side:
		return core.Errorf(core.ErrInvalidState, "already staked on %s side of dispute %d", st.Side, d.ID)
	}

	if st.Amount, err = settlement.Add(st.Amount, p.Amount); err != nil {
		return err
	}
	if p.Side == core.SideBuyer {
		d.BuyerStakeTotal, err = settlement.Add(d.BuyerStakeTotal, p.Amount)
	} else {
		d.SellerStakeTotal, err = settlement.Add(d.SellerStakeTotal, p.Amount)
	}
	if err != nil {
		return err
	}
	if _, err := settlement.Add(d.BuyerStakeTotal, d.SellerStakeTotal); err != nil {
		return err
	}
	if err := settlement.Lock(ctx.State, staker, p.Amount); err != nil {
		return err
	}
	if err := ctx.State.SetStake(st); err != nil {
		return err
	}
	if err := ctx.State.SetDispute(d); err != nil {
		return err
	}

	ctx.Emit(events.EventDisputeStaked, map[string]any{
		"dispute_id": d.ID,
		"staker":     staker,
		"side":       string(p.Side),
		"amount":     p.Amount,
		"stake":      st.Amount,
	})
	return nil
}

func handleVote(ctx *vm.Context, payload json.RawMessage) error {
	var p core.VotePayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	if !p.Side.Valid() {
		return core.Errorf(core.ErrInvalidParameters, "unknown side %q", p.Side)
	}
	d, err := loadOpen(ctx.State, p.DisputeID)
	if err != nil {
		return err
	}
	st, err := ctx.State.GetStake(d.ID, ctx.Sender())
	if errors.Is(err, core.ErrNotFound) || (err == nil && st.Amount == 0) {
		return core.Errorf(core.ErrNotAuthorized, "voting on dispute %d requires a stake", d.ID)
	}
	if err != nil {
		return err
	}
	st.Vote = p.Side
	if err := ctx.State.SetStake(st); err != nil {
		return err
	}

	ctx.Emit(events.EventDisputeVoted, map[string]any{
		"dispute_id": d.ID,
		"voter":      st.Staker,
		"vote":       string(p.Side),
		"weight":     st.Amount,
	})
	return nil
}

// Tally sums the stake behind each cast vote and picks the heavier side,
// falling back to tieBreak on equal weight.
func Tally(stakes []*core.Stake, tieBreak core.Side) (outcome core.Side, buyerWeight, sellerWeight uint64, err error) {
	for _, st := range stakes {
		switch st.Vote {
		case core.SideBuyer:
			buyerWeight, err = settlement.Add(buyerWeight, st.Amount)
		case core.SideSeller:
			sellerWeight, err = settlement.Add(sellerWeight, st.Amount)
		}
		if err != nil {
			return "", 0, 0, err
		}
	}
	switch {
	case buyerWeight > sellerWeight:
		outcome = core.SideBuyer
	case sellerWeight > buyerWeight:
		outcome = core.SideSeller
	default:
		outcome = tieBreak
	}
	return outcome, buyerWeight, sellerWeight, nil
}

// Payouts returns what each staker receives once outcome is known. Winners
// recover their stake plus a pro-rata share of the losing side's stakes,
// floored, with the remainder going to the last winner in stake order. With
// no winners every stake is returned as is.
func Payouts(stakes []*core.Stake, outcome core.Side) ([]uint64, error) {
	out := make([]uint64, len(stakes))
	var winTotal, pool uint64
	last := -1
	for i, st := range stakes {
		var err error
		if st.Side == outcome {
			winTotal, err = settlement.Add(winTotal, st.Amount)
			last = i
		} else {
			pool, err = settlement.Add(pool, st.Amount)
		}
		if err != nil {
			return nil, err
		}
	}
	if winTotal == 0 {
		for i, st := range stakes {
			out[i] = st.Amount
		}
		return out, nil
	}

	var paid uint64
	for i, st := range stakes {
		if st.Side != outcome {
			continue
		}
		share, err := settlement.MulDiv(st.Amount, pool, winTotal)
		if err != nil {
			return nil, err
		}
		paid += share
		out[i] = st.Amount + share
	}
	out[last] += pool - paid
	return out, nil
}

func handleResolve(ctx *vm.Context, payload json.RawMessage) error {
	var p core.DisputePayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	d, err := loadOpen(ctx.State, p.DisputeID)
	if err != nil {
		return err
	}
	params, err := ctx.State.GetParams()
	if err != nil {
		return err
	}
	total, err := settlement.Add(d.BuyerStakeTotal, d.SellerStakeTotal)
	if err != nil {
		return err
	}
	if total < params.ResolutionThreshold {
		return core.Errorf(core.ErrInvalidState, "dispute %d has %d staked, needs %d", d.ID, total, params.ResolutionThreshold)
	}

	stakes := make([]*core.Stake, len(d.Stakers))
	for i, who := range d.Stakers {
		if stakes[i], err = ctx.State.GetStake(d.ID, who); err != nil {
			return fmt.Errorf("stake %s on dispute %d: %w", who, d.ID, err)
		}
	}
	outcome, buyerWeight, sellerWeight, err := Tally(stakes, params.TieBreak)
	if err != nil {
		return err
	}

	e, err := market.LoadEscrow(ctx.State, d.EscrowID)
	if err != nil {
		return err
	}
	if e.State != core.EscrowDisputed {
		return core.Errorf(core.ErrInvalidState, "escrow %d is %s", e.ListingID, e.State)
	}
	if outcome == core.SideBuyer {
		err = market.Refund(ctx, e)
	} else {
		err = market.Release(ctx, e)
	}
	if err != nil {
		return err
	}

	payouts, err := Payouts(stakes, outcome)
	if err != nil {
		return err
	}
	for i, st := range stakes {
		if err := settlement.Unlock(ctx.State, st.Staker, payouts[i]); err != nil {
			return err
		}
	}

	d.Resolved = true
	d.Outcome = outcome
	d.ResolvedAtBlock = ctx.Height()
	if err := ctx.State.SetDispute(d); err != nil {
		return err
	}
	ctx.Emit(events.EventDisputeSettled, map[string]any{
		"dispute_id":    d.ID,
		"escrow_id":     d.EscrowID,
		"outcome":       string(outcome),
		"buyer_weight":  buyerWeight,
		"seller_weight": sellerWeight,
	})
	return nil
}
