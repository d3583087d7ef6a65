// Package ledger handles reward and commission claims and withdrawals.
package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/artgrid/artgrid/core"
	"github.com/artgrid/artgrid/engine"
	"github.com/artgrid/artgrid/events"
)

func init() {
	engine.Register(core.OpClaimReward, handleClaimReward)
	engine.Register(core.OpClaimCommission, handleClaimCommission)
	engine.Register(core.OpWithdraw, handleWithdraw)
}

func handleClaimReward(ctx *engine.Context, payload json.RawMessage) error {
	var p core.ClaimRewardPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode claim_reward payload: %w", err)
	}

	if err := engine.SettleAuction(ctx, p.CanvasID); err != nil {
		return err
	}
	pool, err := ctx.State.GetPool(p.CanvasID)
	if err != nil {
		return fmt.Errorf("reward pool for canvas %d: %w", p.CanvasID, err)
	}
	grid, err := ctx.State.GetGrid(p.CanvasID)
	if err != nil {
		return err
	}
	meta, err := ctx.State.Meta()
	if err != nil {
		return err
	}

	painted := grid.Counts[ctx.Op.From]
	owed := core.RewardOwed(pool, meta.PixelCount, painted, ctx.Op.From)
	if owed == 0 {
		return fmt.Errorf("%w: no unclaimed reward on canvas %d", core.ErrAlreadySettled, p.CanvasID)
	}

	pool.RewardWithdrawn[ctx.Op.From] += owed
	if err := ctx.State.SetPool(pool); err != nil {
		return err
	}
	if err := core.CreditPending(ctx.State, ctx.Op.From, owed); err != nil {
		return err
	}

	ctx.Emit(events.EventRewardClaimed, map[string]any{
		"canvas_id": p.CanvasID,
		"address":   ctx.Op.From,
		"amount":    owed,
	})
	return nil
}

func handleClaimCommission(ctx *engine.Context, payload json.RawMessage) error {
	var p core.ClaimCommissionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode claim_commission payload: %w", err)
	}

	meta, err := ctx.State.Meta()
	if err != nil {
		return err
	}
	if ctx.Op.From != meta.PlatformOwner {
		return fmt.Errorf("%w: only the platform owner can claim commission", core.ErrUnauthorized)
	}

	if err := engine.SettleAuction(ctx, p.CanvasID); err != nil {
		return err
	}
	pool, err := ctx.State.GetPool(p.CanvasID)
	if err != nil {
		return fmt.Errorf("reward pool for canvas %d: %w", p.CanvasID, err)
	}
	owed := pool.TotalCommission - pool.CommissionWithdrawn
	if owed == 0 {
		return fmt.Errorf("%w: no unclaimed commission on canvas %d", core.ErrAlreadySettled, p.CanvasID)
	}

	pool.CommissionWithdrawn = pool.TotalCommission
	if err := ctx.State.SetPool(pool); err != nil {
		return err
	}
	if err := core.CreditPending(ctx.State, ctx.Op.From, owed); err != nil {
		return err
	}

	ctx.Emit(events.EventCommissionPaid, map[string]any{
		"canvas_id": p.CanvasID,
		"amount":    owed,
	})
	return nil
}

func handleWithdraw(ctx *engine.Context, payload json.RawMessage) error {
	var p core.WithdrawPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode withdraw payload: %w", err)
	}

	acc, err := ctx.State.GetAccount(ctx.Op.From)
	if err != nil {
		return err
	}
	if acc.Pending == 0 {
		return fmt.Errorf("%w: nothing to withdraw", core.ErrAlreadySettled)
	}

	amount := acc.Pending
	acc.Pending = 0
	if err := ctx.State.SetAccount(acc); err != nil {
		return err
	}
	meta, err := ctx.State.Meta()
	if err != nil {
		return err
	}
	if err := core.SubHeld(meta, amount); err != nil {
		return err
	}
	if err := ctx.State.SetMeta(meta); err != nil {
		return err
	}

	// The transfer itself runs after commit, so nothing the recipient
	// does can interleave with this operation.
	ctx.QueuePayout(ctx.Op.From, amount)
	ctx.Emit(events.EventWithdrawal, map[string]any{
		"address": ctx.Op.From,
		"amount":  amount,
	})
	return nil
}
