// Package auction handles the initial auction of a finished canvas.
package auction

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/artgrid/artgrid/core"
	"github.com/artgrid/artgrid/engine"
	"github.com/artgrid/artgrid/events"
)

func init() {
	engine.RegisterPayable(core.OpMakeBid, handleMakeBid)
	engine.Register(core.OpSetMinimumBid, handleSetMinimumBid)
}

func handleMakeBid(ctx *engine.Context, payload json.RawMessage) error {
	var p core.MakeBidPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode make_bid payload: %w", err)
	}

	// A closed auction settles here, so the state check below rejects
	// bids that arrive after the deadline.
	if err := engine.SettleAuction(ctx, p.CanvasID); err != nil {
		return err
	}
	c, err := ctx.State.GetCanvas(p.CanvasID)
	if err != nil {
		return fmt.Errorf("canvas %d: %w", p.CanvasID, err)
	}
	if c.State != core.StateBidding {
		return fmt.Errorf("%w: canvas %d is %s, not accepting bids", core.ErrInvalidState, p.CanvasID, c.State)
	}

	meta, err := ctx.State.Meta()
	if err != nil {
		return err
	}
	amount := ctx.Op.Value
	if amount < meta.MinimumBid {
		return fmt.Errorf("%w: bid %d below minimum %d", core.ErrInsufficientValue, amount, meta.MinimumBid)
	}

	prev, err := ctx.State.GetBid(p.CanvasID)
	switch {
	case err == nil:
		if amount <= prev.Amount {
			return fmt.Errorf("%w: bid %d does not exceed leading bid %d", core.ErrInsufficientValue, amount, prev.Amount)
		}
		// The outbid amount becomes claimable immediately.
		if err := core.CreditPending(ctx.State, prev.Bidder, prev.Amount); err != nil {
			return err
		}
	case errors.Is(err, core.ErrNotFound):
		// First bid starts the countdown. The deadline is written once
		// and never moved.
		c.BiddingFinish = ctx.Now.Add(ctx.Params.AuctionDuration).Unix()
		if err := ctx.State.SetCanvas(c); err != nil {
			return err
		}
	default:
		return err
	}

	bid := &core.Bid{
		CanvasID: p.CanvasID,
		Bidder:   ctx.Op.From,
		Amount:   amount,
		PlacedAt: ctx.Now.Unix(),
	}
	if err := ctx.State.SetBid(bid); err != nil {
		return err
	}

	ctx.Emit(events.EventBidPlaced, map[string]any{
		"canvas_id": p.CanvasID,
		"bidder":    ctx.Op.From,
		"amount":    amount,
		"finish":    c.BiddingFinish,
	})
	return nil
}

func handleSetMinimumBid(ctx *engine.Context, payload json.RawMessage) error {
	var p core.SetMinimumBidPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode set_minimum_bid payload: %w", err)
	}
	if p.Amount == 0 {
		return fmt.Errorf("%w: minimum bid must be positive", core.ErrInvalidState)
	}

	meta, err := ctx.State.Meta()
	if err != nil {
		return err
	}
	if ctx.Op.From != meta.PlatformOwner {
		return fmt.Errorf("%w: only the platform owner can set the minimum bid", core.ErrUnauthorized)
	}

	meta.MinimumBid = p.Amount
	if err := ctx.State.SetMeta(meta); err != nil {
		return err
	}
	ctx.Emit(events.EventMinimumBidReset, map[string]any{"amount": p.Amount})
	return nil
}
