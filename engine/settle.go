package engine

import (
	"errors"
	"fmt"

	"github.com/artgrid/artgrid/core"
	"github.com/artgrid/artgrid/events"
)

// SettleAuction finalizes the initial auction of canvas id if its
// deadline has passed: ownership moves to the leading bidder and the bid
// is split into the canvas' reward and commission pool. A no-op when the
// canvas is not in a closeable auction. Every handler that depends on a
// canvas' ownership or pool calls this first, so settlement happens
// lazily on the next mutating operation after the deadline.
func SettleAuction(ctx *Context, id uint64) error {
	c, err := ctx.State.GetCanvas(id)
	if err != nil {
		return err
	}
	if c.State != core.StateBidding || c.BiddingFinish == 0 || ctx.Now.Unix() < c.BiddingFinish {
		return nil
	}
	bid, err := ctx.State.GetBid(id)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			// A deadline is only ever set together with a first bid.
			return fmt.Errorf("canvas %d: deadline without a bid", id)
		}
		return err
	}

	meta, err := ctx.State.Meta()
	if err != nil {
		return err
	}
	_, totalRewards, commission := core.AuctionSplit(bid.Amount, meta.PixelCount)
	pool := &core.Pool{
		CanvasID:        id,
		TotalRewards:    totalRewards,
		TotalCommission: commission,
		RewardWithdrawn: make(map[string]uint64),
	}
	if err := ctx.State.SetPool(pool); err != nil {
		return err
	}

	c.State = core.StateOwned
	c.Owner = bid.Bidder
	if err := ctx.State.SetCanvas(c); err != nil {
		return err
	}

	ctx.Emit(events.EventAuctionSettled, map[string]any{
		"canvas_id":  id,
		"owner":      bid.Bidder,
		"amount":     bid.Amount,
		"rewards":    totalRewards,
		"commission": commission,
	})
	return nil
}
