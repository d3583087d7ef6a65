package engine

import (
	"time"

	"github.com/artgrid/artgrid/core"
	"github.com/artgrid/artgrid/events"
)

// Params holds the engine limits that are fixed by configuration rather
// than stored in state.
type Params struct {
	MaxActiveCanvases uint32
	AuctionDuration   time.Duration
}

// Payout is a transfer the engine performs after the operation commits.
type Payout struct {
	Address string
	Amount  uint64
}

// Context carries everything a handler may touch while executing one
// operation. Events and payouts are queued here and released by the
// engine only after the state change has committed, so a failed or
// reverted operation leaves no external trace.
type Context struct {
	State  core.State
	Op     *core.Operation
	Now    time.Time
	Params Params

	queuedEvents  []events.Event
	queuedPayouts []Payout
}

// Emit queues an event for delivery after commit.
func (c *Context) Emit(typ events.EventType, data map[string]any) {
	c.queuedEvents = append(c.queuedEvents, events.Event{
		Type: typ,
		OpID: c.Op.ID,
		Data: data,
	})
}

// QueuePayout schedules a native transfer to address, executed by the
// engine's payout sink after commit. Handlers must have already
// subtracted the amount from Meta.Held.
func (c *Context) QueuePayout(address string, amount uint64) {
	c.queuedPayouts = append(c.queuedPayouts, Payout{Address: address, Amount: amount})
}
