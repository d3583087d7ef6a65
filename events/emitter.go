package events

import (
	"log"
	"sync"
)

// EventType labels what happened.
type EventType string

const (
	EventCanvasCreated   EventType = "canvas_created"
	EventPixelsPainted   EventType = "pixels_painted"
	EventBiddingStarted  EventType = "bidding_started"
	EventBidPlaced       EventType = "bid_placed"
	EventAuctionSettled  EventType = "auction_settled"
	EventCanvasNamed     EventType = "canvas_named"
	EventSellOfferSet    EventType = "sell_offer_set"
	EventSellOfferClear  EventType = "sell_offer_cleared"
	EventBuyOfferSet     EventType = "buy_offer_set"
	EventBuyOfferClear   EventType = "buy_offer_cleared"
	EventCanvasSold      EventType = "canvas_sold"
	EventRewardClaimed   EventType = "reward_claimed"
	EventCommissionPaid  EventType = "commission_claimed"
	EventWithdrawal      EventType = "withdrawal"
	EventMinimumBidReset EventType = "minimum_bid_set"
)

// Event carries a typed payload emitted after a committed state change.
type Event struct {
	Type EventType      `json:"type"`
	OpID string         `json:"op_id"`
	Seq  uint64         `json:"seq"`
	Data map[string]any `json:"data"`
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      []Handler
}

// NewEmitter creates an Emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[EventType][]Handler)}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// SubscribeAll registers h for every event type. Used by the websocket
// feed, which forwards the whole stream.
func (e *Emitter) SubscribeAll(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, h)
}

// Emit delivers ev to all matching subscribers synchronously. Each
// handler is guarded by panic recovery so a misbehaving subscriber
// cannot crash the engine.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := make([]Handler, 0, len(e.handlers[ev.Type])+len(e.all))
	handlers = append(handlers, e.handlers[ev.Type]...)
	handlers = append(handlers, e.all...)
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[events] handler panicked for %s: %v", ev.Type, r)
				}
			}()
			h(ev)
		}()
	}
}
