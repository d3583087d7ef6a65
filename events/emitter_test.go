package events_test

import (
	"testing"

	"github.com/artgrid/artgrid/events"
)

// TestSubscribeByType checks typed subscriptions only see their type.
func TestSubscribeByType(t *testing.T) {
	em := events.NewEmitter()
	var got []events.Event
	em.Subscribe(events.EventBidPlaced, func(ev events.Event) {
		got = append(got, ev)
	})

	em.Emit(events.Event{Type: events.EventCanvasCreated, Seq: 1})
	em.Emit(events.Event{Type: events.EventBidPlaced, Seq: 2})

	if len(got) != 1 || got[0].Seq != 2 {
		t.Errorf("typed subscriber saw: %+v", got)
	}
}

// TestSubscribeAll checks the firehose sees every event in order.
func TestSubscribeAll(t *testing.T) {
	em := events.NewEmitter()
	var seqs []uint64
	em.SubscribeAll(func(ev events.Event) {
		seqs = append(seqs, ev.Seq)
	})

	em.Emit(events.Event{Type: events.EventCanvasCreated, Seq: 1})
	em.Emit(events.Event{Type: events.EventWithdrawal, Seq: 2})
	em.Emit(events.Event{Type: events.EventCanvasSold, Seq: 3})

	if len(seqs) != 3 || seqs[0] != 1 || seqs[2] != 3 {
		t.Errorf("seqs: %v", seqs)
	}
}

// TestPanicIsolation checks one panicking handler does not stop delivery
// to the others.
func TestPanicIsolation(t *testing.T) {
	em := events.NewEmitter()
	em.Subscribe(events.EventCanvasCreated, func(events.Event) {
		panic("broken subscriber")
	})
	delivered := false
	em.Subscribe(events.EventCanvasCreated, func(events.Event) {
		delivered = true
	})

	em.Emit(events.Event{Type: events.EventCanvasCreated, Seq: 1})
	if !delivered {
		t.Error("panic in one handler blocked the next")
	}
}
