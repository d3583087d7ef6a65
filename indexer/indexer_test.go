package indexer_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/artgrid/artgrid/core"
	"github.com/artgrid/artgrid/events"
	"github.com/artgrid/artgrid/indexer"
	"github.com/artgrid/artgrid/internal/testutil"

	_ "github.com/artgrid/artgrid/engine/modules/auction"
	_ "github.com/artgrid/artgrid/engine/modules/canvas"
	_ "github.com/artgrid/artgrid/engine/modules/ledger"
	_ "github.com/artgrid/artgrid/engine/modules/trade"
)

func openIndex(t *testing.T) *indexer.SQLiteIndex {
	t.Helper()
	idx, err := indexer.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

// TestApplyEvents folds a synthetic event stream and checks the queries
// see the resulting rows.
func TestApplyEvents(t *testing.T) {
	idx := openIndex(t)

	stream := []events.Event{
		{Type: events.EventCanvasCreated, Seq: 1, Data: map[string]any{"canvas_id": uint64(0)}},
		{Type: events.EventCanvasCreated, Seq: 2, Data: map[string]any{"canvas_id": uint64(1)}},
		{Type: events.EventBiddingStarted, Seq: 3, Data: map[string]any{"canvas_id": uint64(0)}},
		{Type: events.EventBidPlaced, Seq: 4, Data: map[string]any{
			"canvas_id": uint64(0), "bidder": "alice", "amount": uint64(500), "finish": int64(999),
		}},
		{Type: events.EventAuctionSettled, Seq: 5, Data: map[string]any{
			"canvas_id": uint64(0), "owner": "alice", "amount": uint64(500),
		}},
		{Type: events.EventSellOfferSet, Seq: 6, Data: map[string]any{
			"canvas_id": uint64(0), "min_price": uint64(1000), "only_to": "",
		}},
	}
	for _, ev := range stream {
		if err := idx.Apply(ev); err != nil {
			t.Fatalf("apply %s: %v", ev.Type, err)
		}
	}

	owned, err := idx.ByState(core.StateOwned)
	if err != nil {
		t.Fatal(err)
	}
	if len(owned) != 1 || owned[0] != 0 {
		t.Errorf("owned: %v", owned)
	}
	unfinished, err := idx.ByState(core.StateUnfinished)
	if err != nil {
		t.Fatal(err)
	}
	if len(unfinished) != 1 || unfinished[0] != 1 {
		t.Errorf("unfinished: %v", unfinished)
	}
	byAlice, err := idx.ByOwner("alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(byAlice) != 1 || byAlice[0] != 0 {
		t.Errorf("by owner: %v", byAlice)
	}
	n, err := idx.CountByOwner("alice")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("count: got %d want 1", n)
	}
	forSale, err := idx.WithSellOffer(false)
	if err != nil {
		t.Fatal(err)
	}
	if len(forSale) != 1 || forSale[0] != 0 {
		t.Errorf("for sale: %v", forSale)
	}
}

// TestApplyIdempotent checks a replayed event does not regress the row.
func TestApplyIdempotent(t *testing.T) {
	idx := openIndex(t)

	created := events.Event{Type: events.EventCanvasCreated, Seq: 1, Data: map[string]any{"canvas_id": uint64(0)}}
	named := events.Event{Type: events.EventCanvasNamed, Seq: 2, Data: map[string]any{"canvas_id": uint64(0), "name": "dawn"}}
	for _, ev := range []events.Event{created, named, created, named} {
		if err := idx.Apply(ev); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}
}

// TestPrivateOffersHidden checks restricted sell offers stay out of the
// public listing.
func TestPrivateOffersHidden(t *testing.T) {
	idx := openIndex(t)
	evs := []events.Event{
		{Type: events.EventCanvasCreated, Seq: 1, Data: map[string]any{"canvas_id": uint64(0)}},
		{Type: events.EventSellOfferSet, Seq: 2, Data: map[string]any{
			"canvas_id": uint64(0), "min_price": uint64(100), "only_to": "bob",
		}},
	}
	for _, ev := range evs {
		if err := idx.Apply(ev); err != nil {
			t.Fatal(err)
		}
	}

	public, err := idx.WithSellOffer(false)
	if err != nil {
		t.Fatal(err)
	}
	if len(public) != 0 {
		t.Errorf("restricted offer listed publicly: %v", public)
	}
	all, err := idx.WithSellOffer(true)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("restricted offer missing from full listing: %v", all)
	}
}

// TestAttachFollowsEngine checks the live subscription mirrors engine
// operations without an explicit rebuild.
func TestAttachFollowsEngine(t *testing.T) {
	env := testutil.NewEnv(t, 4, 100)
	idx := openIndex(t)
	idx.Attach(env.Emitter)

	painter := env.NewWallet(t)
	bidder := env.NewWallet(t)
	env.Apply(t, painter, core.OpCreateCanvas, 0, core.CreateCanvasPayload{})
	env.PaintAll(t, painter, 0)
	env.Apply(t, bidder, core.OpMakeBid, 500, core.MakeBidPayload{CanvasID: 0})

	bidding, err := idx.ByState(core.StateBidding)
	if err != nil {
		t.Fatal(err)
	}
	if len(bidding) != 1 || bidding[0] != 0 {
		t.Errorf("bidding: %v", bidding)
	}
}

// TestLeadingBidderOwnsDuringAuction checks the leading bidder of an
// open auction counts toward ownership queries, the outbid bidder drops
// to zero, and settlement leaves the winner in place.
func TestLeadingBidderOwnsDuringAuction(t *testing.T) {
	idx := openIndex(t)
	evs := []events.Event{
		{Type: events.EventCanvasCreated, Seq: 1, Data: map[string]any{"canvas_id": uint64(0)}},
		{Type: events.EventBiddingStarted, Seq: 2, Data: map[string]any{"canvas_id": uint64(0)}},
		{Type: events.EventBidPlaced, Seq: 3, Data: map[string]any{
			"canvas_id": uint64(0), "bidder": "alice", "amount": uint64(500), "finish": int64(999),
		}},
	}
	for _, ev := range evs {
		if err := idx.Apply(ev); err != nil {
			t.Fatal(err)
		}
	}
	if n, _ := idx.CountByOwner("alice"); n != 1 {
		t.Errorf("leading bidder balance: got %d want 1", n)
	}

	err := idx.Apply(events.Event{Type: events.EventBidPlaced, Seq: 4, Data: map[string]any{
		"canvas_id": uint64(0), "bidder": "bob", "amount": uint64(600), "finish": int64(999),
	}})
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := idx.CountByOwner("alice"); n != 0 {
		t.Errorf("outbid bidder balance: got %d want 0", n)
	}
	if n, _ := idx.CountByOwner("bob"); n != 1 {
		t.Errorf("new leader balance: got %d want 1", n)
	}

	err = idx.Apply(events.Event{Type: events.EventAuctionSettled, Seq: 5, Data: map[string]any{
		"canvas_id": uint64(0), "owner": "bob", "amount": uint64(600),
	}})
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := idx.CountByOwner("bob"); n != 1 {
		t.Errorf("winner balance after settlement: got %d want 1", n)
	}
}

// TestRebuildIndexesOpenAuctionBidder checks a cold rebuild applies the
// same rule to auctions that are still running.
func TestRebuildIndexesOpenAuctionBidder(t *testing.T) {
	env := testutil.NewEnv(t, 4, 100)
	painter := env.NewWallet(t)
	bidder := env.NewWallet(t)
	env.Apply(t, painter, core.OpCreateCanvas, 0, core.CreateCanvasPayload{})
	env.PaintAll(t, painter, 0)
	env.Apply(t, bidder, core.OpMakeBid, 500, core.MakeBidPayload{CanvasID: 0})

	idx := openIndex(t)
	if err := idx.Rebuild(env.State, env.Clock.Now().Unix()); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	owned, err := idx.ByOwner(bidder.Address())
	if err != nil {
		t.Fatal(err)
	}
	if len(owned) != 1 || owned[0] != 0 {
		t.Errorf("open-auction bidder not indexed as owner: %v", owned)
	}
}

// TestRebuildMatchesState checks a cold rebuild reports auction winners
// by effective state, even before lazy settlement runs.
func TestRebuildMatchesState(t *testing.T) {
	env := testutil.NewEnv(t, 4, 100)
	painter := env.NewWallet(t)
	bidder := env.NewWallet(t)
	env.Apply(t, painter, core.OpCreateCanvas, 0, core.CreateCanvasPayload{})
	env.PaintAll(t, painter, 0)
	env.Apply(t, bidder, core.OpMakeBid, 500, core.MakeBidPayload{CanvasID: 0})
	env.Clock.Advance(49 * time.Hour)

	idx := openIndex(t)
	if err := idx.Rebuild(env.State, env.Clock.Now().Unix()); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	owned, err := idx.ByOwner(bidder.Address())
	if err != nil {
		t.Fatal(err)
	}
	if len(owned) != 1 || owned[0] != 0 {
		t.Errorf("unsettled winner not indexed as owner: %v", owned)
	}
}
