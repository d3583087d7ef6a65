package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/artgrid/artgrid/clock"
	"github.com/artgrid/artgrid/core"
	"github.com/artgrid/artgrid/engine"
	"github.com/artgrid/artgrid/events"
	"github.com/artgrid/artgrid/storage"
	"github.com/artgrid/artgrid/wallet"
)

// Epoch is the fixed starting instant of every test clock.
var Epoch = time.Unix(1_700_000_000, 0)

// Env wires a complete in-memory engine for handler tests.
type Env struct {
	State    *storage.StateDB
	Journal  *MemJournal
	Clock    *clock.Mock
	Emitter  *events.Emitter
	Payouts  *PayoutRecorder
	Engine   *engine.Engine
	Platform *wallet.Wallet

	mu     sync.Mutex
	nonces map[string]uint64
	events []events.Event
}

// NewEnv builds an engine on fresh in-memory storage. The platform
// owner wallet is generated and already registered in meta.
func NewEnv(t *testing.T, pixelCount uint32, minimumBid uint64) *Env {
	t.Helper()
	platform, err := wallet.Generate()
	if err != nil {
		t.Fatalf("generate platform wallet: %v", err)
	}

	env := &Env{
		State:    NewStateDB(),
		Journal:  NewMemJournal(),
		Clock:    clock.NewMock(Epoch),
		Emitter:  events.NewEmitter(),
		Payouts:  &PayoutRecorder{},
		Platform: platform,
		nonces:   make(map[string]uint64),
	}
	env.Emitter.SubscribeAll(func(ev events.Event) {
		env.mu.Lock()
		env.events = append(env.events, ev)
		env.mu.Unlock()
	})

	if err := engine.Initialize(env.State, platform.Address(), minimumBid, pixelCount); err != nil {
		t.Fatalf("initialize state: %v", err)
	}
	env.Engine = engine.New(env.State, env.Journal, env.Clock, env.Emitter, engine.Params{
		MaxActiveCanvases: 12,
		AuctionDuration:   48 * time.Hour,
	}, env.Payouts)
	return env
}

// NewWallet generates a participant wallet.
func (e *Env) NewWallet(t *testing.T) *wallet.Wallet {
	t.Helper()
	w, err := wallet.Generate()
	if err != nil {
		t.Fatalf("generate wallet: %v", err)
	}
	return w
}

// Try signs and applies one operation with the next nonce for w. The
// local nonce advances only on success, mirroring the engine's rollback.
func (e *Env) Try(t *testing.T, w *wallet.Wallet, typ core.OpType, value uint64, payload any) error {
	t.Helper()
	e.mu.Lock()
	nonce := e.nonces[w.Address()] + 1
	e.mu.Unlock()

	op, err := w.NewOp(typ, nonce, value, payload)
	if err != nil {
		t.Fatalf("build op %s: %v", typ, err)
	}
	if _, err := e.Engine.Apply(op); err != nil {
		return err
	}
	e.mu.Lock()
	e.nonces[w.Address()] = nonce
	e.mu.Unlock()
	return nil
}

// Apply is Try that fails the test on error.
func (e *Env) Apply(t *testing.T, w *wallet.Wallet, typ core.OpType, value uint64, payload any) {
	t.Helper()
	if err := e.Try(t, w, typ, value, payload); err != nil {
		t.Fatalf("apply %s: %v", typ, err)
	}
}

// Events returns a copy of all events emitted so far.
func (e *Env) Events() []events.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]events.Event, len(e.events))
	copy(out, e.events)
	return out
}

// LastEvent returns the most recent event of the given type, or nil.
func (e *Env) LastEvent(typ events.EventType) *events.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.events) - 1; i >= 0; i-- {
		if e.events[i].Type == typ {
			ev := e.events[i]
			return &ev
		}
	}
	return nil
}

// Pending returns the claimable balance of addr.
func (e *Env) Pending(t *testing.T, addr string) uint64 {
	t.Helper()
	acc, err := e.State.GetAccount(addr)
	if err != nil {
		t.Fatalf("get account %s: %v", addr, err)
	}
	return acc.Pending
}

// Meta returns the engine meta record.
func (e *Env) Meta(t *testing.T) *core.Meta {
	t.Helper()
	meta, err := e.State.Meta()
	if err != nil {
		t.Fatalf("get meta: %v", err)
	}
	return meta
}

// CheckConservation fails the test if held funds do not match the sum
// of all obligations.
func (e *Env) CheckConservation(t *testing.T) {
	t.Helper()
	if err := core.CheckConservation(e.State); err != nil {
		t.Fatalf("conservation: %v", err)
	}
}

// PaintAll paints every pixel of canvas id with w, moving it to the
// bidding phase.
func (e *Env) PaintAll(t *testing.T, w *wallet.Wallet, id uint64) {
	t.Helper()
	meta := e.Meta(t)
	indices := make([]uint32, meta.PixelCount)
	colors := make([]uint16, meta.PixelCount)
	for i := range indices {
		indices[i] = uint32(i)
		colors[i] = uint16(i%255) + 1
	}
	e.Apply(t, w, core.OpSetPixels, 0, core.SetPixelsPayload{
		CanvasID: id,
		Indices:  indices,
		Colors:   colors,
	})
}
