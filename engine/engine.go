// Package engine executes signed operations against the canvas state.
// Operations are applied strictly one at a time; each either commits
// completely (state, journal entry, events, payouts) or leaves no trace.
package engine

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/artgrid/artgrid/clock"
	"github.com/artgrid/artgrid/core"
	"github.com/artgrid/artgrid/events"
)

// PayoutSink receives the native transfers a committed operation
// produced. It runs strictly after commit, so a slow or failing sink can
// never roll back or re-enter the engine.
type PayoutSink interface {
	Pay(address string, amount uint64) error
}

// PayoutFunc adapts a function to PayoutSink.
type PayoutFunc func(address string, amount uint64) error

func (f PayoutFunc) Pay(address string, amount uint64) error { return f(address, amount) }

// Engine is the single writer of the canvas state.
type Engine struct {
	mu      sync.Mutex
	state   core.State
	journal core.Journal
	clock   clock.Clock
	emitter *events.Emitter
	params  Params
	payouts PayoutSink
}

// New assembles an engine. The emitter and payout sink may be nil, in
// which case events are dropped and payouts only logged.
func New(state core.State, journal core.Journal, clk clock.Clock, emitter *events.Emitter, params Params, payouts PayoutSink) *Engine {
	if clk == nil {
		clk = clock.System{}
	}
	if emitter == nil {
		emitter = events.NewEmitter()
	}
	if payouts == nil {
		payouts = PayoutFunc(func(address string, amount uint64) error {
			log.Printf("[engine] payout %d to %s (no sink configured)", amount, address)
			return nil
		})
	}
	return &Engine{
		state:   state,
		journal: journal,
		clock:   clk,
		emitter: emitter,
		params:  params,
		payouts: payouts,
	}
}

// Initialize writes the engine meta record on a fresh state and verifies
// it on a reopened one. The pixel count is structural and must never
// change across restarts; the minimum bid is only a starting value, the
// stored one wins on reopen.
func Initialize(s core.State, platformOwner string, minimumBid uint64, pixelCount uint32) error {
	if pixelCount == 0 {
		return fmt.Errorf("pixel count must be positive")
	}
	meta, err := s.Meta()
	if err != nil {
		return err
	}
	if meta.PixelCount == 0 {
		meta.PlatformOwner = platformOwner
		meta.MinimumBid = minimumBid
		meta.PixelCount = pixelCount
		if err := s.SetMeta(meta); err != nil {
			return err
		}
		return s.Commit()
	}
	if meta.PixelCount != pixelCount {
		return fmt.Errorf("state has pixel count %d, config wants %d", meta.PixelCount, pixelCount)
	}
	if meta.PlatformOwner != platformOwner {
		return fmt.Errorf("state has platform owner %s, config wants %s", meta.PlatformOwner, platformOwner)
	}
	return nil
}

// Apply executes op: verifies the signature, checks the nonce, runs the
// registered handler inside a state snapshot, journals and commits the
// result, then releases the queued events and payouts. Returns the
// journal sequence assigned to the operation.
func (e *Engine) Apply(op *core.Operation) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.apply(op, e.clock.Now().Unix(), true)
}

// Recover replays journal entries the state has not yet absorbed, using
// the clock values recorded at first application so deadlines come out
// identical. Returns the number of replayed operations.
func (e *Engine) Recover() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tip, err := e.journal.Seq()
	if err != nil {
		return 0, err
	}
	meta, err := e.state.Meta()
	if err != nil {
		return 0, err
	}
	replayed := 0
	for seq := meta.AppliedSeq + 1; seq <= tip; seq++ {
		entry, err := e.journal.Get(seq)
		if err != nil {
			return replayed, fmt.Errorf("journal entry %d: %w", seq, err)
		}
		if _, err := e.apply(entry.Op, entry.Now, false); err != nil {
			return replayed, fmt.Errorf("replay seq %d: %w", seq, err)
		}
		replayed++
	}
	return replayed, nil
}

// View runs fn holding the engine lock, giving read surfaces a
// consistent view of the state. fn must not mutate.
func (e *Engine) View(fn func(core.State) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.state)
}

// Now reads the engine clock, for read surfaces deriving effective
// auction state.
func (e *Engine) Now() time.Time { return e.clock.Now() }

// Params returns the configured engine limits.
func (e *Engine) Params() Params { return e.params }

func (e *Engine) apply(op *core.Operation, observed int64, record bool) (uint64, error) {
	entry, ok := lookup(op.Type)
	if !ok {
		return 0, fmt.Errorf("%w: unknown operation type %q", core.ErrInvalidState, op.Type)
	}
	if op.Value > 0 && !entry.payable {
		return 0, fmt.Errorf("%w: %s does not accept attached value", core.ErrInvalidState, op.Type)
	}
	if err := op.Verify(); err != nil {
		return 0, fmt.Errorf("%w: %v", core.ErrUnauthorized, err)
	}

	snap, err := e.state.Snapshot()
	if err != nil {
		return 0, err
	}
	ctx, seq, err := e.run(entry, op, observed)
	if err != nil {
		if rerr := e.state.RevertToSnapshot(snap); rerr != nil {
			return 0, fmt.Errorf("rollback after %v: %w", err, rerr)
		}
		return 0, err
	}

	if record {
		if err := e.journal.Append(&core.JournalEntry{Seq: seq, Now: ctx.Now.Unix(), Op: op}); err != nil {
			if rerr := e.state.RevertToSnapshot(snap); rerr != nil {
				return 0, fmt.Errorf("rollback after journal error %v: %w", err, rerr)
			}
			return 0, fmt.Errorf("journal append: %w", err)
		}
	}
	if err := e.state.Commit(); err != nil {
		return 0, fmt.Errorf("commit seq %d: %w", seq, err)
	}

	for _, ev := range ctx.queuedEvents {
		ev.Seq = seq
		e.emitter.Emit(ev)
	}
	for _, p := range ctx.queuedPayouts {
		if err := e.payouts.Pay(p.Address, p.Amount); err != nil {
			// The state already committed the debit; the sink owns retries.
			log.Printf("[engine] payout %d to %s failed: %v", p.Amount, p.Address, err)
		}
	}
	return seq, nil
}

// run performs the state-mutating part of apply inside the snapshot.
func (e *Engine) run(entry handlerEntry, op *core.Operation, observed int64) (*Context, uint64, error) {
	meta, err := e.state.Meta()
	if err != nil {
		return nil, 0, err
	}

	// The clock is read once per operation and clamped against the
	// persisted high-water mark, so time never runs backwards here.
	now := observed
	if now < meta.LastObserved {
		now = meta.LastObserved
	}

	acc, err := e.state.GetAccount(op.From)
	if err != nil {
		return nil, 0, err
	}
	if op.Nonce != acc.Nonce+1 {
		return nil, 0, fmt.Errorf("%w: nonce %d, want %d", core.ErrInvalidState, op.Nonce, acc.Nonce+1)
	}
	acc.Nonce = op.Nonce
	if err := e.state.SetAccount(acc); err != nil {
		return nil, 0, err
	}

	if err := core.AddHeld(meta, op.Value); err != nil {
		return nil, 0, err
	}
	meta.LastObserved = now
	seq := meta.AppliedSeq + 1
	meta.AppliedSeq = seq
	if err := e.state.SetMeta(meta); err != nil {
		return nil, 0, err
	}

	ctx := &Context{
		State:  e.state,
		Op:     op,
		Now:    time.Unix(now, 0),
		Params: e.params,
	}
	if err := entry.fn(ctx, op.Payload); err != nil {
		return nil, 0, err
	}
	return ctx, seq, nil
}
