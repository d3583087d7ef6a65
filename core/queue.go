package core

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	maxQueueSize = 10_000
	maxOpAge     = int64(time.Hour)       // reject ops older than 1 hour
	maxOpFuture  = int64(5 * time.Minute) // reject ops more than 5 min in the future
)

// OpQueue is the admission queue in front of the engine. Operations are
// verified and deduplicated on Submit, then drained strictly in admission
// order by a single consumer; that drain order is the engine's total
// order.
type OpQueue struct {
	mu     sync.Mutex
	seen   map[string]bool
	ops    []*Operation
	notify chan struct{}
	closed bool
}

// NewOpQueue creates an empty admission queue.
func NewOpQueue() *OpQueue {
	return &OpQueue{
		seen:   make(map[string]bool),
		notify: make(chan struct{}, 1),
	}
}

// Submit validates and enqueues an operation. Returns an error if the
// queue is full or closed, the op is a duplicate, the signature is
// invalid, or the timestamp is outside the acceptable window.
func (q *OpQueue) Submit(op *Operation) error {
	if err := op.Verify(); err != nil {
		return fmt.Errorf("invalid op signature: %w", err)
	}
	now := time.Now().UnixNano()
	if now-op.Timestamp > maxOpAge {
		return errors.New("operation expired")
	}
	if op.Timestamp-now > maxOpFuture {
		return errors.New("operation timestamp too far in the future")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("queue closed")
	}
	if len(q.ops) >= maxQueueSize {
		return errors.New("queue full")
	}
	if q.seen[op.ID] {
		return errors.New("op already submitted")
	}
	q.seen[op.ID] = true
	q.ops = append(q.ops, op)
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Size returns the number of operations waiting to be applied.
func (q *OpQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Close stops the queue; Drain returns after the backlog is consumed.
func (q *OpQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Drain applies queued operations in admission order until Close. It is
// meant to run on exactly one goroutine; apply errors are the caller's
// to report (a failed operation has no effect and is simply dropped).
func (q *OpQueue) Drain(apply func(*Operation) error, onErr func(*Operation, error)) {
	for {
		q.mu.Lock()
		if len(q.ops) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			<-q.notify
			continue
		}
		op := q.ops[0]
		q.ops = q.ops[1:]
		delete(q.seen, op.ID)
		q.mu.Unlock()

		if err := apply(op); err != nil && onErr != nil {
			onErr(op, err)
		}
	}
}
