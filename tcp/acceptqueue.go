package tcp

import (
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
)

// AcceptQueue is the bounded FIFO of fully- or partially-handshaken child
// connections waiting to be claimed by Accept. Overflow is handled by
// silently dropping the offending inbound SYN (no RST, no SYN cookie, no
// child state created); see spec.md's accept-queue invariants and
// DESIGN.md's note on why this engine omits SYN cookie mitigation.
type AcceptQueue struct {
	mu      sync.Mutex
	backlog int
	items   []*Engine
}

// NewAcceptQueue allocates a queue with room for backlog pending children.
func NewAcceptQueue(backlog int) *AcceptQueue {
	if backlog < 1 {
		backlog = 1
	}
	return &AcceptQueue{backlog: backlog, items: make([]*Engine, 0, backlog)}
}

// Len reports how many children are in the queue, including those still
// mid handshake.
func (q *AcceptQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// TryAdmit appends child if there is room, reporting whether it was
// admitted. Called the moment a listener spawns a child for an inbound SYN,
// before the handshake completes, so that backlog accounting reflects
// in-progress children per spec.md (not just fully ESTABLISHED ones).
func (q *AcceptQueue) TryAdmit(child *Engine) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.backlog {
		return false
	}
	q.items = append(q.items, child)
	return true
}

// Pop removes and returns the oldest child ready to be handed to the
// application via Accept. A child is "ready" once it has completed its
// handshake, i.e. reached ESTABLISHED or CLOSE-WAIT (a peer may have FIN-ed
// before accept); Pop skips over (leaving in place) children still mid
// handshake.
func (q *AcceptQueue) Pop() *Engine {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, c := range q.items {
		if c.ctx.state == StateEstablished || c.ctx.state == StateCloseWait {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return c
		}
	}
	return nil
}

// Remove drops child from the queue without requiring it be ESTABLISHED,
// used when a half-open child resets or times out before being accepted.
func (q *AcceptQueue) Remove(child *Engine) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, c := range q.items {
		if c == child {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}

// PruneStale drops every half-open child (not yet ESTABLISHED) whose
// handshake started before deadline, aborting each one (which queues an RST
// on that child's own egress; the listener does not forward it once the
// child has left the queue) and aggregating whatever abort-time errors surface into a single
// error via go-multierror, the same aggregation idiom the rest of the
// corpus uses for batch teardown. Returns nil if nothing was pruned.
func (q *AcceptQueue) PruneStale(now time.Time, deadline time.Duration) error {
	q.mu.Lock()
	stale := q.items[:0:0]
	kept := q.items[:0:0]
	for _, c := range q.items {
		if c.ctx.state != StateEstablished && c.ctx.state != StateCloseWait && now.Sub(c.spawnedAt) > deadline {
			stale = append(stale, c)
		} else {
			kept = append(kept, c)
		}
	}
	q.items = kept
	q.mu.Unlock()

	var errs *multierror.Error
	for _, c := range stale {
		c.Abort()
		if err := c.ClearError(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}
