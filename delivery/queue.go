// Package delivery retries failed sends in the background. Entries are
// keyed by message id so retries of the same message never pile up,
// and each entry backs off exponentially on its own clock.
package delivery

import (
	"context"
	goerrors "errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/arkonsol/ark-app/domain"
	apperrors "github.com/arkonsol/ark-app/errors"
)

// RetryPolicy bounds how hard the queue tries before declaring a
// message undeliverable.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		BaseDelay:     time.Second,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2,
	}
}

// delay returns how long an entry waits after its n-th failed attempt.
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.BackoffFactor, float64(attempt-1)))
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Sender performs one delivery attempt.
type Sender func(request domain.SendRequest) error

// DeadLetter is invoked once per message, after the retry budget is
// spent. The error is the one from the final attempt.
type DeadLetter func(request domain.SendRequest, err error)

type entry struct {
	request     domain.SendRequest
	attempt     int
	lastAttempt time.Time
}

// Queue implements contract.Worker: Run drains ready entries on a
// fixed tick until the context is canceled.
type Queue struct {
	log        *slog.Logger
	policy     RetryPolicy
	tick       time.Duration
	sender     Sender
	deadLetter DeadLetter

	mu      sync.Mutex
	entries map[string]*entry
	order   []string
	paused  bool
	busy    bool
}

func NewQueue(log *slog.Logger, policy RetryPolicy, tick time.Duration, sender Sender, deadLetter DeadLetter) *Queue {
	if tick <= 0 {
		tick = time.Second
	}
	return &Queue{
		log:        log,
		policy:     policy,
		tick:       tick,
		sender:     sender,
		deadLetter: deadLetter,
		entries:    make(map[string]*entry),
	}
}

// Enqueue registers a failed send for retry. The message id is the
// identity: enqueueing an id already present is a no-op, so a message
// never holds more than one slot.
func (q *Queue) Enqueue(request domain.SendRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.entries[request.ID]; ok {
		return
	}
	q.entries[request.ID] = &entry{request: request, attempt: 1, lastAttempt: time.Now()}
	q.order = append(q.order, request.ID)
	q.log.Debug("Message queued for retry", "messageId", request.ID, "depth", len(q.entries))
}

// Remove drops an entry, typically because the message was delivered
// through another path.
func (q *Queue) Remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeLocked(id)
}

func (q *Queue) removeLocked(id string) {
	if _, ok := q.entries[id]; !ok {
		return
	}
	delete(q.entries, id)
	for i, queued := range q.order {
		if queued == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

// Pause stops draining while the transport is down. Entries keep
// accumulating and their backoff clocks keep running.
func (q *Queue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = true
}

func (q *Queue) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = false
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Run drains the queue on every tick until the context is canceled.
func (q *Queue) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			q.Drain()
		}
	}
}

// Drain attempts every entry whose backoff expired, oldest first. Only
// one drain runs at a time; overlapping calls return immediately so a
// slow attempt never doubles deliveries.
func (q *Queue) Drain() {
	q.mu.Lock()
	if q.paused || q.busy {
		q.mu.Unlock()
		return
	}
	q.busy = true

	now := time.Now()
	var ready []*entry
	for _, id := range q.order {
		e := q.entries[id]
		if now.Sub(e.lastAttempt) >= q.policy.delay(e.attempt) {
			ready = append(ready, e)
		}
	}
	q.mu.Unlock()

	for _, e := range ready {
		q.attempt(e)
	}

	q.mu.Lock()
	q.busy = false
	q.mu.Unlock()
}

func (q *Queue) attempt(e *entry) {
	err := q.sender(e.request)

	q.mu.Lock()
	current, ok := q.entries[e.request.ID]
	if !ok || current != e {
		// Removed or replaced while the attempt was in flight.
		q.mu.Unlock()
		return
	}
	if err == nil {
		q.removeLocked(e.request.ID)
		q.mu.Unlock()
		q.log.Info("Queued message delivered", "messageId", e.request.ID)
		return
	}
	if goerrors.Is(err, apperrors.ErrSendRejected) {
		// The server refused the payload; replaying it cannot help.
		q.removeLocked(e.request.ID)
		q.mu.Unlock()
		q.log.Error("Message rejected by server", "messageId", e.request.ID, "error", err)
		if q.deadLetter != nil {
			q.deadLetter(e.request, err)
		}
		return
	}
	if e.attempt >= q.policy.MaxAttempts {
		q.removeLocked(e.request.ID)
		q.mu.Unlock()
		q.log.Error("Retry budget spent", "messageId", e.request.ID, "attempts", e.attempt, "error", err)
		if q.deadLetter != nil {
			q.deadLetter(e.request, fmt.Errorf("%w after %d attempts: %v",
				apperrors.ErrDeliveryExhausted, e.attempt, err))
		}
		return
	}
	e.attempt++
	e.lastAttempt = time.Now()
	q.mu.Unlock()
	q.log.Debug("Retry failed, backing off", "messageId", e.request.ID, "attempt", e.attempt, "error", err)
}
