// Package approval is the durable pending-decision registry. A blocked
// step's goroutine awaits a single-shot notification keyed by approval id;
// the notifier fires on decision or TTL expiry. Rows survive resolution for
// audit.
package approval

import (
	"context"
	"sync"
	"time"

	"github.com/Djtony707/TITAN/internal/logging"
	"github.com/Djtony707/TITAN/internal/store"
	"github.com/Djtony707/TITAN/internal/titanerr"
)

// DefaultTTL bounds how long an undecided approval stays pending.
const DefaultTTL = 5 * time.Minute

// Queue wraps the approvals table with wake-up semantics.
type Queue struct {
	store *store.Store
	log   *logging.Logger
	ttl   time.Duration

	mu      sync.Mutex
	waiters map[string][]chan string // approval id -> decision listeners

	wake chan struct{}
	done chan struct{}
}

// New builds a Queue with the given default TTL (DefaultTTL when zero).
func New(s *store.Store, log *logging.Logger, ttl time.Duration) *Queue {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Queue{
		store:   s,
		log:     log,
		ttl:     ttl,
		waiters: make(map[string][]chan string),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Start launches the single TTL reaper, which wakes on the earliest pending
// deadline and writes decision=timeout when it passes.
func (q *Queue) Start(ctx context.Context) {
	go q.reap(ctx)
}

// Stop terminates the reaper.
func (q *Queue) Stop() { close(q.done) }

// Create persists a new pending approval. A zero deadline gets the queue's
// default TTL.
func (q *Queue) Create(ctx context.Context, ap *store.Approval) error {
	if ap.Deadline.IsZero() {
		ap.Deadline = time.Now().Add(q.ttl).UTC()
	}
	if err := q.store.CreateApproval(ctx, ap); err != nil {
		return err
	}
	q.log.Info("approval requested", map[string]interface{}{
		"approval_id": ap.ID, "tool": ap.Tool, "deadline": ap.Deadline.Format(time.RFC3339),
	})
	q.kick()
	return nil
}

// Await blocks until the approval is decided, its TTL expires, or ctx ends.
// It returns the recorded decision.
func (q *Queue) Await(ctx context.Context, id string) (string, error) {
	ch := make(chan string, 1)
	q.mu.Lock()
	q.waiters[id] = append(q.waiters[id], ch)
	q.mu.Unlock()
	defer q.dropWaiter(id, ch)

	// The decision may already have landed before we registered.
	ap, err := q.store.GetApproval(ctx, id)
	if err != nil {
		return "", err
	}
	if ap.Decision != store.DecisionPending {
		return ap.Decision, nil
	}

	// Poll as a fallback so a decision recorded by another process (CLI
	// against the same store) still wakes this waiter.
	poll := time.NewTicker(2 * time.Second)
	defer poll.Stop()
	for {
		select {
		case decision := <-ch:
			return decision, nil
		case <-poll.C:
			ap, err := q.store.GetApproval(ctx, id)
			if err != nil {
				return "", err
			}
			if ap.Decision != store.DecisionPending {
				return ap.Decision, nil
			}
		case <-ctx.Done():
			return "", titanerr.Wrap(titanerr.KindTransient, "approval.Await", "cancelled while awaiting approval", ctx.Err())
		}
	}
}

// Resolve records a human decision. Races lose with a KindConflict
// "already resolved" error rather than corrupting state; the CLI and web
// resolvers both land here.
func (q *Queue) Resolve(ctx context.Context, id, resolver, decision, reason string) error {
	if _, err := q.store.ClaimPendingApproval(ctx, id, resolver, decision, reason); err != nil {
		return err
	}
	q.log.Info("approval resolved", map[string]interface{}{
		"approval_id": id, "decision": decision, "resolver": resolver,
	})
	q.notify(id, decision)
	return nil
}

func (q *Queue) dropWaiter(id string, ch chan string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ws := q.waiters[id]
	for i, w := range ws {
		if w == ch {
			q.waiters[id] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(q.waiters[id]) == 0 {
		delete(q.waiters, id)
	}
}

func (q *Queue) notify(id, decision string) {
	q.mu.Lock()
	ws := q.waiters[id]
	delete(q.waiters, id)
	q.mu.Unlock()
	for _, ch := range ws {
		select {
		case ch <- decision:
		default:
		}
	}
}

func (q *Queue) kick() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// reap sleeps until the earliest pending deadline, expires everything past
// due, then re-arms. Create kicks it so a shorter deadline is noticed
// immediately.
func (q *Queue) reap(ctx context.Context) {
	for {
		deadlines, err := q.store.PendingApprovalDeadlines(ctx)
		if err != nil {
			q.log.Warn("approval reaper scan failed", map[string]interface{}{"error": err.Error()})
		}

		now := time.Now()
		next := time.Time{}
		for id, deadline := range deadlines {
			if !deadline.After(now) {
				q.expire(ctx, id)
				continue
			}
			if next.IsZero() || deadline.Before(next) {
				next = deadline
			}
		}

		sleep := time.Minute
		if !next.IsZero() {
			sleep = time.Until(next)
			if sleep < 0 {
				sleep = 0
			}
		}
		timer := time.NewTimer(sleep)
		select {
		case <-timer.C:
		case <-q.wake:
			timer.Stop()
		case <-q.done:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (q *Queue) expire(ctx context.Context, id string) {
	_, err := q.store.ClaimPendingApproval(ctx, id, "system", store.DecisionTimeout, "approval TTL expired")
	if err != nil {
		// A racing human decision beat the reaper; nothing to do.
		if titanerr.Is(err, titanerr.KindConflict) {
			return
		}
		q.log.Warn("approval expiry failed", map[string]interface{}{"approval_id": id, "error": err.Error()})
		return
	}
	q.log.SecurityWarning("approval timed out", map[string]interface{}{"approval_id": id})
	q.notify(id, store.DecisionTimeout)
}
