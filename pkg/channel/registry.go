package channel

import (
	"fmt"
	"sync"
	"time"

	"github.com/zeusync/topicrpc/pkg/observability/log"
	"github.com/zeusync/topicrpc/pkg/wire"
)

// Pending describes an outstanding request waiting for its reply.
type Pending struct {
	// Topic the request was published to, used when reporting timeouts.
	Topic string
	// ReplyTo and SubscriptionID identify where the reply is expected. When
	// set, only messages arriving there resolve the call.
	ReplyTo        string
	SubscriptionID string

	CreatedAt  time.Time
	Timeout    time.Duration
	HasTimeout bool

	OnReply func(reply *wire.Message)
	// OnTimeout is optional. Without it an expiry is logged as a warning.
	OnTimeout func()
	// OnClose is optional and runs when the registry closes under the call.
	OnClose func()
}

type pendingEntry struct {
	Pending
	correlationID uint64
	timer         *time.Timer
}

// Registry correlates replies with pending requests. Every registered call is
// consumed exactly once: by Resolve, by its deadline timer, by Cancel or by
// Close.
type Registry struct {
	mu      sync.Mutex
	pending map[uint64]*pendingEntry
	closed  bool

	log log.Log
	now func() time.Time
}

func NewRegistry(logger log.Log) *Registry {
	if logger == nil {
		logger = log.Provide()
	}
	return &Registry{
		pending: make(map[uint64]*pendingEntry),
		log:     logger,
		now:     time.Now,
	}
}

// Register adds a pending call. A deadline timer is scheduled when the call has
// a timeout.
func (r *Registry) Register(correlationID uint64, p Pending) error {
	if p.OnReply == nil {
		return wire.Validationf("pending call %s has no reply continuation", wire.FormatCorrelationID(correlationID))
	}
	if p.HasTimeout && p.Timeout < 0 {
		return wire.Validationf("timeout must not be negative, got %s", p.Timeout)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return wire.NewError(wire.ErrorCodeClosed, "registry is closed", nil)
	}
	if _, exists := r.pending[correlationID]; exists {
		return wire.NewError(wire.ErrorCodeAlreadyRegistered,
			fmt.Sprintf("correlation id %s already pending", wire.FormatCorrelationID(correlationID)), nil)
	}

	entry := &pendingEntry{Pending: p, correlationID: correlationID}
	if deadline, ok := wire.Deadline(p.CreatedAt, p.Timeout, p.HasTimeout); ok {
		entry.timer = time.AfterFunc(max(deadline.Sub(r.now()), 0), func() {
			r.expire(correlationID, entry)
		})
	}
	r.pending[correlationID] = entry
	return nil
}

// Resolve hands reply to the call registered under correlationID. It returns
// false when no such call is pending or the reply did not arrive where the call
// expects it.
func (r *Registry) Resolve(correlationID uint64, reply *wire.Message) bool {
	r.mu.Lock()
	entry, ok := r.pending[correlationID]
	if !ok || !entry.matches(reply) {
		r.mu.Unlock()
		return false
	}
	delete(r.pending, correlationID)
	if entry.timer != nil {
		entry.timer.Stop()
	}
	r.mu.Unlock()

	r.run("reply", entry, func() { entry.OnReply(reply) })
	return true
}

// Expire consumes the call registered under correlationID as timed out.
func (r *Registry) Expire(correlationID uint64) bool {
	return r.expire(correlationID, nil)
}

// Cancel drops a pending call without running any continuation.
func (r *Registry) Cancel(correlationID uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.pending[correlationID]
	if !ok {
		return false
	}
	delete(r.pending, correlationID)
	if entry.timer != nil {
		entry.timer.Stop()
	}
	return true
}

// Len returns the number of pending calls.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Close stops every timer and drops pending calls, running OnClose for those
// that have one. Reply and timeout continuations never run after Close. Later
// registrations fail with ErrClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	dropped := make([]*pendingEntry, 0, len(r.pending))
	for id, entry := range r.pending {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(r.pending, id)
		dropped = append(dropped, entry)
	}
	r.closed = true
	r.mu.Unlock()

	for _, entry := range dropped {
		if entry.OnClose != nil {
			r.run("close", entry, entry.OnClose)
		}
	}
}

// expire removes the call when it is still pending. A non-nil want restricts
// removal to that exact entry so a stale timer cannot expire a newer call
// registered under a reused id.
func (r *Registry) expire(correlationID uint64, want *pendingEntry) bool {
	r.mu.Lock()
	entry, ok := r.pending[correlationID]
	if !ok || (want != nil && entry != want) {
		r.mu.Unlock()
		return false
	}
	delete(r.pending, correlationID)
	if entry.timer != nil {
		entry.timer.Stop()
	}
	r.mu.Unlock()

	if entry.OnTimeout == nil {
		r.log.Warn("request timed out",
			log.String("topic", entry.Topic),
			log.Hex("correlation_id", correlationID),
			log.Duration("timeout", entry.Timeout),
		)
		return true
	}
	r.run("timeout", entry, entry.OnTimeout)
	return true
}

// run executes a continuation, keeping a panicking callback from taking down
// the goroutine that drives consumption or the timer.
func (r *Registry) run(kind string, entry *pendingEntry, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("pending call continuation panicked",
				log.String("continuation", kind),
				log.String("topic", entry.Topic),
				log.Hex("correlation_id", entry.correlationID),
				log.Any("panic", rec),
			)
		}
	}()
	fn()
}

func (e *pendingEntry) matches(reply *wire.Message) bool {
	if reply == nil {
		return false
	}
	if e.SubscriptionID != "" {
		return reply.SubscriptionID == e.SubscriptionID
	}
	if e.ReplyTo != "" {
		return reply.Topic == e.ReplyTo
	}
	return true
}
