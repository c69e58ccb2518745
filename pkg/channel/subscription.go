package channel

import (
	"slices"
	"sync"

	"github.com/pkg/errors"

	"github.com/zeusync/topicrpc/pkg/wire"
)

// Subscription is a named queue on the channel's transport. Messages delivered
// through it carry its ID as their SubscriptionID.
type Subscription struct {
	id   string
	name string
	ch   *Channel

	mu     sync.Mutex
	topics map[string]struct{}
	closed bool
}

var _ wire.ReplyEndpoint = (*Subscription)(nil)

// NewSubscription declares a queue called name, or named after the generated
// id when name is empty, bound to its own name as routing key.
func NewSubscription(ch *Channel, name string) (*Subscription, error) {
	if ch.closed.Load() {
		return nil, wire.NewError(wire.ErrorCodeClosed, "channel is closed", nil)
	}

	id := wire.NewSubscriptionID()
	if name == "" {
		name = id
	}
	if err := ch.transport.Declare(name, id); err != nil {
		return nil, errors.Wrapf(err, "declare queue %q", name)
	}

	sub := &Subscription{
		id:     id,
		name:   name,
		ch:     ch,
		topics: make(map[string]struct{}),
	}
	ch.track(sub)
	return sub, nil
}

func (s *Subscription) ID() string { return s.id }

func (s *Subscription) Name() string { return s.name }

// Subscribe adds a routing pattern to the queue.
func (s *Subscription) Subscribe(topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return wire.NewError(wire.ErrorCodeClosed, "subscription is closed", nil)
	}
	if err := s.ch.transport.Bind(s.name, topic); err != nil {
		return errors.Wrapf(err, "bind %q to %q", s.name, topic)
	}
	s.topics[topic] = struct{}{}
	return nil
}

// Unsubscribe removes a routing pattern from the queue.
func (s *Subscription) Unsubscribe(topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.topics[topic]; !ok {
		return nil
	}
	if err := s.ch.transport.Unbind(s.name, topic); err != nil {
		return errors.Wrapf(err, "unbind %q from %q", s.name, topic)
	}
	delete(s.topics, topic)
	return nil
}

// Topics returns the patterns added with Subscribe, sorted.
func (s *Subscription) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Close deletes the queue. It is called for every open subscription when the
// channel closes.
func (s *Subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.topics = make(map[string]struct{})
	s.mu.Unlock()

	s.ch.untrack(s)
	return s.ch.transport.Delete(s.name)
}
