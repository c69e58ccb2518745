package channel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/zeusync/topicrpc/pkg/observability/log"
	"github.com/zeusync/topicrpc/pkg/wire"
)

// Channel publishes and consumes messages over a Transport and keeps the
// correlation registry for requests issued through it.
type Channel struct {
	transport Transport
	registry  *Registry
	log       log.Log

	mu            sync.Mutex
	subscriptions map[string]*Subscription

	closed atomic.Bool
}

type Option func(*Channel)

func WithLogger(l log.Log) Option {
	return func(c *Channel) {
		c.log = l
	}
}

func New(t Transport, opts ...Option) *Channel {
	c := &Channel{
		transport:     t,
		subscriptions: make(map[string]*Subscription),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = log.Provide()
	}
	c.log = c.log.Named("channel")
	c.registry = NewRegistry(c.log)
	return c
}

func (c *Channel) Registry() *Registry { return c.registry }

func (c *Channel) Logger() log.Log { return c.log }

// Publish sends msg to topic, or to msg.Topic when topic is empty.
func (c *Channel) Publish(msg *wire.Message, topic string) error {
	if c.closed.Load() {
		return wire.NewError(wire.ErrorCodeClosed, "channel is closed", nil)
	}
	if topic == "" {
		topic = msg.Topic
	}
	if topic == "" {
		return wire.NewError(wire.ErrorCodeNoTopic, "trying to publish message without topic", nil)
	}
	return c.transport.Publish(context.Background(), topic, msg)
}

// Request registers a pending call for msg and publishes it. msg must have a
// reply address. onReply runs on the goroutine consuming the reply; onTimeout,
// when given, runs on a timer goroutine once the request's deadline passes.
func (c *Channel) Request(msg *wire.Message, topic string, onReply func(*wire.Message), onTimeout func()) error {
	return c.RequestPending(msg, topic, Pending{OnReply: onReply, OnTimeout: onTimeout})
}

// RequestPending is Request with the continuations, including OnClose, taken
// from p. Addressing and deadline fields of p are filled in from msg.
func (c *Channel) RequestPending(msg *wire.Message, topic string, p Pending) error {
	if !msg.HasReplyTo() {
		return wire.Validationf("request has no reply address")
	}
	if topic == "" {
		topic = msg.Topic
	}
	cid := msg.CorrelationID()

	p.Topic = topic
	p.ReplyTo = msg.ReplyTo()
	p.SubscriptionID = msg.SubscriptionID
	p.CreatedAt = msg.CreatedAt
	p.Timeout, p.HasTimeout = msg.Timeout()
	if err := c.registry.Register(cid, p); err != nil {
		return err
	}
	if err := c.Publish(msg, topic); err != nil {
		c.registry.Cancel(cid)
		return err
	}
	return nil
}

// Consume blocks until a message arrives that is not a reply to a pending
// request. Replies to pending requests are handed to their continuation.
func (c *Channel) Consume(ctx context.Context) (*wire.Message, error) {
	for {
		msg, err := c.transport.Consume(ctx)
		if err != nil {
			return nil, c.consumeError(err)
		}
		if msg.HasCorrelationID() && c.registry.Resolve(msg.CorrelationID(), msg) {
			continue
		}
		return msg, nil
	}
}

// ConsumeTimeout waits at most d for a message. A zero d only returns a message
// that is already available; a negative d is rejected.
func (c *Channel) ConsumeTimeout(d time.Duration) (*wire.Message, error) {
	if d < 0 {
		return nil, wire.Validationf("consume timeout must not be negative, got %s", d)
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return c.Consume(ctx)
}

// Listen consumes until ctx is done or the channel fails, passing every message
// to fn. It returns nil when ctx is cancelled.
func (c *Channel) Listen(ctx context.Context, fn func(*wire.Message)) error {
	for {
		msg, err := c.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fn(msg)
	}
}

// Close deletes every subscription, drops pending requests and closes the
// transport.
func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	subs := make([]*Subscription, 0, len(c.subscriptions))
	for _, s := range c.subscriptions {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	var all error
	for _, s := range subs {
		if err := s.Close(); err != nil {
			all = errors.Join(all, pkgerrors.Wrapf(err, "close subscription %q", s.Name()))
		}
	}
	c.registry.Close()
	if err := c.transport.Close(); err != nil {
		all = errors.Join(all, err)
	}
	return all
}

func (c *Channel) consumeError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return wire.NewError(wire.ErrorCodeTimeout, "no message received before deadline", err)
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, wire.ErrClosed):
		return err
	default:
		return pkgerrors.Wrap(err, "consume")
	}
}

func (c *Channel) track(s *Subscription) {
	c.mu.Lock()
	c.subscriptions[s.id] = s
	c.mu.Unlock()
}

func (c *Channel) untrack(s *Subscription) {
	c.mu.Lock()
	delete(c.subscriptions, s.id)
	c.mu.Unlock()
}
