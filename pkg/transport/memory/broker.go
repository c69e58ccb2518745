package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/zeusync/topicrpc/pkg/channel"
	"github.com/zeusync/topicrpc/pkg/observability/log"
	"github.com/zeusync/topicrpc/pkg/sequence"
	"github.com/zeusync/topicrpc/pkg/wire"
)

// Broker is an in-process topic exchange. Queues are auto-deleted once their
// last consumer goes away; messages published to a routing key with no
// matching queue are dropped.
type Broker struct {
	mu     sync.RWMutex
	queues map[string]*queue
	conns  map[string]*Conn
	// routes caches the queues matched by a routing key, keyed by its hash.
	routes map[uint64]route
	closed bool

	published   atomic.Uint64
	delivered   atomic.Uint64
	unroutable  atomic.Uint64
	observers   []Observer
	observersMu sync.RWMutex

	log log.Log
}

type queue struct {
	name      string
	patterns  map[string]struct{}
	consumers []consumer
	next      int
}

type consumer struct {
	conn *Conn
	tag  string
}

type route struct {
	key    string
	queues []*queue
}

// Stats is a snapshot of broker activity.
type Stats struct {
	Connections int
	Queues      int
	Bindings    int
	Published   uint64
	Delivered   uint64
	Unroutable  uint64
}

// Observer is notified of every routed publish.
type Observer interface {
	OnPublish(topic string, deliveries int)
}

func NewBroker(logger log.Log) *Broker {
	if logger == nil {
		logger = log.Provide()
	}
	return &Broker{
		queues: make(map[string]*queue),
		conns:  make(map[string]*Conn),
		routes: make(map[uint64]route),
		log:    logger.Named("broker"),
	}
}

// Connect opens a new connection. Each connection has its own delivery inbox
// shared by all the queues it consumes from.
func (b *Broker) Connect() (*Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, wire.NewError(wire.ErrorCodeClosed, "broker is closed", nil)
	}
	c := &Conn{
		id:     uuid.NewString(),
		broker: b,
		inbox:  sequence.NewQueue[*wire.Message](),
	}
	b.conns[c.id] = c
	return c, nil
}

func (b *Broker) AddObserver(obs Observer) {
	b.observersMu.Lock()
	b.observers = append(b.observers, obs)
	b.observersMu.Unlock()
}

func (b *Broker) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := Stats{
		Connections: len(b.conns),
		Queues:      len(b.queues),
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Unroutable:  b.unroutable.Load(),
	}
	for _, q := range b.queues {
		s.Bindings += len(q.patterns)
	}
	return s
}

// Close disconnects every connection.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	conns := make([]*Conn, 0, len(b.conns))
	for _, c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	return nil
}

func (b *Broker) publish(topic string, msg *wire.Message) error {
	if topic == "" {
		return wire.NewError(wire.ErrorCodeNoTopic, "empty routing key", nil)
	}
	b.published.Add(1)

	queues := b.match(topic)
	deliveries := 0
	for _, q := range queues {
		c, tag, ok := b.pickConsumer(q)
		if !ok {
			continue
		}
		out := msg.Clone()
		out.Topic = topic
		out.SubscriptionID = tag
		if c.inbox.Push(out) {
			deliveries++
		}
	}
	if deliveries == 0 {
		b.unroutable.Add(1)
		b.log.Debug("dropped unroutable message", log.String("topic", topic))
	}
	b.delivered.Add(uint64(deliveries))

	b.observersMu.RLock()
	for _, obs := range b.observers {
		obs.OnPublish(topic, deliveries)
	}
	b.observersMu.RUnlock()
	return nil
}

// match returns the queues bound to topic, consulting the route cache first.
func (b *Broker) match(topic string) []*queue {
	key := xxhash.Sum64String(topic)

	b.mu.RLock()
	if r, ok := b.routes[key]; ok && r.key == topic {
		b.mu.RUnlock()
		return r.queues
	}
	b.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	var matched []*queue
	for _, q := range b.queues {
		for p := range q.patterns {
			if matchTopic(p, topic) {
				matched = append(matched, q)
				break
			}
		}
	}
	slices.SortFunc(matched, func(a, c *queue) int {
		switch {
		case a.name < c.name:
			return -1
		case a.name > c.name:
			return 1
		}
		return 0
	})
	b.routes[key] = route{key: topic, queues: matched}
	return matched
}

// pickConsumer selects the next consumer of q in round robin order.
func (b *Broker) pickConsumer(q *queue) (*Conn, string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(q.consumers) == 0 {
		return nil, "", false
	}
	cons := q.consumers[q.next%len(q.consumers)]
	q.next++
	return cons.conn, cons.tag, true
}

func (b *Broker) declare(c *Conn, name, tag string) error {
	if name == "" {
		return wire.Validationf("queue name must not be empty")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return wire.NewError(wire.ErrorCodeClosed, "broker is closed", nil)
	}
	q, ok := b.queues[name]
	if !ok {
		q = &queue{name: name, patterns: map[string]struct{}{name: {}}}
		b.queues[name] = q
		b.invalidateLocked()
	}
	for _, cons := range q.consumers {
		if cons.tag == tag {
			return wire.NewError(wire.ErrorCodeAlreadyRegistered,
				fmt.Sprintf("consumer tag %q already consumes from %q", tag, name), nil)
		}
	}
	q.consumers = append(q.consumers, consumer{conn: c, tag: tag})
	return nil
}

func (b *Broker) bind(name, pattern string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		return wire.Validationf("queue %q is not declared", name)
	}
	q.patterns[pattern] = struct{}{}
	b.invalidateLocked()
	return nil
}

func (b *Broker) unbind(name, pattern string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		return nil
	}
	delete(q.patterns, pattern)
	b.invalidateLocked()
	return nil
}

// release removes the consumers c holds on queue name, or on every queue when
// name is empty, deleting queues left without consumers.
func (b *Broker) release(c *Conn, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for qname, q := range b.queues {
		if name != "" && qname != name {
			continue
		}
		q.consumers = slices.DeleteFunc(q.consumers, func(cons consumer) bool {
			return cons.conn == c
		})
		if len(q.consumers) == 0 {
			delete(b.queues, qname)
			b.invalidateLocked()
		}
	}
}

func (b *Broker) disconnect(c *Conn) {
	b.release(c, "")
	b.mu.Lock()
	delete(b.conns, c.id)
	b.mu.Unlock()
}

func (b *Broker) invalidateLocked() {
	clear(b.routes)
}

// Conn is a broker connection implementing channel.Transport.
type Conn struct {
	id     string
	broker *Broker
	inbox  *sequence.Queue[*wire.Message]
	closed atomic.Bool
}

var _ channel.Transport = (*Conn)(nil)

func (c *Conn) ID() string { return c.id }

func (c *Conn) Publish(_ context.Context, topic string, msg *wire.Message) error {
	if c.closed.Load() {
		return wire.NewError(wire.ErrorCodeClosed, "connection is closed", nil)
	}
	return c.broker.publish(topic, msg)
}

func (c *Conn) Consume(ctx context.Context) (*wire.Message, error) {
	msg, err := c.inbox.Pop(ctx)
	if errors.Is(err, sequence.ErrQueueClosed) {
		return nil, wire.NewError(wire.ErrorCodeClosed, "connection is closed", nil)
	}
	return msg, err
}

func (c *Conn) Declare(queue, consumerTag string) error {
	if c.closed.Load() {
		return wire.NewError(wire.ErrorCodeClosed, "connection is closed", nil)
	}
	return c.broker.declare(c, queue, consumerTag)
}

func (c *Conn) Bind(queue, pattern string) error {
	return c.broker.bind(queue, pattern)
}

func (c *Conn) Unbind(queue, pattern string) error {
	return c.broker.unbind(queue, pattern)
}

func (c *Conn) Delete(queue string) error {
	c.broker.release(c, queue)
	return nil
}

// Pending returns the number of delivered messages not yet consumed.
func (c *Conn) Pending() int {
	return c.inbox.Len()
}

func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.broker.disconnect(c)
	c.inbox.Close()
	return nil
}
