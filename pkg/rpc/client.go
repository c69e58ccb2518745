package rpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/zeusync/topicrpc/pkg/channel"
	"github.com/zeusync/topicrpc/pkg/observability/log"
	"github.com/zeusync/topicrpc/pkg/wire"
)

// Client issues requests whose replies arrive on a subscription of its own.
// Replies are delivered by whatever loop consumes the channel: Client.Run, a
// ServiceProvider.Run sharing the channel, or Channel.Listen.
type Client struct {
	ch          *channel.Channel
	sub         *channel.Subscription
	chain       *Chain
	log         log.Log
	contentType wire.ContentType
}

type callOptions struct {
	timeout     time.Duration
	hasTimeout  bool
	contentType wire.ContentType
	metadata    map[string]any
}

type CallOption func(*callOptions)

// WithTimeout bounds the call. Without it the context deadline, if any, is
// used.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.timeout = d
		o.hasTimeout = true
	}
}

// WithRequestContentType overrides the client's encoding for one call.
func WithRequestContentType(ct wire.ContentType) CallOption {
	return func(o *callOptions) {
		o.contentType = ct
	}
}

func WithMetadata(key string, value any) CallOption {
	return func(o *callOptions) {
		if o.metadata == nil {
			o.metadata = make(map[string]any)
		}
		o.metadata[key] = value
	}
}

func NewClient(ch *channel.Channel, opts ...Option) (*Client, error) {
	o := buildOptions(opts)
	sub, err := channel.NewSubscription(ch, "")
	if err != nil {
		return nil, pkgerrors.Wrap(err, "create reply subscription")
	}
	logger := o.log.Named("client")
	c := &Client{
		ch:          ch,
		sub:         sub,
		chain:       NewChain(logger),
		log:         logger,
		contentType: o.contentType,
	}
	for _, i := range o.interceptors {
		c.chain.Add(i)
	}
	return c, nil
}

func (c *Client) AddInterceptor(i Interceptor) {
	c.chain.Add(i)
}

// Subscription is where replies to this client arrive.
func (c *Client) Subscription() *channel.Subscription { return c.sub }

// Run drives reply consumption for a client that does not share its channel
// with a ServiceProvider. Messages that are not replies are logged and
// dropped.
func (c *Client) Run(ctx context.Context) error {
	return c.ch.Listen(ctx, func(msg *wire.Message) {
		c.log.Warn("dropping unexpected message",
			log.String("topic", msg.Topic),
			log.String("subscription_id", msg.SubscriptionID),
		)
	})
}

type outcome struct {
	reply   *wire.Message
	expired bool
	closed  bool
}

// Call sends request to topic and waits for the reply, decoding it into reply
// when the status is OK. A non-OK status is not an error: the caller inspects
// the returned status. Expiry yields DEADLINE_EXCEEDED and cancelling ctx
// yields CANCELLED. Closing the channel under a waiting call yields CANCELLED
// together with an ErrClosed error.
func (c *Client) Call(ctx context.Context, topic string, request, reply any, opts ...CallOption) (wire.Status, error) {
	req, cctx, err := c.prepare(ctx, topic, request, opts)
	if err != nil {
		return wire.Status{}, err
	}

	done := make(chan outcome, 1)
	c.chain.Before(cctx)
	err = c.ch.RequestPending(req, topic, channel.Pending{
		OnReply:   func(m *wire.Message) { done <- outcome{reply: m} },
		OnTimeout: func() { done <- outcome{expired: true} },
		OnClose:   func() { done <- outcome{closed: true} },
	})
	if err != nil {
		c.finish(cctx, c.synthetic(req, wire.Statusf(wire.StatusUnknown, "request not sent: %v", err)))
		return cctx.Status(), err
	}

	var res outcome
	select {
	case res = <-done:
	case <-ctx.Done():
		if !c.ch.Registry().Cancel(req.CorrelationID()) {
			// Another continuation won the race; its outcome is on the way.
			res = <-done
			break
		}
		code := wire.StatusCancelled
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			code = wire.StatusDeadlineExceeded
		}
		c.finish(cctx, c.synthetic(req, wire.NewStatus(code, ctx.Err().Error())))
		return cctx.Status(), nil
	}

	if res.closed {
		c.finish(cctx, c.synthetic(req, wire.NewStatus(wire.StatusCancelled, "channel closed")))
		return cctx.Status(), wire.NewError(wire.ErrorCodeClosed, "channel closed while waiting for reply", nil)
	}
	if res.expired {
		timeout, _ := req.Timeout()
		c.finish(cctx, c.synthetic(req, wire.Statusf(wire.StatusDeadlineExceeded, "no reply within %s", timeout)))
		return cctx.Status(), nil
	}

	c.finish(cctx, res.reply)
	status := cctx.Status()
	if status.OK() && reply != nil {
		if err := res.reply.Unpack(reply); err != nil {
			return status, err
		}
	}
	return status, nil
}

// Go sends request without waiting. At most one of onReply or onTimeout runs,
// the former on the goroutine consuming the channel and the latter on a timer
// goroutine. onTimeout only runs when the call has a timeout. When the channel
// closes first neither runs and the interceptors see CANCELLED.
func (c *Client) Go(ctx context.Context, topic string, request any, onReply func(*wire.Message), onTimeout func(), opts ...CallOption) (uint64, error) {
	if onReply == nil {
		return 0, wire.Validationf("asynchronous call needs a reply continuation")
	}
	req, cctx, err := c.prepare(ctx, topic, request, opts)
	if err != nil {
		return 0, err
	}

	c.chain.Before(cctx)
	err = c.ch.RequestPending(req, topic, channel.Pending{
		OnReply: func(m *wire.Message) {
			c.finish(cctx, m)
			onReply(m)
		},
		OnTimeout: func() {
			timeout, _ := req.Timeout()
			c.finish(cctx, c.synthetic(req, wire.Statusf(wire.StatusDeadlineExceeded, "no reply within %s", timeout)))
			if onTimeout != nil {
				onTimeout()
			}
		},
		OnClose: func() {
			c.finish(cctx, c.synthetic(req, wire.NewStatus(wire.StatusCancelled, "channel closed")))
		},
	})
	if err != nil {
		c.finish(cctx, c.synthetic(req, wire.Statusf(wire.StatusUnknown, "request not sent: %v", err)))
		return 0, err
	}
	return req.CorrelationID(), nil
}

func (c *Client) prepare(ctx context.Context, topic string, request any, opts []CallOption) (*wire.Message, *Context, error) {
	if topic == "" {
		return nil, nil, wire.NewError(wire.ErrorCodeNoTopic, "call without topic", nil)
	}
	o := callOptions{contentType: c.contentType}
	for _, opt := range opts {
		opt(&o)
	}

	req, err := wire.NewRequest(topic, o.contentType, request)
	if err != nil {
		return nil, nil, err
	}
	req.SetReplySubscription(c.sub)
	for k, v := range o.metadata {
		req.SetMetadata(k, v)
	}

	switch {
	case o.hasTimeout:
		if err := req.SetTimeout(o.timeout); err != nil {
			return nil, nil, err
		}
	default:
		if deadline, ok := ctx.Deadline(); ok {
			if err := req.SetTimeout(max(time.Until(deadline), 0)); err != nil {
				return nil, nil, err
			}
		}
	}

	return req, newContext(ctx, ClientSide, topic, req, nil), nil
}

func (c *Client) synthetic(req *wire.Message, status wire.Status) *wire.Message {
	reply := req.CreateReply()
	reply.SetStatus(status)
	return reply
}

func (c *Client) finish(cctx *Context, reply *wire.Message) {
	if reply.Status == nil {
		reply.SetStatus(wire.NewStatus(wire.StatusUnknown, "reply carries no status"))
	}
	cctx.Reply = reply
	c.chain.After(cctx)
	if !reply.Status.OK() {
		c.log.Debug("call finished without success",
			log.String("topic", cctx.Service()),
			log.Hex("correlation_id", reply.CorrelationID()),
			log.String("status", fmt.Sprint(reply.Status)),
		)
	}
}
