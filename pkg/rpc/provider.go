package rpc

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/zeusync/topicrpc/pkg/channel"
	"github.com/zeusync/topicrpc/pkg/observability/log"
	"github.com/zeusync/topicrpc/pkg/wire"
)

// Handler serves one decoded request. A returned error becomes an
// INTERNAL_ERROR reply, unless it carries a *wire.StatusError whose status is
// used as is.
type Handler func(ctx *Context, request any) (Result, error)

type service struct {
	topic   string
	sub     *channel.Subscription
	handler Handler
	request wire.Schema
	reply   wire.Schema
}

// ServiceProvider binds handlers to topics and serves the requests arriving on
// them.
type ServiceProvider struct {
	ch    *channel.Channel
	chain *Chain
	log   log.Log
	now   func() time.Time

	mu       sync.RWMutex
	services map[string]*service // by subscription id
	byTopic  map[string]*service
}

func NewServiceProvider(ch *channel.Channel, opts ...Option) *ServiceProvider {
	o := buildOptions(opts)
	logger := o.log.Named("service_provider")
	p := &ServiceProvider{
		ch:       ch,
		chain:    NewChain(logger),
		log:      logger,
		now:      o.now,
		services: make(map[string]*service),
		byTopic:  make(map[string]*service),
	}
	for _, i := range o.interceptors {
		p.chain.Add(i)
	}
	return p
}

// Delegate serves topic with h. Requests are decoded with request and the
// values h returns are encoded with reply.
func (p *ServiceProvider) Delegate(topic string, h Handler, request, reply wire.Schema) error {
	if topic == "" {
		return wire.Validationf("service topic must not be empty")
	}
	if h == nil {
		return wire.Validationf("service %q has no handler", topic)
	}
	if request.IsZero() || reply.IsZero() {
		return wire.Validationf("service %q needs request and reply schemas", topic)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.byTopic[topic]; exists {
		return wire.NewError(wire.ErrorCodeAlreadyRegistered,
			fmt.Sprintf("service on topic %q was already delegated", topic), nil)
	}
	sub, err := channel.NewSubscription(p.ch, topic)
	if err != nil {
		return errors.Wrapf(err, "delegate %q", topic)
	}
	svc := &service{
		topic:   topic,
		sub:     sub,
		handler: h,
		request: request,
		reply:   reply,
	}
	p.services[sub.ID()] = svc
	p.byTopic[topic] = svc

	p.log.Debug("new service registered",
		log.String("topic", topic),
		log.String("request", request.Name()),
		log.String("reply", reply.Name()),
	)
	return nil
}

// Delegate registers a typed handler, deriving both schemas from the type
// parameters. fn can return an explicit status through wire.Status.Err.
func Delegate[Req, Rep any](p *ServiceProvider, topic string, fn func(ctx *Context, req Req) (Rep, error)) error {
	h := func(ctx *Context, request any) (Result, error) {
		rep, err := fn(ctx, request.(Req))
		if err != nil {
			return Result{}, err
		}
		return Reply(rep), nil
	}
	return p.Delegate(topic, h, wire.SchemaOf[Req](), wire.SchemaOf[Rep]())
}

func (p *ServiceProvider) AddInterceptor(i Interceptor) {
	p.chain.Add(i)
}

// Topics returns the delegated topics, sorted.
func (p *ServiceProvider) Topics() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.byTopic))
	for t := range p.byTopic {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// ShouldServe reports whether msg arrived on a delegated service.
func (p *ServiceProvider) ShouldServe(msg *wire.Message) bool {
	_, ok := p.lookup(msg)
	return ok
}

func (p *ServiceProvider) Serve(msg *wire.Message) error {
	return p.ServeContext(context.Background(), msg)
}

// ServeContext handles msg and publishes the reply when the request has a
// reply address. Only an unknown subscription or a failing publish is
// reported as an error; every handler outcome becomes a reply status.
func (p *ServiceProvider) ServeContext(ctx context.Context, msg *wire.Message) error {
	svc, ok := p.lookup(msg)
	if !ok {
		return wire.NewError(wire.ErrorCodeNotServable,
			fmt.Sprintf("cannot serve message with subscription_id=%q", msg.SubscriptionID), nil)
	}

	reply := p.dispatch(ctx, svc, msg)
	if reply.Topic == "" {
		return nil
	}
	if err := p.ch.Publish(reply, ""); err != nil {
		return errors.Wrapf(err, "publish reply of %q", svc.topic)
	}
	return nil
}

// Run consumes from the channel and serves requests until ctx is done.
// Replies to calls issued on the same channel are resolved by the channel
// before they reach this loop.
func (p *ServiceProvider) Run(ctx context.Context) error {
	p.log.Info("listening for requests", log.Any("topics", p.Topics()))
	for {
		msg, err := p.ch.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !p.ShouldServe(msg) {
			p.log.Warn("dropping message with no matching service",
				log.String("topic", msg.Topic),
				log.String("subscription_id", msg.SubscriptionID),
			)
			continue
		}
		if err := p.ServeContext(ctx, msg); err != nil {
			p.log.Error("failed to serve request", log.String("topic", msg.Topic), log.Error(err))
		}
	}
}

func (p *ServiceProvider) lookup(msg *wire.Message) (*service, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	svc, ok := p.services[msg.SubscriptionID]
	return svc, ok
}

func (p *ServiceProvider) dispatch(ctx context.Context, svc *service, request *wire.Message) *wire.Message {
	reply := request.CreateReply()
	if deadline, ok := request.Deadline(); ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	cctx := newContext(ctx, ServerSide, svc.topic, request, reply)

	p.chain.Before(cctx)
	reply.SetStatus(p.handle(cctx, svc))
	if !reply.Status.OK() {
		reply.Body = nil
	}
	p.chain.After(cctx)
	return reply
}

// handle runs the deadline check, decoding and the handler, returning the
// status of the reply. The reply body is filled in on success.
func (p *ServiceProvider) handle(cctx *Context, svc *service) wire.Status {
	request, reply := cctx.Request, cctx.Reply

	if request.DeadlineExceeded(p.now()) {
		return wire.NewStatus(wire.StatusDeadlineExceeded, "request deadline exceeded before it was served")
	}

	arg, err := svc.request.Decode(request)
	if err != nil {
		if errors.Is(err, wire.ErrMalformedPayload) || errors.Is(err, wire.ErrUnsupportedContentType) {
			return wire.Statusf(wire.StatusFailedPrecondition,
				"Expected request type '%s' but received something else", svc.request.Name())
		}
		return wire.Statusf(wire.StatusInternalError, "decoding request: %s", detailed(err))
	}

	result, err := p.invoke(cctx, svc, arg)
	if err != nil {
		var se *wire.StatusError
		if errors.As(err, &se) {
			return se.Status
		}
		p.log.Error("service handler failed", log.String("topic", svc.topic), log.Error(err))
		return wire.Statusf(wire.StatusInternalError, "service failed:\n%s", detailed(err))
	}

	if status, explicit := result.Status(); explicit {
		return status
	}
	value, _ := result.Value()
	if err := svc.reply.Encode(reply, value); err != nil {
		return wire.Statusf(wire.StatusInternalError, "encoding reply: %s", detailed(err))
	}
	return wire.NewStatus(wire.StatusOK, "")
}

func (p *ServiceProvider) invoke(cctx *Context, svc *service, arg any) (result Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Errorf("handler panicked: %v", rec)
		}
	}()
	result, err = svc.handler(cctx, arg)
	if err != nil {
		err = errors.WithStack(err)
	}
	return result, err
}
