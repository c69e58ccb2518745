package rpc

import (
	"context"

	"github.com/zeusync/topicrpc/pkg/wire"
)

// Side tells interceptors whether a call is being served or issued.
type Side uint8

const (
	ServerSide Side = iota
	ClientSide
)

func (s Side) String() string {
	if s == ClientSide {
		return "client"
	}
	return "server"
}

// Context is handed to interceptors and handlers for a single call. It is not
// safe for concurrent use.
type Context struct {
	ctx     context.Context
	service string
	side    Side

	Request *wire.Message
	// Reply is being built while the call runs. On the client side it is set
	// once the reply or the timeout arrives.
	Reply *wire.Message

	addons map[string]any
}

func newContext(ctx context.Context, side Side, service string, request, reply *wire.Message) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Context{
		ctx:     ctx,
		service: service,
		side:    side,
		Request: request,
		Reply:   reply,
		addons:  make(map[string]any),
	}
}

// Context returns the Go context of the call.
func (c *Context) Context() context.Context { return c.ctx }

// WithContext replaces the Go context, typically to carry a span.
func (c *Context) WithContext(ctx context.Context) {
	c.ctx = ctx
}

// Service is the topic the request was addressed to.
func (c *Context) Service() string { return c.service }

func (c *Context) Side() Side { return c.side }

// Set stores a value for later interceptors or the handler.
func (c *Context) Set(key string, value any) {
	c.addons[key] = value
}

func (c *Context) Get(key string) (any, bool) {
	v, ok := c.addons[key]
	return v, ok
}

// Status returns the reply status, UNKNOWN while none is set.
func (c *Context) Status() wire.Status {
	if c.Reply == nil || c.Reply.Status == nil {
		return wire.NewStatus(wire.StatusUnknown, "")
	}
	return *c.Reply.Status
}
