package rpc

import (
	"slices"
	"sync"

	"github.com/pkg/errors"

	"github.com/zeusync/topicrpc/pkg/observability/log"
)

// Interceptor runs around every call. Both hooks are invoked in registration
// order; an error or panic in one interceptor is logged and never stops the
// others or the call.
type Interceptor interface {
	Name() string
	BeforeCall(ctx *Context) error
	AfterCall(ctx *Context) error
}

// Chain is an ordered list of interceptors shared by providers and clients.
type Chain struct {
	mu           sync.RWMutex
	interceptors []Interceptor
	log          log.Log
}

func NewChain(logger log.Log) *Chain {
	if logger == nil {
		logger = log.Provide()
	}
	return &Chain{log: logger}
}

func (c *Chain) Add(i Interceptor) {
	c.mu.Lock()
	c.interceptors = append(c.interceptors, i)
	c.mu.Unlock()
}

func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.interceptors)
}

func (c *Chain) Before(ctx *Context) {
	for _, i := range c.snapshot() {
		c.call("before", i, i.BeforeCall, ctx)
	}
}

func (c *Chain) After(ctx *Context) {
	for _, i := range c.snapshot() {
		c.call("after", i, i.AfterCall, ctx)
	}
}

func (c *Chain) snapshot() []Interceptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.interceptors)
}

func (c *Chain) call(phase string, i Interceptor, hook func(*Context) error, ctx *Context) {
	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = errors.Errorf("panic: %v", rec)
			}
		}()
		return hook(ctx)
	}()
	if err != nil {
		c.log.Error("interceptor failed",
			log.String("interceptor", i.Name()),
			log.String("phase", phase),
			log.String("service", ctx.Service()),
			log.Stringer("side", ctx.Side()),
			log.String("trace", detailed(err)),
		)
	}
}
