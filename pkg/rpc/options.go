package rpc

import (
	"time"

	"github.com/zeusync/topicrpc/pkg/observability/log"
	"github.com/zeusync/topicrpc/pkg/wire"
)

type options struct {
	log          log.Log
	interceptors []Interceptor
	contentType  wire.ContentType
	now          func() time.Time
}

// Option configures a ServiceProvider or a Client.
type Option func(*options)

func WithLogger(l log.Log) Option {
	return func(o *options) {
		o.log = l
	}
}

// WithInterceptors appends interceptors in the given order.
func WithInterceptors(is ...Interceptor) Option {
	return func(o *options) {
		o.interceptors = append(o.interceptors, is...)
	}
}

// WithContentType sets the encoding a Client uses for requests.
func WithContentType(ct wire.ContentType) Option {
	return func(o *options) {
		o.contentType = ct
	}
}

// WithClock overrides the time source used for deadline checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{
		contentType: wire.ContentTypeProtobuf,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = log.Provide()
	}
	return o
}
