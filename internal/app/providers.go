// Package app holds the providers assembling a topicrpc process from its
// configuration.
package app

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zeusync/topicrpc/internal/config"
	"github.com/zeusync/topicrpc/pkg/channel"
	"github.com/zeusync/topicrpc/pkg/observability/log"
	"github.com/zeusync/topicrpc/pkg/rpc"
	"github.com/zeusync/topicrpc/pkg/rpc/interceptors"
	"github.com/zeusync/topicrpc/pkg/tracing"
	"github.com/zeusync/topicrpc/pkg/transport/amqp"
	"github.com/zeusync/topicrpc/pkg/transport/bridge"
	"github.com/zeusync/topicrpc/pkg/transport/memory"
)

// App is a connected process ready to serve or issue calls.
type App struct {
	Config       *config.Config
	Logger       log.Log
	Channel      *channel.Channel
	Registry     *prometheus.Registry
	Interceptors []rpc.Interceptor
}

func NewApp(cfg *config.Config, logger log.Log, ch *channel.Channel, reg *prometheus.Registry, is []rpc.Interceptor) *App {
	return &App{Config: cfg, Logger: logger, Channel: ch, Registry: reg, Interceptors: is}
}

// Options returns the rpc options carrying the logger and interceptors.
func (a *App) Options() []rpc.Option {
	return []rpc.Option{rpc.WithLogger(a.Logger), rpc.WithInterceptors(a.Interceptors...)}
}

func ProvideLogger(cfg *config.Config) (*log.Logger, func(), error) {
	logger, err := log.NewWithConfig(cfg.Log)
	if err != nil {
		return nil, nil, errors.Wrap(err, "build logger")
	}
	return logger, func() { _ = logger.Sync() }, nil
}

// ProvideTransport connects to the broker selected by the configuration.
// The memory kind gives the process a private broker.
func ProvideTransport(ctx context.Context, cfg *config.Config, logger log.Log) (channel.Transport, func(), error) {
	tc := cfg.Transport
	dialCtx := ctx
	if tc.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, tc.DialTimeout)
		defer cancel()
	}

	var (
		t   channel.Transport
		err error
	)
	switch tc.Kind {
	case config.TransportMemory:
		var conn *memory.Conn
		conn, err = memory.NewBroker(logger).Connect()
		t = conn
	case config.TransportAMQP:
		t, err = amqp.Dial(tc.URI, logger)
	case config.TransportWebSocket:
		t, err = bridge.DialWebSocket(dialCtx, tc.Address, logger)
	case config.TransportQUIC:
		t, err = bridge.DialQUIC(dialCtx, tc.Address, bridge.ClientTLS(tc.InsecureSkipVerify), logger)
	default:
		err = errors.Errorf("unknown transport kind %q", tc.Kind)
	}
	if err != nil {
		return nil, nil, errors.Wrapf(err, "connect %s transport", tc.Kind)
	}
	return t, func() { _ = t.Close() }, nil
}

func ProvideChannel(t channel.Transport, logger log.Log) (*channel.Channel, func()) {
	ch := channel.New(t, channel.WithLogger(logger))
	return ch, func() { _ = ch.Close() }
}

// ProvideTracerProvider returns a no-op provider unless tracing is enabled.
func ProvideTracerProvider(cfg *config.Config) (trace.TracerProvider, func()) {
	if !cfg.Tracing.Enabled {
		return noop.NewTracerProvider(), func() {}
	}
	tp := tracing.NewTracerProvider(cfg.Tracing.ServiceName)
	return tp, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}
}

func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// ProvideInterceptors builds the interceptor chain: logging always, then
// tracing and metrics when enabled.
func ProvideInterceptors(cfg *config.Config, logger log.Log, tp trace.TracerProvider, reg *prometheus.Registry) []rpc.Interceptor {
	is := []rpc.Interceptor{interceptors.NewLogging(logger)}
	if cfg.Tracing.Enabled {
		is = append(is, interceptors.NewTracing(tp))
	}
	if cfg.Metrics.Enabled {
		m := interceptors.NewMetrics(cfg.Metrics.Namespace)
		m.RegisterMetrics(reg)
		is = append(is, m)
	}
	return is
}

// ServerTLS loads the configured key pair or generates a self-signed one.
func ServerTLS(cfg config.BrokerConfig) (*tls.Config, error) {
	if cfg.CertFile == "" {
		return bridge.GenerateSelfSignedTLS()
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, errors.Wrap(err, "load broker key pair")
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{bridge.NextProto},
		MinVersion:   tls.VersionTLS13,
	}, nil
}
