package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/topicrpc/internal/app"
	"github.com/zeusync/topicrpc/pkg/observability/log"
	"github.com/zeusync/topicrpc/pkg/transport/bridge"
	"github.com/zeusync/topicrpc/pkg/transport/memory"
)

var brokerCmd = &cobra.Command{
	Use:   "broker",
	Short: "run an in-process broker reachable over WebSocket and QUIC",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, cleanup, err := app.ProvideLogger(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		tlsConfig, err := app.ServerTLS(cfg.Broker)
		if err != nil {
			return err
		}

		b := memory.NewBroker(logger)
		defer func() { _ = b.Close() }()
		reg := app.ProvideRegistry()
		routed := newRoutingCollector(cfg.Metrics.Namespace)
		b.AddObserver(routed)
		reg.MustRegister(routed.published, routed.unroutable)

		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() error {
			return bridge.NewServer(b, logger).Serve(ctx, cfg.Broker.WebSocketAddress, cfg.Broker.QUICAddress, tlsConfig)
		})
		if cfg.Metrics.Enabled {
			g.Go(func() error { return serveMetrics(ctx, cfg.Metrics.Address, reg, logger) })
		}

		logger.Info("broker running",
			log.String("websocket", cfg.Broker.WebSocketAddress),
			log.String("quic", cfg.Broker.QUICAddress),
		)
		return g.Wait()
	},
}

// routingCollector counts published messages per routing key and the ones no
// queue matched.
type routingCollector struct {
	published  *prometheus.CounterVec
	unroutable prometheus.Counter
}

var _ memory.Observer = (*routingCollector)(nil)

func newRoutingCollector(namespace string) *routingCollector {
	return &routingCollector{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "published_total",
			Help:      "Messages published per routing key",
		}, []string{"topic"}),
		unroutable: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "unroutable_total",
			Help:      "Messages dropped because no queue matched their routing key",
		}),
	}
}

func (r *routingCollector) OnPublish(topic string, deliveries int) {
	r.published.WithLabelValues(topic).Inc()
	if deliveries == 0 {
		r.unroutable.Inc()
	}
}
