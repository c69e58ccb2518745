package interceptors

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zeusync/topicrpc/pkg/rpc"
)

const metricsStartKey = "metrics.start"

// Metrics counts calls and their cumulative duration per service and status
// code.
type Metrics struct {
	duration *prometheus.CounterVec
	count    *prometheus.CounterVec
}

var _ rpc.Interceptor = (*Metrics)(nil)

// NewMetrics creates the counters rpc_duration_total and rpc_count_total,
// prefixed with namespace when it is not empty.
func NewMetrics(namespace string) *Metrics {
	labels := []string{"service", "status_code"}
	return &Metrics{
		duration: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_duration_total",
			Help:      "How long requests took in seconds",
		}, labels),
		count: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_count_total",
			Help:      "How many requests were processed",
		}, labels),
	}
}

func (m *Metrics) RegisterMetrics(registerer prometheus.Registerer) {
	registerer.MustRegister(m.duration)
	registerer.MustRegister(m.count)
}

func (m *Metrics) Name() string {
	return "metrics"
}

func (m *Metrics) BeforeCall(ctx *rpc.Context) error {
	ctx.Set(metricsStartKey, time.Now())
	return nil
}

func (m *Metrics) AfterCall(ctx *rpc.Context) error {
	start, ok := ctx.Get(metricsStartKey)
	if !ok {
		return errMissingStart
	}
	took := time.Since(start.(time.Time))
	code := ctx.Status().Code.String()

	m.duration.WithLabelValues(ctx.Service(), code).Add(took.Seconds())
	m.count.WithLabelValues(ctx.Service(), code).Inc()
	return nil
}
