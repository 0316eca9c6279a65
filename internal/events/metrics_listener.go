package events

import (
	"context"

	"github.com/gxo-labs/ruleflow/internal/metrics"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/events"
	rflog "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/log"
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsEventListener turns bus events that the engine does not already
// count into Prometheus series.
type MetricsEventListener struct {
	log            rflog.Logger
	secretsAccess  prometheus.Counter
	breakerOpened  *prometheus.CounterVec
	stepsPublished *prometheus.CounterVec
}

// NewMetricsEventListener registers its collectors on reg.
func NewMetricsEventListener(reg prometheus.Registerer, log rflog.Logger) (*MetricsEventListener, error) {
	if reg == nil || log == nil {
		return nil, errNilDependency("MetricsEventListener")
	}
	l := &MetricsEventListener{log: log.With("component", "MetricsEventListener")}
	var err error
	if l.secretsAccess, err = metrics.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ruleflow_secrets_accessed_total",
		Help: "Secrets resolved through the secret template function.",
	})); err != nil {
		return nil, err
	}
	if l.breakerOpened, err = metrics.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ruleflow_breaker_opened_total",
		Help: "Circuit breaker transitions to open, by rule.",
	}, []string{"rule"})); err != nil {
		return nil, err
	}
	if l.stepsPublished, err = metrics.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ruleflow_step_results_published_total",
		Help: "Step results handed to a publisher, by product and step.",
	}, []string{"product", "step"})); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *MetricsEventListener) HandleEvent(_ context.Context, event events.Event) {
	switch event.Type {
	case events.SecretAccessed:
		l.secretsAccess.Inc()
	case events.BreakerOpened:
		l.breakerOpened.WithLabelValues(event.RuleName).Inc()
	case events.StepPublished:
		l.stepsPublished.WithLabelValues(event.ProductCode, event.StepCode).Inc()
	}
}

var _ Handler = (*MetricsEventListener)(nil)
