package gpu

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "gpushare"

var (
	resourcesAliveGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "resources_alive",
		Help:      "Number of resources (buffers and textures) currently alive.",
	}, []string{"backend", "kind"})

	resourceBytesGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "resource_bytes",
		Help:      "Backing bytes of the resources currently alive, including alignment padding.",
	}, []string{"backend"})

	exportsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "exports_total",
		Help:      "Number of handles exported from resources.",
	}, []string{"backend", "handle_kind"})

	importsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "imports_total",
		Help:      "Number of resources created by importing handles.",
	}, []string{"backend", "handle_kind"})

	errorsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "errors_total",
		Help:      "Number of failed operations, by operation and error kind.",
	}, []string{"op", "kind"})
)

// RegisterMetrics registers the package's Prometheus collectors with reg.
// Metrics are collected whether they are registered or not, and registering twice is not an error.
func RegisterMetrics(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{resourcesAliveGauge, resourceBytesGauge, exportsCounter, importsCounter, errorsCounter}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var alreadyRegistered prometheus.AlreadyRegisteredError
			if errors.As(err, &alreadyRegistered) {
				continue
			}
			return errors.Wrap(err, "failed to register gpushare metrics")
		}
	}
	return nil
}

// countError increments the errors counter for op, if err is not nil. It returns err.
func countError(op string, err error) error {
	if err != nil {
		errorsCounter.WithLabelValues(op, KindOf(err).String()).Inc()
	}
	return err
}
