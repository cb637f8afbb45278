package regions

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics — последний измеренный пинг по регионам.
type Metrics struct {
	ping *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "roomnet"
	}
	return &Metrics{
		ping: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "regions",
			Name:      "ping_milliseconds",
			Help:      "Averaged echo round trip per region",
		}, []string{"region"}),
	}
}

func (m *Metrics) observe(region string, ms int) {
	if m == nil {
		return
	}
	m.ping.WithLabelValues(region).Set(float64(ms))
}
