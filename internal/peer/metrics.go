package peer

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics — счётчики диспетчера. Nil-значение ничего не считает.
type Metrics struct {
	operationsSent *prometheus.CounterVec
	responses      *prometheus.CounterVec
	events         *prometheus.CounterVec
	bytesIn        prometheus.Counter
	bytesOut       prometheus.Counter
	roundTrip      prometheus.Gauge
}

// NewMetrics регистрирует метрики в reg (nil — prometheus.DefaultRegisterer).
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "roomnet"
	}
	factory := promauto.With(reg)

	return &Metrics{
		operationsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "peer",
			Name:      "operations_sent_total",
			Help:      "Operations sent, by operation code",
		}, []string{"code"}),
		responses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "peer",
			Name:      "responses_total",
			Help:      "Operation responses received, by operation and return code",
		}, []string{"code", "return_code"}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "peer",
			Name:      "events_total",
			Help:      "Events received, by event code",
		}, []string{"code"}),
		bytesIn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "peer",
			Name:      "bytes_in_total",
			Help:      "Bytes received in frames",
		}),
		bytesOut: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "peer",
			Name:      "bytes_out_total",
			Help:      "Bytes sent in frames",
		}),
		roundTrip: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "peer",
			Name:      "round_trip_milliseconds",
			Help:      "Last measured round trip time",
		}),
	}
}

func (m *Metrics) operationSent(code byte, size int) {
	if m == nil {
		return
	}
	m.operationsSent.WithLabelValues(strconv.Itoa(int(code))).Inc()
	m.bytesOut.Add(float64(size))
}

func (m *Metrics) frameReceived(size int) {
	if m == nil {
		return
	}
	m.bytesIn.Add(float64(size))
}

func (m *Metrics) response(code byte, rc int16) {
	if m == nil {
		return
	}
	m.responses.WithLabelValues(strconv.Itoa(int(code)), strconv.Itoa(int(rc))).Inc()
}

func (m *Metrics) event(code byte) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(strconv.Itoa(int(code))).Inc()
}

func (m *Metrics) rtt(ms int64) {
	if m == nil {
		return
	}
	m.roundTrip.Set(float64(ms))
}
