// Package metrics exposes bus and bridge activity plus the current device
// values to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/victorjacobs/go-vallox/bus"
	"github.com/victorjacobs/go-vallox/state"
	"github.com/victorjacobs/go-vallox/vallox"
)

const namespace = "vallox"

// Metrics implements bus.Observer and bridge.Recorder. All collectors live
// on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	framesReceived prometheus.Counter
	framesInvalid  prometheus.Counter
	framesSent     prometheus.Counter
	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	published      *prometheus.CounterVec
	commands       *prometheus.CounterVec
	available      prometheus.Gauge
}

func New(store *state.Store) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Valid telegrams read from the bus.",
		}),
		framesInvalid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_invalid_total",
			Help:      "Byte windows rejected while resynchronizing.",
		}),
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Telegrams written to the bus.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Completed bus requests by operation and result.",
		}, []string{"op", "result"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from the first attempt of a request until it completed.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"op"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_published_total",
			Help:      "State payloads published to MQTT.",
		}, []string{"entity"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands received over MQTT by result.",
		}, []string{"result"}),
		available: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "available",
			Help:      "1 when availability was last published as online.",
		}),
	}

	m.registry.MustRegister(
		m.framesReceived,
		m.framesInvalid,
		m.framesSent,
		m.requests,
		m.requestLatency,
		m.published,
		m.commands,
		m.available,
	)
	if store != nil {
		m.registry.MustRegister(newValueCollector(store))
	}

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) FrameReceived(_ []byte, err error) {
	if err != nil {
		m.framesInvalid.Inc()
		return
	}
	m.framesReceived.Inc()
}

func (m *Metrics) FrameSent([]byte) {
	m.framesSent.Inc()
}

func (m *Metrics) RequestDone(r *bus.Request) {
	result := "ok"
	if r.State != bus.Matched {
		result = "failed"
	}
	m.requests.WithLabelValues(r.Op.String(), result).Inc()

	if !r.Issued.IsZero() {
		m.requestLatency.WithLabelValues(r.Op.String()).Observe(time.Since(r.Issued).Seconds())
	}
}

func (m *Metrics) StatePublished(entity string) {
	m.published.WithLabelValues(entity).Inc()
}

func (m *Metrics) CommandHandled(_ string, err error) {
	result := "queued"
	if err != nil {
		result = "rejected"
	}
	m.commands.WithLabelValues(result).Inc()
}

func (m *Metrics) AvailabilityChanged(online bool) {
	if online {
		m.available.Set(1)
	} else {
		m.available.Set(0)
	}
}

// valueCollector reports every fresh store entry as a gauge at scrape time.
type valueCollector struct {
	store *state.Store
	value *prometheus.Desc
	stale *prometheus.Desc
}

func newValueCollector(store *state.Store) *valueCollector {
	return &valueCollector{
		store: store,
		value: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "value"),
			"Last value read from the device. Switches are 0 or 1, options report their raw code.",
			[]string{"entity"}, nil,
		),
		stale: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "values_stale"),
			"Values not refreshed since the last connection loss.",
			nil, nil,
		),
	}
}

func (c *valueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.value
	ch <- c.stale
}

func (c *valueCollector) Collect(ch chan<- prometheus.Metric) {
	stale := 0
	for _, e := range c.store.Snapshot() {
		if e.Stale {
			stale++
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.value, prometheus.GaugeValue, gaugeValue(e.Value), e.ID)
	}
	ch <- prometheus.MustNewConstMetric(c.stale, prometheus.GaugeValue, float64(stale))
}

func gaugeValue(v vallox.Value) float64 {
	switch v.Kind {
	case vallox.Numeric:
		return v.Number
	case vallox.Bit:
		if v.On {
			return 1
		}
		return 0
	default:
		return float64(v.Code)
	}
}
