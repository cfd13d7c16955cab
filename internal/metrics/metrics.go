package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the pairing service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry            *prometheus.Registry
	connectionsAccepted prometheus.Counter
	connectionsActive   prometheus.Gauge
	messagesReceived    *prometheus.CounterVec
	decodeErrors        *prometheus.CounterVec
	commandsFailed      *prometheus.CounterVec
	loggedIn            prometheus.Gauge
	rendererLoads       *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	connectionsAccepted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tvlink_connections_accepted_total",
		Help: "Total number of pairing connections accepted",
	})
	connectionsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tvlink_connections_active",
		Help: "Number of open pairing connections",
	})
	messagesReceived := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tvlink_messages_received_total",
		Help: "Decoded messages received, by type",
	}, []string{"type"})
	decodeErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tvlink_decode_errors_total",
		Help: "Dropped frames, by decode error kind",
	}, []string{"kind"})
	commandsFailed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tvlink_commands_failed_total",
		Help: "Commands that failed, by type and error code",
	}, []string{"type", "code"})
	loggedIn := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tvlink_logged_in",
		Help: "1 when a session is signed in",
	})
	rendererLoads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tvlink_renderer_loads_total",
		Help: "Media loads sent to the cast renderer, by result",
	}, []string{"result"})

	registry.MustRegister(
		connectionsAccepted,
		connectionsActive,
		messagesReceived,
		decodeErrors,
		commandsFailed,
		loggedIn,
		rendererLoads,
	)

	return &Metrics{
		registry:            registry,
		connectionsAccepted: connectionsAccepted,
		connectionsActive:   connectionsActive,
		messagesReceived:    messagesReceived,
		decodeErrors:        decodeErrors,
		commandsFailed:      commandsFailed,
		loggedIn:            loggedIn,
		rendererLoads:       rendererLoads,
	}
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsAccepted.Inc()
	m.connectionsActive.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

func (m *Metrics) MessageReceived(kind string) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) DecodeFailed(kind string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) CommandFailed(kind, code string) {
	if m == nil {
		return
	}
	m.commandsFailed.WithLabelValues(kind, code).Inc()
}

func (m *Metrics) SetLoggedIn(loggedIn bool) {
	if m == nil {
		return
	}
	if loggedIn {
		m.loggedIn.Set(1)
		return
	}
	m.loggedIn.Set(0)
}

// RendererLoad counts a Load sent to the renderer; ok reports whether it
// succeeded.
func (m *Metrics) RendererLoad(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.rendererLoads.WithLabelValues(result).Inc()
}

// Handler serves the registry. updateGauges runs before each scrape to refresh
// gauges derived from live state.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
