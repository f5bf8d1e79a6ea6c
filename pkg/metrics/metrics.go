// Package metrics exposes the node's Prometheus instrumentation. All methods
// are nil-safe so callers can run without a registry wired in.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	activeConns       prometheus.Gauge
	handshakes        *prometheus.CounterVec
	duplicatesDropped prometheus.Counter
	messagesSent      prometheus.Counter
	messagesReceived  prometheus.Counter
	duplicateMessages prometheus.Counter
	storeSaves        prometheus.Counter
	storeSaveErrors   prometheus.Counter
	topicsJoined      prometheus.Gauge
}

// New registers the node metrics on reg (the default registerer when nil).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		activeConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "whisper_connections_active",
			Help: "Current number of live peer connections.",
		}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "whisper_handshakes_total",
			Help: "Handshake attempts grouped by outcome.",
		}, []string{"result"}),
		duplicatesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "whisper_duplicate_connections_total",
			Help: "Redundant peer connections closed by the arbiter.",
		}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "whisper_messages_sent_total",
			Help: "Messages written to a chat stream.",
		}),
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "whisper_messages_received_total",
			Help: "Messages accepted from chat streams.",
		}),
		duplicateMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "whisper_duplicate_messages_total",
			Help: "Incoming messages discarded because the id was already stored.",
		}),
		storeSaves: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "whisper_store_saves_total",
			Help: "Debounced state writes that reached disk.",
		}),
		storeSaveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "whisper_store_save_errors_total",
			Help: "State writes that failed.",
		}),
		topicsJoined: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "whisper_topics_joined",
			Help: "Discovery topics currently joined.",
		}),
	}

	reg.MustRegister(
		m.activeConns,
		m.handshakes,
		m.duplicatesDropped,
		m.messagesSent,
		m.messagesReceived,
		m.duplicateMessages,
		m.storeSaves,
		m.storeSaveErrors,
		m.topicsJoined,
	)
	return m
}

// Handler returns the scrape endpoint handler.
func Handler() http.Handler { return promhttp.Handler() }

func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.activeConns.Inc()
}

func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.activeConns.Dec()
}

func (m *Metrics) RecordHandshake(result string) {
	if m == nil {
		return
	}
	if result == "" {
		result = "unknown"
	}
	m.handshakes.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordDuplicateConn() {
	if m == nil {
		return
	}
	m.duplicatesDropped.Inc()
}

func (m *Metrics) RecordMessageSent() {
	if m == nil {
		return
	}
	m.messagesSent.Inc()
}

func (m *Metrics) RecordMessageReceived() {
	if m == nil {
		return
	}
	m.messagesReceived.Inc()
}

func (m *Metrics) RecordDuplicateMessage() {
	if m == nil {
		return
	}
	m.duplicateMessages.Inc()
}

func (m *Metrics) RecordSave(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.storeSaveErrors.Inc()
		return
	}
	m.storeSaves.Inc()
}

func (m *Metrics) SetTopicsJoined(n int) {
	if m == nil {
		return
	}
	m.topicsJoined.Set(float64(n))
}
