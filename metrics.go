package stomp

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus instrumentation a Client reports against.
// Unlike a server's per-connection metrics (which register against
// prometheus.DefaultRegisterer implicitly), a Metrics is built against a
// caller-supplied prometheus.Registerer so that an application embedding
// this client controls where the counters are exposed.
type Metrics struct {
	framesSent     *prometheus.CounterVec
	framesReceived *prometheus.CounterVec

	heartBeatsSent   prometheus.Counter
	heartBeatsMissed prometheus.Counter

	reconnectAttempts prometheus.Counter

	subscriptionsActive prometheus.Gauge
	receiptsPending     prometheus.Gauge
	messagesInFlight    prometheus.Gauge
}

// NewMetrics builds and registers a Metrics instance against reg. Pass
// prometheus.NewRegistry() in tests, or prometheus.DefaultRegisterer in a
// program that wants these counters on its default /metrics endpoint.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stomp_frames_sent_total",
			Help: "Total STOMP frames sent, by command.",
		}, []string{"command"}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stomp_frames_received_total",
			Help: "Total STOMP frames received, by command.",
		}, []string{"command"}),
		heartBeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stomp_heartbeats_sent_total",
			Help: "Total outbound heart-beats sent.",
		}),
		heartBeatsMissed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stomp_heartbeats_missed_total",
			Help: "Total times the server heart-beat threshold was exceeded.",
		}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stomp_reconnect_attempts_total",
			Help: "Total failover reconnect attempts made.",
		}),
		subscriptionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stomp_subscriptions_active",
			Help: "Current number of live subscriptions.",
		}),
		receiptsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stomp_receipts_pending",
			Help: "Current number of outstanding receipts.",
		}),
		messagesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stomp_messages_in_flight",
			Help: "Current number of MESSAGE handlers still running.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.framesSent, m.framesReceived,
			m.heartBeatsSent, m.heartBeatsMissed,
			m.reconnectAttempts,
			m.subscriptionsActive, m.receiptsPending, m.messagesInFlight,
		)
	}
	return m
}

func (m *Metrics) frameSent(command string) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(command).Inc()
}

func (m *Metrics) frameReceived(command string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(command).Inc()
}

func (m *Metrics) heartBeatSent() {
	if m == nil {
		return
	}
	m.heartBeatsSent.Inc()
}

func (m *Metrics) heartBeatMissed() {
	if m == nil {
		return
	}
	m.heartBeatsMissed.Inc()
}

func (m *Metrics) reconnectAttempted() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}

func (m *Metrics) setSubscriptionsActive(n int) {
	if m == nil {
		return
	}
	m.subscriptionsActive.Set(float64(n))
}

func (m *Metrics) setReceiptsPending(n int) {
	if m == nil {
		return
	}
	m.receiptsPending.Set(float64(n))
}

func (m *Metrics) setMessagesInFlight(n int) {
	if m == nil {
		return
	}
	m.messagesInFlight.Set(float64(n))
}
