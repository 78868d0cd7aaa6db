package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the engine's prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	relayed       *prometheus.CounterVec
	relayFailures prometheus.Counter
	rejected      prometheus.Counter
	replies       *prometheus.CounterVec
	bans          *prometheus.CounterVec
	broadcast     *prometheus.CounterVec
	pruned        prometheus.Counter
}

// NewMetrics registers the collectors on reg. A nil reg leaves them
// unregistered, which tests use to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		relayed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaybot",
			Name:      "relayed_copies_total",
			Help:      "Relayed copies recorded as correlations, by mode.",
		}, []string{"mode"}),
		relayFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "relaybot",
			Name:      "relay_forward_failures_total",
			Help:      "Forward attempts to a single destination that failed.",
		}),
		rejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: "relaybot",
			Name:      "banned_rejections_total",
			Help:      "Inbound messages rejected by the ban gate.",
		}),
		replies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaybot",
			Name:      "replies_total",
			Help:      "Operator replies by result.",
		}, []string{"result"}),
		bans: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaybot",
			Name:      "ban_changes_total",
			Help:      "Ban state changes by action.",
		}, []string{"action"}),
		broadcast: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaybot",
			Name:      "broadcast_recipients_total",
			Help:      "Broadcast recipients by outcome.",
		}, []string{"outcome"}),
		pruned: f.NewCounter(prometheus.CounterOpts{
			Namespace: "relaybot",
			Name:      "correlations_pruned_total",
			Help:      "Correlations removed by TTL eviction.",
		}),
	}
}

func (m *Metrics) incRelayed(mode Mode) {
	if m != nil {
		m.relayed.WithLabelValues(mode.String()).Inc()
	}
}

func (m *Metrics) incRelayFailure() {
	if m != nil {
		m.relayFailures.Inc()
	}
}

func (m *Metrics) incRejected() {
	if m != nil {
		m.rejected.Inc()
	}
}

func (m *Metrics) incReply(result string) {
	if m != nil {
		m.replies.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) incBan(action string) {
	if m != nil {
		m.bans.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) incBroadcast(o Outcome) {
	if m != nil {
		m.broadcast.WithLabelValues(o.String()).Inc()
	}
}

func (m *Metrics) addPruned(n int) {
	if m != nil && n > 0 {
		m.pruned.Add(float64(n))
	}
}
