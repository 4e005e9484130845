package wormhole

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors for one Client. Each Client owns
// its own registry rather than registering against prometheus's global
// DefaultRegisterer, so that a process hosting multiple independent cores
// (spec.md §9, "Global state: none") can report them side by side without
// collector name collisions.
type Metrics struct {
	Registry *prometheus.Registry

	sessionsStarted prometheus.Counter
	messagesSent    prometheus.Counter
	messagesRecv    prometheus.Counter
	reconnects      prometheus.Counter
	pakeFailures    prometheus.Counter
	closes          *prometheus.CounterVec
}

func newMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wormhole",
			Name:      "sessions_started_total",
			Help:      "Number of wormhole sessions started by this client.",
		}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wormhole",
			Name:      "messages_sent_total",
			Help:      "Number of application messages sent.",
		}),
		messagesRecv: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wormhole",
			Name:      "messages_received_total",
			Help:      "Number of application messages received.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wormhole",
			Name:      "rendezvous_reconnects_total",
			Help:      "Number of times the rendezvous connection was lost.",
		}),
		pakeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wormhole",
			Name:      "pake_failures_total",
			Help:      "Number of sessions that ended scared due to a decryption failure.",
		}),
		closes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wormhole",
			Name:      "closes_total",
			Help:      "Number of sessions closed, labeled by mood.",
		}, []string{"mood"}),
	}
	reg.MustRegister(m.sessionsStarted, m.messagesSent, m.messagesRecv, m.reconnects, m.pakeFailures, m.closes)
	return m
}
