package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RegistrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_registrations_total",
			Help: "Total number of registration attempts.",
		},
		[]string{"service", "result"},
	)

	LoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_logins_total",
			Help: "Total number of login attempts.",
		},
		[]string{"service", "result"},
	)

	ConnAuthTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_conn_auth_total",
			Help: "Total number of connection handshake attempts.",
		},
		[]string{"service", "result"},
	)

	ConnectionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_connections_active",
			Help: "Number of live persistent connections.",
		},
		[]string{"service"},
	)

	MessagesRoutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_routed_total",
			Help: "Total number of routed messages by outcome.",
		},
		[]string{"service", "result"},
	)

	PresenceBroadcastsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_presence_broadcasts_total",
			Help: "Total number of presence broadcasts.",
		},
		[]string{"service", "status"},
	)

	EventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_dropped_total",
			Help: "Total number of outbound events dropped on a full peer buffer.",
		},
		[]string{"service"},
	)
)

var registerOnce sync.Once

// MustRegister curries every vector with the service label and registers the
// set with the default registry. Repeat calls are no-ops; the vectors must be
// curried before any handler touches them.
func MustRegister(serviceName string) {
	registerOnce.Do(func() {
		register(serviceName)
	})
}

func register(serviceName string) {
	RegistrationsTotal = RegistrationsTotal.MustCurryWith(prometheus.Labels{"service": serviceName})
	LoginsTotal = LoginsTotal.MustCurryWith(prometheus.Labels{"service": serviceName})
	ConnAuthTotal = ConnAuthTotal.MustCurryWith(prometheus.Labels{"service": serviceName})
	ConnectionsActive = ConnectionsActive.MustCurryWith(prometheus.Labels{"service": serviceName})
	MessagesRoutedTotal = MessagesRoutedTotal.MustCurryWith(prometheus.Labels{"service": serviceName})
	PresenceBroadcastsTotal = PresenceBroadcastsTotal.MustCurryWith(prometheus.Labels{"service": serviceName})
	EventsDroppedTotal = EventsDroppedTotal.MustCurryWith(prometheus.Labels{"service": serviceName})

	prometheus.MustRegister(
		RegistrationsTotal,
		LoginsTotal,
		ConnAuthTotal,
		ConnectionsActive,
		MessagesRoutedTotal,
		PresenceBroadcastsTotal,
		EventsDroppedTotal,
	)
}
