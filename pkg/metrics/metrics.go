package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wspubsub"

var (
	// Connections is the number of open local websocket connections
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections",
		Help:      "Open local websocket connections.",
	})

	// Rooms is the number of rooms with at least one local member
	Rooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rooms",
		Help:      "Rooms with at least one local member.",
	})

	// Subscriptions counts backplane subscribe/unsubscribe calls by op and result
	Subscriptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backplane_subscriptions_total",
		Help:      "Backplane subscribe and unsubscribe calls.",
	}, []string{"op", "result"})

	Published = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "relay_published_total",
		Help:      "Envelopes published to the backplane.",
	}, []string{"result"})

	Delivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "relay_delivered_total",
		Help:      "Payloads handed to local connections.",
	})

	// Dropped counts messages discarded anywhere in the relay path, by reason
	Dropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "relay_dropped_total",
		Help:      "Messages dropped, by reason.",
	}, []string{"reason"})

	// BackplaneUp is 1 while the last broker operation succeeded
	BackplaneUp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "backplane_up",
		Help:      "1 if the pub/sub backplane is reachable.",
	})

	HeartbeatClosed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "heartbeat_closed_total",
		Help:      "Connections closed for missing a pong.",
	})
)

// Handler exposes Prometheus metrics at /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
