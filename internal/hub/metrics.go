package hub

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mensageria_assinada/internal/lobby"
	"mensageria_assinada/internal/protocol"
)

// Metrics is safe to use as a nil pointer, which records nothing.
type Metrics struct {
	connections   prometheus.Gauge
	authResults   *prometheus.CounterVec
	routedTotal   *prometheus.CounterVec
	deltas        prometheus.Counter
	routeDuration prometheus.Histogram
	registerer    prometheus.Registerer
}

func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigchat_open_connections",
			Help: "Number of open websocket connections",
		}),
		authResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigchat_auth_total",
			Help: "Authentication attempts by result",
		}, []string{"result"}),
		routedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigchat_messages_total",
			Help: "Message frames processed by the router, by outcome",
		}, []string{"outcome"}),
		deltas: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigchat_lobby_deltas_total",
			Help: "Lobby deltas broadcast",
		}),
		routeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sigchat_route_duration_seconds",
			Help:    "Time spent validating and forwarding one message frame",
			Buckets: prometheus.ExponentialBuckets(0.00005, 4, 8),
		}),
		registerer: registerer,
	}

	for _, c := range []prometheus.Collector{m.connections, m.authResults, m.routedTotal, m.deltas, m.routeDuration} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// TrackLobby exports the registry size as a gauge.
func (m *Metrics) TrackLobby(registry *lobby.Registry) error {
	return m.registerer.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "sigchat_lobby_size",
		Help: "Number of authenticated users in the lobby",
	}, func() float64 {
		return float64(registry.Len())
	}))
}

func (m *Metrics) DeltaBroadcast(lobby.Delta, int) {
	if m == nil {
		return
	}
	m.deltas.Inc()
}

func (m *Metrics) connected() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) disconnected() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) authResult(result string) {
	if m == nil {
		return
	}
	m.authResults.WithLabelValues(result).Inc()
}

func (m *Metrics) routed(err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "delivered"
	var perr *protocol.Error
	if errors.As(err, &perr) {
		outcome = string(perr.Reason)
	} else if err != nil {
		outcome = "internal"
	}
	m.routedTotal.WithLabelValues(outcome).Inc()
	m.routeDuration.Observe(elapsed.Seconds())
}
