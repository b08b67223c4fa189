package prom

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/theapemachine/synapse/pkg/observability"
	"github.com/theapemachine/synapse/pkg/rpc"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// HubObserver exports hub metrics to Prometheus.
type HubObserver struct {
	sessionsGauge  prometheus.Gauge
	closeTotal     *prometheus.CounterVec
	handshakeTotal *prometheus.CounterVec
	dispatchTotal  *prometheus.CounterVec
	emittedTotal   *prometheus.CounterVec
	droppedTotal   *prometheus.CounterVec
	protocolTotal  *prometheus.CounterVec
}

// NewHubObserver registers hub metrics on the registry.
func NewHubObserver(reg *prometheus.Registry) *HubObserver {
	o := &HubObserver{
		sessionsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "synapse_sessions",
			Help: "Current live session count.",
		}),
		closeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "synapse_session_close_total",
			Help: "Session close reasons.",
		}, []string{"reason"}),
		handshakeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "synapse_handshake_total",
			Help: "Handshake attempts by result and reason.",
		}, []string{"result", "reason"}),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "synapse_dispatch_total",
			Help: "Dispatched requests by method and result.",
		}, []string{"method", "result"}),
		emittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "synapse_frames_emitted_total",
			Help: "Frames delivered to authorized writers by action.",
		}, []string{"action"}),
		droppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "synapse_frames_dropped_total",
			Help: "Frames dropped on full or closed outboxes by action.",
		}, []string{"action"}),
		protocolTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "synapse_protocol_errors_total",
			Help: "Protocol errors answered in-band by error code.",
		}, []string{"code"}),
	}

	reg.MustRegister(
		o.sessionsGauge,
		o.closeTotal,
		o.handshakeTotal,
		o.dispatchTotal,
		o.emittedTotal,
		o.droppedTotal,
		o.protocolTotal,
	)

	return o
}

func (o *HubObserver) SessionOpened() {
	o.sessionsGauge.Inc()
}

func (o *HubObserver) SessionClosed(reason observability.CloseReason) {
	o.sessionsGauge.Dec()
	o.closeTotal.WithLabelValues(string(reason)).Inc()
}

func (o *HubObserver) Handshake(
	result observability.HandshakeResult, reason observability.HandshakeReason,
) {
	o.handshakeTotal.WithLabelValues(string(result), string(reason)).Inc()
}

func (o *HubObserver) Dispatch(method string, result observability.DispatchResult) {
	o.dispatchTotal.WithLabelValues(method, string(result)).Inc()
}

func (o *HubObserver) Emitted(action rpc.Action, delivered, dropped int) {
	if delivered > 0 {
		o.emittedTotal.WithLabelValues(string(action)).Add(float64(delivered))
	}

	if dropped > 0 {
		o.droppedTotal.WithLabelValues(string(action)).Add(float64(dropped))
	}
}

func (o *HubObserver) ProtocolError(code int) {
	o.protocolTotal.WithLabelValues(strconv.Itoa(code)).Inc()
}
