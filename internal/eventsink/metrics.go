package eventsink

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the gateway's Prometheus instrumentation on a dedicated
// registry, so a sink's metrics never collide with anything else the
// process might register (e.g. Go runtime collectors mounted elsewhere).
type Metrics struct {
	Registry *prometheus.Registry

	BusFramesIn       prometheus.Counter
	BusFramesOut      prometheus.Counter
	DispatchRequests  prometheus.Counter
	DispatchResponses prometheus.Counter
	TasksAssigned     prometheus.Counter
	Errors            *prometheus.CounterVec
	PendingInFlight   prometheus.Gauge
	SessionState      prometheus.Gauge
}

// NewMetrics constructs and registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		BusFramesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "elevator_gateway_bus_frames_in_total",
			Help: "Total inbound bus frames received.",
		}),
		BusFramesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "elevator_gateway_bus_frames_out_total",
			Help: "Total outbound bus frames sent.",
		}),
		DispatchRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "elevator_gateway_dispatch_requests_total",
			Help: "Total CoAP requests sent to the dispatcher.",
		}),
		DispatchResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "elevator_gateway_dispatch_responses_total",
			Help: "Total CoAP responses received from the dispatcher.",
		}),
		TasksAssigned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "elevator_gateway_tasks_assigned_total",
			Help: "Total elevator task assignments applied.",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "elevator_gateway_errors_total",
			Help: "Total errors by kind.",
		}, []string{"kind"}),
		PendingInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "elevator_gateway_pending_in_flight",
			Help: "Current number of outstanding dispatcher requests.",
		}),
		SessionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "elevator_gateway_session_state",
			Help: "Current transport session state (0=DISCONNECTED, 1=HANDSHAKING, 2=READY).",
		}),
	}

	reg.MustRegister(
		m.BusFramesIn,
		m.BusFramesOut,
		m.DispatchRequests,
		m.DispatchResponses,
		m.TasksAssigned,
		m.Errors,
		m.PendingInFlight,
		m.SessionState,
	)

	return m
}
