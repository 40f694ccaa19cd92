// Package metrics exposes Prometheus collectors for the module host, the
// transport, the renderer and the UI server.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/woxQAQ/wasm-bridge/internal/transport"
	"github.com/woxQAQ/wasm-bridge/internal/wasm"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Guest calls
	GuestCalls        *prometheus.CounterVec
	GuestCallDuration *prometheus.HistogramVec

	// Transport
	TransportState    prometheus.Gauge
	TransportBuffered prometheus.Gauge
	TransportDropped  prometheus.Counter

	// Rendering
	Renders        *prometheus.CounterVec
	RenderDuration prometheus.Histogram

	// HTTP
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New registers every collector with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		GuestCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wasm_bridge_guest_calls_total",
				Help: "Total number of calls into the guest module",
			},
			[]string{"export", "status"},
		),
		GuestCallDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wasm_bridge_guest_call_duration_seconds",
				Help:    "Guest call duration in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"export"},
		),
		TransportState: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "wasm_bridge_transport_state",
				Help: "Transport state: 0 idle, 1 connecting, 2 connected, 3 closed",
			},
		),
		TransportBuffered: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "wasm_bridge_transport_buffered_messages",
				Help: "Outbound messages waiting for a connection",
			},
		),
		TransportDropped: f.NewCounter(
			prometheus.CounterOpts{
				Name: "wasm_bridge_transport_dropped_total",
				Help: "Outbound messages dropped because the buffer was full",
			},
		),
		Renders: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wasm_bridge_renders_total",
				Help: "Total number of view renders",
			},
			[]string{"status"},
		),
		RenderDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wasm_bridge_render_duration_seconds",
				Help:    "View render duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
			},
		),
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wasm_bridge_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wasm_bridge_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "path"},
		),
	}
}

// ObserveGuestCall records one export call. It matches wasm.CallObserver.
func (m *Metrics) ObserveGuestCall(export string, elapsed time.Duration, err error) {
	m.GuestCalls.WithLabelValues(export, callStatus(err)).Inc()
	m.GuestCallDuration.WithLabelValues(export).Observe(elapsed.Seconds())
}

// ObserveRender records one render attempt. It matches view.RenderObserver.
func (m *Metrics) ObserveRender(elapsed time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.Renders.WithLabelValues(status).Inc()
	m.RenderDuration.Observe(elapsed.Seconds())
}

// TransportHooks returns hooks that keep the transport gauges current.
func (m *Metrics) TransportHooks() transport.Hooks {
	return transport.Hooks{
		OnStateChange: func(s transport.State) { m.TransportState.Set(float64(s)) },
		OnDrop:        func() { m.TransportDropped.Inc() },
		OnBuffered:    func(n int) { m.TransportBuffered.Set(float64(n)) },
	}
}

// Middleware records request counts and latency for gin routes.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.RequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.RequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func callStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, wasm.ErrModuleExited):
		return "exited"
	default:
		var timeout *wasm.TimeoutError
		if errors.As(err, &timeout) {
			return "timeout"
		}
		return "error"
	}
}
