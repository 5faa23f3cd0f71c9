package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// CartSyncMetrics records how the cart mirror talks to the remote cart backend.
type CartSyncMetrics struct {
	remoteCalls    *prometheus.CounterVec
	remoteDuration *prometheus.HistogramVec
	reloads        *prometheus.CounterVec
	superseded     prometheus.Counter
	priceFallbacks prometheus.Counter
	activeSessions prometheus.Gauge
}

// NewCartSyncMetrics registers the cart sync collectors on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewCartSyncMetrics(reg prometheus.Registerer) *CartSyncMetrics {
	if reg == nil {
		return &CartSyncMetrics{}
	}
	remoteCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_remote_calls_total",
		Help: "Remote cart API calls by operation and result.",
	}, []string{"op", "result"})
	remoteDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cart_remote_call_duration_seconds",
		Help:    "Latency of remote cart API calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
	reloads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_reloads_total",
		Help: "Authoritative cart reloads by result.",
	}, []string{"result"})
	superseded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cart_debounce_superseded_total",
		Help: "Pending quantity updates replaced by a newer one before reaching the network.",
	})
	priceFallbacks := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cart_price_fallback_total",
		Help: "Cart lines priced with the hardcoded fallback because no valid price was available.",
	})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cart_active_sessions",
		Help: "Cart stores currently held in memory.",
	})
	reg.MustRegister(remoteCalls, remoteDuration, reloads, superseded, priceFallbacks, activeSessions)
	return &CartSyncMetrics{
		remoteCalls:    remoteCalls,
		remoteDuration: remoteDuration,
		reloads:        reloads,
		superseded:     superseded,
		priceFallbacks: priceFallbacks,
		activeSessions: activeSessions,
	}
}

// ObserveRemoteCall records one remote call with its outcome and latency.
func (c *CartSyncMetrics) ObserveRemoteCall(op string, duration time.Duration, err error) {
	if c == nil || c.remoteCalls == nil {
		return
	}
	op = normalizeLabel(op)
	c.remoteCalls.WithLabelValues(op, resultLabel(err)).Inc()
	c.remoteDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// IncReload counts an authoritative reload.
func (c *CartSyncMetrics) IncReload(err error) {
	if c == nil || c.reloads == nil {
		return
	}
	c.reloads.WithLabelValues(resultLabel(err)).Inc()
}

// IncSuperseded counts a debounced update cancelled by a newer one.
func (c *CartSyncMetrics) IncSuperseded() {
	if c == nil || c.superseded == nil {
		return
	}
	c.superseded.Inc()
}

// IncPriceFallback counts a line priced with the fallback constant.
func (c *CartSyncMetrics) IncPriceFallback() {
	if c == nil || c.priceFallbacks == nil {
		return
	}
	c.priceFallbacks.Inc()
}

// SetActiveSessions publishes how many cart stores are live.
func (c *CartSyncMetrics) SetActiveSessions(n int) {
	if c == nil || c.activeSessions == nil {
		return
	}
	c.activeSessions.Set(float64(n))
}

func resultLabel(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

func normalizeLabel(op string) string {
	if op == "" {
		return "unknown"
	}
	return op
}
