package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/homecooks/mealmarket/internal/models"
)

type Metrics struct {
	registry *prometheus.Registry

	ordersPlaced      prometheus.Counter
	ordersFailed      *prometheus.CounterVec
	statusChanges     *prometheus.CounterVec
	discoveryDuration *prometheus.HistogramVec
	httpRequests      *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ordersPlaced: factory.NewCounter(prometheus.CounterOpts{
			Name: "mealmarket_orders_placed_total",
			Help: "Orders placed successfully.",
		}),
		ordersFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mealmarket_order_failures_total",
			Help: "Order placements that failed, by error code.",
		}, []string{"code"}),
		statusChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mealmarket_status_transitions_total",
			Help: "Applied order status transitions, by target status.",
		}, []string{"to"}),
		discoveryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mealmarket_discovery_duration_seconds",
			Help:    "Time spent answering discovery queries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mealmarket_http_requests_total",
			Help: "HTTP requests served, by route and status code.",
		}, []string{"route", "code"}),
	}
}

func (m *Metrics) OrderPlaced() {
	m.ordersPlaced.Inc()
}

func (m *Metrics) OrderFailed(code string) {
	m.ordersFailed.WithLabelValues(code).Inc()
}

func (m *Metrics) StatusChanged(to models.OrderStatus) {
	m.statusChanges.WithLabelValues(string(to)).Inc()
}

func (m *Metrics) ObserveDiscovery(mode string, elapsed time.Duration) {
	m.discoveryDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveRequest(route string, code int) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
