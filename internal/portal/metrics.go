package portal

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nuclearlighters/portald/internal/wifi"
)

// Request classes recorded by the router.
const (
	classBuiltin  = "builtin"
	classAux      = "aux"
	classProbe    = "probe"
	classRedirect = "redirect"
	classNotFound = "notfound"
)

// Metrics holds the portal's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	attempts *prometheus.CounterVec
	state    *prometheus.GaugeVec
	deferred *prometheus.CounterVec
}

// NewMetrics creates an empty metrics set.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portald_requests_total",
			Help: "HTTP requests by classification.",
		}, []string{"class"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portald_connection_attempts_total",
			Help: "Station connection attempts by result.",
		}, []string{"result"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "portald_connection_state",
			Help: "1 for the current connection state.",
		}, []string{"state"}),
		deferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portald_deferred_actions_total",
			Help: "Actions run after their response was sent.",
		}, []string{"action"}),
	}
	m.registry.MustRegister(m.requests, m.attempts, m.state, m.deferred)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) setState(s wifi.State) {
	m.state.Reset()
	m.state.WithLabelValues(s.String()).Set(1)
}

func (m *Metrics) attempt(err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.attempts.WithLabelValues(result).Inc()
}

// watch exports the counters kept by the portal's servers.
func (m *Metrics) watch(p *Portal) {
	m.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "portald_dns_answers_total",
			Help: "DNS queries answered with the portal address.",
		}, func() float64 { return float64(p.dns.Answered()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "portald_dns_dropped_total",
			Help: "Malformed DNS packets ignored.",
		}, func() float64 { return float64(p.dns.Dropped()) }),
	)
	if p.dhcp != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "portald_dhcp_leases_active",
			Help: "Unexpired DHCP leases on the access point.",
		}, func() float64 { return float64(p.dhcp.Pool().Active()) }))
	}
}
