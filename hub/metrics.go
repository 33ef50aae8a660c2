package hub

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the Prometheus surface named in the §1/§6 observability note
// and exercised by the "observable drop counter" requirement in §7's
// user-visible behavior clause.
type Metrics struct {
	reg    prometheus.Registerer
	labels prometheus.Labels

	requestsTotal      prometheus.Counter
	interceptedTotal   prometheus.Counter
	approximatedTotal  prometheus.Counter
	notFoundTotal      prometheus.Counter
	publishedTotal     prometheus.Counter
	publishDropTotal   prometheus.Counter
	registrationsTotal prometheus.Counter

	pendingOnce  sync.Once
	pendingGauge prometheus.GaugeFunc
}

// NewMetrics registers a hub's counters against reg, labeled with hubID so
// multiple hubs in one process (e.g. every Thread hub under a Supervisor)
// can share a registry without collisions. A nil reg uses a fresh, private
// prometheus.Registry rather than the global default, so tests never
// collide on repeated hub construction.
func NewMetrics(reg prometheus.Registerer, hubID string) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	labels := prometheus.Labels{"hub_id": hubID}
	m := &Metrics{
		reg:                reg,
		labels:             labels,
		requestsTotal:      prometheus.NewCounter(prometheus.CounterOpts{Name: "hub_requests_total", Help: "Requests resolved locally.", ConstLabels: labels}),
		interceptedTotal:   prometheus.NewCounter(prometheus.CounterOpts{Name: "hub_requests_intercepted_total", Help: "Requests short-circuited by an interceptor.", ConstLabels: labels}),
		approximatedTotal:  prometheus.NewCounter(prometheus.CounterOpts{Name: "hub_requests_approximated_total", Help: "Requests resolved via similarity approximation.", ConstLabels: labels}),
		notFoundTotal:      prometheus.NewCounter(prometheus.CounterOpts{Name: "hub_requests_not_found_total", Help: "Requests that exhausted resolution.", ConstLabels: labels}),
		publishedTotal:     prometheus.NewCounter(prometheus.CounterOpts{Name: "hub_messages_published_total", Help: "Subscriber deliveries from publish fan-out.", ConstLabels: labels}),
		publishDropTotal:   prometheus.NewCounter(prometheus.CounterOpts{Name: "hub_publish_drops_total", Help: "Publish deliveries dropped by a subscriber panic or by the context ending before a handler slot was free.", ConstLabels: labels}),
		registrationsTotal: prometheus.NewCounter(prometheus.CounterOpts{Name: "hub_registrations_total", Help: "Successful register_api calls.", ConstLabels: labels}),
	}
	reg.MustRegister(m.requestsTotal, m.interceptedTotal, m.approximatedTotal, m.notFoundTotal, m.publishedTotal, m.publishDropTotal, m.registrationsTotal)
	return m
}

// bindPending registers a GaugeFunc reporting the hub's current in-flight
// request count. Safe to call more than once (e.g. a Metrics shared across
// hubs via the same underlying registry); only the first call takes effect.
func (m *Metrics) bindPending(fn func() float64) {
	m.pendingOnce.Do(func() {
		m.pendingGauge = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "hub_pending_requests", Help: "Requests awaiting a response.", ConstLabels: m.labels,
		}, fn)
		m.reg.MustRegister(m.pendingGauge)
	})
}

func (m *Metrics) incRequests()      { m.requestsTotal.Inc() }
func (m *Metrics) incIntercepted()   { m.interceptedTotal.Inc() }
func (m *Metrics) incApproximated()  { m.approximatedTotal.Inc() }
func (m *Metrics) incNotFound()      { m.notFoundTotal.Inc() }
func (m *Metrics) incPublished(n int) {
	if n > 0 {
		m.publishedTotal.Add(float64(n))
	}
}
func (m *Metrics) incDrop()          { m.publishDropTotal.Inc() }
func (m *Metrics) incRegistrations() { m.registrationsTotal.Inc() }
