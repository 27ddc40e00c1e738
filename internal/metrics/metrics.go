// Package metrics holds the Prometheus collectors of the control plane.
//
// Exposed series:
//   - sentinel_bus_published_total{topic}
//   - sentinel_bus_delivery_failures_total{topic}
//   - sentinel_bus_dead_letters_total{topic}
//   - sentinel_bus_deduplicated_total{topic}
//   - sentinel_orders_total{side,outcome}
//   - sentinel_risk_blocks_total{rule}
//   - sentinel_exits_total{reason}
//   - sentinel_loop_iterations_total{loop,result}
//   - sentinel_orchestrator_state{symbol,state}
//   - sentinel_reconcile_discrepancies{symbol,kind}
//
// A nil *Metrics is valid and records nothing.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the collectors. Create one per registry with New.
type Metrics struct {
	busPublished     *prometheus.CounterVec
	busFailures      *prometheus.CounterVec
	busDeadLetters   *prometheus.CounterVec
	busDeduplicated  *prometheus.CounterVec
	orders           *prometheus.CounterVec
	riskBlocks       *prometheus.CounterVec
	exits            *prometheus.CounterVec
	loopIterations   *prometheus.CounterVec
	orchestratorMode *prometheus.GaugeVec
	discrepancies    *prometheus.GaugeVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		busPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_bus_published_total",
			Help: "Events published on the in-process bus",
		}, []string{"topic"}),
		busFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_bus_delivery_failures_total",
			Help: "Handler attempts that returned an error",
		}, []string{"topic"}),
		busDeadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_bus_dead_letters_total",
			Help: "Deliveries routed to the dead-letter subscribers",
		}, []string{"topic"}),
		busDeduplicated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_bus_deduplicated_total",
			Help: "Publishes suppressed by the dedup window",
		}, []string{"topic"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_orders_total",
			Help: "Execution pipeline outcomes",
		}, []string{"side", "outcome"}),
		riskBlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_risk_blocks_total",
			Help: "Candidate trades blocked by a risk rule",
		}, []string{"rule"}),
		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_exits_total",
			Help: "Protective exit sells by reason",
		}, []string{"reason"}),
		loopIterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_loop_iterations_total",
			Help: "Orchestrator loop iterations by result",
		}, []string{"loop", "result"}),
		orchestratorMode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sentinel_orchestrator_state",
			Help: "1 for the current orchestrator state, 0 otherwise",
		}, []string{"symbol", "state"}),
		discrepancies: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sentinel_reconcile_discrepancies",
			Help: "Discrepancies found by the last reconciliation",
		}, []string{"symbol", "kind"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.busPublished, m.busFailures, m.busDeadLetters, m.busDeduplicated,
			m.orders, m.riskBlocks, m.exits, m.loopIterations,
			m.orchestratorMode, m.discrepancies,
		)
	}
	return m
}

func (m *Metrics) BusPublished(topic string) {
	if m == nil {
		return
	}
	m.busPublished.WithLabelValues(topic).Inc()
}

func (m *Metrics) BusFailure(topic string) {
	if m == nil {
		return
	}
	m.busFailures.WithLabelValues(topic).Inc()
}

func (m *Metrics) BusDeadLetter(topic string) {
	if m == nil {
		return
	}
	m.busDeadLetters.WithLabelValues(topic).Inc()
}

func (m *Metrics) BusDeduplicated(topic string) {
	if m == nil {
		return
	}
	m.busDeduplicated.WithLabelValues(topic).Inc()
}

// Order counts one pipeline outcome: executed, duplicate, blocked or failed.
func (m *Metrics) Order(side, outcome string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(side, outcome).Inc()
}

func (m *Metrics) RiskBlock(rule string) {
	if m == nil {
		return
	}
	m.riskBlocks.WithLabelValues(rule).Inc()
}

func (m *Metrics) Exit(reason string) {
	if m == nil {
		return
	}
	m.exits.WithLabelValues(reason).Inc()
}

func (m *Metrics) LoopIteration(loop string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.loopIterations.WithLabelValues(loop, result).Inc()
}

// OrchestratorState flips the state series so exactly one is 1.
func (m *Metrics) OrchestratorState(symbol, state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.orchestratorMode.WithLabelValues(symbol, s).Set(v)
	}
}

func (m *Metrics) Discrepancies(symbol, kind string, n int) {
	if m == nil {
		return
	}
	m.discrepancies.WithLabelValues(symbol, kind).Set(float64(n))
}
