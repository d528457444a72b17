package marketplace

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the marketplace's prometheus collectors.
type Metrics struct {
	Operations *prometheus.CounterVec
	EscrowHeld prometheus.Gauge
	Tasks      *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskmarket",
			Name:      "operations_total",
			Help:      "State-changing marketplace operations by result kind.",
		}, []string{"operation", "result"}),
		EscrowHeld: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskmarket",
			Name:      "escrow_held_units",
			Help:      "Units currently held in task escrow.",
		}),
		Tasks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "taskmarket",
			Name:      "tasks",
			Help:      "Tasks by status.",
		}, []string{"status"}),
	}
	if reg != nil {
		reg.MustRegister(m.Operations, m.EscrowHeld, m.Tasks)
	}
	return m
}

func (m *Metrics) observe(op string, err error) {
	result := "ok"
	if err != nil {
		result = KindOf(err)
	}
	m.Operations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) refresh(tasks []Task, held uint64) {
	counts := map[TaskStatus]int{
		StatusOpen: 0, StatusAssigned: 0, StatusSubmitted: 0,
		StatusCompleted: 0, StatusCancelled: 0, StatusDisputed: 0,
	}
	for _, t := range tasks {
		counts[t.Status]++
	}
	for status, n := range counts {
		m.Tasks.WithLabelValues(string(status)).Set(float64(n))
	}
	m.EscrowHeld.Set(float64(held))
}
