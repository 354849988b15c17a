package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	instancesByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pipelined",
			Name:      "instances",
			Help:      "Pipeline instances tracked by the manager, by state.",
		},
		[]string{"state"},
	)
	instanceCreates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pipelined",
			Name:      "instance_creates_total",
			Help:      "Instance create requests by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(instancesByState, instanceCreates)
}

// updateStateGauges publishes per-state counts; missing states report zero.
func updateStateGauges(counts map[State]int) {
	for _, s := range States {
		instancesByState.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

func createResult(err error) string {
	if err == nil {
		return "ok"
	}
	return errorKind(err)
}
