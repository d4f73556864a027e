package secondary

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	stageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "secondary",
			Name:      "stage_total",
			Help:      "Staging requests by result (copied, skipped, failed).",
		},
		[]string{"result"},
	)
	resolveTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "secondary",
			Name:      "resolve_total",
			Help:      "Symbol resolutions by result.",
		},
		[]string{"result"},
	)
	invokeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "secondary",
			Name:      "invoke_total",
			Help:      "Capability invocations by style (typed, reflective) and result.",
		},
		[]string{"style", "result"},
	)
)

func init() {
	prometheus.MustRegister(stageTotal, resolveTotal, invokeTotal)
}

// ObserveResolve count one resolution outcome, used by resolvers outside this package.
func ObserveResolve(err error) {
	resolveTotal.WithLabelValues(resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if k := Kind(err); k != nil {
		return strings.ReplaceAll(k.Error(), " ", "_")
	}
	return "error"
}
