package app

import "github.com/prometheus/client_golang/prometheus"

const (
	mergeSourceBranch  = "branch"
	mergeSourceVersion = "version"

	mergeApplied = "applied"
	mergeNoop    = "noop"
	mergeFailed  = "failed"
)

type Metrics struct {
	merges *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		merges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "revision_merges_total",
				Help: "Merge attempts by source kind and result.",
			},
			[]string{"source", "result"},
		),
	}
	if err := reg.Register(m.merges); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) merge(source, result string) {
	if m == nil {
		return
	}
	m.merges.WithLabelValues(source, result).Inc()
}
