// Package timing records how long pipeline stages take and what they
// produced, both in the log and as prometheus metrics.
package timing

import (
	"fmt"
	"time"

	"github.com/OFFIS-RIT/ontograph/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors of one process. A nil *Metrics only logs.
type Metrics struct {
	stages *prometheus.HistogramVec
	builds *prometheus.CounterVec
	nodes  *prometheus.GaugeVec
	edges  *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		stages: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ontograph",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"source", "stage"}),
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ontograph",
			Name:      "builds_total",
			Help:      "Finished builds by outcome.",
		}, []string{"source", "status"}),
		nodes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ontograph",
			Name:      "ontology_nodes",
			Help:      "Node count of the last built ontology.",
		}, []string{"ontology"}),
		edges: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ontograph",
			Name:      "ontology_edges",
			Help:      "Edge count of the last built ontology.",
		}, []string{"ontology"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.stages, m.builds, m.nodes, m.edges} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	return m, nil
}

// Track starts timing stage of source. The returned func stops the clock,
// logs the duration and records it.
func (m *Metrics) Track(source, stage string) func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		d := time.Since(start)
		logger.Info("Stage finished", "source", source, "stage", stage, "duration", FormatDuration(d))
		if m != nil {
			m.stages.WithLabelValues(source, stage).Observe(d.Seconds())
		}
		return d
	}
}

// Build counts a finished build of source.
func (m *Metrics) Build(source string, err error) {
	if m == nil {
		return
	}
	status := "succeeded"
	if err != nil {
		status = "failed"
	}
	m.builds.WithLabelValues(source, status).Inc()
}

// Ontology records the size of a built ontology.
func (m *Metrics) Ontology(name string, nodes, edges int) {
	if m == nil {
		return
	}
	m.nodes.WithLabelValues(name).Set(float64(nodes))
	m.edges.WithLabelValues(name).Set(float64(edges))
}

// FormatDuration renders d as hh:mm:ss.mmm.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, d/time.Millisecond)
}
