package observability

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "foodgate"

// Prometheus records metrics into a prometheus registry. Vectors are created
// on first use with the sorted tag keys of that call as label names; later
// calls for the same metric must use the same tag keys.
type Prometheus struct {
	registry   *prometheus.Registry
	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

func NewPrometheus(registry *prometheus.Registry) *Prometheus {
	return &Prometheus{
		registry:   registry,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

func (p *Prometheus) Incr(name string, tags map[string]string) {
	p.Add(name, 1, tags)
}

func (p *Prometheus) Add(name string, value float64, tags map[string]string) {
	keys, values := splitTags(tags)

	p.mu.Lock()
	vec, ok := p.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      helpFor(name),
		}, keys)
		if !p.register(name, vec) {
			p.mu.Unlock()
			return
		}
		p.counters[name] = vec
	}
	p.mu.Unlock()

	c, err := vec.GetMetricWithLabelValues(values...)
	if err != nil {
		slog.Debug("metric label mismatch", "metric", name, "error", err)
		return
	}
	c.Add(value)
}

func (p *Prometheus) Set(name string, value float64, tags map[string]string) {
	keys, values := splitTags(tags)

	p.mu.Lock()
	vec, ok := p.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      helpFor(name),
		}, keys)
		if !p.register(name, vec) {
			p.mu.Unlock()
			return
		}
		p.gauges[name] = vec
	}
	p.mu.Unlock()

	g, err := vec.GetMetricWithLabelValues(values...)
	if err != nil {
		slog.Debug("metric label mismatch", "metric", name, "error", err)
		return
	}
	g.Set(value)
}

func (p *Prometheus) Observe(name string, value float64, tags map[string]string) {
	keys, values := splitTags(tags)

	p.mu.Lock()
	vec, ok := p.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      name,
			Help:      helpFor(name),
			Buckets:   prometheus.DefBuckets,
		}, keys)
		if !p.register(name, vec) {
			p.mu.Unlock()
			return
		}
		p.histograms[name] = vec
	}
	p.mu.Unlock()

	h, err := vec.GetMetricWithLabelValues(values...)
	if err != nil {
		slog.Debug("metric label mismatch", "metric", name, "error", err)
		return
	}
	h.Observe(value)
}

func (p *Prometheus) register(name string, c prometheus.Collector) bool {
	if err := p.registry.Register(c); err != nil {
		slog.Warn("failed to register metric", "metric", name, "error", err)
		return false
	}
	return true
}

func splitTags(tags map[string]string) ([]string, []string) {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = tags[k]
	}
	return keys, values
}

func helpFor(name string) string {
	return "foodgate " + strings.ReplaceAll(name, "_", " ")
}
