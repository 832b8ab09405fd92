package metrics

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goliatone/go-dispatch/core"
)

// PrometheusRecorder exposes engine counters and timings through a dedicated
// registry. Metric names arrive dot-separated from the engine and are
// sanitized to the prometheus charset; the label schema for each metric is
// fixed by the first observation, later calls fill missing labels with "".
type PrometheusRecorder struct {
	registry   *prometheus.Registry
	mu         sync.Mutex
	counters   map[string]*counterEntry
	histograms map[string]*histogramEntry
}

type counterEntry struct {
	vec    *prometheus.CounterVec
	labels []string
}

type histogramEntry struct {
	vec    *prometheus.HistogramVec
	labels []string
}

func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		registry:   prometheus.NewRegistry(),
		counters:   map[string]*counterEntry{},
		histograms: map[string]*histogramEntry{},
	}
}

// Handler serves the recorder's registry in the Prometheus text format.
func (r *PrometheusRecorder) Handler() http.Handler {
	if r == nil || r.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry so callers can attach collectors
// such as process or Go runtime stats.
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *PrometheusRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if r == nil || value <= 0 {
		return
	}
	metric := sanitizeMetricName(name)
	if metric == "" {
		return
	}

	r.mu.Lock()
	entry, ok := r.counters[metric]
	if !ok {
		labels := labelSchema(tags)
		entry = &counterEntry{
			vec: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: metric,
				Help: "Engine counter " + metric,
			}, labels),
			labels: labels,
		}
		if err := r.registry.Register(entry.vec); err != nil {
			r.mu.Unlock()
			return
		}
		r.counters[metric] = entry
	}
	r.mu.Unlock()

	entry.vec.With(labelValues(entry.labels, tags)).Add(float64(value))
}

func (r *PrometheusRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if r == nil || value < 0 {
		return
	}
	metric := sanitizeMetricName(name)
	if metric == "" {
		return
	}

	r.mu.Lock()
	entry, ok := r.histograms[metric]
	if !ok {
		labels := labelSchema(tags)
		entry = &histogramEntry{
			vec: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    metric,
				Help:    "Engine timing " + metric,
				Buckets: prometheus.DefBuckets,
			}, labels),
			labels: labels,
		}
		if err := r.registry.Register(entry.vec); err != nil {
			r.mu.Unlock()
			return
		}
		r.histograms[metric] = entry
	}
	r.mu.Unlock()

	entry.vec.With(labelValues(entry.labels, tags)).Observe(value)
}

func sanitizeMetricName(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return ""
	}
	var out strings.Builder
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r == '_':
			out.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				out.WriteRune('_')
			}
			out.WriteRune(r)
		default:
			out.WriteRune('_')
		}
	}
	return out.String()
}

func labelSchema(tags map[string]string) []string {
	if len(tags) == 0 {
		return nil
	}
	labels := make([]string, 0, len(tags))
	for key := range tags {
		key = sanitizeMetricName(key)
		if key == "" {
			continue
		}
		labels = append(labels, key)
	}
	sort.Strings(labels)
	return labels
}

func labelValues(labels []string, tags map[string]string) prometheus.Labels {
	values := make(prometheus.Labels, len(labels))
	for _, label := range labels {
		values[label] = ""
	}
	for key, value := range tags {
		key = sanitizeMetricName(key)
		if _, ok := values[key]; ok {
			values[key] = value
		}
	}
	return values
}

var _ core.MetricsRecorder = (*PrometheusRecorder)(nil)
