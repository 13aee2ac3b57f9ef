package cache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rulebridge/rulebridge/metric"
)

// cacheMetrics holds the optional prometheus collectors mirroring the
// atomic stats.
type cacheMetrics struct {
	hits    prometheus.Counter
	misses  prometheus.Counter
	sets    prometheus.Counter
	deletes prometheus.Counter
	errors  prometheus.Counter
}

func newCacheMetrics(registry *metric.MetricsRegistry, component string) (*cacheMetrics, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "rulebridge",
			Subsystem:   "cache",
			Name:        name,
			ConstLabels: prometheus.Labels{"component": component},
			Help:        help,
		})
	}

	m := &cacheMetrics{
		hits:    counter("hits_total", "Total number of cache hits"),
		misses:  counter("misses_total", "Total number of cache misses"),
		sets:    counter("sets_total", "Total number of cache set operations"),
		deletes: counter("deletes_total", "Total number of cache invalidations"),
		errors:  counter("errors_total", "Total number of degraded cache operations"),
	}

	registrations := []struct {
		name string
		c    prometheus.Counter
	}{
		{"cache_hits", m.hits},
		{"cache_misses", m.misses},
		{"cache_sets", m.sets},
		{"cache_deletes", m.deletes},
		{"cache_errors", m.errors},
	}
	for _, r := range registrations {
		if err := registry.RegisterCounter(component, r.name, r.c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
