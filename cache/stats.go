package cache

import "github.com/rcrowley/go-metrics"

// Stats is snapshot of store counters.
type Stats struct {
	Hits        int64
	Misses      int64
	Puts        int64
	Replaced    int64
	Declined    int64
	Evicted     int64
	TempFreed   int64
	Invalidated int64
	Entries     int64
	Bytes       int64
}

type stats struct {
	registry    metrics.Registry
	hits        metrics.Counter
	misses      metrics.Counter
	puts        metrics.Counter
	replaced    metrics.Counter
	declined    metrics.Counter
	evicted     metrics.Counter
	tempFreed   metrics.Counter
	invalidated metrics.Counter
	entries     metrics.Gauge
	bytes       metrics.Gauge
	recycle     metrics.Timer
}

func newStats(r metrics.Registry, s *Store) *stats {
	if r == nil {
		r = metrics.NewRegistry()
	}
	return &stats{
		registry:    r,
		hits:        metrics.NewRegisteredCounter("cache.hit", r),
		misses:      metrics.NewRegisteredCounter("cache.miss", r),
		puts:        metrics.NewRegisteredCounter("cache.put", r),
		replaced:    metrics.NewRegisteredCounter("cache.replace", r),
		declined:    metrics.NewRegisteredCounter("cache.decline", r),
		evicted:     metrics.NewRegisteredCounter("cache.evict", r),
		tempFreed:   metrics.NewRegisteredCounter("cache.temp_free", r),
		invalidated: metrics.NewRegisteredCounter("cache.invalidate", r),
		entries:     metrics.NewRegisteredFunctionalGauge("cache.entries", r, func() int64 { return int64(s.Len()) }),
		bytes:       metrics.NewRegisteredFunctionalGauge("cache.bytes", r, s.Bytes),
		recycle:     metrics.NewRegisteredTimer("cache.recycle", r),
	}
}

func (s *Store) Stats() Stats {
	st := s.stats
	return Stats{
		Hits:        st.hits.Count(),
		Misses:      st.misses.Count(),
		Puts:        st.puts.Count(),
		Replaced:    st.replaced.Count(),
		Declined:    st.declined.Count(),
		Evicted:     st.evicted.Count(),
		TempFreed:   st.tempFreed.Count(),
		Invalidated: st.invalidated.Count(),
		Entries:     st.entries.Value(),
		Bytes:       st.bytes.Value(),
	}
}

// Metrics returns registry store metrics are registered in.
func (s *Store) Metrics() metrics.Registry { return s.stats.registry }
