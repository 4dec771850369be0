// Package metrics exposes scan counters through Prometheus.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/mentionscan/internal/domain"
)

const namespace = "mentionscan"

// Registry holds all Prometheus metrics for a scan process
type Registry struct {
	registry *prometheus.Registry

	RowsScanned     *prometheus.CounterVec
	Matches         *prometheus.CounterVec
	BatchDuration   *prometheus.HistogramVec
	ScoringFailures *prometheus.CounterVec
	StepDuration    *prometheus.HistogramVec

	ReferenceSymbols prometheus.Gauge
	CacheHits        *prometheus.CounterVec
	CacheMisses      *prometheus.CounterVec
	CacheHitRatio    prometheus.Gauge

	mu         sync.Mutex
	cacheNames map[string]struct{}
}

// NewRegistry creates the collectors and registers them on a private
// registry, so tests and multiple pipelines never collide on the default one
func NewRegistry() *Registry {
	m := &Registry{
		registry: prometheus.NewRegistry(),

		RowsScanned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_scanned_total",
				Help:      "Text units read from the corpus by unit type",
			},
			[]string{"unit"},
		),

		Matches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "matches_total",
				Help:      "Match records produced by kind",
			},
			[]string{"kind"},
		),

		BatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Time to score and fold one batch",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"unit"},
		),

		ScoringFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scoring_failures_total",
				Help:      "Rows whose scoring panicked and were treated as no match",
			},
			[]string{"unit"},
		),

		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of each run step in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
			},
			[]string{"step", "result"},
		),

		ReferenceSymbols: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "reference_symbols",
				Help:      "Number of symbols in the loaded reference set",
			},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Cache hits by cache name",
			},
			[]string{"cache"},
		),

		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Cache misses by cache name",
			},
			[]string{"cache"},
		),

		CacheHitRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_hit_ratio",
				Help:      "Hit ratio across all caches (0.0 to 1.0)",
			},
		),

		cacheNames: make(map[string]struct{}),
	}

	m.registry.MustRegister(
		m.RowsScanned,
		m.Matches,
		m.BatchDuration,
		m.ScoringFailures,
		m.StepDuration,
		m.ReferenceSymbols,
		m.CacheHits,
		m.CacheMisses,
		m.CacheHitRatio,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Gatherer exposes the private registry to the HTTP handler
func (m *Registry) Gatherer() prometheus.Gatherer {
	return m.registry
}

// RecordRowsScanned counts rows read for a unit type
func (m *Registry) RecordRowsScanned(unit domain.UnitType, n int) {
	m.RowsScanned.WithLabelValues(string(unit)).Add(float64(n))
}

// RecordMatch counts one match record
func (m *Registry) RecordMatch(kind domain.Kind) {
	m.Matches.WithLabelValues(string(kind)).Inc()
}

// ObserveBatch records the duration of one batch
func (m *Registry) ObserveBatch(unit domain.UnitType, d time.Duration) {
	m.BatchDuration.WithLabelValues(string(unit)).Observe(d.Seconds())
}

// RecordScoringFailure counts a recovered worker panic
func (m *Registry) RecordScoringFailure(unit domain.UnitType) {
	m.ScoringFailures.WithLabelValues(string(unit)).Inc()
}

// SetReferenceSymbols records the reference set size
func (m *Registry) SetReferenceSymbols(n int) {
	m.ReferenceSymbols.Set(float64(n))
}

// RecordCacheHit records a cache hit for the named cache
func (m *Registry) RecordCacheHit(cache string) {
	m.CacheHits.WithLabelValues(cache).Inc()
	m.updateCacheHitRatio(cache)
}

// RecordCacheMiss records a cache miss for the named cache
func (m *Registry) RecordCacheMiss(cache string) {
	m.CacheMisses.WithLabelValues(cache).Inc()
	m.updateCacheHitRatio(cache)
}

// updateCacheHitRatio sums hits and misses over every cache seen so far
func (m *Registry) updateCacheHitRatio(cache string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cacheNames[cache] = struct{}{}
	names := make([]string, 0, len(m.cacheNames))
	for name := range m.cacheNames {
		names = append(names, name)
	}
	sort.Strings(names)

	totalHits, totalMisses := 0.0, 0.0
	for _, name := range names {
		totalHits += counterValue(m.CacheHits, name)
		totalMisses += counterValue(m.CacheMisses, name)
	}

	if total := totalHits + totalMisses; total > 0 {
		m.CacheHitRatio.Set(totalHits / total)
	}
}

func counterValue(vec *prometheus.CounterVec, label string) float64 {
	counter, err := vec.GetMetricWithLabelValues(label)
	if err != nil {
		return 0
	}
	var metric dto.Metric
	if err := counter.Write(&metric); err != nil {
		return 0
	}
	return metric.GetCounter().GetValue()
}

// StepTimer tracks execution time for run steps
type StepTimer struct {
	metrics *Registry
	step    string
	start   time.Time
}

// StartStepTimer begins timing a run step
func (m *Registry) StartStepTimer(step string) *StepTimer {
	return &StepTimer{metrics: m, step: step, start: time.Now()}
}

// Stop completes the step timing and records the metric
func (st *StepTimer) Stop(result string) time.Duration {
	duration := time.Since(st.start)
	st.metrics.StepDuration.WithLabelValues(st.step, result).Observe(duration.Seconds())

	log.Debug().
		Str("step", st.step).
		Str("result", result).
		Dur("duration", duration).
		Msg("Run step completed")
	return duration
}

const (
	ResultSuccess = "success"
	ResultError   = "error"
)
