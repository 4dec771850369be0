// Package log reports long-running scan progress through zerolog.
package log

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Progress accumulates batch counts and logs throughput as rows flow
// through a scan step
type Progress struct {
	mu        sync.Mutex
	name      string
	logger    zerolog.Logger
	startTime time.Time
	batches   int
	rows      int
	matches   int
	failures  int
}

// NewProgress starts a progress reporter for the named step
func NewProgress(name string) *Progress {
	return NewProgressWithLogger(name, log.Logger)
}

// NewProgressWithLogger starts a progress reporter writing to logger
func NewProgressWithLogger(name string, logger zerolog.Logger) *Progress {
	p := &Progress{
		name:      name,
		logger:    logger.With().Str("step", name).Logger(),
		startTime: time.Now(),
	}
	p.logger.Info().Msg("Starting scan step")
	return p
}

// Batch records one completed batch
func (p *Progress) Batch(rows, matches, failures int, elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.batches++
	p.rows += rows
	p.matches += matches
	p.failures += failures

	p.logger.Info().
		Int("batch", p.batches).
		Int("rows", rows).
		Int("matches", matches).
		Int("total_rows", p.rows).
		Int("total_matches", p.matches).
		Float64("rows_per_sec", p.rate()).
		Dur("elapsed", elapsed).
		Msg("Batch completed")
}

// Totals returns the accumulated counts
func (p *Progress) Totals() (batches, rows, matches, failures int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.batches, p.rows, p.matches, p.failures
}

// Finish logs the step summary and returns its duration
func (p *Progress) Finish() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	duration := time.Since(p.startTime)
	event := p.logger.Info()
	if p.failures > 0 {
		event = p.logger.Warn().Int("scoring_failures", p.failures)
	}
	event.
		Int("batches", p.batches).
		Int("rows", p.rows).
		Int("matches", p.matches).
		Float64("rows_per_sec", p.rate()).
		Dur("duration", duration).
		Msg("Scan step completed")
	return duration
}

// Fail logs the step as failed
func (p *Progress) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.logger.Error().
		Err(err).
		Int("completed_batches", p.batches).
		Int("rows", p.rows).
		Dur("duration", time.Since(p.startTime)).
		Msg("Scan step failed")
}

func (p *Progress) rate() float64 {
	elapsed := time.Since(p.startTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(p.rows) / elapsed
}
