// Package pipeline runs a full scan: load the reference set, classify posts,
// classify and propagate comments batch by batch, then persist the matches.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sawpanic/mentionscan/internal/domain"
	scanlog "github.com/sawpanic/mentionscan/internal/log"
	"github.com/sawpanic/mentionscan/internal/mentions"
	"github.com/sawpanic/mentionscan/internal/metrics"
	"github.com/sawpanic/mentionscan/internal/persistence"
	"github.com/sawpanic/mentionscan/internal/propagate"
	"github.com/sawpanic/mentionscan/internal/reference"
)

const tracerName = "github.com/sawpanic/mentionscan/internal/pipeline"

// Options controls a run
type Options struct {
	BatchSize        int
	Workers          int
	Threshold        float64
	AllowLowercase   bool
	ExcludePostTitle string
	StageByDepth     bool
	DryRun           bool
}

// DefaultOptions returns the production run settings
func DefaultOptions() Options {
	return Options{
		BatchSize:        100,
		Workers:          DefaultWorkers(),
		Threshold:        mentions.DefaultThreshold,
		ExcludePostTitle: "The Lounge",
		StageByDepth:     true,
	}
}

// Deps are the collaborators of a pipeline. Sink may be nil for dry runs and
// Metrics may be nil, in which case a private registry is used.
type Deps struct {
	Reference  reference.Provider
	Corpus     persistence.CorpusStore
	Sink       persistence.MatchSink
	Classifier Classifier
	Engine     *propagate.Engine
	Metrics    *metrics.Registry
}

// Result summarises a completed run
type Result struct {
	RunID            string
	ReferenceSymbols int
	PostsScanned     int
	CommentsScanned  int
	Batches          int
	ScoringFailures  int
	Inserted         int
	ByKind           map[domain.Kind]int
	Matches          []domain.MatchRecord
	Duration         time.Duration
}

// Pipeline runs batch scans. Runs on the same Pipeline must not overlap.
type Pipeline struct {
	deps   Deps
	opts   Options
	tracer trace.Tracer
	now    func() time.Time
	runID  func() string
}

// New validates deps and options and creates a pipeline
func New(deps Deps, opts Options) (*Pipeline, error) {
	if deps.Reference == nil {
		return nil, errors.New("pipeline requires a reference provider")
	}
	if deps.Corpus == nil {
		return nil, errors.New("pipeline requires a corpus store")
	}
	if deps.Sink == nil && !opts.DryRun {
		return nil, errors.New("pipeline requires a match sink unless dry run")
	}
	if deps.Classifier == nil {
		deps.Classifier = mentions.NewScorer(mentions.NewExtractor(mentions.DefaultLexicon()), mentions.DefaultWeights())
	}
	if deps.Engine == nil {
		deps.Engine = propagate.NewEngine(propagate.DefaultConfig())
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewRegistry()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers()
	}

	return &Pipeline{
		deps:   deps,
		opts:   opts,
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
		runID:  uuid.NewString,
	}, nil
}

// Run executes one complete scan
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := p.now()
	res := &Result{RunID: p.runID(), ByKind: make(map[domain.Kind]int)}
	logger := log.With().Str("run_id", res.RunID).Logger()

	ctx, span := p.tracer.Start(ctx, "mentionscan.run", trace.WithAttributes(
		attribute.String("run_id", res.RunID),
		attribute.Int("batch_size", p.opts.BatchSize),
		attribute.Int("workers", p.opts.Workers),
		attribute.Bool("dry_run", p.opts.DryRun),
	))
	defer span.End()

	logger.Info().
		Int("batch_size", p.opts.BatchSize).
		Int("workers", p.opts.Workers).
		Float64("threshold", p.opts.Threshold).
		Bool("allow_lowercase", p.opts.AllowLowercase).
		Bool("stage_by_depth", p.opts.StageByDepth).
		Bool("dry_run", p.opts.DryRun).
		Msg("Starting scan run")

	fail := func(err error) (*Result, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		res.Duration = p.now().Sub(start)
		logger.Error().Err(err).Dur("duration", res.Duration).Msg("Scan run failed")
		return res, err
	}

	timer := p.deps.Metrics.StartStepTimer("reference")
	set, err := reference.Load(ctx, p.deps.Reference)
	if err != nil {
		timer.Stop(metrics.ResultError)
		return fail(err)
	}
	timer.Stop(metrics.ResultSuccess)
	res.ReferenceSymbols = set.Len()
	p.deps.Metrics.SetReferenceSymbols(set.Len())

	acc := propagate.NewAccumulator()

	timer = p.deps.Metrics.StartStepTimer("posts")
	if err := p.scanPosts(ctx, logger, set, acc, res); err != nil {
		timer.Stop(metrics.ResultError)
		return fail(err)
	}
	timer.Stop(metrics.ResultSuccess)

	timer = p.deps.Metrics.StartStepTimer("comments")
	if err := p.scanComments(ctx, logger, set, acc, res); err != nil {
		timer.Stop(metrics.ResultError)
		return fail(err)
	}
	timer.Stop(metrics.ResultSuccess)

	res.Matches = acc.Records()

	if !p.opts.DryRun {
		timer = p.deps.Metrics.StartStepTimer("persist")
		inserted, err := p.deps.Sink.AppendMatches(ctx, res.Matches)
		if err != nil {
			timer.Stop(metrics.ResultError)
			return fail(fmt.Errorf("failed to append matches: %w: %w", domain.ErrDataUnavailable, err))
		}
		timer.Stop(metrics.ResultSuccess)
		res.Inserted = inserted
	}

	res.Duration = p.now().Sub(start)
	span.SetAttributes(
		attribute.Int("matches", len(res.Matches)),
		attribute.Int("inserted", res.Inserted),
	)

	event := logger.Info()
	for kind, n := range res.ByKind {
		event = event.Int(string(kind), n)
	}
	event.
		Int("posts", res.PostsScanned).
		Int("comments", res.CommentsScanned).
		Int("matches", len(res.Matches)).
		Int("inserted", res.Inserted).
		Int("scoring_failures", res.ScoringFailures).
		Dur("duration", res.Duration).
		Msg("Scan run completed")

	return res, nil
}

func (p *Pipeline) classifyOptions(isPost bool) mentions.ClassifyOptions {
	return mentions.ClassifyOptions{
		Threshold:      p.opts.Threshold,
		AllowLowercase: p.opts.AllowLowercase,
		IsPost:         isPost,
	}
}

func (p *Pipeline) record(acc *propagate.Accumulator, res *Result, r domain.MatchRecord) bool {
	r.RunID = res.RunID
	r.DetectedAt = p.now().UTC()
	if !acc.Add(r) {
		return false
	}
	res.ByKind[r.Kind]++
	p.deps.Metrics.RecordMatch(r.Kind)
	return true
}

// scanPosts records the first qualifying candidate of every post title
func (p *Pipeline) scanPosts(ctx context.Context, logger zerolog.Logger, set reference.Set, acc *propagate.Accumulator, res *Result) error {
	ctx, span := p.tracer.Start(ctx, "mentionscan.posts")
	defer span.End()

	cursor, err := p.deps.Corpus.OpenPosts(ctx, p.opts.ExcludePostTitle)
	if err != nil {
		return fmt.Errorf("failed to open posts cursor: %w: %w", domain.ErrDataUnavailable, err)
	}
	defer closeCursor(logger, "posts", cursor)

	progress := scanlog.NewProgressWithLogger("posts", logger)
	opts := p.classifyOptions(true)

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			progress.Fail(err)
			return err
		}

		batchStart := p.now()
		posts, err := cursor.Next(ctx, p.opts.BatchSize)
		if err != nil {
			err = fmt.Errorf("failed to read posts page %d: %w: %w", page, domain.ErrDataUnavailable, err)
			progress.Fail(err)
			return err
		}
		if len(posts) == 0 {
			break
		}

		tasks := make([]scoreTask, len(posts))
		for i, post := range posts {
			tasks[i] = scoreTask{id: post.ID, text: post.Title}
		}
		results, failures, err := scoreBatch(ctx, p.deps.Classifier, set, opts, domain.UnitPost, tasks, p.opts.Workers)
		if err != nil {
			progress.Fail(err)
			return err
		}

		matched := 0
		for i, post := range posts {
			if len(results[i]) == 0 {
				continue
			}
			m := results[i][0]
			if p.record(acc, res, domain.MatchRecord{
				Subject:    domain.Subject{Type: domain.UnitPost, ID: post.ID, Title: post.Title},
				Ticker:     m.Candidate.Symbol,
				Kind:       m.Candidate.Strategy,
				Confidence: m.Score,
				Snippet:    m.Snippet,
				Author:     post.Author,
				CreatedUTC: post.CreatedUTC,
			}) {
				matched++
			}
		}

		elapsed := p.now().Sub(batchStart)
		res.PostsScanned += len(posts)
		res.ScoringFailures += failures
		p.deps.Metrics.RecordRowsScanned(domain.UnitPost, len(posts))
		p.deps.Metrics.ObserveBatch(domain.UnitPost, elapsed)
		for n := 0; n < failures; n++ {
			p.deps.Metrics.RecordScoringFailure(domain.UnitPost)
		}
		progress.Batch(len(posts), matched, failures, elapsed)
	}

	progress.Finish()
	span.SetAttributes(attribute.Int("posts", res.PostsScanned))
	return nil
}

// scanComments scores each batch in parallel, then folds it sequentially so
// propagation sees every match recorded so far
func (p *Pipeline) scanComments(ctx context.Context, logger zerolog.Logger, set reference.Set, acc *propagate.Accumulator, res *Result) error {
	cursor, err := p.deps.Corpus.OpenComments(ctx)
	if err != nil {
		return fmt.Errorf("failed to open comments cursor: %w: %w", domain.ErrDataUnavailable, err)
	}
	defer closeCursor(logger, "comments", cursor)

	progress := scanlog.NewProgressWithLogger("comments", logger)
	opts := p.classifyOptions(false)

	for batch := 1; ; batch++ {
		if err := ctx.Err(); err != nil {
			progress.Fail(err)
			return err
		}

		comments, err := cursor.Next(ctx, p.opts.BatchSize)
		if err != nil {
			err = fmt.Errorf("failed to read comments batch %d: %w: %w", batch, domain.ErrDataUnavailable, err)
			progress.Fail(err)
			return err
		}
		if len(comments) == 0 {
			break
		}

		matched, failures, elapsed, err := p.foldBatch(ctx, batch, set, opts, comments, acc, res)
		if err != nil {
			progress.Fail(err)
			return err
		}

		res.Batches++
		res.CommentsScanned += len(comments)
		res.ScoringFailures += failures
		p.deps.Metrics.RecordRowsScanned(domain.UnitComment, len(comments))
		p.deps.Metrics.ObserveBatch(domain.UnitComment, elapsed)
		for n := 0; n < failures; n++ {
			p.deps.Metrics.RecordScoringFailure(domain.UnitComment)
		}
		progress.Batch(len(comments), matched, failures, elapsed)
	}

	progress.Finish()
	return nil
}

func (p *Pipeline) foldBatch(ctx context.Context, batch int, set reference.Set, opts mentions.ClassifyOptions,
	comments []domain.Comment, acc *propagate.Accumulator, res *Result) (int, int, time.Duration, error) {

	batchStart := p.now()
	ctx, span := p.tracer.Start(ctx, "mentionscan.comments.batch", trace.WithAttributes(
		attribute.Int("batch", batch),
		attribute.Int("rows", len(comments)),
	))
	defer span.End()

	tasks := make([]scoreTask, len(comments))
	for i, c := range comments {
		tasks[i] = scoreTask{id: c.ID, text: c.Body}
	}
	results, failures, err := scoreBatch(ctx, p.deps.Classifier, set, opts, domain.UnitComment, tasks, p.opts.Workers)
	if err != nil {
		return 0, failures, 0, err
	}

	ancestors := propagate.BuildAncestorMap(comments)
	matched := 0
	for _, i := range foldOrder(comments, p.opts.StageByDepth) {
		c := comments[i]

		if len(results[i]) > 0 {
			m := results[i][0]
			if p.record(acc, res, domain.MatchRecord{
				Subject:    domain.Subject{Type: domain.UnitComment, ID: c.ID, ParentID: c.ParentID, PostID: c.PostID},
				Ticker:     m.Candidate.Symbol,
				Kind:       m.Candidate.Strategy,
				Confidence: m.Score,
				Snippet:    m.Snippet,
				Author:     c.Author,
				CreatedUTC: c.CreatedUTC,
			}) {
				matched++
			}
			continue
		}

		chain := ancestors.Chain(c, p.deps.Engine.MaxDepth())
		if inferred, ok := p.deps.Engine.Propagate(c, chain, acc); ok {
			if p.record(acc, res, inferred) {
				matched++
			}
		}
	}

	span.SetAttributes(attribute.Int("matches", matched), attribute.Int("scoring_failures", failures))
	return matched, failures, p.now().Sub(batchStart), nil
}

type closer interface {
	Close() error
}

func closeCursor(logger zerolog.Logger, name string, c closer) {
	if err := c.Close(); err != nil {
		logger.Warn().Err(err).Str("cursor", name).Msg("Failed to close cursor")
	}
}
