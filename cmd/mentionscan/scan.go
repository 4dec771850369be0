package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sawpanic/mentionscan/internal/domain"
	"github.com/sawpanic/mentionscan/internal/infrastructure/db"
	"github.com/sawpanic/mentionscan/internal/metrics"
	"github.com/sawpanic/mentionscan/internal/persistence"
	"github.com/sawpanic/mentionscan/internal/pipeline"
)

type scanFlags struct {
	dryRun         bool
	batchSize      int
	workers        int
	threshold      float64
	allowLowercase bool
	metricsAddr    string
	fixture        string
}

func newScanCmd(a *app) *cobra.Command {
	f := &scanFlags{}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan every post and comment and persist ticker matches",
		Long: `Loads the ticker reference list, classifies all posts and then all comments
in paged batches, propagates confidence down reply chains, and appends the
matches to post_tickers and comment_tickers.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runScan(ctx, a, f, cmd)
		},
	}

	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "Classify without writing matches")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", 0, "Comments per batch (overrides config)")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "Classification workers (overrides config)")
	cmd.Flags().Float64Var(&f.threshold, "threshold", 0, "Score a candidate must exceed (overrides config)")
	cmd.Flags().BoolVar(&f.allowLowercase, "allow-lowercase", false, "Enable the lowercase detection strategy")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address")
	cmd.Flags().StringVar(&f.fixture, "fixture", "", "Read posts and comments from a JSON file instead of the database")

	return cmd
}

// apply overlays explicitly set flags onto the loaded configuration
func (f *scanFlags) apply(flags *pflag.FlagSet, opts *pipeline.Options, metricsAddr *string) {
	if flags.Changed("dry-run") {
		opts.DryRun = f.dryRun
	}
	if flags.Changed("batch-size") {
		opts.BatchSize = f.batchSize
	}
	if flags.Changed("workers") {
		opts.Workers = f.workers
	}
	if flags.Changed("threshold") {
		opts.Threshold = f.threshold
	}
	if flags.Changed("allow-lowercase") {
		opts.AllowLowercase = f.allowLowercase
	}
	if flags.Changed("metrics-addr") {
		*metricsAddr = f.metricsAddr
	}
}

func runScan(ctx context.Context, a *app, f *scanFlags, cmd *cobra.Command) error {
	cfg := a.config
	opts := pipeline.Options{
		BatchSize:        cfg.Scan.BatchSize,
		Workers:          cfg.Scan.ResolvedWorkers(),
		Threshold:        cfg.Scan.Threshold,
		AllowLowercase:   cfg.Scan.AllowLowercase,
		ExcludePostTitle: cfg.Scan.ExcludePostTitle,
		StageByDepth:     cfg.Scan.StageByDepth,
		DryRun:           cfg.Scan.DryRun,
	}
	metricsAddr := ""
	if cfg.Metrics.Enabled {
		metricsAddr = cfg.Metrics.Addr
	}
	f.apply(cmd.Flags(), &opts, &metricsAddr)

	registry := metrics.NewRegistry()

	provider, closeCache, err := buildProvider(cfg, registry)
	if err != nil {
		return err
	}
	defer closeCache()

	deps := pipeline.Deps{
		Reference:  provider,
		Classifier: buildScorer(cfg),
		Engine:     buildEngine(cfg),
		Metrics:    registry,
	}

	var health persistence.RepositoryHealth
	if f.fixture != "" {
		store, err := loadFixture(f.fixture)
		if err != nil {
			return err
		}
		deps.Corpus = store
		deps.Sink = store
		log.Info().Str("fixture", f.fixture).Msg("Using fixture corpus")
	} else {
		manager, err := db.NewManager(cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer manager.Close()

		if !manager.IsEnabled() {
			return errors.New("scan requires database.enabled or --fixture")
		}
		repo := manager.Repository()
		deps.Corpus = repo.Corpus
		deps.Sink = repo.Matches
		health = manager.Health()
	}

	if metricsAddr != "" {
		server := metrics.NewServer(metricsAddr, registry, health)
		if _, err := server.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Metrics server shutdown failed")
			}
		}()
	}

	p, err := pipeline.New(deps, opts)
	if err != nil {
		return err
	}

	res, err := p.Run(ctx)
	if err != nil {
		return err
	}

	printSummary(cmd.OutOrStdout(), res, opts.DryRun)
	return nil
}

func printSummary(w io.Writer, res *pipeline.Result, dryRun bool) {
	fmt.Fprintf(w, "run %s\n", res.RunID)
	fmt.Fprintf(w, "  reference symbols  %d\n", res.ReferenceSymbols)
	fmt.Fprintf(w, "  posts scanned      %d\n", res.PostsScanned)
	fmt.Fprintf(w, "  comments scanned   %d (%d batches)\n", res.CommentsScanned, res.Batches)
	fmt.Fprintf(w, "  scoring failures   %d\n", res.ScoringFailures)
	fmt.Fprintf(w, "  matches            %d\n", len(res.Matches))

	kinds := make([]string, 0, len(res.ByKind))
	for kind := range res.ByKind {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		fmt.Fprintf(w, "    %-22s %d\n", kind, res.ByKind[domain.Kind(kind)])
	}

	if dryRun {
		fmt.Fprintln(w, "  dry run, nothing written")
	} else {
		fmt.Fprintf(w, "  inserted           %d\n", res.Inserted)
	}
	fmt.Fprintf(w, "  duration           %s\n", res.Duration.Round(time.Millisecond))
}
