package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/mentionscan/internal/domain"
	"github.com/sawpanic/mentionscan/internal/mentions"
	"github.com/sawpanic/mentionscan/internal/reference"
)

// Classifier scores one text unit. *mentions.Scorer implements it.
type Classifier interface {
	Classify(text string, set reference.Set, opts mentions.ClassifyOptions) []mentions.Match
}

// DefaultWorkers returns NumCPU-1 with a floor of one
func DefaultWorkers() int {
	if n := runtime.NumCPU() - 1; n > 1 {
		return n
	}
	return 1
}

// scoreTask is one row handed to the pool. Only the text crosses the
// goroutine boundary; the set and classifier are read-only.
type scoreTask struct {
	id   string
	text string
}

// scoreBatch classifies every task with at most workers goroutines. results
// is index-aligned with tasks. A panicking row yields nil and is counted.
func scoreBatch(ctx context.Context, classifier Classifier, set reference.Set, opts mentions.ClassifyOptions,
	unit domain.UnitType, tasks []scoreTask, workers int) ([][]mentions.Match, int, error) {

	results := make([][]mentions.Match, len(tasks))
	var failures atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range tasks {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					failures.Add(1)
					results[i] = nil
					log.Error().
						Err(fmt.Errorf("%w: %v", domain.ErrScoring, r)).
						Str("unit", string(unit)).
						Str("id", tasks[i].id).
						Bytes("stack", debug.Stack()).
						Msg("Scoring worker panicked, row treated as no match")
				}
			}()
			results[i] = classifier.Classify(tasks[i].text, set, opts)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, int(failures.Load()), err
	}
	if err := ctx.Err(); err != nil {
		return nil, int(failures.Load()), err
	}
	return results, int(failures.Load()), nil
}
