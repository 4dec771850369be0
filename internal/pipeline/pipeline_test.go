package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/mentionscan/internal/domain"
	"github.com/sawpanic/mentionscan/internal/mentions"
	"github.com/sawpanic/mentionscan/internal/metrics"
	"github.com/sawpanic/mentionscan/internal/persistence/memstore"
	"github.com/sawpanic/mentionscan/internal/reference"
)

type fixedListings struct {
	symbols []string
	err     error
}

func (f fixedListings) Listings(ctx context.Context) ([]reference.Listing, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]reference.Listing, 0, len(f.symbols))
	for _, s := range f.symbols {
		out = append(out, reference.Listing{Symbol: s})
	}
	return out, nil
}

var testSymbols = fixedListings{symbols: []string{"AAPL", "TSLA", "GME", "AMC"}}

type panicky struct {
	inner   Classifier
	trigger string
}

func (p panicky) Classify(text string, set reference.Set, opts mentions.ClassifyOptions) []mentions.Match {
	if text == p.trigger {
		panic("unexpected input")
	}
	return p.inner.Classify(text, set, opts)
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Workers = 4
	return opts
}

func newTestPipeline(t *testing.T, store *memstore.Store, opts Options) *Pipeline {
	t.Helper()
	p, err := New(Deps{Reference: testSymbols, Corpus: store, Sink: store}, opts)
	require.NoError(t, err)
	return p
}

func TestRun_PostPropagationEndToEnd(t *testing.T) {
	store := memstore.New(
		[]domain.Post{{ID: "p1", Title: "AAPL is due for a pullback", Author: "alice", CreatedUTC: 1}},
		[]domain.Comment{{ID: "c1", PostID: "p1", Body: "same here", Author: "bob", CreatedUTC: 2}},
	)

	res, err := newTestPipeline(t, store, testOptions()).Run(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 1, res.PostsScanned)
	assert.Equal(t, 1, res.CommentsScanned)
	assert.Equal(t, 2, res.Inserted)
	require.Len(t, res.Matches, 2)

	post, ok := store.Match(domain.UnitPost, "p1")
	require.True(t, ok)
	assert.Equal(t, "AAPL", post.Ticker)
	assert.Equal(t, domain.KindAllCaps, post.Kind)
	assert.Equal(t, 0.91, post.Confidence)
	assert.Equal(t, "AAPL is due for a pullback", post.Subject.Title)

	reply, ok := store.Match(domain.UnitComment, "c1")
	require.True(t, ok)
	assert.Equal(t, "AAPL", reply.Ticker)
	assert.Equal(t, domain.KindPropagatedPost, reply.Kind)
	assert.Equal(t, 0.728, reply.Confidence)
	assert.Equal(t, "p1", reply.InferredFrom)
	assert.Equal(t, 1, reply.Hops)
	assert.Equal(t, res.RunID, reply.RunID)
	assert.False(t, reply.DetectedAt.IsZero())

	assert.Equal(t, 1, res.ByKind[domain.KindAllCaps])
	assert.Equal(t, 1, res.ByKind[domain.KindPropagatedPost])
}

func TestRun_CommentChain(t *testing.T) {
	store := memstore.New(
		[]domain.Post{{ID: "p1", Title: "Daily thoughts", CreatedUTC: 1}},
		[]domain.Comment{
			{ID: "c1", PostID: "p1", Body: "$TSLA", CreatedUTC: 2},
			{ID: "c2", ParentID: "c1", PostID: "p1", Body: "agreed", CreatedUTC: 3},
			{ID: "c3", ParentID: "c2", PostID: "p1", Body: "yes", CreatedUTC: 4},
		},
	)

	res, err := newTestPipeline(t, store, testOptions()).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Matches, 2)

	direct, ok := store.Match(domain.UnitComment, "c1")
	require.True(t, ok)
	assert.Equal(t, domain.KindDollar, direct.Kind)
	assert.Equal(t, 0.91, direct.Confidence)

	child, ok := store.Match(domain.UnitComment, "c2")
	require.True(t, ok)
	assert.Equal(t, domain.KindPropagatedComment, child.Kind)
	assert.Equal(t, 0.728, child.Confidence)
	assert.Equal(t, "c1", child.InferredFrom)

	_, ok = store.Match(domain.UnitComment, "c3")
	assert.False(t, ok, "a propagated 0.728 cannot seed and 0.91 decays below the limit at depth two")
}

func TestRun_ParentInEarlierBatch(t *testing.T) {
	store := memstore.New(nil, []domain.Comment{
		{ID: "c1", PostID: "p1", Body: "$GME", CreatedUTC: 1},
		{ID: "c2", ParentID: "c1", PostID: "p1", Body: "nice", CreatedUTC: 2},
	})
	opts := testOptions()
	opts.BatchSize = 1

	res, err := newTestPipeline(t, store, opts).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Batches)

	child, ok := store.Match(domain.UnitComment, "c2")
	require.True(t, ok)
	assert.Equal(t, "GME", child.Ticker)
	assert.Equal(t, domain.KindPropagatedComment, child.Kind)
}

func TestRun_StageByDepth(t *testing.T) {
	comments := []domain.Comment{
		{ID: "c2", ParentID: "c1", PostID: "p1", Body: "nice"},
		{ID: "c1", PostID: "p1", Body: "$GME"},
	}

	t.Run("staged", func(t *testing.T) {
		store := memstore.NewUnordered(nil, comments)
		res, err := newTestPipeline(t, store, testOptions()).Run(context.Background())
		require.NoError(t, err)
		assert.Len(t, res.Matches, 2)

		_, ok := store.Match(domain.UnitComment, "c2")
		assert.True(t, ok)
	})

	t.Run("fetch_order", func(t *testing.T) {
		store := memstore.NewUnordered(nil, comments)
		opts := testOptions()
		opts.StageByDepth = false

		res, err := newTestPipeline(t, store, opts).Run(context.Background())
		require.NoError(t, err)
		assert.Len(t, res.Matches, 1)

		_, ok := store.Match(domain.UnitComment, "c2")
		assert.False(t, ok)
	})
}

func TestRun_ExcludedPost(t *testing.T) {
	store := memstore.New(
		[]domain.Post{
			{ID: "p1", Title: "The Lounge", CreatedUTC: 1},
			{ID: "p2", Title: "", CreatedUTC: 2},
		},
		[]domain.Comment{{ID: "c1", PostID: "p1", Body: "same", CreatedUTC: 3}},
	)

	res, err := newTestPipeline(t, store, testOptions()).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.PostsScanned)
	assert.Empty(t, res.Matches)
}

func TestRun_WorkerPanicTolerated(t *testing.T) {
	store := memstore.New(nil, []domain.Comment{
		{ID: "c1", PostID: "p1", Body: "boom", CreatedUTC: 1},
		{ID: "c2", PostID: "p1", Body: "$AMC", CreatedUTC: 2},
	})
	registry := metrics.NewRegistry()
	classifier := panicky{
		inner:   mentions.NewScorer(mentions.NewExtractor(mentions.DefaultLexicon()), mentions.DefaultWeights()),
		trigger: "boom",
	}

	p, err := New(Deps{Reference: testSymbols, Corpus: store, Sink: store, Classifier: classifier, Metrics: registry}, testOptions())
	require.NoError(t, err)

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.ScoringFailures)
	assert.Equal(t, 1.0, testutil.ToFloat64(registry.ScoringFailures.WithLabelValues("comment")))

	_, ok := store.Match(domain.UnitComment, "c2")
	assert.True(t, ok)
	_, ok = store.Match(domain.UnitComment, "c1")
	assert.False(t, ok)
}

func TestRun_StoreFailureClosesCursor(t *testing.T) {
	store := memstore.New([]domain.Post{{ID: "p1", Title: "AAPL", CreatedUTC: 1}}, nil)
	store.NextErr = errors.New("connection reset by peer")

	_, err := newTestPipeline(t, store, testOptions()).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
	assert.Contains(t, err.Error(), "connection reset by peer")
	assert.Zero(t, store.OpenCursors())
	assert.Empty(t, store.Matches(), "nothing is persisted after a failed read")
}

func TestRun_OpenFailure(t *testing.T) {
	store := memstore.New(nil, nil)
	store.OpenErr = errors.New("no route to host")

	_, err := newTestPipeline(t, store, testOptions()).Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}

func TestRun_ReferenceUnavailable(t *testing.T) {
	store := memstore.New(nil, nil)
	p, err := New(Deps{Reference: fixedListings{err: errors.New("404")}, Corpus: store, Sink: store}, testOptions())
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
	assert.Zero(t, store.OpenCursors())
}

func TestRun_Idempotent(t *testing.T) {
	store := memstore.New(
		[]domain.Post{{ID: "p1", Title: "AAPL is due for a pullback", CreatedUTC: 1}},
		[]domain.Comment{{ID: "c1", PostID: "p1", Body: "same here", CreatedUTC: 2}},
	)
	p := newTestPipeline(t, store, testOptions())

	first, err := p.Run(context.Background())
	require.NoError(t, err)
	second, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, first.Inserted)
	assert.Zero(t, second.Inserted)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Len(t, store.Matches(), 2)
}

func TestRun_DryRun(t *testing.T) {
	store := memstore.New([]domain.Post{{ID: "p1", Title: "GME", CreatedUTC: 1}}, nil)
	opts := testOptions()
	opts.DryRun = true

	p, err := New(Deps{Reference: testSymbols, Corpus: store}, opts)
	require.NoError(t, err)

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Matches, 1)
	assert.Zero(t, res.Inserted)
	assert.Empty(t, store.Matches())
}

func TestRun_Canceled(t *testing.T) {
	store := memstore.New([]domain.Post{{ID: "p1", Title: "GME"}}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestPipeline(t, store, testOptions()).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, store.OpenCursors())
}

func TestNew_RequiresDeps(t *testing.T) {
	store := memstore.New(nil, nil)

	_, err := New(Deps{Corpus: store, Sink: store}, testOptions())
	assert.Error(t, err)
	_, err = New(Deps{Reference: testSymbols, Sink: store}, testOptions())
	assert.Error(t, err)
	_, err = New(Deps{Reference: testSymbols, Corpus: store}, testOptions())
	assert.Error(t, err)
}

func TestFoldOrder(t *testing.T) {
	comments := []domain.Comment{
		{ID: "c3", ParentID: "c2"},
		{ID: "x1", ParentID: "old"},
		{ID: "c2", ParentID: "c1"},
		{ID: "c1"},
	}

	assert.Equal(t, []int{0, 1, 2, 3}, foldOrder(comments, false))
	assert.Equal(t, []int{1, 3, 2, 0}, foldOrder(comments, true))

	cycle := []domain.Comment{{ID: "a", ParentID: "b"}, {ID: "b", ParentID: "a"}}
	assert.Len(t, foldOrder(cycle, true), 2)
}
