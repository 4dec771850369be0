package propagate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/mentionscan/internal/domain"
)

func commentMatch(id string, ticker string, score float64) domain.MatchRecord {
	return domain.MatchRecord{
		Subject:    domain.Subject{Type: domain.UnitComment, ID: id},
		Ticker:     ticker,
		Kind:       domain.KindDollar,
		Confidence: score,
	}
}

func postMatch(id string, ticker string, score float64) domain.MatchRecord {
	return domain.MatchRecord{
		Subject:    domain.Subject{Type: domain.UnitPost, ID: id},
		Ticker:     ticker,
		Kind:       domain.KindAllCaps,
		Confidence: score,
	}
}

func accumulatorWith(records ...domain.MatchRecord) *Accumulator {
	acc := NewAccumulator()
	for _, r := range records {
		acc.Add(r)
	}
	return acc
}

// thread builds p1 <- c1 <- c2 <- c3 <- c4 <- c5
func thread() []domain.Comment {
	return []domain.Comment{
		{ID: "c1", PostID: "p1", Body: "top"},
		{ID: "c2", ParentID: "c1", PostID: "p1", Body: "reply"},
		{ID: "c3", ParentID: "c2", PostID: "p1", Body: "reply"},
		{ID: "c4", ParentID: "c3", PostID: "p1", Body: "reply"},
		{ID: "c5", ParentID: "c4", PostID: "p1", Body: "same here", Author: "bob"},
	}
}

func TestAncestorMap_Chain(t *testing.T) {
	comments := thread()
	m := BuildAncestorMap(comments)

	assert.Nil(t, m.Chain(comments[0], MaxDepth), "top-level comment has no ancestors")
	assert.Equal(t, []string{"c4", "c3", "c2"}, m.Chain(comments[4], MaxDepth))
	assert.Equal(t, []string{"c1"}, m.Chain(comments[1], MaxDepth))

	t.Run("parent_outside_batch", func(t *testing.T) {
		orphan := domain.Comment{ID: "x9", ParentID: "old1", PostID: "p1"}
		assert.Equal(t, []string{"old1"}, BuildAncestorMap([]domain.Comment{orphan}).Chain(orphan, MaxDepth))
	})

	t.Run("cycle_terminates", func(t *testing.T) {
		a := domain.Comment{ID: "a", ParentID: "b"}
		b := domain.Comment{ID: "b", ParentID: "a"}
		assert.Equal(t, []string{"b"}, BuildAncestorMap([]domain.Comment{a, b}).Chain(a, MaxDepth))
	})
}

func TestAccumulator_FirstMatchWins(t *testing.T) {
	acc := NewAccumulator()

	assert.True(t, acc.Add(commentMatch("c1", "AAPL", 0.91)))
	assert.False(t, acc.Add(commentMatch("c1", "TSLA", 1.5)))
	assert.True(t, acc.Add(postMatch("c1", "GME", 0.91)), "posts and comments are separate subjects")

	got, ok := acc.Lookup(domain.UnitComment, "c1")
	require.True(t, ok)
	assert.Equal(t, "AAPL", got.Ticker)
	assert.Equal(t, 2, acc.Len())
	assert.Len(t, acc.RecordsOf(domain.UnitPost), 1)
}

func TestEngine_Propagate(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	comments := thread()
	m := BuildAncestorMap(comments)
	c5 := comments[4]
	chain := m.Chain(c5, engine.MaxDepth())

	tests := []struct {
		name     string
		matches  []domain.MatchRecord
		wantOK   bool
		wantKind domain.Kind
		wantConf float64
		wantFrom string
		wantHops int
		wantTick string
	}{
		{
			name:     "direct_parent",
			matches:  []domain.MatchRecord{commentMatch("c4", "AAPL", 0.91)},
			wantOK:   true,
			wantKind: domain.KindPropagatedComment,
			wantConf: 0.728,
			wantFrom: "c4",
			wantHops: 1,
			wantTick: "AAPL",
		},
		{
			name:    "boundary_is_exclusive",
			matches: []domain.MatchRecord{commentMatch("c4", "AAPL", 0.9)},
			wantOK:  false,
		},
		{
			name:    "below_seed_limit",
			matches: []domain.MatchRecord{commentMatch("c4", "AAPL", 0.899)},
			wantOK:  false,
		},
		{
			name:     "grandparent_two_hops",
			matches:  []domain.MatchRecord{commentMatch("c3", "GME", 1.31)},
			wantOK:   true,
			wantKind: domain.KindPropagatedComment,
			wantConf: 0.838,
			wantFrom: "c3",
			wantHops: 2,
			wantTick: "GME",
		},
		{
			name:     "nearest_success_wins",
			matches:  []domain.MatchRecord{commentMatch("c4", "AAPL", 0.91), commentMatch("c3", "GME", 3.0)},
			wantOK:   true,
			wantKind: domain.KindPropagatedComment,
			wantConf: 0.728,
			wantFrom: "c4",
			wantHops: 1,
			wantTick: "AAPL",
		},
		{
			name:     "seeded_but_decayed_parent_falls_through",
			matches:  []domain.MatchRecord{commentMatch("c4", "AAPL", 0.9), commentMatch("c3", "GME", 1.5)},
			wantOK:   true,
			wantKind: domain.KindPropagatedComment,
			wantConf: 0.96,
			wantFrom: "c3",
			wantHops: 2,
			wantTick: "GME",
		},
		{
			name:    "fourth_level_never_consulted",
			matches: []domain.MatchRecord{commentMatch("c1", "NVDA", 9.0)},
			wantOK:  false,
		},
		{
			name:     "post_propagation",
			matches:  []domain.MatchRecord{postMatch("p1", "AAPL", 0.91)},
			wantOK:   true,
			wantKind: domain.KindPropagatedPost,
			wantConf: 0.728,
			wantFrom: "p1",
			wantHops: 1,
			wantTick: "AAPL",
		},
		{
			name:     "ancestor_beats_post",
			matches:  []domain.MatchRecord{postMatch("p1", "AAPL", 2.0), commentMatch("c2", "TSLA", 1.81)},
			wantOK:   true,
			wantKind: domain.KindPropagatedComment,
			wantConf: 0.927,
			wantFrom: "c2",
			wantHops: 3,
			wantTick: "TSLA",
		},
		{
			name:    "post_boundary_is_exclusive",
			matches: []domain.MatchRecord{postMatch("p1", "AAPL", 0.9)},
			wantOK:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := engine.Propagate(c5, chain, accumulatorWith(tt.matches...))
			require.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantConf, got.Confidence)
			assert.Equal(t, tt.wantFrom, got.InferredFrom)
			assert.Equal(t, tt.wantHops, got.Hops)
			assert.Equal(t, tt.wantTick, got.Ticker)
			assert.Equal(t, domain.Subject{Type: domain.UnitComment, ID: "c5", ParentID: "c4", PostID: "p1"}, got.Subject)
			assert.Equal(t, "same here", got.Snippet)
			assert.Equal(t, "bob", got.Author)
		})
	}
}

func TestEngine_DepthCapOnLongChain(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	c := domain.Comment{ID: "leaf", ParentID: "a1"}

	_, ok := engine.Propagate(c, []string{"a1", "a2", "a3", "a4"}, accumulatorWith(commentMatch("a4", "AAPL", 50)))
	assert.False(t, ok)
}

func TestEngine_NeverReachesSourceConfidence(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	c := domain.Comment{ID: "leaf", ParentID: "a1", PostID: "p"}

	for score := 0.9; score <= 4.0; score += 0.013 {
		for depth := 1; depth <= MaxDepth; depth++ {
			chain := []string{"a1", "a2", "a3"}[:depth]
			acc := accumulatorWith(commentMatch(chain[depth-1], "AAPL", score))

			got, ok := engine.Propagate(c, chain, acc)
			if !ok {
				continue
			}
			assert.Less(t, got.Confidence, score)
			assert.Greater(t, got.Confidence, ChildConfLimit)
		}
	}
}

func TestRound3(t *testing.T) {
	assert.Equal(t, 0.728, Round3(0.91*0.8))
	assert.Equal(t, 0.72, Round3(0.9*0.8))
	assert.Equal(t, 1.048, Round3(1.31*0.8))
}
