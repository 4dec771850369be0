// Package propagate infers tickers for comments without a direct mention by
// inheriting decayed confidence from a matched ancestor or the owning post.
package propagate

import (
	"github.com/sawpanic/mentionscan/internal/domain"
)

// Link is the reply-tree edge of a single comment
type Link struct {
	ParentID string
	PostID   string
}

// AncestorMap maps comment id to its parent and post. It is built per batch
// and read-only once built.
type AncestorMap map[string]Link

// BuildAncestorMap indexes the reply edges of a batch
func BuildAncestorMap(comments []domain.Comment) AncestorMap {
	m := make(AncestorMap, len(comments))
	for _, c := range comments {
		m[c.ID] = Link{ParentID: c.ParentID, PostID: c.PostID}
	}
	return m
}

// Chain returns up to maxDepth ancestor ids of c, nearest first. The first
// hop comes from the comment itself so the direct parent is always reachable;
// further hops need the parent to be present in the map.
func (m AncestorMap) Chain(c domain.Comment, maxDepth int) []string {
	if c.ParentID == "" || maxDepth <= 0 {
		return nil
	}

	chain := make([]string, 0, maxDepth)
	visited := map[string]struct{}{c.ID: {}}
	current := c.ParentID
	for current != "" && len(chain) < maxDepth {
		if _, loop := visited[current]; loop {
			break
		}
		visited[current] = struct{}{}
		chain = append(chain, current)

		link, ok := m[current]
		if !ok {
			break
		}
		current = link.ParentID
	}
	return chain
}

// MatchLookup resolves the match already recorded for a text unit
type MatchLookup interface {
	Lookup(unit domain.UnitType, id string) (domain.MatchRecord, bool)
}

type subjectKey struct {
	unit domain.UnitType
	id   string
}

// Accumulator is the ordered, append-only list of matches produced during a
// run. It is owned by the sequential fold and is not safe for concurrent use.
type Accumulator struct {
	records []domain.MatchRecord
	index   map[subjectKey]int
}

// NewAccumulator creates an empty accumulator
func NewAccumulator() *Accumulator {
	return &Accumulator{index: make(map[subjectKey]int)}
}

// Add appends r unless its subject already has a match. The first match for
// a subject wins.
func (a *Accumulator) Add(r domain.MatchRecord) bool {
	key := subjectKey{r.Subject.Type, r.Subject.ID}
	if _, exists := a.index[key]; exists {
		return false
	}
	a.index[key] = len(a.records)
	a.records = append(a.records, r)
	return true
}

// Lookup implements MatchLookup
func (a *Accumulator) Lookup(unit domain.UnitType, id string) (domain.MatchRecord, bool) {
	i, ok := a.index[subjectKey{unit, id}]
	if !ok {
		return domain.MatchRecord{}, false
	}
	return a.records[i], true
}

// Len returns the number of recorded matches
func (a *Accumulator) Len() int {
	return len(a.records)
}

// Records returns a copy of the matches in insertion order
func (a *Accumulator) Records() []domain.MatchRecord {
	out := make([]domain.MatchRecord, len(a.records))
	copy(out, a.records)
	return out
}

// RecordsOf returns the matches recorded for one unit type, in insertion order
func (a *Accumulator) RecordsOf(unit domain.UnitType) []domain.MatchRecord {
	var out []domain.MatchRecord
	for _, r := range a.records {
		if r.Subject.Type == unit {
			out = append(out, r)
		}
	}
	return out
}
