// Package memstore is an in-memory CorpusStore and MatchSink used for
// fixtures, dry runs and tests.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/sawpanic/mentionscan/internal/domain"
	"github.com/sawpanic/mentionscan/internal/persistence"
)

// Store holds posts, comments and stored matches in memory
type Store struct {
	mu       sync.RWMutex
	posts    []domain.Post
	comments []domain.Comment
	matches  map[domain.UnitType]map[string]domain.MatchRecord
	order    []domain.MatchRecord

	// OpenErr, when set, is returned by both Open calls
	OpenErr error
	// NextErr, when set, is returned by cursors after the first page
	NextErr error

	openCursors int
}

// New creates a store over the given corpus. Rows are returned in
// (created_utc, id) order, matching the PostgreSQL store.
func New(posts []domain.Post, comments []domain.Comment) *Store {
	s := &Store{
		posts:    append([]domain.Post(nil), posts...),
		comments: append([]domain.Comment(nil), comments...),
		matches: map[domain.UnitType]map[string]domain.MatchRecord{
			domain.UnitPost:    {},
			domain.UnitComment: {},
		},
	}
	sort.SliceStable(s.posts, func(i, j int) bool {
		if s.posts[i].CreatedUTC != s.posts[j].CreatedUTC {
			return s.posts[i].CreatedUTC < s.posts[j].CreatedUTC
		}
		return s.posts[i].ID < s.posts[j].ID
	})
	sort.SliceStable(s.comments, func(i, j int) bool {
		if s.comments[i].CreatedUTC != s.comments[j].CreatedUTC {
			return s.comments[i].CreatedUTC < s.comments[j].CreatedUTC
		}
		return s.comments[i].ID < s.comments[j].ID
	})
	return s
}

// NewUnordered creates a store that yields comments exactly as given
func NewUnordered(posts []domain.Post, comments []domain.Comment) *Store {
	s := New(posts, nil)
	s.comments = append([]domain.Comment(nil), comments...)
	return s
}

// OpenPosts implements persistence.CorpusStore
func (s *Store) OpenPosts(ctx context.Context, excludeTitle string) (persistence.PostCursor, error) {
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []domain.Post
	for _, p := range s.posts {
		if p.Title == "" || p.Title == excludeTitle {
			continue
		}
		rows = append(rows, p)
	}
	s.openCursors++
	return &cursor[domain.Post]{store: s, rows: rows}, nil
}

// OpenComments implements persistence.CorpusStore
func (s *Store) OpenComments(ctx context.Context) (persistence.CommentCursor, error) {
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := append([]domain.Comment(nil), s.comments...)
	s.openCursors++
	return &cursor[domain.Comment]{store: s, rows: rows}, nil
}

// OpenCursors reports cursors opened and not yet closed
func (s *Store) OpenCursors() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.openCursors
}

// AppendMatches implements persistence.MatchSink. The first record for a
// subject wins, later ones are ignored.
func (s *Store) AppendMatches(ctx context.Context, records []domain.MatchRecord) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, r := range records {
		byID, ok := s.matches[r.Subject.Type]
		if !ok {
			byID = map[string]domain.MatchRecord{}
			s.matches[r.Subject.Type] = byID
		}
		if _, exists := byID[r.Subject.ID]; exists {
			continue
		}
		byID[r.Subject.ID] = r
		s.order = append(s.order, r)
		inserted++
	}
	return inserted, nil
}

// EnsureSchema implements persistence.SchemaManager
func (s *Store) EnsureSchema(ctx context.Context) error {
	return nil
}

// Matches returns stored records in insertion order
func (s *Store) Matches() []domain.MatchRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.MatchRecord(nil), s.order...)
}

// Match returns the stored record for a subject
func (s *Store) Match(unit domain.UnitType, id string) (domain.MatchRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.matches[unit][id]
	return r, ok
}

// Repository exposes the store as a persistence.Repository
func (s *Store) Repository() *persistence.Repository {
	return &persistence.Repository{Corpus: s, Matches: s, Schema: s}
}

type cursor[T any] struct {
	store  *Store
	rows   []T
	pos    int
	pages  int
	closed bool
}

func (c *cursor[T]) Next(ctx context.Context, n int) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.pages > 0 && c.store.NextErr != nil {
		return nil, c.store.NextErr
	}
	c.pages++

	if c.pos >= len(c.rows) || n <= 0 {
		return nil, nil
	}
	end := c.pos + n
	if end > len(c.rows) {
		end = len(c.rows)
	}
	page := append([]T(nil), c.rows[c.pos:end]...)
	c.pos = end
	return page, nil
}

func (c *cursor[T]) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.store.mu.Lock()
	c.store.openCursors--
	c.store.mu.Unlock()
	return nil
}
