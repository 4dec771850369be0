package persistence

import (
	"context"
	"time"

	"github.com/sawpanic/mentionscan/internal/domain"
)

// PostCursor pages through posts in a stable order
type PostCursor interface {
	// Next returns up to n posts; an empty slice means the cursor is exhausted
	Next(ctx context.Context, n int) ([]domain.Post, error)

	// Close releases the underlying rows
	Close() error
}

// CommentCursor pages through comments in a stable order
type CommentCursor interface {
	// Next returns up to n comments; an empty slice means the cursor is exhausted
	Next(ctx context.Context, n int) ([]domain.Comment, error)

	// Close releases the underlying rows
	Close() error
}

// CorpusStore provides read access to the scanned text units
type CorpusStore interface {
	// OpenPosts opens a cursor over posts, skipping empty titles and excludeTitle
	OpenPosts(ctx context.Context, excludeTitle string) (PostCursor, error)

	// OpenComments opens a cursor over comments ordered by creation time
	OpenComments(ctx context.Context) (CommentCursor, error)
}

// MatchSink receives match records at the end of a run
type MatchSink interface {
	// AppendMatches stores records, ignoring subjects that already have a
	// match. It returns the number of rows actually inserted.
	AppendMatches(ctx context.Context, records []domain.MatchRecord) (int, error)
}

// SchemaManager creates the match tables
type SchemaManager interface {
	EnsureSchema(ctx context.Context) error
}

// Repository aggregates the persistence interfaces used by a scan
type Repository struct {
	Corpus  CorpusStore
	Matches MatchSink
	Schema  SchemaManager
}

// HealthCheck represents repository health status
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for persistence layer
type RepositoryHealth interface {
	// Health returns current repository health status
	Health(ctx context.Context) HealthCheck

	// Ping tests basic connectivity to database
	Ping(ctx context.Context) error

	// Stats returns connection pool statistics
	Stats(ctx context.Context) map[string]interface{}
}
