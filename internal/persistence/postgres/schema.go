package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/mentionscan/internal/persistence"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS post_tickers (
		post_id VARCHAR(255) PRIMARY KEY,
		ticker TEXT NOT NULL,
		detected_by TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		body TEXT,
		author TEXT,
		created_utc BIGINT,
		run_id UUID,
		inserted_at TIMESTAMP WITH TIME ZONE DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS comment_tickers (
		comment_id VARCHAR(255) PRIMARY KEY,
		parent_id VARCHAR(255),
		post_id VARCHAR(255),
		ticker TEXT NOT NULL,
		detected_by TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		context_snippet TEXT,
		inferred_from VARCHAR(255),
		hops INTEGER NOT NULL DEFAULT 0,
		author TEXT,
		created_utc BIGINT,
		run_id UUID,
		inserted_at TIMESTAMP WITH TIME ZONE DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS comment_tickers_ticker_idx ON comment_tickers (ticker)`,
	`CREATE INDEX IF NOT EXISTS post_tickers_ticker_idx ON post_tickers (ticker)`,
}

type schemaManager struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSchemaManager creates the bootstrapper for the match tables
func NewSchemaManager(db *sqlx.DB, timeout time.Duration) persistence.SchemaManager {
	return &schemaManager{db: db, timeout: timeout}
}

// EnsureSchema creates post_tickers and comment_tickers if they are absent
func (s *schemaManager) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// NewRepository wires the PostgreSQL implementations into a Repository
func NewRepository(db *sqlx.DB, timeout time.Duration) *persistence.Repository {
	return &persistence.Repository{
		Corpus:  NewCorpusStore(db),
		Matches: NewMatchesRepo(db, timeout),
		Schema:  NewSchemaManager(db, timeout),
	}
}
