package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/mentionscan/internal/domain"
	"github.com/sawpanic/mentionscan/internal/persistence"
)

const (
	insertPostTicker = `
		INSERT INTO post_tickers (post_id, ticker, detected_by, confidence, body, author, created_utc, run_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (post_id) DO NOTHING`

	insertCommentTicker = `
		INSERT INTO comment_tickers (comment_id, parent_id, post_id, ticker, detected_by, confidence,
			context_snippet, inferred_from, hops, author, created_utc, run_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (comment_id) DO NOTHING`

	// undefined_table
	pqUndefinedTable = "42P01"
)

// matchesRepo implements MatchSink for PostgreSQL
type matchesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewMatchesRepo creates a new PostgreSQL match sink
func NewMatchesRepo(db *sqlx.DB, timeout time.Duration) persistence.MatchSink {
	return &matchesRepo{
		db:      db,
		timeout: timeout,
	}
}

// AppendMatches inserts all records in one transaction. Subjects that already
// have a row are skipped and not counted.
func (r *matchesRepo) AppendMatches(ctx context.Context, records []domain.MatchRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(records)/100+1))
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	postStmt, err := tx.PrepareContext(ctx, insertPostTicker)
	if err != nil {
		return 0, wrapPQ("failed to prepare post insert", err)
	}
	defer postStmt.Close()

	commentStmt, err := tx.PrepareContext(ctx, insertCommentTicker)
	if err != nil {
		return 0, wrapPQ("failed to prepare comment insert", err)
	}
	defer commentStmt.Close()

	inserted := 0
	for _, rec := range records {
		var res sql.Result
		switch rec.Subject.Type {
		case domain.UnitPost:
			res, err = postStmt.ExecContext(ctx,
				rec.Subject.ID, rec.Ticker, string(rec.Kind), rec.Confidence,
				rec.Snippet, rec.Author, rec.CreatedUTC, nullString(rec.RunID))
		case domain.UnitComment:
			res, err = commentStmt.ExecContext(ctx,
				rec.Subject.ID, nullString(rec.Subject.ParentID), nullString(rec.Subject.PostID),
				rec.Ticker, string(rec.Kind), rec.Confidence, rec.Snippet,
				nullString(rec.InferredFrom), rec.Hops, rec.Author, rec.CreatedUTC, nullString(rec.RunID))
		default:
			return 0, fmt.Errorf("unknown subject type %q for %s", rec.Subject.Type, rec.Subject.ID)
		}
		if err != nil {
			return 0, wrapPQ(fmt.Sprintf("failed to insert match for %s %s", rec.Subject.Type, rec.Subject.ID), err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to read rows affected: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit matches: %w", err)
	}
	return inserted, nil
}

func wrapPQ(msg string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUndefinedTable {
		return fmt.Errorf("%s: match tables missing, run migrate: %w", msg, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
