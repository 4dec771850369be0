package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/mentionscan/internal/domain"
	"github.com/sawpanic/mentionscan/internal/persistence"
)

const (
	selectPosts = `
		SELECT id,
			COALESCE(title, '') AS title,
			COALESCE(body, '') AS body,
			COALESCE(author, '') AS author,
			COALESCE(created_utc, 0) AS created_utc
		FROM posts
		WHERE title IS NOT NULL AND title <> '' AND title <> $1
		ORDER BY created_utc, id`

	selectComments = `
		SELECT id,
			COALESCE(parent_id, '') AS parent_id,
			COALESCE(post_id, '') AS post_id,
			COALESCE(body, '') AS body,
			COALESCE(author, '') AS author,
			COALESCE(created_utc, 0) AS created_utc
		FROM comments
		ORDER BY created_utc, id`
)

// corpusStore implements CorpusStore over the scraper's posts and comments tables
type corpusStore struct {
	db *sqlx.DB
}

// NewCorpusStore creates a PostgreSQL corpus reader
func NewCorpusStore(db *sqlx.DB) persistence.CorpusStore {
	return &corpusStore{db: db}
}

// OpenPosts streams posts ordered by creation time
func (s *corpusStore) OpenPosts(ctx context.Context, excludeTitle string) (persistence.PostCursor, error) {
	rows, err := s.db.QueryxContext(ctx, selectPosts, excludeTitle)
	if err != nil {
		return nil, fmt.Errorf("failed to open posts cursor: %w", err)
	}
	return &postCursor{rows: rows}, nil
}

// OpenComments streams comments ordered by creation time so parents
// normally arrive before their replies
func (s *corpusStore) OpenComments(ctx context.Context) (persistence.CommentCursor, error) {
	rows, err := s.db.QueryxContext(ctx, selectComments)
	if err != nil {
		return nil, fmt.Errorf("failed to open comments cursor: %w", err)
	}
	return &commentCursor{rows: rows}, nil
}

type postCursor struct {
	rows *sqlx.Rows
	done bool
}

func (c *postCursor) Next(ctx context.Context, n int) ([]domain.Post, error) {
	if c.done || n <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	posts := make([]domain.Post, 0, n)
	for len(posts) < n && c.rows.Next() {
		var p domain.Post
		if err := c.rows.StructScan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, p)
	}
	if len(posts) < n {
		c.done = true
		if err := c.rows.Err(); err != nil {
			return nil, fmt.Errorf("error iterating posts: %w", err)
		}
	}
	return posts, nil
}

func (c *postCursor) Close() error {
	return c.rows.Close()
}

type commentCursor struct {
	rows *sqlx.Rows
	done bool
}

func (c *commentCursor) Next(ctx context.Context, n int) ([]domain.Comment, error) {
	if c.done || n <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	comments := make([]domain.Comment, 0, n)
	for len(comments) < n && c.rows.Next() {
		var cm domain.Comment
		if err := c.rows.StructScan(&cm); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		comments = append(comments, cm)
	}
	if len(comments) < n {
		c.done = true
		if err := c.rows.Err(); err != nil {
			return nil, fmt.Errorf("error iterating comments: %w", err)
		}
	}
	return comments, nil
}

func (c *commentCursor) Close() error {
	return c.rows.Close()
}
