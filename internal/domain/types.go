package domain

import (
	"errors"
	"time"
)

var (
	// ErrDataUnavailable is returned when the reference list or the corpus cannot be read
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrScoring marks an unexpected failure while scoring a single row
	ErrScoring = errors.New("scoring failed")
)

// Kind identifies how a ticker was attributed to a text unit
type Kind string

const (
	KindDollar            Kind = "dollar"
	KindSymbolPrefix      Kind = "symbol_prefix"
	KindAllCaps           Kind = "allcaps"
	KindLowercase         Kind = "lowercase_with_context"
	KindPropagatedComment Kind = "propagated_comment"
	KindPropagatedPost    Kind = "propagated_post"
)

// Propagated reports whether the kind was inferred from another unit
func (k Kind) Propagated() bool {
	return k == KindPropagatedComment || k == KindPropagatedPost
}

// UnitType distinguishes posts from comments
type UnitType string

const (
	UnitPost    UnitType = "post"
	UnitComment UnitType = "comment"
)

// Post is a top-level submission. Posts have no parent.
type Post struct {
	ID         string `json:"id" db:"id"`
	Title      string `json:"title" db:"title"`
	Body       string `json:"body" db:"body"`
	Author     string `json:"author" db:"author"`
	CreatedUTC int64  `json:"created_utc" db:"created_utc"`
}

// Comment is a reply inside a post's thread. ParentID is empty for top-level comments.
type Comment struct {
	ID         string `json:"id" db:"id"`
	ParentID   string `json:"parent_id,omitempty" db:"parent_id"`
	PostID     string `json:"post_id" db:"post_id"`
	Body       string `json:"body" db:"body"`
	Author     string `json:"author" db:"author"`
	CreatedUTC int64  `json:"created_utc" db:"created_utc"`
}

// Candidate is an unscored ticker occurrence found by one detection strategy
type Candidate struct {
	Symbol   string `json:"symbol"`
	Strategy Kind   `json:"strategy"`
	Offset   int    `json:"offset"` // character offset in the source text
	Raw      string `json:"raw"`
}

// Subject identifies the text unit a match belongs to
type Subject struct {
	Type     UnitType `json:"type"`
	ID       string   `json:"id"`
	ParentID string   `json:"parent_id,omitempty"`
	PostID   string   `json:"post_id,omitempty"`
	Title    string   `json:"title,omitempty"`
}

// MatchRecord is the durable output unit, one per text unit per run.
// Confidence is a relative ranking signal and may exceed 1.0.
type MatchRecord struct {
	Subject      Subject   `json:"subject"`
	Ticker       string    `json:"ticker"`
	Kind         Kind      `json:"kind"`
	Confidence   float64   `json:"confidence"`
	Snippet      string    `json:"snippet"`
	InferredFrom string    `json:"inferred_from,omitempty"`
	Hops         int       `json:"hops,omitempty"`
	Author       string    `json:"author,omitempty"`
	CreatedUTC   int64     `json:"created_utc,omitempty"`
	RunID        string    `json:"run_id,omitempty"`
	DetectedAt   time.Time `json:"detected_at"`
}
