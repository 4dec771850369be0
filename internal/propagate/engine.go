package propagate

import (
	"math"

	"github.com/sawpanic/mentionscan/internal/domain"
	"github.com/sawpanic/mentionscan/internal/mentions"
)

const (
	// ParentConfLimit is the minimum source confidence allowed to seed propagation
	ParentConfLimit = 0.9
	// ChildConfLimit is the exclusive lower bound a propagated confidence must exceed
	ChildConfLimit = 0.72
	// DecayFactor is applied once per hop
	DecayFactor = 0.8
	// MaxDepth caps the ancestor walk
	MaxDepth = 3
)

// Config holds the propagation limits
type Config struct {
	ParentLimit float64 `yaml:"parent_limit"`
	ChildLimit  float64 `yaml:"child_limit"`
	Decay       float64 `yaml:"decay"`
	MaxDepth    int     `yaml:"max_depth"`
}

// DefaultConfig returns the production propagation limits
func DefaultConfig() Config {
	return Config{
		ParentLimit: ParentConfLimit,
		ChildLimit:  ChildConfLimit,
		Decay:       DecayFactor,
		MaxDepth:    MaxDepth,
	}
}

// Engine applies ancestor and post propagation. It never fails: no
// qualifying source simply yields no match.
type Engine struct {
	config Config
}

// NewEngine creates a propagation engine
func NewEngine(config Config) *Engine {
	if config.MaxDepth <= 0 {
		config.MaxDepth = MaxDepth
	}
	return &Engine{config: config}
}

// MaxDepth returns the configured ancestor walk depth
func (e *Engine) MaxDepth() int {
	return e.config.MaxDepth
}

// Propagate tries the ancestor chain first, nearest ancestor first, then the
// owning post. chain holds ancestor ids as produced by AncestorMap.Chain.
func (e *Engine) Propagate(c domain.Comment, chain []string, matches MatchLookup) (domain.MatchRecord, bool) {
	for i, ancestorID := range chain {
		depth := i + 1
		if depth > e.config.MaxDepth {
			break
		}

		source, ok := matches.Lookup(domain.UnitComment, ancestorID)
		if !ok || source.Confidence < e.config.ParentLimit {
			continue
		}

		child := Round3(source.Confidence * math.Pow(e.config.Decay, float64(depth)))
		if child > e.config.ChildLimit {
			return e.record(c, source, domain.KindPropagatedComment, child, ancestorID, depth), true
		}
	}

	if c.PostID == "" {
		return domain.MatchRecord{}, false
	}
	source, ok := matches.Lookup(domain.UnitPost, c.PostID)
	if !ok || source.Confidence < e.config.ParentLimit {
		return domain.MatchRecord{}, false
	}
	child := Round3(source.Confidence * e.config.Decay)
	if child > e.config.ChildLimit {
		return e.record(c, source, domain.KindPropagatedPost, child, c.PostID, 1), true
	}

	return domain.MatchRecord{}, false
}

func (e *Engine) record(c domain.Comment, source domain.MatchRecord, kind domain.Kind, confidence float64, from string, hops int) domain.MatchRecord {
	return domain.MatchRecord{
		Subject: domain.Subject{
			Type:     domain.UnitComment,
			ID:       c.ID,
			ParentID: c.ParentID,
			PostID:   c.PostID,
		},
		Ticker:       source.Ticker,
		Kind:         kind,
		Confidence:   confidence,
		Snippet:      mentions.Snippet(c.Body, mentions.SnippetLength),
		InferredFrom: from,
		Hops:         hops,
		Author:       c.Author,
		CreatedUTC:   c.CreatedUTC,
	}
}

// Round3 rounds to three decimal places, half away from zero
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
