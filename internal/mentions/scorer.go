package mentions

import (
	"github.com/sawpanic/mentionscan/internal/domain"
	"github.com/sawpanic/mentionscan/internal/reference"
)

const (
	// DefaultThreshold is the strict cutoff a score must exceed to qualify
	DefaultThreshold = 0.9
	// SnippetLength is the number of characters kept for audit
	SnippetLength = 200
)

// Weights are the base scores and bonuses applied by the scorer.
// Scores are a relative ranking, not a probability, and are never clamped.
type Weights struct {
	Dollar        float64 `yaml:"dollar"`
	SymbolPrefix  float64 `yaml:"symbol_prefix"`
	AllCaps       float64 `yaml:"allcaps"`
	AllCapsPost   float64 `yaml:"allcaps_post"` // post bodies are higher signal
	Lowercase     float64 `yaml:"lowercase"`
	ContextBonus  float64 `yaml:"context_bonus"`
	NumericBonus  float64 `yaml:"numeric_bonus"`
	NumericRadius int     `yaml:"numeric_radius"` // characters either side of the candidate
}

// DefaultWeights returns the production scoring weights
func DefaultWeights() Weights {
	return Weights{
		Dollar:        0.91,
		SymbolPrefix:  0.91,
		AllCaps:       0.70,
		AllCapsPost:   0.91,
		Lowercase:     0.0,
		ContextBonus:  0.4,
		NumericBonus:  0.5,
		NumericRadius: 50,
	}
}

// Match is a candidate whose score exceeded the threshold
type Match struct {
	Candidate domain.Candidate `json:"candidate"`
	Score     float64          `json:"score"`
	Snippet   string           `json:"snippet"`
}

// ClassifyOptions controls a single Classify call
type ClassifyOptions struct {
	Threshold      float64
	AllowLowercase bool
	IsPost         bool
}

// Scorer assigns confidence to candidates found by its extractor
type Scorer struct {
	extractor *Extractor
	weights   Weights
}

// NewScorer creates a scorer over the given extractor
func NewScorer(extractor *Extractor, weights Weights) *Scorer {
	return &Scorer{extractor: extractor, weights: weights}
}

// Extractor returns the extractor the scorer reads candidates from
func (s *Scorer) Extractor() *Extractor {
	return s.extractor
}

// Score computes the confidence of c within text
func (s *Scorer) Score(text string, c domain.Candidate, isPost bool) float64 {
	score := s.base(c.Strategy, isPost)

	if s.extractor.HasContext(text) {
		score += s.weights.ContextBonus
	}
	if s.extractor.HasNumeric(window(text, c.Offset, s.weights.NumericRadius)) {
		score += s.weights.NumericBonus
	}

	return score
}

func (s *Scorer) base(kind domain.Kind, isPost bool) float64 {
	switch kind {
	case domain.KindDollar:
		return s.weights.Dollar
	case domain.KindSymbolPrefix:
		return s.weights.SymbolPrefix
	case domain.KindAllCaps:
		if isPost {
			return s.weights.AllCapsPost
		}
		return s.weights.AllCaps
	default:
		return s.weights.Lowercase
	}
}

// Classify extracts and scores candidates, keeping those strictly above the
// threshold in candidate order
func (s *Scorer) Classify(text string, set reference.Set, opts ClassifyOptions) []Match {
	candidates := s.extractor.Extract(text, set, opts.AllowLowercase)
	if len(candidates) == 0 {
		return nil
	}

	var matches []Match
	for _, c := range candidates {
		score := s.Score(text, c, opts.IsPost)
		if score > opts.Threshold {
			matches = append(matches, Match{
				Candidate: c,
				Score:     score,
				Snippet:   Snippet(text, SnippetLength),
			})
		}
	}
	return matches
}

// window returns the characters in [offset-radius, offset+radius)
func window(text string, offset, radius int) string {
	runes := []rune(text)
	start := offset - radius
	if start < 0 {
		start = 0
	}
	end := offset + radius
	if end > len(runes) {
		end = len(runes)
	}
	if start >= end {
		return ""
	}
	return string(runes[start:end])
}

// Snippet returns at most n leading characters of text
func Snippet(text string, n int) string {
	if len(text) <= n {
		return text
	}
	count := 0
	for i := range text {
		if count == n {
			return text[:i]
		}
		count++
	}
	return text
}
