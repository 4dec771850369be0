// Package reference loads the authoritative ticker list and exposes it as an
// immutable lookup set.
package reference

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/mentionscan/internal/domain"
)

// Listing is a single exchange listing as published by a provider
type Listing struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// Provider yields the listings that make up the reference set
type Provider interface {
	Listings(ctx context.Context) ([]Listing, error)
}

// Set is an immutable set of uppercase ticker symbols. The zero value is an
// empty set. It is safe for concurrent use because it is never written after
// construction.
type Set struct {
	symbols map[string]struct{}
}

// NewSet builds a set from raw symbols, uppercasing each one
func NewSet(symbols ...string) Set {
	m := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		m[s] = struct{}{}
	}
	return Set{symbols: m}
}

// Contains reports whether symbol is a known ticker. The lookup is exact;
// callers uppercase before asking.
func (s Set) Contains(symbol string) bool {
	_, ok := s.symbols[symbol]
	return ok
}

// Len returns the number of distinct symbols
func (s Set) Len() int {
	return len(s.symbols)
}

// Load reads every listing from p and builds the lookup set. Duplicate and
// malformed symbols are accepted as-is.
func Load(ctx context.Context, p Provider) (Set, error) {
	listings, err := p.Listings(ctx)
	if err != nil {
		return Set{}, fmt.Errorf("failed to load ticker reference list: %w: %w", domain.ErrDataUnavailable, err)
	}

	symbols := make([]string, 0, len(listings))
	for _, l := range listings {
		symbols = append(symbols, l.Symbol)
	}
	set := NewSet(symbols...)

	log.Debug().
		Int("listings", len(listings)).
		Int("symbols", set.Len()).
		Msg("Ticker reference set loaded")

	return set, nil
}
