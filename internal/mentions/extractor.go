// Package mentions finds ticker mentions in free-form text and scores them.
package mentions

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/sawpanic/mentionscan/internal/domain"
	"github.com/sawpanic/mentionscan/internal/reference"
)

// Patterns are the detection expressions used by the extractor
type Patterns struct {
	Dollar    *regexp.Regexp // "$" followed by 1-5 letters, symbol in group 1
	Labeled   *regexp.Regexp // "ticker"/"symbol" label, symbol in group 1
	AllCaps   *regexp.Regexp // bare 2-5 letter uppercase run
	Lowercase *regexp.Regexp // bare 3-5 letter lowercase word
	Numeric   *regexp.Regexp // optional currency sign, digits, optional decimals
}

// DefaultPatterns returns the production detection expressions
func DefaultPatterns() Patterns {
	return Patterns{
		Dollar:    regexp.MustCompile(`\$([A-Za-z]{1,5})\b`),
		Labeled:   regexp.MustCompile(`(?i)\b(?:ticker|symbol)[:\s]*([A-Za-z]{1,6})\b`),
		AllCaps:   regexp.MustCompile(`\b[A-Z]{2,5}\b`),
		Lowercase: regexp.MustCompile(`\b[a-z]{3,5}\b`),
		Numeric:   regexp.MustCompile(`\b(?:\$|£)?\d+(?:\.\d+)?\b`),
	}
}

// strategyOrder fixes the order candidates are reported in, and therefore
// which one wins when a text unit has several qualifying matches.
var strategyOrder = map[domain.Kind]int{
	domain.KindDollar:       0,
	domain.KindSymbolPrefix: 1,
	domain.KindAllCaps:      2,
	domain.KindLowercase:    3,
}

// Extractor runs every detection strategy over a text unit. It holds no
// mutable state and may be shared across goroutines.
type Extractor struct {
	patterns Patterns
	redlist  map[string]struct{}
	context  *regexp.Regexp
}

// NewExtractor creates an extractor with the default patterns
func NewExtractor(lex Lexicon) *Extractor {
	return NewExtractorWithPatterns(lex, DefaultPatterns())
}

// NewExtractorWithPatterns creates an extractor with substituted patterns.
// Nil patterns fall back to the defaults.
func NewExtractorWithPatterns(lex Lexicon, p Patterns) *Extractor {
	def := DefaultPatterns()
	if p.Dollar == nil {
		p.Dollar = def.Dollar
	}
	if p.Labeled == nil {
		p.Labeled = def.Labeled
	}
	if p.AllCaps == nil {
		p.AllCaps = def.AllCaps
	}
	if p.Lowercase == nil {
		p.Lowercase = def.Lowercase
	}
	if p.Numeric == nil {
		p.Numeric = def.Numeric
	}

	return &Extractor{
		patterns: p,
		redlist:  lex.redlistSet(),
		context:  lex.contextPattern(),
	}
}

type candidateKey struct {
	symbol   string
	strategy domain.Kind
	offset   int
}

// Extract returns every candidate whose symbol is in set. The lowercase
// strategy only runs when allowLowercase is set and the text carries a
// context word or a numeric token.
func (e *Extractor) Extract(text string, set reference.Set, allowLowercase bool) []domain.Candidate {
	seen := make(map[candidateKey]struct{})
	var out []domain.Candidate
	offsets := newOffsetIndex(text)

	add := func(symbol string, kind domain.Kind, start int, raw string) {
		c := domain.Candidate{
			Symbol:   symbol,
			Strategy: kind,
			Offset:   offsets.runeOffset(start),
			Raw:      raw,
		}
		key := candidateKey{c.Symbol, c.Strategy, c.Offset}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}

	for _, m := range e.patterns.Dollar.FindAllStringSubmatchIndex(text, -1) {
		symbol := strings.ToUpper(text[m[2]:m[3]])
		if set.Contains(symbol) {
			add(symbol, domain.KindDollar, m[0], text[m[0]:m[1]])
		}
	}

	for _, m := range e.patterns.Labeled.FindAllStringSubmatchIndex(text, -1) {
		symbol := strings.ToUpper(text[m[2]:m[3]])
		if set.Contains(symbol) {
			add(symbol, domain.KindSymbolPrefix, m[0], text[m[0]:m[1]])
		}
	}

	for _, m := range e.patterns.AllCaps.FindAllStringIndex(text, -1) {
		symbol := text[m[0]:m[1]]
		if !set.Contains(symbol) {
			continue
		}
		if _, red := e.redlist[symbol]; red {
			continue
		}
		add(symbol, domain.KindAllCaps, m[0], symbol)
	}

	if allowLowercase && (e.HasContext(text) || e.HasNumeric(text)) {
		for _, m := range e.patterns.Lowercase.FindAllStringIndex(text, -1) {
			raw := text[m[0]:m[1]]
			symbol := strings.ToUpper(raw)
			if set.Contains(symbol) {
				add(symbol, domain.KindLowercase, m[0], raw)
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		oi, oj := strategyOrder[out[i].Strategy], strategyOrder[out[j].Strategy]
		if oi != oj {
			return oi < oj
		}
		return out[i].Offset < out[j].Offset
	})

	return out
}

// HasContext reports whether any context word appears in text
func (e *Extractor) HasContext(text string) bool {
	return e.context.MatchString(text)
}

// HasNumeric reports whether text contains a numeric token
func (e *Extractor) HasNumeric(text string) bool {
	return e.patterns.Numeric.MatchString(text)
}

// offsetIndex converts byte offsets into character offsets. Pure ASCII text
// short-circuits the conversion.
type offsetIndex struct {
	text  string
	ascii bool
}

func newOffsetIndex(text string) offsetIndex {
	ascii := true
	for i := 0; i < len(text); i++ {
		if text[i] >= utf8.RuneSelf {
			ascii = false
			break
		}
	}
	return offsetIndex{text: text, ascii: ascii}
}

func (o offsetIndex) runeOffset(byteOffset int) int {
	if o.ascii {
		return byteOffset
	}
	return utf8.RuneCountInString(o.text[:byteOffset])
}
