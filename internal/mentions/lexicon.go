package mentions

import (
	"regexp"
	"strings"
)

// Lexicon holds the word tables the extractor and scorer depend on. It is
// copied into the Extractor at construction and never mutated afterwards.
type Lexicon struct {
	// Redlist suppresses all-caps hits on common acronyms and finance jargon
	Redlist []string `yaml:"redlist"`
	// ContextWords are trading and ownership terms that corroborate a mention
	ContextWords []string `yaml:"context_words"`
}

// DefaultLexicon returns the built-in redlist and context vocabulary
func DefaultLexicon() Lexicon {
	return Lexicon{
		Redlist: []string{
			"GUYS", "MOON", "US", "UK", "EBIT", "EBITDA", "UP", "CAGR", "FCF",
			"ROE", "ROI", "ROIC", "EV", "NI", "PEG", "EU", "GPT", "AI", "IT", "LFG",
			"CEO", "CFO", "CTO", "IPO", "ETF", "NYSE", "NASDAQ", "SEC", "FDA",
			"USD", "EUR", "GBP", "CAD", "OTC", "DD", "YOLO", "ATH", "EOD", "IMO",
			"TLDR", "EPS", "PE", "OK", "LOL",
		},
		ContextWords: []string{
			"buy", "sell", "shares", "short", "long", "stock", "IPO", "earnings",
			"dividend", "split", "bought", "sold", "play", "position", "trading",
			"trade", "cheap", "M&A", "gain", "moving", "moon", "holding", "squeeze",
			"hold", "watch", "dip", "volume", "catalyst", "pump", "dump",
		},
	}
}

// Merge returns a lexicon with the extra words appended to a copy of l
func (l Lexicon) Merge(extra Lexicon) Lexicon {
	out := Lexicon{
		Redlist:      append(append([]string(nil), l.Redlist...), extra.Redlist...),
		ContextWords: append(append([]string(nil), l.ContextWords...), extra.ContextWords...),
	}
	return out
}

func (l Lexicon) redlistSet() map[string]struct{} {
	set := make(map[string]struct{}, len(l.Redlist))
	for _, w := range l.Redlist {
		set[strings.ToUpper(strings.TrimSpace(w))] = struct{}{}
	}
	return set
}

// contextPattern compiles the context words into one case-insensitive
// alternation. A lexicon without words yields an expression that never matches.
func (l Lexicon) contextPattern() *regexp.Regexp {
	words := make([]string, 0, len(l.ContextWords))
	for _, w := range l.ContextWords {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		words = append(words, regexp.QuoteMeta(w))
	}
	if len(words) == 0 {
		return regexp.MustCompile(`[^\x00-\x{10FFFF}]`)
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(words, "|") + `)\b`)
}
