// Package correct fixes speech-to-text mishearings of known domain terms.
//
// Transcription models routinely garble product names and other rare
// vocabulary ("easy buddy loan" for "EazyBuddy Loan"). The Corrector aligns
// transcript tokens against a configured vocabulary using Double Metaphone
// phonetic codes, then ranks candidates by Jaro-Winkler similarity. Phrases
// are handled by sliding an n-gram window sized to the longest vocabulary
// entry.
//
// The Corrector is read-only after construction and safe for concurrent use.
package correct

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	// DefaultPhoneticThreshold is the minimum Jaro-Winkler score for a
	// phonetically matched term to be accepted.
	DefaultPhoneticThreshold = 0.70

	// DefaultFuzzyThreshold is the minimum Jaro-Winkler score when no
	// phonetic overlap exists and ranking falls back to pure string
	// similarity.
	DefaultFuzzyThreshold = 0.85
)

// Replacement records one corrected span.
type Replacement struct {
	// Original is the transcript span that was replaced.
	Original string

	// Term is the vocabulary entry it was replaced with.
	Term string

	// Score is the Jaro-Winkler similarity that justified the replacement.
	Score float64
}

// Corrector aligns transcript tokens against a fixed vocabulary.
type Corrector struct {
	terms             []vocabTerm
	maxWindow         int
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// vocabTerm is one vocabulary entry with precomputed phonetic codes.
type vocabTerm struct {
	text   string
	lower  string
	tokens []string
	codes  map[string]struct{}
}

// Option configures a Corrector during construction.
type Option func(*Corrector)

// WithPhoneticThreshold overrides DefaultPhoneticThreshold.
func WithPhoneticThreshold(t float64) Option {
	return func(c *Corrector) { c.phoneticThreshold = t }
}

// WithFuzzyThreshold overrides DefaultFuzzyThreshold.
func WithFuzzyThreshold(t float64) Option {
	return func(c *Corrector) { c.fuzzyThreshold = t }
}

// New creates a Corrector for the given vocabulary. Blank entries are
// dropped. A Corrector over an empty vocabulary returns every transcript
// unchanged.
func New(vocabulary []string, opts ...Option) *Corrector {
	c := &Corrector{
		phoneticThreshold: DefaultPhoneticThreshold,
		fuzzyThreshold:    DefaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(c)
	}
	for _, v := range vocabulary {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		lower := strings.ToLower(v)
		tokens := strings.Fields(lower)
		c.terms = append(c.terms, vocabTerm{
			text:   v,
			lower:  lower,
			tokens: tokens,
			codes:  phoneticCodes(tokens),
		})
		if len(tokens) > c.maxWindow {
			c.maxWindow = len(tokens)
		}
	}
	return c
}

// Correct replaces misheard vocabulary terms in text and reports what
// changed. Longer windows are matched first so multi-word terms win over
// their fragments. Word order and punctuation outside replaced spans are
// preserved.
func (c *Corrector) Correct(text string) (string, []Replacement) {
	if len(c.terms) == 0 || strings.TrimSpace(text) == "" {
		return text, nil
	}

	tokens := strings.Fields(text)
	replaced := make([]bool, len(tokens))
	var changes []Replacement

	for window := c.maxWindow; window >= 1; window-- {
		for i := 0; i+window <= len(tokens); i++ {
			if anyReplaced(replaced[i : i+window]) {
				continue
			}
			span := strings.Join(tokens[i:i+window], " ")
			core, prefix, suffix := trimPunct(span)
			if core == "" {
				continue
			}

			term, score, ok := c.match(core)
			if !ok || strings.EqualFold(core, term) {
				continue
			}

			changes = append(changes, Replacement{Original: core, Term: term, Score: score})
			tokens[i] = prefix + term + suffix
			for j := i + 1; j < i+window; j++ {
				tokens[j] = ""
			}
			for j := i; j < i+window; j++ {
				replaced[j] = true
			}
		}
	}

	if len(changes) == 0 {
		return text, nil
	}
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t != "" {
			out = append(out, t)
		}
	}
	return strings.Join(out, " "), changes
}

// match finds the vocabulary term most similar to span. Phonetic candidates
// are preferred; pure string similarity needs the higher fuzzy threshold.
func (c *Corrector) match(span string) (term string, score float64, ok bool) {
	spanLower := strings.ToLower(span)
	spanTokens := strings.Fields(spanLower)
	spanCodes := phoneticCodes(spanTokens)

	var (
		bestTerm     string
		bestScore    float64
		bestPhonetic bool
	)
	for _, t := range c.terms {
		if codesOverlap(spanCodes, t.codes) {
			sim := similarity(spanTokens, t.tokens, spanLower, t.lower)
			if sim >= c.phoneticThreshold && (!bestPhonetic || sim > bestScore) {
				bestTerm, bestScore, bestPhonetic = t.text, sim, true
			}
			continue
		}
		if bestPhonetic {
			continue
		}
		// Without phonetic evidence, only whole-span similarity counts.
		// Token-pair scores would fire on any span sharing one word with
		// a term.
		sim := wholeSimilarity(spanTokens, t.tokens, spanLower, t.lower)
		if sim >= c.fuzzyThreshold && sim > bestScore {
			bestTerm, bestScore = t.text, sim
		}
	}
	if bestTerm == "" {
		return span, 0, false
	}
	return bestTerm, bestScore, true
}

// phoneticCodes returns the union of Double Metaphone codes for the tokens.
func phoneticCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// similarity is the best Jaro-Winkler score across full strings, the
// space-stripped strings, and all token pairs. The space-stripped pass
// catches terms the model split or fused ("eazy buddy" vs "eazybuddy").
func similarity(aTokens, bTokens []string, aFull, bFull string) float64 {
	score := wholeSimilarity(aTokens, bTokens, aFull, bFull)
	for _, a := range aTokens {
		for _, b := range bTokens {
			if s := matchr.JaroWinkler(a, b, false); s > score {
				score = s
			}
		}
	}
	return score
}

// wholeSimilarity compares only the complete spans, with and without
// spaces.
func wholeSimilarity(aTokens, bTokens []string, aFull, bFull string) float64 {
	score := matchr.JaroWinkler(aFull, bFull, false)
	if len(aTokens) > 1 || len(bTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(aTokens, ""), strings.Join(bTokens, ""), false); s > score {
			score = s
		}
	}
	return score
}

func anyReplaced(window []bool) bool {
	for _, r := range window {
		if r {
			return true
		}
	}
	return false
}

// trimPunct splits leading and trailing punctuation off a span so "loan?"
// matches "loan" and the question mark survives the replacement.
func trimPunct(span string) (core, prefix, suffix string) {
	start := 0
	for start < len(span) && isPunct(span[start]) {
		start++
	}
	end := len(span)
	for end > start && isPunct(span[end-1]) {
		end--
	}
	return span[start:end], span[:start], span[end:]
}

func isPunct(b byte) bool {
	switch b {
	case '.', ',', '!', '?', ';', ':', '"', '\'', '(', ')':
		return true
	}
	return false
}
