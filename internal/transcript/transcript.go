// Package transcript repairs speech-to-text output before it reaches the chat
// model. Proper nouns from the user's context material (company names, product
// names, people) are the words STT gets wrong most often; the corrector aligns
// mis-heard words against that vocabulary phonetically.
//
// The algorithm proceeds in two stages per word:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     the transcript word and for each vocabulary term. A term whose codes
//     overlap with the word's becomes a phonetic candidate.
//
//  2. Jaro-Winkler ranking: among phonetic candidates, the term with the
//     highest Jaro-Winkler similarity (case-insensitive) wins, provided its
//     score exceeds the phonetic threshold. Without any phonetic candidate,
//     a stricter pure-similarity fallback applies.
package transcript

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/auricle/internal/contextstore"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// minWordLen skips short function words that phonetic codes collapse.
	minWordLen = 4
)

// Correction records one replaced word.
type Correction struct {
	// Original is the word as transcribed.
	Original string
	// Replacement is the vocabulary term it was aligned to.
	Replacement string
	// Confidence is the Jaro-Winkler score of the alignment.
	Confidence float64
}

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched term to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(c *Corrector) { c.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found and the corrector falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(c *Corrector) { c.fuzzyThreshold = threshold }
}

// Corrector aligns transcript words against a vocabulary. Safe for concurrent
// use; it is read-only after construction.
type Corrector struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewCorrector returns a Corrector configured with the supplied options.
func NewCorrector(opts ...Option) *Corrector {
	c := &Corrector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct rewrites text, replacing words that phonetically align with a
// vocabulary term. Only words of at least four characters that are not
// already exact (case-insensitive) vocabulary members are considered.
// Punctuation adjacent to a word is preserved.
func (c *Corrector) Correct(text string, vocabulary []string) (string, []Correction) {
	if text == "" || len(vocabulary) == 0 {
		return text, nil
	}

	known := make(map[string]struct{}, len(vocabulary))
	for _, v := range vocabulary {
		known[strings.ToLower(v)] = struct{}{}
	}

	var corrections []Correction
	fields := strings.Fields(text)
	for i, f := range fields {
		word, prefix, suffix := trimPunct(f)
		if len(word) < minWordLen {
			continue
		}
		if _, ok := known[strings.ToLower(word)]; ok {
			continue
		}

		replacement, score, matched := c.match(word, vocabulary)
		if !matched {
			continue
		}
		fields[i] = prefix + replacement + suffix
		corrections = append(corrections, Correction{
			Original:    word,
			Replacement: replacement,
			Confidence:  score,
		})
	}

	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(fields, " "), corrections
}

// match finds the vocabulary term most phonetically similar to word.
func (c *Corrector) match(word string, vocabulary []string) (string, float64, bool) {
	wordLower := strings.ToLower(word)
	primary, secondary := matchr.DoubleMetaphone(wordLower)

	type candidate struct {
		term     string
		score    float64
		phonetic bool
	}
	var best candidate

	for _, term := range vocabulary {
		termLower := strings.ToLower(strings.TrimSpace(term))
		if termLower == "" {
			continue
		}

		tp, ts := matchr.DoubleMetaphone(termLower)
		phonetic := codeOverlap(primary, secondary, tp, ts)
		score := matchr.JaroWinkler(wordLower, termLower, false)

		if phonetic {
			if score >= c.phoneticThreshold && (!best.phonetic || score > best.score) {
				best = candidate{term: term, score: score, phonetic: true}
			}
		} else if !best.phonetic && score >= c.fuzzyThreshold && score > best.score {
			best = candidate{term: term, score: score, phonetic: false}
		}
	}

	if best.term == "" {
		return word, 0, false
	}
	return best.term, best.score, true
}

// codeOverlap reports whether any non-empty Double Metaphone code is shared.
func codeOverlap(p1, s1, p2, s2 string) bool {
	for _, a := range [...]string{p1, s1} {
		if a == "" {
			continue
		}
		if a == p2 || (s2 != "" && a == s2) {
			return true
		}
	}
	return false
}

// trimPunct splits leading and trailing punctuation off a token.
func trimPunct(token string) (word, prefix, suffix string) {
	runes := []rune(token)
	start, end := 0, len(runes)
	for start < end && !unicode.IsLetter(runes[start]) && !unicode.IsDigit(runes[start]) {
		start++
	}
	for end > start && !unicode.IsLetter(runes[end-1]) && !unicode.IsDigit(runes[end-1]) {
		end--
	}
	return string(runes[start:end]), string(runes[:start]), string(runes[end:])
}

// Vocabulary harvests proper-noun candidates from a context snapshot: words
// that appear capitalized mid-sentence in the free text or any attached file.
// Results are deduplicated, order not specified.
func Vocabulary(snap contextstore.Snapshot) []string {
	seen := make(map[string]string)
	harvest := func(text string) {
		fields := strings.Fields(text)
		for i, f := range fields {
			word, _, _ := trimPunct(f)
			if len(word) < minWordLen {
				continue
			}
			runes := []rune(word)
			if !unicode.IsUpper(runes[0]) {
				continue
			}
			// Sentence-initial capitalization is not evidence of a proper noun.
			if i == 0 || endsSentence(fields[i-1]) {
				continue
			}
			seen[strings.ToLower(word)] = word
		}
	}

	harvest(snap.UserContext)
	for _, text := range snap.Files {
		harvest(text)
	}

	out := make([]string, 0, len(seen))
	for _, w := range seen {
		out = append(out, w)
	}
	return out
}

// endsSentence reports whether the token terminates a sentence.
func endsSentence(token string) bool {
	if token == "" {
		return false
	}
	switch token[len(token)-1] {
	case '.', '!', '?', ':', '\n':
		return true
	}
	return false
}
