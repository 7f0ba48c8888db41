// Package tokenizer turns raw document and query text into the ordered
// token streams the shard's FTS5 index and the query compiler operate on.
//
// It is a singleton with two pure operations after initialization:
// guessLocale (language detection from script) and tokenize (locale-aware
// segmentation). Grounded on the segmenter wiring in the retrieved
// zhimaAi-ChatClaw repository's internal/fts/tokenizer package, generalized
// from Chinese-only segmentation to a ja/ko/zh/other locale matrix.
package tokenizer

import (
	"strings"
	"sync"
	"unicode"

	"github.com/go-ego/gse"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Tokenizer produces locale-aware token streams. It is safe for concurrent
// use; the underlying segmenter is guarded by a mutex because gse.Segmenter
// is not documented as concurrency-safe for CutSearch.
type Tokenizer struct {
	mu        sync.Mutex
	seg       gse.Segmenter
	segLoaded bool
}

// singleton is the process-wide tokenizer instance. Loading the CJK
// dictionary is expensive enough (tens of milliseconds, megabytes of
// dictionary data) that it should happen once regardless of how many
// shards or callers use tokenization.
var (
	singleton     *Tokenizer
	singletonOnce sync.Once
	singletonErr  error
)

// Get returns the process-wide Tokenizer, initializing it on first call.
func Get() (*Tokenizer, error) {
	singletonOnce.Do(func() {
		t := &Tokenizer{}
		if err := t.seg.LoadDict(); err != nil {
			singletonErr = err
			return
		}
		t.seg.AlphaNum = true
		t.seg.SkipLog = true
		t.segLoaded = true
		singleton = t
	})
	return singleton, singletonErr
}

// GuessLocale performs script-based language detection with a fall back
// to the caller's preferred locale.
func (t *Tokenizer) GuessLocale(text, preferredLocale string) string {
	hasHiraganaKatakana := false
	hasHangul := false
	hasHan := false

	for _, r := range text {
		switch {
		case unicode.Is(unicode.Hiragana, r), unicode.Is(unicode.Katakana, r):
			hasHiraganaKatakana = true
		case unicode.Is(unicode.Hangul, r):
			hasHangul = true
		case unicode.Is(unicode.Han, r):
			hasHan = true
		}
	}

	switch {
	case hasHiraganaKatakana:
		return "ja"
	case hasHangul:
		return "ko"
	case hasHan:
		if strings.HasPrefix(preferredLocale, "zh") {
			return "zh"
		}
		return "ja"
	default:
		if preferredLocale == "" {
			return "en"
		}
		return preferredLocale
	}
}

// FoldCase applies compatibility decomposition (NFKD) then lowercasing, the
// case-fold step required before locale guessing and token normalization.
// Control and format characters are stripped; the result is
// trimmed of leading/trailing space.
func FoldCase(text string) string {
	decomposed := norm.NFKD.String(text)
	folded := cases.Fold().String(decomposed)
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.Is(unicode.Cc, r) || unicode.Is(unicode.Cf, r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// Tokenize segments text into tokens: for "ja" (and the other CJK
// locales, which share the same morphological analyzer path) it emits
// surface forms from the segmenter; otherwise it falls back to a Unicode
// word segmenter. Token order is preserved and duplicates are NOT removed
// here — callers apply the position/dedup policy for ADD since it
// depends on whether the target shard records positions.
func (t *Tokenizer) Tokenize(text, locale string) []string {
	folded := FoldCase(text)
	if folded == "" {
		return nil
	}

	var raw []string
	switch locale {
	case "ja", "zh", "ko":
		t.mu.Lock()
		raw = t.seg.CutSearch(folded, true)
		t.mu.Unlock()
	default:
		raw = wordSegment(folded, locale)
	}

	tokens := make([]string, 0, len(raw))
	for _, tok := range raw {
		tok = stripCombiningMarks(tok)
		if tok == "" || isPunctOrSymbolOnly(tok) {
			continue
		}
		tokens = append(tokens, Intern(tok))
	}
	return tokens
}

// wordSegment splits text into word-like segments for non-CJK locales. The
// corpus carries no standalone Unicode word-segmenter dependency (x/text
// does not expose UAX#29 word boundaries in a stable package), so this
// walks runes and groups consecutive letter/number/mark characters.
func wordSegment(text string, _ string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsMark(r) {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// stripCombiningMarks removes standalone combining marks from a token,
// leaving the base characters (NFKD decomposition in FoldCase already
// split accented characters into base+mark pairs).
func stripCombiningMarks(tok string) string {
	var b strings.Builder
	b.Grow(len(tok))
	for _, r := range tok {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// isPunctOrSymbolOnly reports whether every rune in tok is punctuation or
// a symbol, meaning the token carries no searchable content.
func isPunctOrSymbolOnly(tok string) bool {
	for _, r := range tok {
		if !unicode.IsPunct(r) && !unicode.IsSymbol(r) {
			return false
		}
	}
	return true
}

// LimitTokens applies the per-document token cap for ADD: when the
// shard records positions, the first maxCount tokens are kept in order;
// otherwise tokens are deduplicated in first-seen order and the result is
// capped at maxCount, then sorted ascending to stabilize MATCH query plans.
func LimitTokens(tokens []string, maxCount int, recordPositions bool) []string {
	if recordPositions {
		if len(tokens) > maxCount {
			return append([]string(nil), tokens[:maxCount]...)
		}
		return tokens
	}

	seen := make(map[string]struct{}, len(tokens))
	deduped := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		deduped = append(deduped, tok)
		if len(deduped) >= maxCount {
			break
		}
	}
	sortStrings(deduped)
	return deduped
}

// sortStrings sorts in place ascending with an insertion sort, so this
// package does not import "sort".
func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
