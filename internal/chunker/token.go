package chunker

import (
	"unicode"
	"unicode/utf8"

	"github.com/dgallion1/docmd/internal/document"
)

// maxRunesPerToken caps how many word runes a single token may span.
const maxRunesPerToken = 4

// DefaultImageTokens is the assumed cost of one page raster sent to a vision engine.
const DefaultImageTokens = 1000

// Span is a half-open [Start, End) range. For token windows it is measured in
// tokens; TokenSpans returns byte offsets.
type Span struct {
	Start int
	End   int
}

// Len returns End - Start.
func (s Span) Len() int { return s.End - s.Start }

// EstimateTokens gives a deterministic token count without a real tokenizer.
// Words are cut into pieces of at most four runes; every other visible rune
// (punctuation, symbols, CJK ideographs) is one token. Appending text never
// lowers the count.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := 0
	scanTokens(text, func(int, int) { n++ })
	return n
}

// TokenSpans returns the byte offsets of each token in text, in order.
func TokenSpans(text string) []Span {
	if text == "" {
		return nil
	}
	spans := make([]Span, 0, len(text)/3)
	scanTokens(text, func(start, end int) {
		spans = append(spans, Span{Start: start, End: end})
	})
	return spans
}

// EstimatePage returns the cost of a page: its text plus a fixed cost for a raster.
func EstimatePage(p document.Page, imageTokens int) int {
	cost := EstimateTokens(p.Text)
	if len(p.Image) > 0 {
		if imageTokens <= 0 {
			imageTokens = DefaultImageTokens
		}
		cost += imageTokens
	}
	return cost
}

func scanTokens(text string, emit func(start, end int)) {
	wordStart, wordRunes := -1, 0
	flush := func(end int) {
		if wordStart >= 0 {
			emit(wordStart, end)
			wordStart, wordRunes = -1, 0
		}
	}

	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		switch {
		case unicode.IsSpace(r):
			flush(i)
		case isWordRune(r):
			if wordRunes == maxRunesPerToken {
				flush(i)
			}
			if wordStart < 0 {
				wordStart = i
			}
			wordRunes++
		default:
			flush(i)
			emit(i, i+size)
		}
		i += size
	}
	flush(len(text))
}

func isWordRune(r rune) bool {
	if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
		return false
	}
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) || r == '_'
}
