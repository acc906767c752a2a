package chunker

import (
	"fmt"

	"github.com/dgallion1/docmd/internal/document"
)

// Mode selects the planning algorithm. It mirrors the class an engine declares.
type Mode string

const (
	ModePages Mode = "page" // Page-oriented engines (OCR, vision)
	ModeText  Mode = "text" // Text-completion engines with an input-token ceiling
)

// Budget bounds a single chunk.
type Budget struct {
	MaxTokens     int // Token ceiling per chunk (window size in text mode)
	MaxPages      int // Page ceiling per chunk; 0 means unlimited
	OverlapTokens int // Tokens shared by consecutive text windows
}

// Validate rejects budgets that cannot produce a finite, non-empty plan.
func (b Budget) Validate(mode Mode) error {
	if b.MaxTokens <= 0 {
		return &ConfigurationError{Field: "max_tokens_per_chunk", Reason: fmt.Sprintf("must be > 0, got %d", b.MaxTokens)}
	}
	if b.MaxPages < 0 {
		return &ConfigurationError{Field: "max_pages_per_chunk", Reason: fmt.Sprintf("must be >= 0, got %d", b.MaxPages)}
	}
	if b.OverlapTokens < 0 {
		return &ConfigurationError{Field: "overlap_tokens", Reason: fmt.Sprintf("must be >= 0, got %d", b.OverlapTokens)}
	}
	if mode == ModeText && b.OverlapTokens >= b.MaxTokens {
		return &ConfigurationError{
			Field:  "overlap_tokens",
			Reason: fmt.Sprintf("must be smaller than max_tokens_per_chunk (%d >= %d)", b.OverlapTokens, b.MaxTokens),
		}
	}
	return nil
}

// Chunk is an engine-sized slice of a document: either a contiguous page
// range or a token window over the flattened text.
type Chunk struct {
	Doc   *document.Document
	Index int // Sequence number within the document, used for final ordering
	Total int // Number of chunks planned for the document

	// Page chunks: inclusive page range. Both are -1 for text chunks and
	// for the empty chunk of a document without pages.
	PageStart int
	PageEnd   int

	// Text chunks: token window [Span.Start, Span.End) and the text it covers.
	Span Span
	Text string

	Budget    int // Token budget the chunk was planned against
	Cost      int // Estimated token cost
	Oversized bool
	Empty     bool
}

// IsPageChunk reports whether the chunk carries a page range.
func (c Chunk) IsPageChunk() bool {
	return c.PageStart >= 0
}

// PageCount returns the number of pages in a page chunk.
func (c Chunk) PageCount() int {
	if !c.IsPageChunk() {
		return 0
	}
	return c.PageEnd - c.PageStart + 1
}

// Pages returns the document pages covered by a page chunk.
func (c Chunk) Pages() []document.Page {
	if !c.IsPageChunk() || c.Doc == nil {
		return nil
	}
	return c.Doc.Pages[c.PageStart : c.PageEnd+1]
}

// Content returns the text an engine should convert: the window text for
// text chunks, the joined page text for page chunks.
func (c Chunk) Content() string {
	if !c.IsPageChunk() {
		return c.Text
	}
	sub := document.Document{Pages: c.Pages()}
	return sub.Text()
}

// Plan splits doc according to mode.
func Plan(doc *document.Document, mode Mode, budget Budget) ([]Chunk, error) {
	switch mode {
	case ModePages:
		return PackPages(doc, budget)
	case ModeText:
		return WindowText(doc, budget)
	default:
		return nil, &ConfigurationError{Field: "engine_class", Reason: fmt.Sprintf("unknown planning mode %q", mode)}
	}
}

// PackPages greedily packs consecutive pages while both the token and page
// ceilings hold. A page that alone exceeds MaxTokens is emitted by itself
// and flagged Oversized.
func PackPages(doc *document.Document, budget Budget) ([]Chunk, error) {
	if err := budget.Validate(ModePages); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, &PlanningError{Reason: "no document"}
	}
	if len(doc.Pages) == 0 {
		return []Chunk{emptyChunk(doc, budget.MaxTokens)}, nil
	}

	var chunks []Chunk
	start, tokens := -1, 0

	closeChunk := func(end int) {
		if start < 0 {
			return
		}
		chunks = append(chunks, Chunk{
			Doc:       doc,
			Index:     len(chunks),
			PageStart: start,
			PageEnd:   end,
			Span:      Span{Start: -1, End: -1},
			Budget:    budget.MaxTokens,
			Cost:      tokens,
		})
		start, tokens = -1, 0
	}

	for i, p := range doc.Pages {
		if p.Tokens > budget.MaxTokens {
			closeChunk(i - 1)
			chunks = append(chunks, Chunk{
				Doc:       doc,
				Index:     len(chunks),
				PageStart: i,
				PageEnd:   i,
				Span:      Span{Start: -1, End: -1},
				Budget:    budget.MaxTokens,
				Cost:      p.Tokens,
				Oversized: true,
			})
			continue
		}

		if start >= 0 {
			count := i - start
			pageLimitHit := budget.MaxPages > 0 && count >= budget.MaxPages
			if tokens+p.Tokens > budget.MaxTokens || pageLimitHit {
				closeChunk(i - 1)
			}
		}
		if start < 0 {
			start = i
		}
		tokens += p.Tokens
	}
	closeChunk(len(doc.Pages) - 1)

	return numbered(chunks), nil
}

// WindowText cuts the flattened document text into windows of at most
// MaxTokens tokens. Each window starts OverlapTokens before the end of the
// previous one; the last window ends exactly at the end of the text.
func WindowText(doc *document.Document, budget Budget) ([]Chunk, error) {
	if err := budget.Validate(ModeText); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, &PlanningError{Reason: "no document"}
	}
	if !doc.HasText() && doc.HasImages() {
		return nil, &PlanningError{Document: doc.Name, Reason: "no extractable text for a text engine"}
	}

	text := doc.Text()
	spans := TokenSpans(text)
	if len(spans) == 0 {
		return []Chunk{emptyChunk(doc, budget.MaxTokens)}, nil
	}

	var chunks []Chunk
	n := len(spans)
	for start := 0; start < n; {
		end := min(start+budget.MaxTokens, n)
		chunks = append(chunks, Chunk{
			Doc:       doc,
			Index:     len(chunks),
			PageStart: -1,
			PageEnd:   -1,
			Span:      Span{Start: start, End: end},
			Text:      text[spans[start].Start:spans[end-1].End],
			Budget:    budget.MaxTokens,
			Cost:      end - start,
		})
		if end == n {
			break
		}
		start = end - budget.OverlapTokens
	}
	return numbered(chunks), nil
}

func numbered(chunks []Chunk) []Chunk {
	for i := range chunks {
		chunks[i].Total = len(chunks)
	}
	return chunks
}

func emptyChunk(doc *document.Document, maxTokens int) Chunk {
	return Chunk{
		Doc:       doc,
		Index:     0,
		Total:     1,
		PageStart: -1,
		PageEnd:   -1,
		Span:      Span{},
		Budget:    maxTokens,
		Empty:     true,
	}
}
