package parser

import (
	"io"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/dgallion1/docmd/internal/document"
)

// MarkdownParser handles Markdown files using goldmark. The source is cut
// before every top-level heading and each section is kept verbatim.
type MarkdownParser struct{}

func (p *MarkdownParser) Format() document.Format { return document.FormatMarkdown }

func (p *MarkdownParser) Parse(r io.Reader, filename string) ([]document.Page, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	root := goldmark.New().Parser().Parse(text.NewReader(src))

	cuts := []int{0}
	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok {
			continue
		}
		if off, ok := headingStart(h, src); ok && off > cuts[len(cuts)-1] {
			cuts = append(cuts, off)
		}
	}
	cuts = append(cuts, len(src))

	var pages []document.Page
	for i := 0; i+1 < len(cuts); i++ {
		section := strings.TrimSpace(string(src[cuts[i]:cuts[i+1]]))
		if section != "" {
			pages = append(pages, document.Page{Text: section})
		}
	}
	return pages, nil
}

// headingStart returns the byte offset of the line a heading starts on.
func headingStart(h *ast.Heading, src []byte) (int, bool) {
	lines := h.Lines()
	if lines.Len() == 0 {
		return 0, false
	}
	off := lines.At(0).Start
	for off > 0 && src[off-1] != '\n' {
		off--
	}
	return off, true
}
