package engine

import (
	"context"
	"strings"
	"time"

	"github.com/dgallion1/docmd/internal/chunker"
)

const (
	localModel      = "local-text-wrapper"
	noTextPlacehold = "_No textual content could be extracted._"
)

func init() {
	Register("local", func(Settings) (Engine, error) { return NewLocal(), nil })
}

// Local wraps the text the parser already extracted. It needs no network and
// is the default engine.
type Local struct{}

func NewLocal() *Local { return &Local{} }

func (*Local) Name() string { return "local" }
func (*Local) Model() string { return localModel }
func (*Local) Class() Class { return ClassPage }

// Convert renders the chunk's pages as Markdown. The first chunk of a
// document is headed by the document stem.
func (l *Local) Convert(ctx context.Context, c chunker.Chunk) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	text := strings.TrimSpace(c.Content())
	if text == "" {
		text = noTextPlacehold
	}

	var sb strings.Builder
	if c.Index == 0 && c.Doc != nil {
		sb.WriteString("# ")
		sb.WriteString(c.Doc.Stem())
		sb.WriteString("\n\n")
	}
	sb.WriteString(text)
	sb.WriteString("\n")

	return &Response{
		Markdown: sb.String(),
		Engine:   l.Name(),
		Model:    localModel,
		Elapsed:  time.Since(start),
	}, nil
}
