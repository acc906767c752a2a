//go:build tesseract

// Package tesseract is a local OCR engine backed by libtesseract. Build with
// -tags tesseract and blank-import the package to register it.
package tesseract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/otiai10/gosseract/v2"

	"github.com/dgallion1/docmd/internal/chunker"
	"github.com/dgallion1/docmd/internal/engine"
)

func init() {
	engine.Register("tesseract", func(s engine.Settings) (engine.Engine, error) {
		return New(s.TesseractLanguages), nil
	})
}

// Engine runs OCR over every raster page of a chunk and falls back to the
// extracted text for pages without a raster.
type Engine struct {
	languages     []string
	clientFactory func() *gosseract.Client
}

func New(languages []string) *Engine {
	return &Engine{languages: languages, clientFactory: gosseract.NewClient}
}

func (e *Engine) Name() string { return "tesseract" }
func (e *Engine) Model() string { return "tesseract-" + gosseract.Version() }
func (e *Engine) Class() engine.Class { return engine.ClassPage }

func (e *Engine) Convert(ctx context.Context, c chunker.Chunk) (*engine.Response, error) {
	start := time.Now()
	client := e.clientFactory()
	defer client.Close()

	if len(e.languages) > 0 {
		if err := client.SetLanguage(e.languages...); err != nil {
			return nil, fmt.Errorf("set languages: %w", err)
		}
	}

	var pages []string
	for _, p := range c.Pages() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(p.Image) == 0 {
			if t := strings.TrimSpace(p.Text); t != "" {
				pages = append(pages, t)
			}
			continue
		}
		if err := client.SetImageFromBytes(p.Image); err != nil {
			return nil, fmt.Errorf("page %d: set image: %w: %w", p.Index+1, engine.ErrUnsupportedInput, err)
		}
		text, err := client.Text()
		if err != nil {
			return nil, fmt.Errorf("page %d: recognize text: %w", p.Index+1, err)
		}
		if t := strings.TrimSpace(text); t != "" {
			pages = append(pages, t)
		}
	}

	return &engine.Response{
		Markdown: strings.Join(pages, "\n\n"),
		Engine:   e.Name(),
		Model:    e.Model(),
		Elapsed:  time.Since(start),
	}, nil
}
