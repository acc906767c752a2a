// Package gemini converts page chunks with Gemini vision models.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/dgallion1/docmd/internal/chunker"
	"github.com/dgallion1/docmd/internal/engine"
)

const DefaultModel = "gemini-2.0-flash"

const systemPrompt = `You transcribe document pages into GitHub-flavored Markdown.
Reproduce all text in reading order. Render tables as Markdown tables and
formulas as LaTeX between $ delimiters. Do not describe the page, summarize, or
wrap the answer in a code fence.`

func init() {
	engine.Register("gemini", func(s engine.Settings) (engine.Engine, error) {
		model := s.Model
		if model == "" {
			model = s.GeminiModel
		}
		return New(context.Background(), s.GeminiAPIKey, model)
	})
}

// Engine sends page text and page rasters to Gemini.
type Engine struct {
	client    *genai.Client
	model     *genai.GenerativeModel
	modelName string
}

func New(ctx context.Context, apiKey, modelName string) (*Engine, error) {
	if apiKey == "" {
		return nil, errors.New("gemini engine requires GEMINI_API_KEY")
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	model := client.GenerativeModel(modelName)
	model.SetTemperature(0)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}

	return &Engine{client: client, model: model, modelName: modelName}, nil
}

func (e *Engine) Name() string { return "gemini" }
func (e *Engine) Model() string { return e.modelName }
func (e *Engine) Class() engine.Class { return engine.ClassPage }

// Convert issues one request per chunk, carrying every page of it.
func (e *Engine) Convert(ctx context.Context, c chunker.Chunk) (*engine.Response, error) {
	start := time.Now()
	parts := buildParts(c)
	if len(parts) == 0 {
		return &engine.Response{Engine: e.Name(), Model: e.modelName, Elapsed: time.Since(start)}, nil
	}

	resp, err := e.model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, mapError(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("empty response from gemini")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}

	out := &engine.Response{
		Markdown: strings.TrimSpace(sb.String()),
		Engine:   e.Name(),
		Model:    e.modelName,
		Elapsed:  time.Since(start),
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = engine.Usage{InputTokens: int(u.PromptTokenCount), OutputTokens: int(u.CandidatesTokenCount)}
	}
	return out, nil
}

// buildParts interleaves a page marker, the page raster and any extracted
// text for each page of the chunk.
func buildParts(c chunker.Chunk) []genai.Part {
	var parts []genai.Part
	for _, p := range c.Pages() {
		hasText := strings.TrimSpace(p.Text) != ""
		if len(p.Image) == 0 && !hasText {
			continue
		}
		parts = append(parts, genai.Text(fmt.Sprintf("Page %d:", p.Index+1)))
		if len(p.Image) > 0 {
			parts = append(parts, genai.ImageData(imageFormat(p.MIME), p.Image))
		}
		if hasText {
			parts = append(parts, genai.Text(p.Text))
		}
	}
	if len(parts) > 0 && c.Total > 1 {
		note := fmt.Sprintf("These pages are part %d of %d of the document.", c.Index+1, c.Total)
		parts = append([]genai.Part{genai.Text(note)}, parts...)
	}
	return parts
}

func imageFormat(mime string) string {
	if f, ok := strings.CutPrefix(mime, "image/"); ok && f != "" {
		return f
	}
	return "png"
}

// mapError lifts googleapi status codes into engine.StatusError so the
// dispatcher can classify them.
func mapError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &engine.StatusError{StatusCode: gerr.Code, Message: gerr.Message}
	}
	return fmt.Errorf("gemini request: %w", err)
}

// Close releases the underlying client.
func (e *Engine) Close() error {
	return e.client.Close()
}
