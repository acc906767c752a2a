package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgallion1/docmd/internal/chunker"
)

// Class declares which kind of chunk an engine accepts.
type Class = chunker.Mode

const (
	ClassPage = chunker.ModePages
	ClassText = chunker.ModeText
)

// Engine converts one chunk into Markdown. Implementations return raw
// errors; classification into retryable and fatal happens in the dispatcher.
type Engine interface {
	Name() string
	Model() string
	Class() Class
	Convert(ctx context.Context, chunk chunker.Chunk) (*Response, error)
}

// Response is the result of a successful conversion of one chunk.
type Response struct {
	Markdown string
	Assets   []Asset
	Engine   string
	Model    string
	Elapsed  time.Duration
	Usage    Usage
}

// Usage is token accounting as reported by the engine, zero if unknown.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add returns the element-wise sum.
func (u Usage) Add(o Usage) Usage {
	return Usage{InputTokens: u.InputTokens + o.InputTokens, OutputTokens: u.OutputTokens + o.OutputTokens}
}

// Asset is a binary artifact produced alongside the Markdown, e.g. an
// extracted figure. Name is the path the chunk's Markdown refers to it by.
type Asset struct {
	Name  string
	Data  []byte
	Chunk int
}

var (
	ErrUnsupportedInput = errors.New("unsupported input")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrRateLimited      = errors.New("rate limited")
)

// StatusError carries an HTTP status returned by a remote engine.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("engine status %d: %s", e.StatusCode, truncate(e.Message, 200))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
