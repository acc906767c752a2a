// Package claude converts text chunks to Markdown through the Anthropic
// Messages API.
package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/dgallion1/docmd/internal/chunker"
	"github.com/dgallion1/docmd/internal/engine"
)

const (
	DefaultModel   = "claude-sonnet-4-5"
	DefaultBaseURL = "https://api.anthropic.com"
	maxOutput      = 8192
)

func init() {
	engine.Register("claude", func(s engine.Settings) (engine.Engine, error) {
		if s.AnthropicAPIKey == "" {
			return nil, errors.New("claude engine requires ANTHROPIC_API_KEY")
		}
		model := s.Model
		if model == "" {
			model = s.AnthropicModel
		}
		return New(s.AnthropicAPIKey, model, s.AnthropicURL), nil
	})
}

// Client calls the Anthropic Messages API.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// New returns a client. Empty model and baseURL select the defaults.
// Per-call deadlines come from the context; the http.Client timeout is only
// an outer bound.
func New(apiKey, model, baseURL string) *Client {
	if model == "" {
		model = DefaultModel
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
	}
}

func (c *Client) Name() string { return "claude" }
func (c *Client) Model() string { return c.model }
func (c *Client) Class() engine.Class { return engine.ClassText }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type response struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Convert sends one text window and returns the Markdown Claude produced.
func (c *Client) Convert(ctx context.Context, chunk chunker.Chunk) (*engine.Response, error) {
	if chunk.IsPageChunk() {
		return nil, fmt.Errorf("claude accepts text chunks only: %w", engine.ErrUnsupportedInput)
	}
	if chunk.Empty || strings.TrimSpace(chunk.Text) == "" {
		return &engine.Response{Engine: c.Name(), Model: c.model}, nil
	}
	start := time.Now()

	name := ""
	if chunk.Doc != nil {
		name = chunk.Doc.Name
	}
	body, err := json.Marshal(request{
		Model:     c.model,
		MaxTokens: maxOutput,
		System:    SystemPrompt,
		Messages: []message{
			{Role: "user", Content: BuildPrompt(name, chunk.Index, chunk.Total, chunk.Content())},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("claude api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &engine.StatusError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	var apiResp response
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("claude error: %s: %s", apiResp.Error.Type, apiResp.Error.Message)
	}

	var sb strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, errors.New("empty response from claude")
	}

	return &engine.Response{
		Markdown: stripFence(sb.String()),
		Engine:   c.Name(),
		Model:    c.model,
		Elapsed:  time.Since(start),
		Usage: engine.Usage{
			InputTokens:  apiResp.Usage.InputTokens,
			OutputTokens: apiResp.Usage.OutputTokens,
		},
	}, nil
}

var fenceRe = regexp.MustCompile("(?s)^```(?:markdown|md)?\\s*\\n(.*?)\\s*```$")

// stripFence removes a code fence wrapping the entire reply.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return s
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
