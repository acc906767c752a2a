package claude

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docmd/internal/chunker"
	"github.com/dgallion1/docmd/internal/document"
	"github.com/dgallion1/docmd/internal/engine"
)

func textChunks(t *testing.T, text string, budget chunker.Budget) []chunker.Chunk {
	t.Helper()
	doc := &document.Document{
		Name:   "notes.txt",
		Format: document.FormatText,
		Pages:  []document.Page{{Index: 0, Text: text, Tokens: chunker.EstimateTokens(text)}},
	}
	chunks, err := chunker.WindowText(doc, budget)
	require.NoError(t, err)
	return chunks
}

func TestConvert_Success(t *testing.T) {
	var got request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		require.Equal(t, "test-key", r.Header.Get("x-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content":[{"type":"text","text":"` + "```markdown\\n# Title\\n\\nbody\\n```" + `"}],"usage":{"input_tokens":12,"output_tokens":7}}`))
	}))
	defer srv.Close()

	c := New("test-key", "", srv.URL)
	chunks := textChunks(t, "one two three four five six", chunker.Budget{MaxTokens: 4, OverlapTokens: 1})
	require.Len(t, chunks, 2)

	resp, err := c.Convert(context.Background(), chunks[1])
	require.NoError(t, err)
	require.Equal(t, "# Title\n\nbody", resp.Markdown)
	require.Equal(t, engine.Usage{InputTokens: 12, OutputTokens: 7}, resp.Usage)
	require.Equal(t, DefaultModel, got.Model)
	require.Len(t, got.Messages, 1)
	require.Contains(t, got.Messages[0].Content, "Part 2 of 2")
	require.Contains(t, got.Messages[0].Content, "four five six")
}

func TestConvert_StatusErrors(t *testing.T) {
	for _, code := range []int{http.StatusTooManyRequests, http.StatusUnauthorized, http.StatusBadGateway, http.StatusBadRequest} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
			w.Write([]byte(`{"type":"error"}`))
		}))

		c := New("k", "m", srv.URL)
		_, err := c.Convert(context.Background(), textChunks(t, "hello", chunker.Budget{MaxTokens: 10})[0])
		srv.Close()

		var se *engine.StatusError
		require.True(t, errors.As(err, &se), "code %d: expected StatusError, got %v", code, err)
		require.Equal(t, code, se.StatusCode)
	}
}

func TestConvert_RejectsPageChunks(t *testing.T) {
	c := New("k", "", "http://127.0.0.1:0")
	_, err := c.Convert(context.Background(), chunker.Chunk{PageStart: 0, PageEnd: 0})
	require.ErrorIs(t, err, engine.ErrUnsupportedInput)
}

func TestConvert_EmptyChunkSkipsCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected request for empty chunk")
	}))
	defer srv.Close()

	resp, err := New("k", "", srv.URL).Convert(context.Background(), chunker.Chunk{PageStart: -1, PageEnd: -1, Empty: true})
	require.NoError(t, err)
	require.Empty(t, resp.Markdown)
}

func TestConvert_APIErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad"}}`))
	}))
	defer srv.Close()

	_, err := New("k", "", srv.URL).Convert(context.Background(), textChunks(t, "hello", chunker.Budget{MaxTokens: 10})[0])
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid_request_error")
}

func TestStripFence(t *testing.T) {
	cases := map[string]string{
		"plain":                       "plain",
		"```\n# A\n```":               "# A",
		"```md\n- x\n- y\n```":        "- x\n- y",
		"text then\n```\ncode\n```":   "text then\n```\ncode\n```",
		"  \n```markdown\nbody\n```\n": "body",
	}
	for in, want := range cases {
		if got := stripFence(in); got != want {
			t.Errorf("stripFence(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestBuildPrompt_SingleChunkOmitsPart(t *testing.T) {
	p := BuildPrompt("a.txt", 0, 1, "content")
	require.False(t, strings.Contains(p, "Part "))
	require.True(t, strings.HasSuffix(p, "---\ncontent"))
}
