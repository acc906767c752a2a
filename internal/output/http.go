package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/dgallion1/docmd/internal/assemble"
)

// HTTPSink uploads results to a remote object store that accepts
// PUT /files/{key} with a bearer token.
type HTTPSink struct {
	baseURL    string
	apiKey     string
	prefix     string
	httpClient *http.Client
}

func NewHTTPSink(baseURL, apiKey, prefix string) *HTTPSink {
	return &HTTPSink{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		prefix:  strings.Trim(prefix, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Manifest is stored next to the Markdown so a reader can list assets
// without scanning the store.
type Manifest struct {
	Document  string   `json:"document"`
	Markdown  string   `json:"markdown"`
	Assets    []string `json:"assets"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
}

// Write uploads assets, then the Markdown, then the manifest.
func (s *HTTPSink) Write(ctx context.Context, res *assemble.Result) (string, error) {
	m := Manifest{
		Document:  res.Document,
		Markdown:  s.key(MarkdownName(res)),
		Succeeded: res.Succeeded,
		Failed:    res.Failed,
	}
	for _, a := range res.Assets {
		key := s.key(a.Path)
		if err := s.put(ctx, key, ContentType(a.Path), a.Data); err != nil {
			return "", err
		}
		m.Assets = append(m.Assets, key)
	}
	if err := s.put(ctx, m.Markdown, "text/markdown; charset=utf-8", []byte(res.Markdown)); err != nil {
		return "", err
	}

	body, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	if err := s.put(ctx, s.key(res.Stem+".json"), "application/json", body); err != nil {
		return "", err
	}
	return s.baseURL + "/files/" + m.Markdown, nil
}

func (s *HTTPSink) key(rel string) string {
	if s.prefix == "" {
		return rel
	}
	return s.prefix + "/" + rel
}

func (s *HTTPSink) put(ctx context.Context, key, ctype string, data []byte) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, s.baseURL+"/files/"+escapeKey(key), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", ctype)
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("put %s: status %d: %s", key, resp.StatusCode, string(respBody))
	}
	return nil
}

// Close releases idle connections.
func (s *HTTPSink) Close() {
	s.httpClient.CloseIdleConnections()
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// ContentType guesses a MIME type from the file extension.
func ContentType(name string) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
