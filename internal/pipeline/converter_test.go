package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docmd/internal/chunker"
	"github.com/dgallion1/docmd/internal/config"
	"github.com/dgallion1/docmd/internal/dispatch"
	"github.com/dgallion1/docmd/internal/document"
	"github.com/dgallion1/docmd/internal/engine"
	"github.com/dgallion1/docmd/internal/output"
	"github.com/dgallion1/docmd/internal/summary"
)

// echo renders each chunk as "chunk N: <text>" and fails chunks listed in
// fail with a non-retryable status (400 unless status is set).
type echo struct {
	fail   map[int]bool
	status int
	calls  atomic.Int32
}

func (e *echo) Name() string { return "echo" }
func (e *echo) Model() string { return "echo-1" }
func (e *echo) Class() engine.Class { return engine.ClassPage }

func (e *echo) Convert(ctx context.Context, c chunker.Chunk) (*engine.Response, error) {
	e.calls.Add(1)
	if e.fail[c.Index] {
		code := e.status
		if code == 0 {
			code = 400
		}
		return nil, &engine.StatusError{StatusCode: code, Message: "bad page"}
	}
	return &engine.Response{
		Markdown: fmt.Sprintf("chunk %d: %s", c.Index, c.Content()),
		Usage:    engine.Usage{InputTokens: c.Cost, OutputTokens: 1},
	}, nil
}

// textEcho is a registered text-class engine.
type textEcho struct{ echo }

func (*textEcho) Name() string { return "echo-text" }
func (*textEcho) Class() engine.Class { return engine.ClassText }

func init() {
	engine.Register("echo-text", func(engine.Settings) (engine.Engine, error) { return &textEcho{}, nil })
}

func testConfig() config.Config {
	return config.Config{
		MaxTokensPerChunk: 1000,
		MaxPagesPerChunk:  1,
		OverlapTokens:     0,
		ConcurrencyLimit:  2,
		Timeout:           time.Second,
		MaxRetryAttempts:  2,
		BackoffBase:       time.Millisecond,
		BackoffMax:        time.Millisecond,
		DocConcurrency:    2,
		JobTTL:            time.Hour,
		MaxQueueSize:      4,
		WorkerCount:       1,
		DefaultEngine:     "echo",
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func threePages() *document.Document {
	doc := &document.Document{Name: "doc.txt", Format: document.FormatText, ContentHash: "h1"}
	for i, text := range []string{"alpha", "beta", "gamma"} {
		doc.Pages = append(doc.Pages, document.Page{Index: i, Text: text, Tokens: chunker.EstimateTokens(text)})
	}
	return doc
}

func TestConvert_AssemblesInOrderAndRecords(t *testing.T) {
	conv := NewConverter(testConfig(), nil, nil, discardLogger())
	res, err := conv.Convert(context.Background(), threePages(), &echo{})
	require.NoError(t, err)
	require.Equal(t, "chunk 0: alpha\n\nchunk 1: beta\n\nchunk 2: gamma\n", res.Markdown)

	snap := conv.Summary().Snapshot()
	require.Len(t, snap.Documents, 1)
	require.Equal(t, summary.StatusConverted, snap.Documents[0].Status)
	require.Equal(t, 3, snap.Documents[0].ChunksOK)
}

func TestConvert_PartialFailureKeepsSiblings(t *testing.T) {
	conv := NewConverter(testConfig(), nil, nil, discardLogger())
	e := &echo{fail: map[int]bool{1: true}}
	res, err := conv.Convert(context.Background(), threePages(), e)
	require.NoError(t, err)
	require.Equal(t, 1, res.Failed)
	require.Contains(t, res.Markdown, "chunk 0: alpha")
	require.Contains(t, res.Markdown, "<!-- docmd: chunk 1 failed (unsupported_input)")
	require.Contains(t, res.Markdown, "chunk 2: gamma")
	require.EqualValues(t, 3, e.calls.Load(), "fatal failure must not be retried")

	d := conv.Summary().Snapshot().Documents[0]
	require.Equal(t, summary.StatusPartial, d.Status)
	require.Equal(t, dispatch.KindUnsupportedInput, d.WorstKind)
}

func TestConvert_UnauthorizedChunkAmongTwoSuccesses(t *testing.T) {
	conv := NewConverter(testConfig(), nil, nil, discardLogger())
	e := &echo{fail: map[int]bool{1: true}, status: 401}
	res, err := conv.Convert(context.Background(), threePages(), e)
	require.NoError(t, err)
	require.Equal(t, 2, res.Succeeded)
	require.Equal(t, 1, res.Failed)
	require.EqualValues(t, 3, e.calls.Load())

	first := strings.Index(res.Markdown, "chunk 0: alpha")
	marker := strings.Index(res.Markdown, "<!-- docmd: chunk 1 failed (unauthorized)")
	last := strings.Index(res.Markdown, "chunk 2: gamma")
	require.True(t, first >= 0 && marker > first && last > marker, res.Markdown)

	d := conv.Summary().Snapshot().Documents[0]
	require.Equal(t, 2, d.ChunksOK)
	require.Equal(t, 1, d.ChunksFailed)
	require.Equal(t, dispatch.KindUnauthorized, d.WorstKind)
}

func TestEngine_RejectsOverlapForTextEngines(t *testing.T) {
	cfg := testConfig()
	cfg.OverlapTokens = cfg.MaxTokensPerChunk
	conv := NewConverter(cfg, nil, nil, discardLogger())

	_, err := conv.Engine("echo-text")
	var ce *chunker.ConfigurationError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "overlap_tokens", ce.Field)

	cfg.OverlapTokens = 10
	e, err := NewConverter(cfg, nil, nil, discardLogger()).Engine("echo-text")
	require.NoError(t, err)
	require.Equal(t, engine.ClassText, e.Class())
}

func TestConvert_PlanningErrorRecorded(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTokensPerChunk = 0
	conv := NewConverter(cfg, nil, nil, discardLogger())
	_, err := conv.Convert(context.Background(), threePages(), &echo{})
	var ce *chunker.ConfigurationError
	require.ErrorAs(t, err, &ce)

	d := conv.Summary().Snapshot().Documents[0]
	require.Equal(t, summary.StatusFailed, d.Status)
	require.NotEmpty(t, d.Error)
}

func TestConvert_CancelledReportsCancelled(t *testing.T) {
	conv := NewConverter(testConfig(), nil, nil, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := conv.Convert(ctx, threePages(), &echo{})
	var f *dispatch.Failure
	require.ErrorAs(t, err, &f)
	require.Equal(t, dispatch.KindCancelled, f.Kind)
	require.Equal(t, dispatch.KindCancelled, conv.Summary().Snapshot().Documents[0].WorstKind)
}

func TestConvert_HooksSeeEveryChunk(t *testing.T) {
	conv := NewConverter(testConfig(), nil, nil, discardLogger())
	var planned, seen int
	_, err := conv.ConvertWithHooks(context.Background(), threePages(), &echo{}, Hooks{
		OnPlan:    func(n int) { planned = n },
		OnOutcome: func(dispatch.Outcome) { seen++ },
	})
	require.NoError(t, err)
	require.Equal(t, 3, planned)
	require.Equal(t, 3, seen)
}

func TestConvert_CacheSkipsEngine(t *testing.T) {
	conv := NewConverter(testConfig(), NewResultCache(8, time.Minute), nil, discardLogger())
	e := &echo{}
	first, err := conv.Convert(context.Background(), threePages(), e)
	require.NoError(t, err)
	second, err := conv.Convert(context.Background(), threePages(), e)
	require.NoError(t, err)

	require.Same(t, first, second)
	require.EqualValues(t, 3, e.calls.Load())
	docs := conv.Summary().Snapshot().Documents
	require.Equal(t, summary.StatusCached, docs[1].Status)
	require.Zero(t, docs[1].Attempts)
}

func TestConvert_PartialResultNotCached(t *testing.T) {
	cache := NewResultCache(8, time.Minute)
	conv := NewConverter(testConfig(), cache, nil, discardLogger())
	_, err := conv.Convert(context.Background(), threePages(), &echo{fail: map[int]bool{0: true}})
	require.NoError(t, err)
	require.Zero(t, cache.Len())
}

func TestResultCache_NilNeverHits(t *testing.T) {
	var c *ResultCache
	c.Put(threePages(), &echo{}, nil)
	_, ok := c.Get(threePages(), &echo{})
	require.False(t, ok)
	require.Nil(t, NewResultCache(0, time.Minute))
}

func TestConvertAll_ContinuesPastFailures(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}
	inputs := []Input{
		{Path: write("a.txt", "first para\n\nsecond para")},
		{Path: write("empty.txt", "")},
		{Path: filepath.Join(dir, "missing.txt")},
		{Path: "upload.md", Data: []byte("# Up\n\nloaded")},
	}

	out := t.TempDir()
	conv := NewConverter(testConfig(), nil, nil, discardLogger())
	items := conv.ConvertAll(context.Background(), inputs, &echo{}, output.DirSink{Dir: out})
	require.Len(t, items, 4)

	require.NoError(t, items[0].Err)
	require.Equal(t, filepath.Join(out, "a.md"), items[0].Location)
	require.Error(t, items[1].Err)
	require.Error(t, items[2].Err)
	require.NoError(t, items[3].Err)

	md, err := os.ReadFile(filepath.Join(out, "upload.md"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(md), "chunk 0: # Up"))

	totals := conv.Summary().Snapshot().Totals
	require.Equal(t, 4, totals.Documents)
	require.Equal(t, 2, totals.Converted)
	require.Equal(t, 2, totals.Failed)
}

func TestConvertAll_InputSinkOverridesBatchSink(t *testing.T) {
	out, nested := t.TempDir(), t.TempDir()
	inputs := []Input{
		{Path: "a.txt", Data: []byte("x")},
		{Path: "b.txt", Data: []byte("y"), Sink: output.DirSink{Dir: nested}},
	}
	conv := NewConverter(testConfig(), nil, nil, discardLogger())
	items := conv.ConvertAll(context.Background(), inputs, &echo{}, output.DirSink{Dir: out})
	require.Len(t, items, 2)
	require.Equal(t, filepath.Join(out, "a.md"), items[0].Location)
	require.Equal(t, filepath.Join(nested, "b.md"), items[1].Location)
	require.NoFileExists(t, filepath.Join(out, "b.md"))
}

func TestConvertAll_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	conv := NewConverter(testConfig(), nil, nil, discardLogger())
	items := conv.ConvertAll(ctx, []Input{{Path: "a.txt", Data: []byte("x")}}, &echo{}, nil)

	var f *dispatch.Failure
	require.True(t, errors.As(items[0].Err, &f))
	require.Equal(t, dispatch.KindCancelled, f.Kind)
}
