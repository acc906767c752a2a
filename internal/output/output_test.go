package output

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"

	"github.com/dgallion1/docmd/internal/assemble"
)

func sampleResult() *assemble.Result {
	return &assemble.Result{
		Document:  "report.pdf",
		Stem:      "report",
		Markdown:  "# Report\n\n![fig](report_assets/0-fig.png)\n",
		Succeeded: 1,
		Assets: []assemble.OutputAsset{
			{Path: "report_assets/0-fig.png", Chunk: 0, Data: []byte("png-bytes")},
		},
	}
}

func TestDirSink_WritesMarkdownAndAssets(t *testing.T) {
	dir := t.TempDir()
	loc, err := DirSink{Dir: dir}.Write(context.Background(), sampleResult())
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "report.md"), loc)

	md, err := os.ReadFile(loc)
	require.NoError(t, err)
	require.Equal(t, sampleResult().Markdown, string(md))

	asset, err := os.ReadFile(filepath.Join(dir, "report_assets", "0-fig.png"))
	require.NoError(t, err)
	require.Equal(t, "png-bytes", string(asset))

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestDirSink_RejectsEscapingAsset(t *testing.T) {
	res := sampleResult()
	res.Assets[0].Path = "../outside.png"
	_, err := DirSink{Dir: t.TempDir()}.Write(context.Background(), res)
	require.Error(t, err)
}

func TestHTTPSink_UploadsEverything(t *testing.T) {
	var mu sync.Mutex
	got := map[string][]byte{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got[r.URL.Path] = body
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL+"/", "secret", "/runs/1/")
	defer sink.Close()
	loc, err := sink.Write(context.Background(), sampleResult())
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/files/runs/1/report.md", loc)

	require.Equal(t, "png-bytes", string(got["/files/runs/1/report_assets/0-fig.png"]))
	require.Equal(t, sampleResult().Markdown, string(got["/files/runs/1/report.md"]))

	var m Manifest
	require.NoError(t, json.Unmarshal(got["/files/runs/1/report.json"], &m))
	require.Equal(t, []string{"runs/1/report_assets/0-fig.png"}, m.Assets)
}

func TestHTTPSink_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewHTTPSink(srv.URL, "", "").Write(context.Background(), sampleResult())
	require.ErrorContains(t, err, "status 403")
}

func TestWriteBundle(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteBundle(&buf, sampleResult()))

	xr, err := xz.NewReader(&buf)
	require.NoError(t, err)
	tr := tar.NewReader(xr)

	files := map[string]string{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[hdr.Name] = string(data)
	}
	require.Equal(t, map[string]string{
		"report.md":               sampleResult().Markdown,
		"report_assets/0-fig.png": "png-bytes",
	}, files)
	require.Equal(t, "report.tar.xz", BundleName(sampleResult()))
}
