// Package output writes converted documents to their destination.
package output

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgallion1/docmd/internal/assemble"
)

// Sink persists one assembled document and returns where it went.
type Sink interface {
	Write(ctx context.Context, res *assemble.Result) (string, error)
}

// DirSink writes <stem>.md and <stem>_assets/ under Dir.
type DirSink struct {
	Dir string
}

func (s DirSink) Write(ctx context.Context, res *assemble.Result) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	mdPath := filepath.Join(s.Dir, MarkdownName(res))

	for _, a := range res.Assets {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rel := filepath.FromSlash(a.Path)
		if !filepath.IsLocal(rel) {
			return "", fmt.Errorf("asset path %q escapes output dir", a.Path)
		}
		dst := filepath.Join(s.Dir, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return "", fmt.Errorf("create asset dir: %w", err)
		}
		if err := os.WriteFile(dst, a.Data, 0o644); err != nil {
			return "", fmt.Errorf("write asset %s: %w", a.Path, err)
		}
	}

	// Markdown last so a present .md implies its assets are complete.
	if err := writeAtomic(mdPath, []byte(res.Markdown)); err != nil {
		return "", fmt.Errorf("write markdown: %w", err)
	}
	return mdPath, nil
}

// MarkdownName is the output file name for a result.
func MarkdownName(res *assemble.Result) string {
	return res.Stem + ".md"
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".docmd-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
