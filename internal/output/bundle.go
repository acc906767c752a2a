package output

import (
	"archive/tar"
	"fmt"
	"io"
	"time"

	"github.com/ulikunitz/xz"

	"github.com/dgallion1/docmd/internal/assemble"
)

// BundleName is the download name for a result bundle.
func BundleName(res *assemble.Result) string {
	return res.Stem + ".tar.xz"
}

// WriteBundle streams a tar.xz holding the Markdown and every asset at the
// paths the Markdown references.
func WriteBundle(w io.Writer, res *assemble.Result) error {
	xw, err := xz.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create xz writer: %w", err)
	}
	tw := tar.NewWriter(xw)

	now := time.Now()
	if err := writeTarFile(tw, MarkdownName(res), []byte(res.Markdown), now); err != nil {
		return err
	}
	for _, a := range res.Assets {
		if err := writeTarFile(tw, a.Path, a.Data, now); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := xw.Close(); err != nil {
		return fmt.Errorf("close xz: %w", err)
	}
	return nil
}

func writeTarFile(tw *tar.Writer, name string, data []byte, mod time.Time) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: mod,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("tar header %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("tar write %s: %w", name, err)
	}
	return nil
}
