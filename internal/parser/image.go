package parser

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/dgallion1/docmd/internal/document"
)

// ImageParser turns a raster file into a single image page. Formats vision
// engines commonly reject (bmp, webp) are re-encoded as PNG.
type ImageParser struct{}

func (p *ImageParser) Format() document.Format { return document.FormatImage }

func (p *ImageParser) Parse(r io.Reader, filename string) ([]document.Page, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image header: %w", err)
	}

	switch format {
	case "png", "jpeg", "gif":
		return []document.Page{{Image: data, MIME: "image/" + format}}, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", format, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return []document.Page{{Image: buf.Bytes(), MIME: "image/png"}}, nil
}
