package parser

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dgallion1/docmd/internal/chunker"
	"github.com/dgallion1/docmd/internal/document"
)

// Parser converts raw document bytes into ordered pages. Paginated formats
// produce one page per physical page; other formats produce one page per
// logical block (paragraph, section, row batch).
type Parser interface {
	Parse(r io.Reader, filename string) ([]document.Page, error)
	Format() document.Format
}

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".csv":      true,
	".html":     true,
	".htm":      true,
	".pdf":      true,
	".docx":     true,
	".png":      true,
	".jpg":      true,
	".jpeg":     true,
	".gif":      true,
	".bmp":      true,
	".webp":     true,
}

// ForFile returns the appropriate parser for a filename.
func ForFile(filename string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt":
		return &TextParser{}, nil
	case ".md", ".markdown":
		return &MarkdownParser{}, nil
	case ".csv":
		return &CSVParser{}, nil
	case ".html", ".htm":
		return &HTMLParser{}, nil
	case ".pdf":
		return &PDFParser{FallbackPdftotext: true}, nil
	case ".docx":
		return &DOCXParser{}, nil
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".webp":
		return &ImageParser{}, nil
	case ".doc":
		return nil, ErrLegacyDoc
	default:
		return nil, fmt.Errorf("unsupported file extension: %q", ext)
	}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return SupportedExtensions[ext]
}

// Options tune Load.
type Options struct {
	ImageTokens      int  // Per-raster cost; 0 selects the default
	DisablePdftotext bool // Skip the pdftotext fallback for PDFs
}

// Load validates and parses a document held in memory and prices every page.
func Load(path string, data []byte, opts Options) (*document.Document, error) {
	name := filepath.Base(path)
	if err := Validate(name, data); err != nil {
		return nil, err
	}
	p, err := ForFile(name)
	if err != nil {
		return nil, err
	}
	if pp, ok := p.(*PDFParser); ok && opts.DisablePdftotext {
		pp.FallbackPdftotext = false
	}
	pages, err := p.Parse(bytes.NewReader(data), name)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}

	for i := range pages {
		pages[i].Index = i
		pages[i].Text = strings.ToValidUTF8(pages[i].Text, "�")
		pages[i].Tokens = chunker.EstimatePage(pages[i], opts.ImageTokens)
	}

	return &document.Document{
		Path:        path,
		Name:        name,
		Size:        int64(len(data)),
		Format:      p.Format(),
		Pages:       pages,
		ContentHash: document.HashHex(data),
	}, nil
}
