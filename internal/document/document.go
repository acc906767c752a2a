package document

import (
	"encoding/hex"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// Format is the detected source format of a document.
type Format string

const (
	FormatPDF      Format = "pdf"
	FormatImage    Format = "image"
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatCSV      Format = "csv"
	FormatDOCX     Format = "docx"
)

// Paginated reports whether the format carries a natural page structure.
func (f Format) Paginated() bool {
	return f == FormatPDF || f == FormatImage
}

// Document is a loaded source document. It is read-only for the duration of a run.
type Document struct {
	Path        string // Source path (may be empty for uploads)
	Name        string // File name including extension
	Size        int64  // Raw byte size
	Format      Format
	Pages       []Page // Ordered by Index, 0-based and contiguous
	ContentHash string // blake3 of the raw bytes, hex encoded
}

// Page is one page, or one logical block (paragraph, section, table batch)
// of an unpaginated format.
type Page struct {
	Index  int    // 0-based position within the document
	Text   string // Extracted text, may be empty for scanned pages
	Image  []byte // Raster payload for image pages
	MIME   string // MIME type of Image
	Tokens int    // Estimated token cost
}

// Stem returns the file name without extension.
func (d *Document) Stem() string {
	base := filepath.Base(d.Name)
	if base == "." || base == "/" || base == "" {
		return "document"
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Text flattens all page text into one string, pages separated by a blank line.
func (d *Document) Text() string {
	var sb strings.Builder
	for _, p := range d.Pages {
		t := strings.TrimSpace(p.Text)
		if t == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(t)
	}
	return sb.String()
}

// HasText reports whether any page carries extractable text.
func (d *Document) HasText() bool {
	for _, p := range d.Pages {
		if strings.TrimSpace(p.Text) != "" {
			return true
		}
	}
	return false
}

// HasImages reports whether any page carries a raster.
func (d *Document) HasImages() bool {
	for _, p := range d.Pages {
		if len(p.Image) > 0 {
			return true
		}
	}
	return false
}

// TotalTokens sums the estimated cost of all pages.
func (d *Document) TotalTokens() int {
	total := 0
	for _, p := range d.Pages {
		total += p.Tokens
	}
	return total
}

// HashHex computes the blake3 digest of data as a hex string.
func HashHex(data []byte) string {
	h := blake3.Sum256(data)
	return hex.EncodeToString(h[:])
}
