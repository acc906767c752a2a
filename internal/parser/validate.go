package parser

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// MaxFileSize is the largest input accepted.
const MaxFileSize = 100 << 20

var (
	ErrEmptyFile = errors.New("file is empty")
	ErrLegacyDoc = errors.New("legacy .doc format is not supported, convert to .docx first")
	ErrCorrupt   = errors.New("file appears corrupted")
)

// TooLargeError reports an input over MaxFileSize.
type TooLargeError struct {
	Size int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("file too large: %.1fMB exceeds limit of %dMB", float64(e.Size)/(1<<20), MaxFileSize>>20)
}

// Validate performs cheap structural checks before parsing.
func Validate(filename string, data []byte) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == ".doc" {
		return ErrLegacyDoc
	}
	if !IsSupportedExtension(filename) {
		return fmt.Errorf("unsupported file extension: %q", ext)
	}
	if len(data) == 0 {
		return ErrEmptyFile
	}
	if len(data) > MaxFileSize {
		return &TooLargeError{Size: int64(len(data))}
	}

	switch ext {
	case ".pdf":
		if !bytes.HasPrefix(data, []byte("%PDF-")) {
			return fmt.Errorf("%w: missing %%PDF- header", ErrCorrupt)
		}
	case ".docx":
		if !bytes.HasPrefix(data, []byte("PK\x03\x04")) {
			return fmt.Errorf("%w: docx is not a zip archive", ErrCorrupt)
		}
	}
	return nil
}
