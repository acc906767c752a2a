package parser

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"golang.org/x/image/bmp"

	"github.com/dgallion1/docmd/internal/chunker"
	"github.com/dgallion1/docmd/internal/document"
)

func TestCSVParser_MarkdownTables(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("name,qty\n")
	for i := range 25 {
		sb.WriteString("item")
		sb.WriteString(string(rune('a' + i)))
		sb.WriteString(",1\n")
	}
	pages, err := (&CSVParser{}).Parse(strings.NewReader(sb.String()), "inv.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("expected 2 pages (20+5 rows), got %d", len(pages))
	}
	lines := strings.Split(pages[1].Text, "\n")
	if lines[0] != "| name | qty |" || lines[1] != "| --- | --- |" {
		t.Errorf("expected header repeated on second page, got %q", lines[:2])
	}
	if len(lines) != 7 {
		t.Errorf("expected 2 header lines + 5 rows, got %d lines", len(lines))
	}
}

func TestCSVParser_EscapesPipesAndPadsRows(t *testing.T) {
	pages, err := (&CSVParser{}).Parse(strings.NewReader("a,b,c\nx|y\n"), "p.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(pages[0].Text, `| x\|y |  |  |`) {
		t.Errorf("unexpected row rendering: %q", pages[0].Text)
	}
}

func TestHTMLParser_SectionsAndBlocks(t *testing.T) {
	input := `<html><head><title>Guide</title><style>p{}</style></head><body>
<nav>skip me</nav>
<p>Welcome.</p>
<h2>Install</h2>
<ul><li>Download</li><li>Run</li></ul>
<pre>make build</pre>
<h2>Use</h2>
<blockquote>Be careful.</blockquote>
</body></html>`
	pages, err := (&HTMLParser{}).Parse(strings.NewReader(input), "guide.html")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{
		"# Guide\n\nWelcome.",
		"## Install\n\n- Download\n\n- Run\n\n```\nmake build\n```",
		"## Use\n\n> Be careful.",
	}
	if len(pages) != len(want) {
		t.Fatalf("expected %d pages, got %d: %+v", len(want), len(pages), pages)
	}
	for i, w := range want {
		if pages[i].Text != w {
			t.Errorf("page[%d]: expected %q, got %q", i, w, pages[i].Text)
		}
	}
}

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	return img
}

func TestImageParser_KeepsPNG(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, testImage()); err != nil {
		t.Fatal(err)
	}
	pages, err := (&ImageParser{}).Parse(bytes.NewReader(buf.Bytes()), "a.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pages) != 1 || pages[0].MIME != "image/png" || !bytes.Equal(pages[0].Image, buf.Bytes()) {
		t.Fatalf("expected original png bytes on one page, got %+v", pages)
	}
}

func TestImageParser_ReencodesBMP(t *testing.T) {
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, testImage()); err != nil {
		t.Fatal(err)
	}
	pages, err := (&ImageParser{}).Parse(bytes.NewReader(buf.Bytes()), "a.bmp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pages[0].MIME != "image/png" {
		t.Fatalf("expected image/png, got %q", pages[0].MIME)
	}
	if _, err := png.Decode(bytes.NewReader(pages[0].Image)); err != nil {
		t.Fatalf("expected valid png, got %v", err)
	}
}

func TestImageParser_RejectsGarbage(t *testing.T) {
	if _, err := (&ImageParser{}).Parse(strings.NewReader("not an image"), "x.png"); err == nil {
		t.Fatal("expected error for undecodable image")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want error
	}{
		{"old.doc", []byte("x"), ErrLegacyDoc},
		{"empty.txt", nil, ErrEmptyFile},
		{"bad.pdf", []byte("hello"), ErrCorrupt},
		{"bad.docx", []byte("hello"), ErrCorrupt},
	}
	for _, c := range cases {
		if err := Validate(c.name, c.data); !errors.Is(err, c.want) {
			t.Errorf("%s: expected %v, got %v", c.name, c.want, err)
		}
	}

	if err := Validate("ok.pdf", []byte("%PDF-1.7\n")); err != nil {
		t.Errorf("expected valid pdf header to pass, got %v", err)
	}
	if err := Validate("x.exe", []byte("MZ")); err == nil {
		t.Error("expected unsupported extension error")
	}

	var tooLarge *TooLargeError
	if err := Validate("big.txt", make([]byte, MaxFileSize+1)); !errors.As(err, &tooLarge) {
		t.Errorf("expected TooLargeError, got %v", err)
	}
}

func TestLoad_PricesPagesAndHashes(t *testing.T) {
	data := []byte("alpha beta\n\ngamma")
	doc, err := Load("/in/notes.txt", data, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Name != "notes.txt" || doc.Format != document.FormatText || doc.Size != int64(len(data)) {
		t.Errorf("unexpected metadata: %+v", doc)
	}
	if len(doc.Pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(doc.Pages))
	}
	for i, p := range doc.Pages {
		if p.Index != i {
			t.Errorf("page %d has index %d", i, p.Index)
		}
		if p.Tokens != chunker.EstimateTokens(p.Text) {
			t.Errorf("page %d: expected %d tokens, got %d", i, chunker.EstimateTokens(p.Text), p.Tokens)
		}
	}
	if doc.ContentHash != document.HashHex(data) {
		t.Errorf("expected content hash of raw bytes")
	}
}

func TestLoad_ImagePageCarriesImageCost(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, testImage()); err != nil {
		t.Fatal(err)
	}
	doc, err := Load("scan.png", buf.Bytes(), Options{ImageTokens: 700})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Pages[0].Tokens != 700 {
		t.Errorf("expected 700 tokens, got %d", doc.Pages[0].Tokens)
	}
	if !doc.HasImages() || doc.HasText() {
		t.Errorf("expected an image-only document")
	}
}

func TestForFile(t *testing.T) {
	for _, name := range []string{"a.txt", "b.MD", "c.csv", "d.htm", "e.pdf", "f.docx", "g.webp"} {
		if _, err := ForFile(name); err != nil {
			t.Errorf("%s: unexpected error %v", name, err)
		}
		if !IsSupportedExtension(name) {
			t.Errorf("%s: expected supported", name)
		}
	}
	if _, err := ForFile("legacy.doc"); !errors.Is(err, ErrLegacyDoc) {
		t.Errorf("expected ErrLegacyDoc, got %v", err)
	}
}
