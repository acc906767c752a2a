// Package report renders and persists run summaries.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dgallion1/docmd/internal/summary"
)

// Counts are the tallies a directory run keeps outside the summary: files
// seen, files skipped by the --since filter, and files only listed.
type Counts struct {
	Total        int `json:"total"`
	SkippedSince int `json:"skipped_since"`
	DryRun       int `json:"dry_run"`
}

// Eligible is the number of files that passed the --since filter.
func (c Counts) Eligible() int {
	return c.Total - c.SkippedSince
}

// Report is the JSON form of a finished run.
type Report struct {
	Counts
	Eligible  int              `json:"eligible"`
	Converted int              `json:"converted"`
	Failed    int              `json:"failed"`
	Run       summary.Snapshot `json:"run"`
}

// New combines the summary with the run counts. Partial and cached
// documents count as converted: their Markdown was produced.
func New(snap summary.Snapshot, c Counts) Report {
	t := snap.Totals
	return Report{
		Counts:    c,
		Eligible:  c.Eligible(),
		Converted: t.Converted + t.Partial + t.Cached,
		Failed:    t.Failed,
		Run:       snap,
	}
}

// WriteText prints one line per document followed by the run summary line.
func WriteText(w io.Writer, snap summary.Snapshot, c Counts) error {
	r := New(snap, c)
	for _, d := range snap.Documents {
		if _, err := fmt.Fprintln(w, documentLine(d)); err != nil {
			return err
		}
	}
	if l := snap.Latency; l.Count > 0 {
		if _, err := fmt.Fprintf(w, "Chunk latency: count=%d, p50=%.0fms, p95=%.0fms, p99=%.0fms, max=%dms\n",
			l.Count, l.P50Ms, l.P95Ms, l.P99Ms, l.MaxMs); err != nil {
			return err
		}
	}
	if u := snap.Totals.Usage; u.InputTokens > 0 || u.OutputTokens > 0 {
		if _, err := fmt.Fprintf(w, "Tokens: input=%d, output=%d\n", u.InputTokens, u.OutputTokens); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "Summary: total=%d, eligible=%d, converted=%d, failed=%d, skipped_since=%d, dry_run=%d, duration=%.2fs\n",
		c.Total, r.Eligible, r.Converted, r.Failed, c.SkippedSince, c.DryRun, snap.Duration.Seconds())
	return err
}

func documentLine(d summary.DocumentSummary) string {
	line := fmt.Sprintf("%s: %s chunks=%d ok=%d failed=%d attempts=%d assets=%d elapsed=%s",
		d.Document, d.Status, d.Chunks, d.ChunksOK, d.ChunksFailed, d.Attempts, d.Assets, d.Elapsed.Round(time.Millisecond))
	if d.WorstKind != "" {
		line += " worst=" + string(d.WorstKind)
	}
	if d.Error != "" {
		line += fmt.Sprintf(" error=%q", d.Error)
	}
	return line
}

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, snap summary.Snapshot, c Counts) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(New(snap, c))
}
