// Package summary accumulates per-document diagnostics over one run.
package summary

import (
	"errors"
	"sync"
	"time"

	"github.com/dgallion1/docmd/internal/assemble"
	"github.com/dgallion1/docmd/internal/dispatch"
	"github.com/dgallion1/docmd/internal/engine"
)

// ErrFinished is returned by Record after Finish.
var ErrFinished = errors.New("summary: run already finished")

// Status is the overall result of one document.
type Status string

const (
	StatusConverted Status = "converted"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
	StatusCached    Status = "cached"
)

// DocumentSummary is the diagnostic record of one document.
type DocumentSummary struct {
	Document     string          `json:"document"`
	Engine       string          `json:"engine,omitempty"`
	Status       Status          `json:"status"`
	Chunks       int             `json:"chunks"`
	ChunksOK     int             `json:"chunks_ok"`
	ChunksFailed int             `json:"chunks_failed"`
	Attempts     int             `json:"attempts"`
	Assets       int             `json:"assets"`
	Elapsed      time.Duration   `json:"elapsed_ns"`
	WorstKind    dispatch.Kind   `json:"worst_kind,omitempty"`
	Usage        engine.Usage    `json:"usage"`
	Error        string          `json:"error,omitempty"`
	Latencies    []time.Duration `json:"-"`
}

// FromResult summarizes an assembled document.
func FromResult(res *assemble.Result, engineName string, elapsed time.Duration) DocumentSummary {
	d := DocumentSummary{
		Document:     res.Document,
		Engine:       engineName,
		Chunks:       len(res.Outcomes),
		ChunksOK:     res.Succeeded,
		ChunksFailed: res.Failed,
		Assets:       len(res.Assets),
		Elapsed:      elapsed,
		Usage:        res.Usage,
	}
	for _, o := range res.Outcomes {
		d.Attempts += o.Attempts
		if o.Attempts > 0 {
			d.Latencies = append(d.Latencies, o.Elapsed)
		}
		if o.Failure != nil {
			d.WorstKind = dispatch.Worse(d.WorstKind, o.Failure.Kind)
		}
	}
	switch {
	case res.Failed == 0:
		d.Status = StatusConverted
	case res.Succeeded > 0:
		d.Status = StatusPartial
	default:
		d.Status = StatusFailed
	}
	return d
}

// FromError summarizes a document that failed before or during dispatch.
func FromError(name, engineName string, err error, elapsed time.Duration) DocumentSummary {
	d := DocumentSummary{Document: name, Engine: engineName, Status: StatusFailed, Elapsed: elapsed}
	if err != nil {
		d.Error = err.Error()
	}
	var f *dispatch.Failure
	if errors.As(err, &f) {
		d.WorstKind = f.Kind
	}
	return d
}

// Totals aggregate every recorded document.
type Totals struct {
	Documents    int           `json:"documents"`
	Converted    int           `json:"converted"`
	Partial      int           `json:"partial"`
	Failed       int           `json:"failed"`
	Cached       int           `json:"cached"`
	Chunks       int           `json:"chunks"`
	ChunksOK     int           `json:"chunks_ok"`
	ChunksFailed int           `json:"chunks_failed"`
	Assets       int           `json:"assets"`
	Usage        engine.Usage  `json:"usage"`
	WorstKind    dispatch.Kind `json:"worst_kind,omitempty"`
}

// Snapshot is a read-only view of the run.
type Snapshot struct {
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at,omitzero"`
	Duration   time.Duration     `json:"duration_ns"`
	Finished   bool              `json:"finished"`
	Documents  []DocumentSummary `json:"documents"`
	Dropped    int               `json:"dropped_documents,omitempty"` // Recorded but no longer retained
	Totals     Totals            `json:"totals"`
	Latency    LatencySnapshot   `json:"chunk_latency"`
}

// Summary is safe for concurrent use. Totals always cover every recorded
// document; Documents and Latency cover the retained ones.
type Summary struct {
	mu          sync.Mutex
	started     time.Time
	keepDocs    int
	keepSamples int
	docs        []DocumentSummary
	latency     []int64
	totals      Totals
	finished    *Snapshot
}

// New returns a summary that retains everything, for a bounded run.
func New() *Summary {
	return &Summary{started: time.Now()}
}

// NewRetained returns a summary for a process that never finishes its run.
// Only the newest keepDocs documents and keepSamples chunk latencies are
// kept; zero keeps everything.
func NewRetained(keepDocs, keepSamples int) *Summary {
	return &Summary{started: time.Now(), keepDocs: keepDocs, keepSamples: keepSamples}
}

func (s *Summary) Record(d DocumentSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished != nil {
		return ErrFinished
	}
	s.totals.add(d)
	s.docs = trimOldest(append(s.docs, d), s.keepDocs)
	for _, l := range d.Latencies {
		s.latency = append(s.latency, max(l.Milliseconds(), 0))
	}
	s.latency = trimOldest(s.latency, s.keepSamples)
	return nil
}

// RecordResult is shorthand for Record(FromResult(...)).
func (s *Summary) RecordResult(res *assemble.Result, engineName string, elapsed time.Duration) error {
	return s.Record(FromResult(res, engineName, elapsed))
}

// Snapshot returns the current state. After Finish it returns the frozen
// final snapshot.
func (s *Summary) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished != nil {
		return *s.finished
	}
	return s.snapshotLocked(time.Now(), false)
}

// Finish freezes the summary. Later calls return the same snapshot.
func (s *Summary) Finish() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished == nil {
		snap := s.snapshotLocked(time.Now(), true)
		s.finished = &snap
	}
	return *s.finished
}

func (s *Summary) snapshotLocked(now time.Time, final bool) Snapshot {
	docs := newest(s.docs, s.keepDocs)
	snap := Snapshot{
		StartedAt: s.started,
		Duration:  now.Sub(s.started),
		Finished:  final,
		Documents: append([]DocumentSummary(nil), docs...),
		Dropped:   s.totals.Documents - len(docs),
		Totals:    s.totals,
		Latency:   aggregate(append([]int64(nil), newest(s.latency, s.keepSamples)...)),
	}
	if snap.Documents == nil {
		snap.Documents = []DocumentSummary{}
	}
	if final {
		snap.FinishedAt = now
	}
	return snap
}

func (t *Totals) add(d DocumentSummary) {
	t.Documents++
	switch d.Status {
	case StatusConverted:
		t.Converted++
	case StatusPartial:
		t.Partial++
	case StatusCached:
		t.Cached++
	default:
		t.Failed++
	}
	t.Chunks += d.Chunks
	t.ChunksOK += d.ChunksOK
	t.ChunksFailed += d.ChunksFailed
	t.Assets += d.Assets
	t.Usage = t.Usage.Add(d.Usage)
	t.WorstKind = dispatch.Worse(t.WorstKind, d.WorstKind)
}

// newest returns the last keep elements of s, or all of s when keep <= 0.
func newest[T any](s []T, keep int) []T {
	if keep > 0 && len(s) > keep {
		return s[len(s)-keep:]
	}
	return s
}

// trimOldest compacts s to its newest keep elements once it has grown a
// quarter past keep, so trimming stays amortized.
func trimOldest[T any](s []T, keep int) []T {
	if keep <= 0 || len(s) <= keep+keep/4 {
		return s
	}
	n := copy(s, s[len(s)-keep:])
	clear(s[n:])
	return s[:n]
}
