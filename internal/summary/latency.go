package summary

import (
	"sort"
	"sync"
	"time"

	"github.com/dgallion1/docmd/internal/dispatch"
)

// LatencySnapshot aggregates chunk dispatch latencies.
type LatencySnapshot struct {
	Count int     `json:"count"`
	MinMs int64   `json:"min_ms"`
	MaxMs int64   `json:"max_ms"`
	AvgMs float64 `json:"avg_ms"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
}

// EngineWindow describes one engine's dispatches inside the window.
type EngineWindow struct {
	Engine   string                `json:"engine"`
	Chunks   int                   `json:"chunks"`
	Failed   int                   `json:"failed"`
	Attempts int                   `json:"attempts"`
	Failures map[dispatch.Kind]int `json:"failures,omitempty"`
	Latency  LatencySnapshot       `json:"latency"`
}

type dispatchSample struct {
	at       time.Time
	ms       int64
	attempts int
	kind     dispatch.Kind // Empty on success
}

// Window keeps the chunk dispatches of the last maxAge per engine, capped
// at maxSamples each. The server reports it as live engine health.
type Window struct {
	mu         sync.Mutex
	maxAge     time.Duration
	maxSamples int
	byEngine   map[string][]dispatchSample
	now        func() time.Time
}

func NewWindow(maxAge time.Duration, maxSamples int) *Window {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	if maxSamples <= 0 {
		maxSamples = 10000
	}
	return &Window{
		maxAge:     maxAge,
		maxSamples: maxSamples,
		byEngine:   map[string][]dispatchSample{},
		now:        time.Now,
	}
}

// Record adds one resolved chunk. Chunks that were never attempted carry no
// latency and are skipped.
func (w *Window) Record(engineName string, o dispatch.Outcome) {
	if o.Attempts == 0 {
		return
	}
	sm := dispatchSample{at: w.now(), ms: max(o.Elapsed.Milliseconds(), 0), attempts: o.Attempts}
	if o.Failure != nil {
		sm.kind = o.Failure.Kind
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	samples := w.pruneLocked(engineName, sm.at)
	w.byEngine[engineName] = trimOldest(append(samples, sm), w.maxSamples)
}

// Snapshot summarizes every engine with samples in the window, sorted by name.
func (w *Window) Snapshot() []EngineWindow {
	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	out := []EngineWindow{}
	for name := range w.byEngine {
		samples := newest(w.pruneLocked(name, now), w.maxSamples)
		if len(samples) == 0 {
			delete(w.byEngine, name)
			continue
		}
		ew := EngineWindow{Engine: name, Chunks: len(samples)}
		values := make([]int64, 0, len(samples))
		for _, sm := range samples {
			values = append(values, sm.ms)
			ew.Attempts += sm.attempts
			if sm.kind != "" {
				ew.Failed++
				if ew.Failures == nil {
					ew.Failures = map[dispatch.Kind]int{}
				}
				ew.Failures[sm.kind]++
			}
		}
		ew.Latency = aggregate(values)
		out = append(out, ew)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Engine < out[j].Engine })
	return out
}

// pruneLocked drops samples older than maxAge. Samples are in time order.
func (w *Window) pruneLocked(engineName string, now time.Time) []dispatchSample {
	samples := w.byEngine[engineName]
	cutoff := now.Add(-w.maxAge)
	i := sort.Search(len(samples), func(i int) bool { return !samples[i].at.Before(cutoff) })
	if i > 0 {
		n := copy(samples, samples[i:])
		samples = samples[:n]
		w.byEngine[engineName] = samples
	}
	return samples
}

// aggregate sorts values in place and summarizes them.
func aggregate(values []int64) LatencySnapshot {
	if len(values) == 0 {
		return LatencySnapshot{}
	}
	var sum int64
	for _, v := range values {
		sum += v
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	return LatencySnapshot{
		Count: len(values),
		MinMs: values[0],
		MaxMs: values[len(values)-1],
		AvgMs: float64(sum) / float64(len(values)),
		P50Ms: percentile(values, 50),
		P95Ms: percentile(values, 95),
		P99Ms: percentile(values, 99),
	}
}

func percentile(sortedValues []int64, pct float64) float64 {
	if len(sortedValues) == 0 {
		return 0
	}
	if pct <= 0 {
		return float64(sortedValues[0])
	}
	if pct >= 100 {
		return float64(sortedValues[len(sortedValues)-1])
	}

	index := (float64(len(sortedValues)-1) * pct) / 100.0
	lower := int(index)
	upper := lower + 1
	if upper >= len(sortedValues) {
		return float64(sortedValues[lower])
	}
	weight := index - float64(lower)
	lo := float64(sortedValues[lower])
	hi := float64(sortedValues[upper])
	return lo + ((hi - lo) * weight)
}
