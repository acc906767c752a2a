package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/docmd/internal/assemble"
	"github.com/dgallion1/docmd/internal/chunker"
	"github.com/dgallion1/docmd/internal/config"
	"github.com/dgallion1/docmd/internal/dispatch"
	"github.com/dgallion1/docmd/internal/document"
	"github.com/dgallion1/docmd/internal/engine"
	"github.com/dgallion1/docmd/internal/output"
	"github.com/dgallion1/docmd/internal/parser"
	"github.com/dgallion1/docmd/internal/summary"
)

// Converter runs documents through plan, dispatch and assembly, and records
// each one in the run summary.
type Converter struct {
	cfg     config.Config
	cache   *ResultCache
	summary *summary.Summary
	log     *slog.Logger
}

func NewConverter(cfg config.Config, cache *ResultCache, sum *summary.Summary, log *slog.Logger) *Converter {
	if sum == nil {
		sum = summary.New()
	}
	return &Converter{cfg: cfg, cache: cache, summary: sum, log: log}
}

// Summary returns the run summary this converter records into.
func (c *Converter) Summary() *summary.Summary {
	return c.summary
}

// Engine builds the named engine with its profile's model and rejects
// settings its planning mode cannot use.
func (c *Converter) Engine(name string) (engine.Engine, error) {
	t := c.cfg.ProfileFor(name)
	e, err := engine.New(name, c.cfg.EngineSettings(t.Model))
	if err != nil {
		return nil, err
	}
	if err := c.cfg.ValidateEngine(name, e.Class()); err != nil {
		closeEngine(e)
		return nil, err
	}
	return e, nil
}

// closeEngine releases an engine that holds a client.
func closeEngine(e engine.Engine) error {
	switch c := e.(type) {
	case interface{ Close() error }:
		return c.Close()
	case interface{ Close() }:
		c.Close()
	}
	return nil
}

// Hooks observe a single conversion. Both are optional.
type Hooks struct {
	OnPlan    func(chunks int)
	OnOutcome func(dispatch.Outcome)
}

// Convert converts one loaded document. Chunk failures surface as markers in
// the result; only planning errors and cancellation return an error.
func (c *Converter) Convert(ctx context.Context, doc *document.Document, e engine.Engine) (*assemble.Result, error) {
	return c.ConvertWithHooks(ctx, doc, e, Hooks{})
}

func (c *Converter) ConvertWithHooks(ctx context.Context, doc *document.Document, e engine.Engine, h Hooks) (*assemble.Result, error) {
	start := time.Now()
	name := ""
	if doc != nil {
		name = doc.Name
	}
	log := c.log.With("document", name, "engine", e.Name())

	if res, ok := c.cache.Get(doc, e); ok {
		log.Info("result cache hit")
		if h.OnPlan != nil {
			h.OnPlan(len(res.Outcomes))
		}
		d := summary.FromResult(res, e.Name(), time.Since(start))
		d.Status = summary.StatusCached
		d.Attempts = 0
		d.Latencies = nil
		c.record(log, d)
		return res, nil
	}

	t := c.cfg.ProfileFor(e.Name())
	if err := t.Policy.Validate(); err != nil {
		return nil, c.fail(log, name, e, err, start)
	}
	chunks, err := chunker.Plan(doc, e.Class(), t.Budget)
	if err != nil {
		return nil, c.fail(log, name, e, err, start)
	}
	log.Info("planned document", "chunks", len(chunks), "class", e.Class(), "tokens", doc.TotalTokens())
	if h.OnPlan != nil {
		h.OnPlan(len(chunks))
	}

	runner := dispatch.NewRunner(dispatch.NewDispatcher(t.Policy, log), t.Concurrency)
	runner.OnOutcome = h.OnOutcome
	outcomes, err := runner.Run(ctx, chunks, e)
	if err != nil {
		return nil, c.fail(log, name, e, err, start)
	}

	res := assemble.Assemble(doc, outcomes, assemble.Options{StitchNotice: c.cfg.StitchNotice})
	elapsed := time.Since(start)
	c.record(log, summary.FromResult(res, e.Name(), elapsed))
	if res.Failed == 0 {
		c.cache.Put(doc, e, res)
	}
	log.Info("document converted",
		"chunks", len(outcomes),
		"failed", res.Failed,
		"assets", len(res.Assets),
		"elapsed_ms", elapsed.Milliseconds(),
	)
	return res, nil
}

func (c *Converter) fail(log *slog.Logger, name string, e engine.Engine, err error, start time.Time) error {
	log.Error("document failed", "error", err)
	c.record(log, summary.FromError(name, e.Name(), err, time.Since(start)))
	return err
}

func (c *Converter) record(log *slog.Logger, d summary.DocumentSummary) {
	if err := c.summary.Record(d); err != nil {
		log.Warn("summary not recorded", "error", err)
	}
}

// Input is one document to convert. Data is read from Path when nil. Sink,
// when set, replaces the batch sink for this input.
type Input struct {
	Path string
	Data []byte
	Sink output.Sink
}

// Item is the outcome of one Input.
type Item struct {
	Input    string
	Result   *assemble.Result
	Location string
	Err      error
}

// Load reads and parses an input with the configured page pricing.
func (c *Converter) Load(in Input) (*document.Document, error) {
	data := in.Data
	if data == nil {
		var err error
		if data, err = os.ReadFile(in.Path); err != nil {
			return nil, fmt.Errorf("read %s: %w", in.Path, err)
		}
	}
	return parser.Load(in.Path, data, parser.Options{
		ImageTokens:      c.cfg.ImageTokens,
		DisablePdftotext: !c.cfg.PDFFallbackPdftotext,
	})
}

// ConvertAll converts inputs with at most DocConcurrency documents in flight.
// A failed document never stops the others. Items keep input order. When
// sink is non-nil every result is written to it.
func (c *Converter) ConvertAll(ctx context.Context, inputs []Input, e engine.Engine, sink output.Sink) []Item {
	items := make([]Item, len(inputs))

	var g errgroup.Group
	g.SetLimit(max(c.cfg.DocConcurrency, 1))
	for i, in := range inputs {
		if err := ctx.Err(); err != nil {
			f := &dispatch.Failure{Kind: dispatch.KindCancelled, Message: err.Error()}
			c.record(c.log, summary.FromError(filepath.Base(in.Path), e.Name(), f, 0))
			items[i] = Item{Input: in.Path, Err: f}
			continue
		}
		g.Go(func() error {
			items[i] = c.convertInput(ctx, in, e, sink)
			return nil
		})
	}
	_ = g.Wait()
	return items
}

func (c *Converter) convertInput(ctx context.Context, in Input, e engine.Engine, sink output.Sink) Item {
	item := Item{Input: in.Path}
	start := time.Now()
	log := c.log.With("input", in.Path)

	doc, err := c.Load(in)
	if err != nil {
		item.Err = c.fail(log, filepath.Base(in.Path), e, err, start)
		return item
	}

	if in.Sink != nil {
		sink = in.Sink
	}
	item.Result, item.Err = c.Convert(ctx, doc, e)
	if item.Err != nil || sink == nil {
		return item
	}
	if item.Location, err = sink.Write(ctx, item.Result); err != nil {
		log.Error("write output failed", "error", err)
		item.Err = fmt.Errorf("write output: %w", err)
	}
	return item
}
