package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgallion1/docmd/internal/dispatch"
	"github.com/dgallion1/docmd/internal/engine"
	"github.com/dgallion1/docmd/internal/output"
	"github.com/dgallion1/docmd/internal/summary"
)

// Worker processes a single conversion job.
type Worker struct {
	conv    *Converter
	engines func(name string) (engine.Engine, error)
	sink    output.Sink
	window  *summary.Window
	log     *slog.Logger
}

// NewWorker builds a worker. sink and window may be nil.
func NewWorker(conv *Converter, engines func(string) (engine.Engine, error), sink output.Sink, window *summary.Window, log *slog.Logger) *Worker {
	return &Worker{conv: conv, engines: engines, sink: sink, window: window, log: log}
}

// Process runs parse, convert and write for a job.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "filename", job.Filename, "engine", job.Engine)

	e, err := w.engines(job.Engine)
	if err != nil {
		log.Error("engine unavailable", "error", err)
		job.AddError(err.Error())
		job.Finish(nil, StatusFailed, "engine")
		return
	}

	// Phase 1: Parse
	job.SetStatus(StatusParsing, "parsing")
	doc, err := w.conv.Load(Input{Path: job.Filename, Data: job.FileData()})
	if err != nil {
		log.Error("parse failed", "error", err)
		job.AddError(fmt.Sprintf("parse: %s", err))
		job.Finish(nil, StatusFailed, "parsing")
		return
	}
	job.SetContentHash(doc.ContentHash)

	// Phase 2: Plan, dispatch, assemble
	job.SetStatus(StatusConverting, "converting")
	res, err := w.conv.ConvertWithHooks(ctx, doc, e, Hooks{
		OnPlan:    job.SetTotalChunks,
		OnOutcome: func(o dispatch.Outcome) {
			job.RecordOutcome(o)
			if w.window != nil {
				w.window.Record(e.Name(), o)
			}
		},
	})
	if err != nil {
		job.AddError(err.Error())
		var f *dispatch.Failure
		if errors.As(err, &f) && f.Kind == dispatch.KindCancelled {
			job.Finish(nil, StatusCancelled, "converting")
			return
		}
		job.Finish(nil, StatusFailed, "converting")
		return
	}

	// Phase 3: Write
	if w.sink != nil {
		job.SetStatus(StatusWriting, "writing")
		loc, err := w.sink.Write(ctx, res)
		if err != nil {
			log.Error("write output failed", "error", err)
			job.AddError(fmt.Sprintf("write: %s", err))
		} else {
			job.SetLocation(loc)
		}
	}

	switch {
	case res.Failed == 0:
		job.Finish(res, StatusCompleted, "done")
	case res.Succeeded > 0:
		job.Finish(res, StatusPartial, "done")
	default:
		job.Finish(res, StatusFailed, "done")
	}
	log.Info("job finished", "chunks", len(res.Outcomes), "failed", res.Failed)
}
