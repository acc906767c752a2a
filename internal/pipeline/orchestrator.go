package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dgallion1/docmd/internal/config"
	"github.com/dgallion1/docmd/internal/engine"
	"github.com/dgallion1/docmd/internal/output"
	"github.com/dgallion1/docmd/internal/summary"
)

// Orchestrator queues conversion jobs and runs them on a fixed worker pool.
type Orchestrator struct {
	jobs   *JobStore
	queue  chan *Job
	conv   *Converter
	sink   output.Sink
	window *summary.Window
	log    *slog.Logger
	cfg    config.Config

	enginesMu sync.Mutex
	engines   map[string]engine.Engine

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates the pipeline. sink may be nil.
func NewOrchestrator(cfg config.Config, conv *Converter, sink output.Sink, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		jobs:    NewJobStore(cfg.JobTTL),
		queue:   make(chan *Job, cfg.MaxQueueSize),
		conv:    conv,
		sink:    sink,
		window:  summary.NewWindow(cfg.StatsWindow, cfg.StatsMaxSamples),
		log:     log,
		cfg:     cfg,
		engines: make(map[string]engine.Engine),
	}
}

// Start launches worker goroutines.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for range o.cfg.WorkerCount {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			w := NewWorker(o.conv, o.Engine, o.sink, o.window, o.log)
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-o.queue:
					if !ok {
						return
					}
					w.Process(workerCtx, job)
				}
			}
		}()
	}

	// Start job store cleanup.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				o.jobs.Cleanup()
			}
		}
	}()
}

// Stop cancels in-flight jobs and waits for the workers to return.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.queue)
	}
	o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()

	o.enginesMu.Lock()
	defer o.enginesMu.Unlock()
	for name, e := range o.engines {
		if err := closeEngine(e); err != nil {
			o.log.Warn("engine close failed", "engine", name, "error", err)
		}
	}
}

// Submit queues a new job for processing.
func (o *Orchestrator) Submit(job *Job) error {
	o.jobs.Put(job)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		job.Finish(nil, StatusFailed, "shutdown")
		return fmt.Errorf("pipeline is shutting down")
	}
	select {
	case o.queue <- job:
		return nil
	default:
		job.Finish(nil, StatusFailed, "queue_full")
		return fmt.Errorf("job queue is full (%d)", o.cfg.MaxQueueSize)
	}
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// Batch returns the jobs of a batch submission.
func (o *Orchestrator) Batch(id string) []*Job {
	return o.jobs.Batch(id)
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}

// Summary returns the process-wide run summary.
func (o *Orchestrator) Summary() *summary.Summary {
	return o.conv.Summary()
}

// Recent reports per-engine dispatch health over the stats window.
func (o *Orchestrator) Recent() []summary.EngineWindow {
	return o.window.Snapshot()
}

// DefaultEngine is the engine used when a request names none.
func (o *Orchestrator) DefaultEngine() string {
	return o.cfg.DefaultEngine
}

// Engine returns the named engine, constructing it on first use.
func (o *Orchestrator) Engine(name string) (engine.Engine, error) {
	name = strings.ToLower(name)
	if name == "" {
		name = o.cfg.DefaultEngine
	}
	o.enginesMu.Lock()
	defer o.enginesMu.Unlock()
	if e, ok := o.engines[name]; ok {
		return e, nil
	}
	e, err := o.conv.Engine(name)
	if err != nil {
		return nil, err
	}
	o.engines[name] = e
	return e, nil
}
