package dispatch

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/docmd/internal/chunker"
	"github.com/dgallion1/docmd/internal/engine"
)

// Runner dispatches every chunk of a document with at most Limit calls in
// flight.
type Runner struct {
	Dispatcher *Dispatcher
	Limit      int

	// OnOutcome, if set, is called once per chunk as it resolves. Calls are
	// serialized but arrive in completion order.
	OnOutcome func(Outcome)

	notifyMu sync.Mutex
}

func NewRunner(d *Dispatcher, limit int) *Runner {
	return &Runner{Dispatcher: d, Limit: limit}
}

// Run returns one Outcome per chunk, sorted by chunk index, once all have
// resolved. If ctx is cancelled, chunks not yet started resolve as cancelled
// with zero attempts and Run returns a *Failure of kind cancelled alongside
// the outcomes.
func (r *Runner) Run(ctx context.Context, chunks []chunker.Chunk, e engine.Engine) ([]Outcome, error) {
	outcomes := make([]Outcome, len(chunks))
	resolved := make([]bool, len(chunks))

	// A plain Group: one chunk's failure must not cancel its siblings.
	var g errgroup.Group
	g.SetLimit(max(r.Limit, 1))

	for i, c := range chunks {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			var out Outcome
			if err := ctx.Err(); err != nil {
				out = cancelled(c.Index, err)
			} else {
				out = r.Dispatcher.Dispatch(ctx, c, e)
			}
			outcomes[i] = out
			resolved[i] = true
			r.notify(out)
			return nil
		})
	}
	_ = g.Wait()

	for i, c := range chunks {
		if !resolved[i] {
			outcomes[i] = cancelled(c.Index, ctx.Err())
			r.notify(outcomes[i])
		}
	}
	sort.SliceStable(outcomes, func(a, b int) bool { return outcomes[a].ChunkIndex < outcomes[b].ChunkIndex })

	if err := ctx.Err(); err != nil {
		return outcomes, &Failure{Kind: KindCancelled, Message: err.Error()}
	}
	return outcomes, nil
}

func (r *Runner) notify(o Outcome) {
	if r.OnOutcome == nil {
		return
	}
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	r.OnOutcome(o)
}

func cancelled(index int, err error) Outcome {
	msg := "run cancelled"
	if err != nil {
		msg = err.Error()
	}
	return Outcome{ChunkIndex: index, Failure: &Failure{Kind: KindCancelled, Message: msg}}
}
