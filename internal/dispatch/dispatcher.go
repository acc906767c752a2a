package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/dgallion1/docmd/internal/chunker"
	"github.com/dgallion1/docmd/internal/engine"
)

// Policy governs one chunk dispatch.
type Policy struct {
	Timeout     time.Duration // Per-attempt deadline
	BackoffBase time.Duration // Delay before the first retry
	BackoffMax  time.Duration // Ceiling for any single delay
	MaxAttempts int           // Total attempts including the first
}

func DefaultPolicy() Policy {
	return Policy{
		Timeout:     120 * time.Second,
		BackoffBase: time.Second,
		BackoffMax:  30 * time.Second,
		MaxAttempts: 3,
	}
}

// Validate rejects policies under which no dispatch could ever succeed.
func (p Policy) Validate() error {
	if p.Timeout <= 0 {
		return &chunker.ConfigurationError{Field: "timeout_seconds", Reason: fmt.Sprintf("must be > 0, got %s", p.Timeout)}
	}
	if p.MaxAttempts < 1 {
		return &chunker.ConfigurationError{Field: "max_retry_attempts", Reason: fmt.Sprintf("must be >= 1, got %d", p.MaxAttempts)}
	}
	if p.BackoffBase < 0 {
		return &chunker.ConfigurationError{Field: "backoff_base_seconds", Reason: fmt.Sprintf("must be >= 0, got %s", p.BackoffBase)}
	}
	return nil
}

// Backoff returns the delay after attempt n (0-indexed): base * 2^n with up
// to 50% jitter, never more than ceiling.
func Backoff(base, ceiling time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if ceiling <= 0 {
		ceiling = 30 * time.Second
	}
	d := base
	for range attempt {
		d *= 2
		if d >= ceiling {
			d = ceiling
			break
		}
	}
	if half := int64(d) / 2; half > 0 {
		d += time.Duration(rand.Int64N(half))
	}
	return min(d, ceiling)
}

// Outcome is the result of dispatching one chunk. Exactly one of Response
// and Failure is set.
type Outcome struct {
	ChunkIndex int
	Attempts   int
	Response   *engine.Response
	Failure    *Failure
	Elapsed    time.Duration
}

func (o Outcome) OK() bool { return o.Failure == nil }

// Dispatcher runs a chunk against an engine under a Policy.
type Dispatcher struct {
	policy Policy
	log    *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(policy Policy, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{policy: policy, log: log, sleep: sleepCtx}
}

func (d *Dispatcher) Policy() Policy { return d.policy }

// Dispatch always returns an Outcome; errors are carried in Outcome.Failure.
func (d *Dispatcher) Dispatch(ctx context.Context, c chunker.Chunk, e engine.Engine) Outcome {
	start := time.Now()
	log := d.log.With("chunk", c.Index, "engine", e.Name())
	maxAttempts := max(d.policy.MaxAttempts, 1)

	fail := func(kind Kind, msg string, attempts int) Outcome {
		return Outcome{
			ChunkIndex: c.Index,
			Attempts:   attempts,
			Failure:    &Failure{Kind: kind, Message: msg, Attempts: attempts},
			Elapsed:    time.Since(start),
		}
	}

	for attempt := range maxAttempts {
		if err := ctx.Err(); err != nil {
			return fail(KindCancelled, err.Error(), attempt)
		}

		resp, err := d.attempt(ctx, c, e)
		n := attempt + 1
		if err == nil {
			log.Debug("chunk converted", "attempt", n, "elapsed_ms", time.Since(start).Milliseconds())
			if resp.Engine == "" {
				resp.Engine = e.Name()
			}
			if resp.Model == "" {
				resp.Model = e.Model()
			}
			return Outcome{ChunkIndex: c.Index, Attempts: n, Response: resp, Elapsed: time.Since(start)}
		}

		kind := Classify(err)
		if ctx.Err() != nil {
			kind = KindCancelled
		}
		if !kind.Retryable() {
			log.Error("chunk failed", "attempt", n, "kind", kind, "error", err)
			return fail(kind, err.Error(), n)
		}
		if n == maxAttempts {
			log.Error("retries exhausted", "attempts", n, "last_kind", kind, "error", err)
			return fail(KindExhausted, fmt.Sprintf("%s: %s", kind, err), n)
		}

		wait := Backoff(d.policy.BackoffBase, d.policy.BackoffMax, attempt)
		log.Warn("retryable dispatch error", "attempt", n, "kind", kind, "backoff_ms", wait.Milliseconds(), "error", err)
		if err := d.sleep(ctx, wait); err != nil {
			return fail(KindCancelled, err.Error(), n)
		}
	}
	return fail(KindExhausted, "no attempts made", 0)
}

func (d *Dispatcher) attempt(ctx context.Context, c chunker.Chunk, e engine.Engine) (*engine.Response, error) {
	actx, cancel := ctx, context.CancelFunc(func() {})
	if d.policy.Timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, d.policy.Timeout)
	}
	defer cancel()

	resp, err := e.Convert(actx, c)
	if err == nil && resp == nil {
		err = fmt.Errorf("%s returned no response", e.Name())
	}
	return resp, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
