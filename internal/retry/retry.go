// Package retry implements the Retry Orchestrator (C3): per-item retry
// scheduling with linear/exponential/Fibonacci backoff, jitter, and
// per-item isolation so one item's exhaustion never blocks its siblings.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/indexforge/ingestcore/internal/chunk"
	"github.com/indexforge/ingestcore/internal/timeutil"
)

// Strategy names the delay growth function.
type Strategy string

const (
	Linear      Strategy = "linear"
	Exponential Strategy = "exponential"
	Fibonacci   Strategy = "fibonacci"
)

// Config configures an Orchestrator.
type Config struct {
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Strategy        Strategy
	Jitter          float64 // fraction, e.g. 0.1 = +/-10%
	Timeout         time.Duration
	RetryPredicate  func(error) bool
	FailureCallback func(item any, err error)
}

// Metrics summarizes a completed orchestration run.
type Metrics struct {
	TotalRetries      int
	SuccessfulRetries int
	FailedRetries     int
	AvgRetryDelay     time.Duration
	ErrorTypes        map[string]int
}

// Orchestrator runs a unit of work per item with retry/backoff, isolating
// failures so they never block sibling items.
type Orchestrator[T any] struct {
	cfg      Config
	fibCache sync.Map // int -> int64, memoized Fibonacci terms
}

// New creates an Orchestrator with the given config, filling in defaults
// for a nil predicate/callback.
func New[T any](cfg Config) *Orchestrator[T] {
	if cfg.RetryPredicate == nil {
		cfg.RetryPredicate = func(error) bool { return true }
	}
	if cfg.FailureCallback == nil {
		cfg.FailureCallback = func(any, error) {}
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 60 * time.Second
	}
	return &Orchestrator[T]{cfg: cfg}
}

// Run executes fn for every item, retrying per Config until success,
// exhaustion, or ctx/Timeout expiry, and returns the final outcome per
// item alongside run-wide metrics.
func (o *Orchestrator[T]) Run(ctx context.Context, items []T, fn func(context.Context, T) error) ([]error, Metrics) {
	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	pending := make([]*chunk.BatchItem[T], len(items))
	for i, it := range items {
		pending[i] = &chunk.BatchItem[T]{Data: it}
	}

	results := make([]error, len(items))
	metrics := Metrics{ErrorTypes: make(map[string]int)}
	var delaySum time.Duration
	var delayCount int

	remaining := len(pending)
	done := make([]bool, len(pending))

	for remaining > 0 {
		if ctx.Err() != nil {
			for i := range pending {
				if !done[i] {
					results[i] = ctx.Err()
					done[i] = true
					remaining--
				}
			}
			break
		}

		now := timeutil.NowUTC()
		progressed := false

		for i, item := range pending {
			if done[i] {
				continue
			}
			if !item.NextRetryTime.IsZero() && item.NextRetryTime.After(now) {
				continue
			}

			progressed = true
			err := fn(ctx, item.Data)
			if err == nil {
				if item.Attempt > 0 {
					metrics.SuccessfulRetries++
				}
				results[i] = nil
				done[i] = true
				remaining--
				continue
			}

			item.LastError = err
			metrics.ErrorTypes[errorType(err)]++
			metrics.FailedRetries++
			item.Attempt++

			if item.Attempt >= o.cfg.MaxRetries || !o.cfg.RetryPredicate(err) {
				results[i] = err
				done[i] = true
				remaining--
				o.cfg.FailureCallback(item.Data, err)
				continue
			}

			metrics.TotalRetries++
			delay := o.nextDelay(item.Attempt)
			delaySum += delay
			delayCount++
			item.NextRetryTime = timeutil.NowUTC().Add(delay)
		}

		if !progressed && remaining > 0 {
			timer := time.NewTimer(100 * time.Millisecond)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
	}

	if delayCount > 0 {
		metrics.AvgRetryDelay = delaySum / time.Duration(delayCount)
	}
	return results, metrics
}

func (o *Orchestrator[T]) nextDelay(attempt int) time.Duration {
	var base time.Duration
	switch o.cfg.Strategy {
	case Linear:
		base = o.cfg.InitialDelay * time.Duration(attempt)
	case Fibonacci:
		base = o.cfg.InitialDelay * time.Duration(o.fibonacci(attempt))
	default: // Exponential
		base = time.Duration(float64(o.cfg.InitialDelay) * math.Pow(2, float64(attempt-1)))
	}

	if o.cfg.Jitter > 0 {
		factor := 1 + (rand.Float64()*2-1)*o.cfg.Jitter
		base = time.Duration(float64(base) * factor)
	}

	if base > o.cfg.MaxDelay {
		base = o.cfg.MaxDelay
	}
	if base < 0 {
		base = 0
	}
	return base
}

func (o *Orchestrator[T]) fibonacci(n int) int64 {
	if n <= 1 {
		return 1
	}
	if v, ok := o.fibCache.Load(n); ok {
		return v.(int64)
	}
	result := o.fibonacci(n-1) + o.fibonacci(n-2)
	o.fibCache.Store(n, result)
	return result
}

func errorType(err error) string {
	if err == nil {
		return "unknown"
	}
	return fmt.Sprintf("%T", err)
}
