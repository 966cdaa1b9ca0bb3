package score

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/nkthebass/XenoCPUUtility-legacy/clock"
	"github.com/nkthebass/XenoCPUUtility-legacy/cpu"
	"golang.org/x/sync/errgroup"
)

// ErrNonFinite is returned when a run produces a NaN or infinite value.
var ErrNonFinite = errors.New("non-finite value in score computation")

// Compute scores iterations done in elapsed. Elapsed is floored at 10µs. The
// result is rounded to one decimal and never negative.
func Compute(kind Kind, iterations uint64, elapsed time.Duration) (float64, error) {
	cal, ok := CalibrationFor(kind)
	if !ok {
		return 0, fmt.Errorf("unknown score kind %v", kind)
	}

	seconds := math.Max(elapsed.Seconds(), minElapsedSeconds)
	throughput := float64(iterations) / seconds
	raw := throughput / cal.Normalization
	calibrated := raw * cal.Multiplier

	for _, v := range []float64{throughput, raw, calibrated} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, ErrNonFinite
		}
	}
	return math.Max(math.Round(calibrated*10)/10, 0), nil
}

// NewResult scores a finished run.
func NewResult(kind Kind, workers int, iterations uint64, elapsed time.Duration) (Result, error) {
	v, err := Compute(kind, iterations, elapsed)
	if err != nil {
		return Result{}, err
	}
	return Result{Value: v, Kind: kind, Workers: workers, Iterations: iterations, Elapsed: elapsed}, nil
}

// Runner times the benchmark kernel. The zero value uses the system clock and
// BatchSize.
type Runner struct {
	Clock     clock.Clock
	BatchSize int
}

// RunTimedWorkload runs the kernel on workers goroutines until target has
// passed, checking the deadline between batches, and scores the total.
func (r Runner) RunTimedWorkload(ctx context.Context, workers int, target time.Duration, kind Kind) (Result, error) {
	if workers < 1 {
		return Result{}, fmt.Errorf("worker count must be positive, got %d", workers)
	}
	batch := r.BatchSize
	if batch < 1 {
		batch = BatchSize
	}

	deadline := clock.NewDeadline(r.Clock, target, DeadlineFloor)
	var total atomic.Uint64

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		seed := float64(w)
		g.Go(func() error {
			x, y := 1.0+seed*1e-3, 0.5
			var local uint64
			for !deadline.Expired() {
				if err := gctx.Err(); err != nil {
					return err
				}
				x, y = cpu.Kernel(x, y, batch)
				if math.IsNaN(x) || math.IsInf(x, 0) || math.IsNaN(y) || math.IsInf(y, 0) {
					return ErrNonFinite
				}
				local += uint64(batch)
			}
			total.Add(local)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	return NewResult(kind, workers, total.Load(), deadline.Elapsed())
}

// RunTimedWorkload is Runner{}.RunTimedWorkload.
func RunTimedWorkload(ctx context.Context, workers int, target time.Duration, kind Kind) (Result, error) {
	return Runner{}.RunTimedWorkload(ctx, workers, target, kind)
}

// RunSingleThread is the standard single-core benchmark.
func RunSingleThread(ctx context.Context) (Result, error) {
	return RunTimedWorkload(ctx, 1, SingleCoreDuration, SingleCore)
}

// RunMultiThread is the standard multi-core benchmark, one worker per logical CPU.
func RunMultiThread(ctx context.Context) (Result, error) {
	return RunTimedWorkload(ctx, runtime.NumCPU(), MultiCoreDuration, MultiCore)
}

// Repeat runs fn runs times (at least once), calling onRun after each run.
// It stops at the first error and returns the results gathered so far.
func Repeat(ctx context.Context, runs int, fn func(context.Context) (Result, error), onRun func(run int, r Result)) ([]Result, error) {
	runs = max(runs, 1)
	results := make([]Result, 0, runs)
	for i := 0; i < runs; i++ {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		r, err := fn(ctx)
		if err != nil {
			return results, fmt.Errorf("run %d/%d: %w", i+1, runs, err)
		}
		results = append(results, r)
		if onRun != nil {
			onRun(i+1, r)
		}
	}
	return results, nil
}

// Summarize aggregates results; the zero Summary is returned for none.
func Summarize(results []Result) Summary {
	if len(results) == 0 {
		return Summary{}
	}
	s := Summary{Runs: len(results), Min: math.Inf(1), Max: math.Inf(-1)}
	var sum float64
	for _, r := range results {
		s.Min = math.Min(s.Min, r.Value)
		s.Max = math.Max(s.Max, r.Value)
		sum += r.Value
	}
	s.Mean = math.Round(sum/float64(len(results))*10) / 10
	return s
}
