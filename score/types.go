package score

import (
	"fmt"
	"time"
)

// Kind selects the benchmark baseline a run is scored against.
type Kind int

const (
	SingleCore Kind = iota
	MultiCore
)

func (k Kind) String() string {
	switch k {
	case SingleCore:
		return "single-core"
	case MultiCore:
		return "multi-core"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

const (
	// SingleCoreDuration and MultiCoreDuration are the default run lengths.
	SingleCoreDuration = 10 * time.Second
	MultiCoreDuration  = 6 * time.Second

	// DeadlineFloor is the shortest run RunTimedWorkload will time.
	DeadlineFloor = 100 * time.Millisecond

	// BatchSize is the number of kernel iterations between deadline checks.
	BatchSize = 1024

	minElapsedSeconds = 1e-5
)

// Calibration turns raw throughput into a score: throughput / Normalization * Multiplier.
type Calibration struct {
	Normalization float64
	Multiplier    float64
}

var calibrations = map[Kind]Calibration{
	SingleCore: {Normalization: 1_456_000, Multiplier: 2.875},
	MultiCore:  {Normalization: 230_000, Multiplier: 2.676 / 4.67},
}

// CalibrationFor returns the constants of kind.
func CalibrationFor(k Kind) (Calibration, bool) {
	c, ok := calibrations[k]
	return c, ok
}

// DefaultDuration is the run length of kind when none is given.
func (k Kind) DefaultDuration() time.Duration {
	if k == MultiCore {
		return MultiCoreDuration
	}
	return SingleCoreDuration
}

// Result is one completed benchmark run.
type Result struct {
	Value      float64
	Kind       Kind
	Workers    int
	Iterations uint64
	Elapsed    time.Duration
}

func (r Result) String() string {
	return fmt.Sprintf("%s score %.1f (%d workers, %d iterations in %v)",
		r.Kind, r.Value, r.Workers, r.Iterations, r.Elapsed.Round(time.Millisecond))
}

// Summary aggregates repeated runs.
type Summary struct {
	Runs int
	Min  float64
	Max  float64
	Mean float64
}

func (s Summary) String() string {
	return fmt.Sprintf("%d run(s): mean %.1f, min %.1f, max %.1f", s.Runs, s.Mean, s.Min, s.Max)
}
