package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/nkthebass/XenoCPUUtility-legacy/cpu"
	"github.com/nkthebass/XenoCPUUtility-legacy/memory"
	"github.com/nkthebass/XenoCPUUtility-legacy/score"
	"github.com/nkthebass/XenoCPUUtility-legacy/utils"
)

// Mode selects what a session's workers run.
type Mode int

const (
	SingleScore Mode = iota
	MultiScore
	CPUStressHeavy
	CPUStressInstability
	RAMStress
)

var modeNames = map[Mode]string{
	SingleScore:          "single-score",
	MultiScore:           "multi-score",
	CPUStressHeavy:       "cpu-heavy",
	CPUStressInstability: "cpu-instability",
	RAMStress:            "ram",
}

func (m Mode) String() string {
	if n, ok := modeNames[m]; ok {
		return n
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode reads a mode name as printed by String.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for m, n := range modeNames {
		if n == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

// IsScore reports whether m runs the benchmark kernel and produces a score.
func (m Mode) IsScore() bool {
	return m == SingleScore || m == MultiScore
}

func (m Mode) scoreKind() score.Kind {
	if m == MultiScore {
		return score.MultiCore
	}
	return score.SingleCore
}

// State is the lifecycle position of the engine.
type State int32

const (
	Idle State = iota
	Running
	Paused
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stopping:
		return "stopping"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

const (
	// DefaultGracePeriod bounds how long Stop waits for workers.
	DefaultGracePeriod = 2 * time.Second
	// DefaultBatchSize is the number of primitive iterations between gate checks.
	DefaultBatchSize = 1024
)

// StartOptions tunes one session. Zero fields take defaults.
type StartOptions struct {
	// Duration ends the session on its own. Score modes default to the
	// benchmark length of their kind; stress modes run until Stop when zero.
	Duration      time.Duration
	PhaseDuration time.Duration
	PassThrottle  time.Duration
	GracePeriod   time.Duration
	BatchSize     int
	// PinWorkers binds worker i to CPU i modulo the CPU count.
	PinWorkers bool
	// RamTypeOverride skips module detection in RAM mode.
	RamTypeOverride *memory.RamType
	// RamBudgetBytes replaces the quarter-of-system-memory budget when non-zero.
	RamBudgetBytes uint64
}

func (o StartOptions) withDefaults(mode Mode) StartOptions {
	if o.Duration <= 0 && mode.IsScore() {
		o.Duration = mode.scoreKind().DefaultDuration()
	}
	if o.PhaseDuration <= 0 {
		o.PhaseDuration = cpu.DefaultPhaseDuration
	}
	if o.PassThrottle <= 0 {
		o.PassThrottle = memory.DefaultPassThrottle
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = DefaultGracePeriod
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	return o
}

// Snapshot is a point-in-time view of the current or last session.
type Snapshot struct {
	State   State
	Mode    Mode
	Workers int
	Active  int
	Elapsed time.Duration
	// Remaining is the time left before a session with a duration ends on its own.
	Remaining time.Duration
	Totals    Totals
	// Profile and plan sizes are set for RAM sessions only.
	Profile        *memory.Profile
	PlannedBytes   uint64
	AllocatedBytes uint64
}

func (s Snapshot) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "state=%s mode=%s workers=%d active=%d elapsed=%v",
		s.State, s.Mode, s.Workers, s.Active, s.Elapsed.Round(time.Second))
	if s.Remaining > 0 {
		fmt.Fprintf(&b, " remaining=%v", s.Remaining.Round(time.Second))
	}
	if s.Mode == RAMStress && s.Profile != nil {
		fmt.Fprintf(&b, " profile=%s passes=%d errors=%d", s.Profile.Type, s.Totals.Passes, s.Totals.MemoryErrors)
	} else {
		fmt.Fprintf(&b, " iterations=%s", utils.FormatCount(s.Totals.Iterations))
	}
	return b.String()
}
