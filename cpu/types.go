package cpu

import (
	"math/rand"
	"time"
)

// Phase is one synthetic sub-workload of the instability check.
type Phase int

const (
	FloatingPoint Phase = iota
	Integer
	MemoryTouch
	Mixed
	Idle

	phaseCount
)

// NumPhases is the number of phases in the rotation.
const NumPhases = int(phaseCount)

// Phases lists every phase in rotation order.
var Phases = []Phase{FloatingPoint, Integer, MemoryTouch, Mixed, Idle}

func (p Phase) String() string {
	switch p {
	case FloatingPoint:
		return "floating-point"
	case Integer:
		return "integer"
	case MemoryTouch:
		return "memory-touch"
	case Mixed:
		return "mixed"
	case Idle:
		return "idle"
	}
	return "unknown"
}

// Next returns the phase that follows p in the round-robin.
func (p Phase) Next() Phase {
	return (p + 1) % phaseCount
}

const (
	// DefaultPhaseDuration is how long a worker stays in one phase.
	DefaultPhaseDuration = 2 * time.Second
	// IdlePause is the load trough inserted by the Idle phase.
	IdlePause = 50 * time.Millisecond
	// ScratchSize is the private buffer walked by MemoryTouch.
	ScratchSize = 4096
)

// WorkerState is the private state one worker threads through its batches.
type WorkerState struct {
	Value   float64
	Acc     uint32
	Scratch []byte
}

// NewWorkerState seeds a worker's state from its private random stream.
func NewWorkerState(rng *rand.Rand) *WorkerState {
	return &WorkerState{
		Value:   0.000001 + rng.Float64(),
		Acc:     rng.Uint32(),
		Scratch: make([]byte, ScratchSize),
	}
}
