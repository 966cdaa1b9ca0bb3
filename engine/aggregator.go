package engine

import (
	"sync/atomic"

	"github.com/nkthebass/XenoCPUUtility-legacy/cpu"
)

const cacheLine = 64

// slot is written by exactly one worker. The trailing pad keeps neighbouring
// slots off the same cache line.
type slot struct {
	iterations   atomic.Uint64
	passes       atomic.Uint64
	memoryErrors atomic.Uint64
	faults       atomic.Uint64
	phase        atomic.Int32
	batches      [cpu.NumPhases]atomic.Uint64
	_            [cacheLine]byte
}

// Aggregator holds per-worker counters and sums them on demand.
type Aggregator struct {
	slots []slot
}

func NewAggregator(workers int) *Aggregator {
	return &Aggregator{slots: make([]slot, workers)}
}

// Totals are the summed counters of a session.
type Totals struct {
	Iterations   uint64
	Passes       uint64
	MemoryErrors uint64
	// Faults counts batches abandoned on a non-finite value.
	Faults       uint64
	PhaseBatches [cpu.NumPhases]uint64
	// WorkerPhases is the phase each worker is currently in.
	WorkerPhases []cpu.Phase
}

// CommitBatch records a finished CPU batch for worker w.
func (a *Aggregator) CommitBatch(w int, phase cpu.Phase, iterations uint64) {
	s := &a.slots[w]
	s.iterations.Add(iterations)
	s.batches[phase].Add(1)
}

// CommitPass records a finished RAM pass for worker w.
func (a *Aggregator) CommitPass(w int, mismatches uint64) {
	s := &a.slots[w]
	s.passes.Add(1)
	s.memoryErrors.Add(mismatches)
}

func (a *Aggregator) RecordFault(w int) {
	a.slots[w].faults.Add(1)
}

func (a *Aggregator) SetPhase(w int, p cpu.Phase) {
	a.slots[w].phase.Store(int32(p))
}

// Totals sums every slot.
func (a *Aggregator) Totals() Totals {
	t := Totals{WorkerPhases: make([]cpu.Phase, len(a.slots))}
	for i := range a.slots {
		s := &a.slots[i]
		t.Iterations += s.iterations.Load()
		t.Passes += s.passes.Load()
		t.MemoryErrors += s.memoryErrors.Load()
		t.Faults += s.faults.Load()
		for p := range s.batches {
			t.PhaseBatches[p] += s.batches[p].Load()
		}
		t.WorkerPhases[i] = cpu.Phase(s.phase.Load())
	}
	return t
}
