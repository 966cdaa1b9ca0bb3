package memory

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/nkthebass/XenoCPUUtility-legacy/utils"
)

// DefaultPassThrottle is the pause after each pass that keeps the verify loop
// from turning RAM stress into CPU stress.
const DefaultPassThrottle = 30 * time.Millisecond

// ErrNoBuffers is returned when not a single planned buffer could be allocated.
var ErrNoBuffers = errors.New("could not allocate any memory buffers")

// Pool holds the buffers of a plan and leases them out one worker at a time.
type Pool struct {
	mu      sync.Mutex
	buffers [][]byte
	busy    []bool
	next    int
	closed  bool
}

// Allocate creates the buffers of plan. An allocation that panics ends the
// allocation loop; the pool keeps what it already has.
func Allocate(plan Plan, sink utils.LogSink) (*Pool, error) {
	sink = utils.SinkOr(sink)
	p := &Pool{}

	var allocated uint64
	for i, size := range plan.BufferSizes {
		var buf []byte
		func() {
			defer func() {
				if r := recover(); r != nil {
					utils.Emitf(sink, "Recovered from allocation panic on buffer %d (%s): %v", i, utils.FormatSize(int64(size)), r)
				}
			}()
			buf = make([]byte, size)
		}()
		if buf == nil {
			utils.Emitf(sink, "Failed to allocate memory buffer, continuing with what we have")
			break
		}
		p.buffers = append(p.buffers, buf)
		allocated += uint64(size)
	}

	if len(p.buffers) == 0 {
		return nil, fmt.Errorf("%w: planned %s", ErrNoBuffers, utils.FormatSize(int64(plan.TotalBudgetBytes)))
	}
	p.busy = make([]bool, len(p.buffers))

	utils.Emitf(sink, "Memory allocated: %s in %d buffers (planned %s)",
		utils.FormatSize(int64(allocated)), len(p.buffers), utils.FormatSize(int64(plan.TotalBudgetBytes)))
	return p, nil
}

// Len returns the number of buffers held.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffers)
}

// AllocatedBytes sums the held buffers.
func (p *Pool) AllocatedBytes() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var n uint64
	for _, b := range p.buffers {
		n += uint64(len(b))
	}
	return n
}

// Acquire leases the next free buffer in round-robin order. ok is false when
// every buffer is leased or the pool is closed.
func (p *Pool) Acquire() (index int, buf []byte, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, nil, false
	}
	for i := 0; i < len(p.buffers); i++ {
		idx := (p.next + i) % len(p.buffers)
		if !p.busy[idx] {
			p.busy[idx] = true
			p.next = (idx + 1) % len(p.buffers)
			return idx, p.buffers[idx], true
		}
	}
	return 0, nil, false
}

// Release returns a leased buffer.
func (p *Pool) Release(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index >= 0 && index < len(p.busy) {
		p.busy[index] = false
	}
}

// Close drops every buffer and asks the runtime to hand the memory back to
// the OS. Leases still out keep their slice alive until they are dropped.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.buffers = nil
	p.busy = nil
	p.mu.Unlock()

	debug.FreeOSMemory()
}

// Tester drives passes over a pool with one verifier.
type Tester struct {
	Plan     Plan
	pool     *Pool
	verifier *Verifier
}

// NewTester allocates plan and prepares its verifier.
func NewTester(plan Plan, seed uint64, sink utils.LogSink) (*Tester, error) {
	pool, err := Allocate(plan, sink)
	if err != nil {
		return nil, err
	}
	return &Tester{
		Plan:     plan,
		pool:     pool,
		verifier: NewVerifier(plan.Profile, seed, sink),
	}, nil
}

func (t *Tester) Pool() *Pool {
	return t.pool
}

// RunNextPass leases a buffer, runs one pass over it with cp between segments
// and returns the lease. ran is false when no buffer was free.
func (t *Tester) RunNextPass(ctx context.Context, cp Checkpoint) (ran bool, mismatches uint64, err error) {
	idx, buf, ok := t.pool.Acquire()
	if !ok {
		return false, 0, nil
	}
	defer t.pool.Release(idx)

	mismatches, err = t.verifier.RunPass(ctx, buf, idx, cp)
	return true, mismatches, err
}

// Close releases the pool.
func (t *Tester) Close() {
	t.pool.Close()
}
