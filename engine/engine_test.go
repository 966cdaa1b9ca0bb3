package engine

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nkthebass/XenoCPUUtility-legacy/cpu"
	"github.com/nkthebass/XenoCPUUtility-legacy/memory"
	"github.com/nkthebass/XenoCPUUtility-legacy/systeminfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu    sync.Mutex
	lines []string
}

func (r *recordingSink) Emit(m string) {
	r.mu.Lock()
	r.lines = append(r.lines, m)
	r.mu.Unlock()
}

func (r *recordingSink) contains(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.lines {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

func smallRAM() StartOptions {
	ddr4 := memory.DDR4
	return StartOptions{
		RamTypeOverride: &ddr4,
		RamBudgetBytes:  memory.MinBudgetBytes,
		PassThrottle:    time.Millisecond,
	}
}

func newTestEngine(sink *recordingSink) *Engine {
	hw := systeminfo.Static{Cores: 4, Memory: 4 << 30}
	if sink == nil {
		return New(hw, nil)
	}
	return New(hw, sink)
}

func TestStartRejectsInvalidWorkerCount(t *testing.T) {
	t.Parallel()

	e := newTestEngine(nil)
	assert.ErrorIs(t, e.Start(0, CPUStressHeavy, StartOptions{}), ErrInvalidWorkerCount)
	assert.ErrorIs(t, e.Start(-3, CPUStressHeavy, StartOptions{}), ErrInvalidWorkerCount)
	assert.Equal(t, Idle, e.State())
}

func TestPauseResumeWhenIdle(t *testing.T) {
	t.Parallel()

	e := newTestEngine(nil)
	assert.ErrorIs(t, e.Pause(), ErrNotRunning)
	assert.ErrorIs(t, e.Resume(), ErrNotRunning)
	assert.NotPanics(t, e.Stop)
	assert.Equal(t, Idle, e.State())
}

func TestIdempotentPause(t *testing.T) {
	t.Parallel()

	for _, workers := range []int{1, 2, 4, runtime.NumCPU()} {
		sink := &recordingSink{}
		e := newTestEngine(sink)
		require.NoError(t, e.Start(workers, CPUStressHeavy, StartOptions{}))

		assert.Equal(t, workers, e.ActiveWorkerCount())
		require.NoError(t, e.Pause())
		require.NoError(t, e.Pause())
		assert.Equal(t, Paused, e.State())
		assert.Zero(t, e.ActiveWorkerCount())
		assert.Equal(t, workers, e.AllocatedWorkerCount())

		require.NoError(t, e.Resume())
		require.NoError(t, e.Resume())
		assert.Equal(t, Running, e.State())
		assert.Equal(t, workers, e.ActiveWorkerCount())

		e.Stop()
		assert.Equal(t, Idle, e.State())
		assert.Zero(t, e.AllocatedWorkerCount())
		assert.True(t, sink.contains("Session paused"))
	}
}

func TestPausedWorkersMakeNoProgress(t *testing.T) {
	t.Parallel()

	e := newTestEngine(nil)
	require.NoError(t, e.Start(2, CPUStressHeavy, StartOptions{}))
	defer e.Stop()

	require.Eventually(t, func() bool { return e.Snapshot().Totals.Iterations > 0 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, e.Pause())

	// Let in-flight batches land before sampling.
	time.Sleep(50 * time.Millisecond)
	before := e.Snapshot().Totals.Iterations
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, e.Snapshot().Totals.Iterations)

	require.NoError(t, e.Resume())
	assert.Eventually(t, func() bool { return e.Snapshot().Totals.Iterations > before }, 2*time.Second, 5*time.Millisecond)
}

func TestStartWhileBusy(t *testing.T) {
	t.Parallel()

	e := newTestEngine(nil)
	require.NoError(t, e.Start(2, CPUStressInstability, StartOptions{}))
	defer e.Stop()

	for _, mode := range []Mode{CPUStressHeavy, RAMStress, SingleScore} {
		assert.ErrorIs(t, e.Start(8, mode, smallRAM()), ErrBusy)
		assert.Equal(t, 2, e.ActiveWorkerCount())
		assert.Equal(t, CPUStressInstability, e.Mode())
	}

	require.NoError(t, e.Pause())
	assert.ErrorIs(t, e.Start(1, CPUStressHeavy, StartOptions{}), ErrBusy)
	assert.Equal(t, 2, e.AllocatedWorkerCount())
}

func TestStartHeavyThenStop(t *testing.T) {
	t.Parallel()

	e := newTestEngine(nil)
	require.NoError(t, e.Start(4, CPUStressHeavy, StartOptions{}))

	begin := time.Now()
	e.Stop()
	assert.Less(t, time.Since(begin), DefaultGracePeriod)
	assert.Equal(t, Idle, e.State())
	assert.Zero(t, e.ActiveWorkerCount())
}

func TestElapsedFreezesAfterTeardown(t *testing.T) {
	t.Parallel()

	e := newTestEngine(nil)
	require.NoError(t, e.Start(1, CPUStressHeavy, StartOptions{}))
	time.Sleep(20 * time.Millisecond)
	e.Stop()

	first := e.Snapshot().Elapsed
	assert.Positive(t, first)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, first, e.Snapshot().Elapsed)
}

func TestBoundedStopLatency(t *testing.T) {
	t.Parallel()

	workers := runtime.NumCPU()
	const grace = 500 * time.Millisecond

	for _, mode := range []Mode{CPUStressHeavy, CPUStressInstability, RAMStress, SingleScore, MultiScore} {
		mode := mode
		t.Run(mode.String(), func(t *testing.T) {
			e := newTestEngine(nil)
			opts := smallRAM()
			opts.GracePeriod = grace
			opts.Duration = time.Minute
			if mode == RAMStress || mode == CPUStressHeavy || mode == CPUStressInstability {
				opts.Duration = 0
			}
			require.NoError(t, e.Start(workers, mode, opts))
			time.Sleep(20 * time.Millisecond)

			begin := time.Now()
			e.Stop()
			assert.Less(t, time.Since(begin), grace+250*time.Millisecond)
			assert.Equal(t, Idle, e.State())
		})
	}
}

func TestStopWhilePaused(t *testing.T) {
	t.Parallel()

	e := newTestEngine(nil)
	require.NoError(t, e.Start(3, CPUStressInstability, StartOptions{}))
	require.NoError(t, e.Pause())

	begin := time.Now()
	e.Stop()
	assert.Less(t, time.Since(begin), DefaultGracePeriod)
	assert.Equal(t, Idle, e.State())
	assert.Zero(t, e.AllocatedWorkerCount())
}

func TestConcurrentStop(t *testing.T) {
	t.Parallel()

	e := newTestEngine(nil)
	require.NoError(t, e.Start(2, CPUStressHeavy, StartOptions{}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Stop()
			assert.Equal(t, Idle, e.State())
		}()
	}
	wg.Wait()

	require.NoError(t, e.Start(1, CPUStressHeavy, StartOptions{}), "engine is reusable after stop")
	e.Stop()
}

func TestScoreSessionCompletes(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	e := newTestEngine(sink)
	require.NoError(t, e.Start(2, MultiScore, StartOptions{Duration: 150 * time.Millisecond}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Wait(ctx))

	assert.Equal(t, Idle, e.State())
	res, ok := e.LastResult()
	require.True(t, ok)
	assert.Equal(t, 2, res.Workers)
	assert.Positive(t, res.Iterations)
	assert.GreaterOrEqual(t, res.Value, 0.0)
	assert.GreaterOrEqual(t, res.Elapsed, 150*time.Millisecond)
	assert.True(t, sink.contains("session completed"))

	snap := e.Snapshot()
	assert.Equal(t, MultiScore, snap.Mode)
	assert.Equal(t, res.Iterations, snap.Totals.Iterations)
}

func TestStoppedScoreSessionHasNoResult(t *testing.T) {
	t.Parallel()

	e := newTestEngine(nil)
	require.NoError(t, e.Start(1, SingleScore, StartOptions{}))
	time.Sleep(20 * time.Millisecond)
	e.Stop()

	_, ok := e.LastResult()
	assert.False(t, ok)
}

func TestStressSessionWithDurationEnds(t *testing.T) {
	t.Parallel()

	e := newTestEngine(nil)
	require.NoError(t, e.Start(2, CPUStressHeavy, StartOptions{Duration: 100 * time.Millisecond}))
	assert.Positive(t, e.Snapshot().Remaining)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Wait(ctx))
	assert.Equal(t, Idle, e.State())
	assert.Positive(t, e.Snapshot().Totals.PhaseBatches[cpu.FloatingPoint])
	assert.Zero(t, e.Snapshot().Remaining)
}

func TestInstabilityRotatesPhases(t *testing.T) {
	t.Parallel()

	e := newTestEngine(nil)
	require.NoError(t, e.Start(1, CPUStressInstability, StartOptions{PhaseDuration: 20 * time.Millisecond}))
	defer e.Stop()

	assert.Eventually(t, func() bool {
		b := e.Snapshot().Totals.PhaseBatches
		return b[cpu.FloatingPoint] > 0 && b[cpu.Integer] > 0 && b[cpu.MemoryTouch] > 0 && b[cpu.Mixed] > 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestRAMSession(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	e := newTestEngine(sink)
	require.NoError(t, e.Start(2, RAMStress, smallRAM()))

	snap := e.Snapshot()
	require.NotNil(t, snap.Profile)
	assert.Equal(t, memory.DDR4, snap.Profile.Type)
	assert.Equal(t, 256, snap.Profile.Stride)
	assert.Equal(t, uint64(memory.MinBudgetBytes), snap.PlannedBytes)
	assert.Equal(t, uint64(memory.MinBudgetBytes), snap.AllocatedBytes)

	require.Eventually(t, func() bool { return e.Snapshot().Totals.Passes >= 2 }, 5*time.Second, 5*time.Millisecond)
	e.Stop()

	snap = e.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.Zero(t, snap.Totals.MemoryErrors)
	assert.Zero(t, snap.AllocatedBytes, "buffers released")
	assert.True(t, sink.contains("RAM type override"))
	assert.True(t, sink.contains("RAM stress finished"))
}

func TestRAMPauseAndStopMidPass(t *testing.T) {
	ddr4 := memory.DDR4
	sink := &recordingSink{}
	e := newTestEngine(sink)
	require.NoError(t, e.Start(1, RAMStress, StartOptions{
		RamTypeOverride: &ddr4,
		RamBudgetBytes:  memory.MaxChunkBytes,
		PassThrottle:    time.Millisecond,
		GracePeriod:     2 * time.Second,
	}))
	defer e.Stop()

	require.Eventually(t, func() bool { return e.Snapshot().Totals.Passes >= 1 }, 30*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, e.Pause())

	time.Sleep(150 * time.Millisecond)
	before := e.Snapshot().Totals.Passes
	// Longer than a whole pass over the buffer.
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, before, e.Snapshot().Totals.Passes, "worker kept passing while paused")

	require.NoError(t, e.Resume())
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	e.Stop()
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.False(t, sink.contains("Shutdown timeout"))
	assert.Equal(t, Idle, e.State())
}

// slowModules blocks its module query until release is closed.
type slowModules struct {
	systeminfo.Static
	queried chan struct{}
	release chan struct{}
}

func (h slowModules) MemoryModules() ([]systeminfo.Module, error) {
	close(h.queried)
	<-h.release
	return []systeminfo.Module{{GenerationCode: 0x1A}}, nil
}

func TestRAMPreparationDoesNotBlockEngine(t *testing.T) {
	t.Parallel()

	hw := slowModules{Static: systeminfo.Static{Cores: 2}, queried: make(chan struct{}), release: make(chan struct{})}
	e := New(hw, nil)

	ramErr := make(chan error, 1)
	go func() {
		ramErr <- e.Start(1, RAMStress, StartOptions{RamBudgetBytes: memory.MinBudgetBytes})
	}()
	<-hw.queried

	answered := make(chan State, 1)
	go func() { answered <- e.Snapshot().State }()
	select {
	case st := <-answered:
		assert.Equal(t, Idle, st)
	case <-time.After(time.Second):
		t.Fatal("Snapshot blocked behind RAM preparation")
	}

	require.NoError(t, e.Start(1, CPUStressHeavy, StartOptions{}))
	close(hw.release)
	assert.ErrorIs(t, <-ramErr, ErrBusy)
	assert.Equal(t, CPUStressHeavy, e.Mode())

	e.Stop()
	assert.Equal(t, Idle, e.State())
}

func TestRAMSessionDetectsProfile(t *testing.T) {
	t.Parallel()

	hw := systeminfo.Static{Modules: []systeminfo.Module{{GenerationCode: 0x22}, {GenerationCode: 0x22}}}
	e := New(hw, nil)
	require.NoError(t, e.Start(1, RAMStress, StartOptions{RamBudgetBytes: memory.MinBudgetBytes}))
	defer e.Stop()

	snap := e.Snapshot()
	require.NotNil(t, snap.Profile)
	assert.Equal(t, memory.DDR5, snap.Profile.Type)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	e := newTestEngine(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, e.Run(ctx, 2, CPUStressHeavy, StartOptions{}))
	assert.Equal(t, Idle, e.State())
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	for m := range modeNames {
		got, err := ParseMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseMode("gpu")
	assert.Error(t, err)
}
