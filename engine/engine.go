package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nkthebass/XenoCPUUtility-legacy/clock"
	"github.com/nkthebass/XenoCPUUtility-legacy/memory"
	"github.com/nkthebass/XenoCPUUtility-legacy/score"
	"github.com/nkthebass/XenoCPUUtility-legacy/systeminfo"
	"github.com/nkthebass/XenoCPUUtility-legacy/utils"
)

// Engine runs at most one stress or benchmark session at a time.
type Engine struct {
	hw   systeminfo.HardwareInfo
	sink utils.LogSink
	clk  clock.Clock

	mu         sync.Mutex
	state      State
	generation uint64
	current    *session
	last       *session
	lastResult *score.Result
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the system clock.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clk = c }
}

// New creates an idle engine. hw may be nil, in which case RAM sessions fall
// back to default sizing; sink may be nil to discard log lines.
func New(hw systeminfo.HardwareInfo, sink utils.LogSink, opts ...Option) *Engine {
	e := &Engine{hw: hw, sink: utils.SinkOr(sink), clk: clock.System{}}
	for _, o := range opts {
		o(e)
	}
	e.clk = clock.Or(e.clk)
	return e
}

// session is everything one Start owns. Workers only read it.
type session struct {
	generation uint64
	mode       Mode
	workers    int
	opts       StartOptions
	started    time.Time
	finishedAt time.Time
	deadline   *clock.Deadline

	ctx    context.Context
	cancel context.CancelFunc
	gate   *Gate
	agg    *Aggregator
	tester *memory.Tester
	// done closes when every worker has returned, ended after teardown.
	done  chan struct{}
	ended chan struct{}
}

// Start spawns workerCount workers running mode and returns without waiting
// for them. RAM sessions plan and allocate their buffers before returning.
func (e *Engine) Start(workerCount int, mode Mode, opts StartOptions) error {
	if workerCount < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidWorkerCount, workerCount)
	}
	if _, ok := modeNames[mode]; !ok {
		return fmt.Errorf("unknown mode %v", mode)
	}

	if e.State() != Idle {
		return ErrBusy
	}

	// Module queries and allocation run without mu; the state is checked again below.
	opts = opts.withDefaults(mode)
	var tester *memory.Tester
	if mode == RAMStress {
		var err error
		if tester, err = e.prepareRAM(opts); err != nil {
			return fmt.Errorf("failed to prepare RAM stress: %w", err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != Idle {
		if tester != nil {
			tester.Close()
		}
		return ErrBusy
	}

	s := &session{
		generation: e.generation + 1,
		mode:       mode,
		workers:    workerCount,
		opts:       opts,
		gate:       NewGate(),
		agg:        NewAggregator(workerCount),
		tester:     tester,
		done:       make(chan struct{}),
		ended:      make(chan struct{}),
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.started = e.clk.Now()
	if opts.Duration > 0 {
		d := clock.NewDeadline(e.clk, opts.Duration, score.DeadlineFloor)
		s.deadline = &d
		s.started = d.Start()
	}

	e.generation = s.generation
	e.current = s
	e.state = Running
	if mode.IsScore() {
		e.lastResult = nil
	}

	utils.Emitf(e.sink, "Starting %s session with %d workers...", mode, workerCount)
	if opts.Duration > 0 {
		utils.Emitf(e.sink, "Session will run for %v", opts.Duration)
	}

	var wg sync.WaitGroup
	for w := 0; w < workerCount; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			e.runWorker(s, w)
		}(w)
	}
	go func() {
		wg.Wait()
		close(s.done)
		e.finish(s)
	}()

	return nil
}

func (e *Engine) prepareRAM(opts StartOptions) (*memory.Tester, error) {
	profile := memory.DetermineProfile(opts.RamTypeOverride, e.moduleSource(), e.sink)

	var plan memory.Plan
	if opts.RamBudgetBytes > 0 {
		plan = memory.BuildPlanForBudget(opts.RamBudgetBytes, profile)
	} else {
		var total uint64
		if e.hw != nil {
			total = e.hw.TotalSystemMemoryBytes()
		}
		if total == 0 {
			total = memory.FallbackSystemBytes
			utils.Emitf(e.sink, "Total system memory unknown, assuming %s", utils.FormatSize(int64(total)))
		}
		plan = memory.BuildPlan(total, profile)
	}

	utils.Emitf(e.sink, "RAM plan: %s in %d buffers, profile %s",
		utils.FormatSize(int64(plan.TotalBudgetBytes)), len(plan.BufferSizes), profile)
	return memory.NewTester(plan, uint64(e.clk.Now().UnixNano()), e.sink)
}

func (e *Engine) moduleSource() memory.ModuleSource {
	if e.hw == nil {
		return nil
	}
	return e.hw
}

// finish runs once every worker of s has returned. A session ending on its own
// is torn down here; one being stopped is left to Stop.
func (e *Engine) finish(s *session) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.generation != s.generation || e.state == Stopping || e.state == Idle {
		return
	}

	e.teardown(s)
	utils.Emitf(e.sink, "%s session completed", s.mode)
}

// teardown records the outcome of s and returns the engine to Idle. Callers hold mu.
func (e *Engine) teardown(s *session) {
	s.cancel()
	totals := s.agg.Totals()

	if s.mode.IsScore() && s.deadline != nil {
		e.recordScore(s, totals)
	}
	if s.mode == RAMStress {
		utils.Emitf(e.sink, "RAM stress finished: %d passes, %d memory errors", totals.Passes, totals.MemoryErrors)
		if s.tester != nil {
			s.tester.Close()
		}
	}

	s.finishedAt = e.clk.Now()
	e.last = s
	e.current = nil
	e.state = Idle
	close(s.ended)
}

func (e *Engine) recordScore(s *session, totals Totals) {
	if totals.Faults > 0 {
		utils.Emitf(e.sink, "Score abandoned: %v in %d batches", score.ErrNonFinite, totals.Faults)
		return
	}
	if !s.deadline.Expired() {
		utils.Emitf(e.sink, "Score discarded, %s session was stopped early", s.mode)
		return
	}
	res, err := score.NewResult(s.mode.scoreKind(), s.workers, totals.Iterations, s.deadline.Elapsed())
	if err != nil {
		utils.Emitf(e.sink, "Score abandoned: %v", err)
		return
	}
	e.lastResult = &res
	utils.Emitf(e.sink, "%s", res)
}

// Pause closes the gate. Pausing a paused session succeeds.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case Running:
		e.current.gate.Close()
		e.state = Paused
		utils.Emitf(e.sink, "Session paused")
		return nil
	case Paused:
		return nil
	}
	return ErrNotRunning
}

// Resume reopens the gate. Resuming a running session succeeds.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case Paused:
		e.current.gate.Open()
		e.state = Running
		utils.Emitf(e.sink, "Session resumed")
		return nil
	case Running:
		return nil
	}
	return ErrNotRunning
}

// Stop cancels the session, waits up to the grace period for its workers and
// returns the engine to Idle. Workers still running after the grace period
// are abandoned. Concurrent callers all return once teardown is done.
func (e *Engine) Stop() {
	e.mu.Lock()
	switch e.state {
	case Idle:
		e.mu.Unlock()
		return
	case Stopping:
		ended := e.current.ended
		e.mu.Unlock()
		<-ended
		return
	}

	s := e.current
	e.state = Stopping
	e.mu.Unlock()

	utils.Emitf(e.sink, "Stopping %s session...", s.mode)
	s.cancel()
	s.gate.Open()

	timer := time.NewTimer(s.opts.GracePeriod)
	defer timer.Stop()
	select {
	case <-s.done:
	case <-timer.C:
		utils.Emitf(e.sink, "Shutdown timeout: workers did not exit within %v, abandoning them", s.opts.GracePeriod)
	}

	e.mu.Lock()
	e.teardown(s)
	e.mu.Unlock()
	utils.Emitf(e.sink, "Session stopped")
}

// Wait blocks until the current session has ended and been torn down, or ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.Lock()
	s := e.current
	e.mu.Unlock()

	if s == nil {
		return nil
	}
	select {
	case <-s.ended:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Mode returns the mode of the current session, or of the last one when idle.
func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s := e.sessionLocked(); s != nil {
		return s.mode
	}
	return 0
}

// ActiveWorkerCount is the worker count while running and zero otherwise.
func (e *Engine) ActiveWorkerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Running {
		return e.current.workers
	}
	return 0
}

// AllocatedWorkerCount also counts the workers of a paused session.
func (e *Engine) AllocatedWorkerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Running || e.state == Paused {
		return e.current.workers
	}
	return 0
}

// LastResult is the score of the last score session that ran to its deadline.
func (e *Engine) LastResult() (score.Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastResult == nil {
		return score.Result{}, false
	}
	return *e.lastResult, true
}

// Snapshot reports the current session, or the last one when idle.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{State: e.state}
	s := e.sessionLocked()
	if s == nil {
		return snap
	}
	snap.Mode = s.mode
	snap.Workers = s.workers
	if e.state == Running {
		snap.Active = s.workers
	}
	end := s.finishedAt
	if end.IsZero() {
		end = e.clk.Now()
	}
	snap.Elapsed = end.Sub(s.started)
	if s.deadline != nil && s.finishedAt.IsZero() {
		snap.Remaining = s.deadline.Remaining()
	}
	snap.Totals = s.agg.Totals()
	if s.tester != nil {
		p := s.tester.Plan.Profile
		snap.Profile = &p
		snap.PlannedBytes = s.tester.Plan.TotalBudgetBytes
		snap.AllocatedBytes = s.tester.Pool().AllocatedBytes()
	}
	return snap
}

func (e *Engine) sessionLocked() *session {
	if e.current != nil {
		return e.current
	}
	return e.last
}

// Run starts a session and blocks until it ends on its own or ctx is done, in
// which case it is stopped.
func (e *Engine) Run(ctx context.Context, workerCount int, mode Mode, opts StartOptions) error {
	if err := e.Start(workerCount, mode, opts); err != nil {
		return err
	}
	err := e.Wait(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		e.Stop()
		return nil
	}
	return err
}
