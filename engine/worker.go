package engine

import (
	"context"
	"errors"
	"math"
	"runtime"
	"time"

	"github.com/nkthebass/XenoCPUUtility-legacy/clock"
	"github.com/nkthebass/XenoCPUUtility-legacy/cpu"
	"github.com/nkthebass/XenoCPUUtility-legacy/utils"
)

func (e *Engine) runWorker(s *session, w int) {
	if s.opts.PinWorkers {
		target := w % runtime.NumCPU()
		release, err := cpu.PinToCPU(target)
		defer release()
		if err != nil {
			utils.Emitf(e.sink, "Worker %d: %v", w, err)
		} else if cpus, err := cpu.CurrentAffinity(); err == nil {
			utils.Emitf(e.sink, "Worker %d pinned to CPU %v", w, cpus)
		}
	}

	switch s.mode {
	case CPUStressHeavy:
		e.heavyLoop(s, w)
	case CPUStressInstability:
		e.instabilityLoop(s, w)
	case RAMStress:
		e.ramLoop(s, w)
	case SingleScore, MultiScore:
		e.scoreLoop(s, w)
	}
}

// proceed is the check every worker makes before a batch: wait on the gate,
// then give up on cancellation or an expired session deadline.
func (s *session) proceed() bool {
	if err := s.gate.Wait(s.ctx); err != nil {
		return false
	}
	if s.ctx.Err() != nil {
		return false
	}
	return s.deadline == nil || !s.deadline.Expired()
}

func (e *Engine) heavyLoop(s *session, w int) {
	st := cpu.NewWorkerState(utils.NewRand(int64(w)))
	s.agg.SetPhase(w, cpu.FloatingPoint)

	for s.proceed() {
		n := cpu.RunBatch(s.ctx, cpu.FloatingPoint, st, s.opts.BatchSize)
		if s.ctx.Err() != nil {
			return
		}
		s.agg.CommitBatch(w, cpu.FloatingPoint, n)
	}
}

// instabilityLoop rotates through the phases on the worker's own clock, so
// workers drift apart and the load on the package varies unevenly.
func (e *Engine) instabilityLoop(s *session, w int) {
	st := cpu.NewWorkerState(utils.NewRand(int64(w)))
	phase := cpu.Phases[w%cpu.NumPhases]
	s.agg.SetPhase(w, phase)
	sw := clock.NewStopwatch(e.clk)

	for s.proceed() {
		if sw.Elapsed() >= s.opts.PhaseDuration {
			phase = phase.Next()
			s.agg.SetPhase(w, phase)
			sw.Restart()
		}
		n := cpu.RunBatch(s.ctx, phase, st, s.opts.BatchSize)
		if s.ctx.Err() != nil {
			return
		}
		s.agg.CommitBatch(w, phase, n)
	}
}

// errSessionOver abandons a RAM pass once the session deadline has passed.
var errSessionOver = errors.New("session deadline passed")

// checkpoint is proceed for work inside a RAM pass, run between segments.
func (s *session) checkpoint(ctx context.Context) error {
	if err := s.gate.Wait(ctx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.deadline != nil && s.deadline.Expired() {
		return errSessionOver
	}
	return nil
}

func (e *Engine) ramLoop(s *session, w int) {
	for s.proceed() {
		ran, mismatches, err := s.tester.RunNextPass(s.ctx, s.checkpoint)
		if err != nil {
			return
		}
		if ran {
			s.agg.CommitPass(w, mismatches)
		}
		if !sleepCtx(s, s.opts.PassThrottle) {
			return
		}
	}
}

func (e *Engine) scoreLoop(s *session, w int) {
	x, y := 1.0+float64(w)*1e-3, 0.5
	s.agg.SetPhase(w, cpu.FloatingPoint)

	for s.proceed() {
		x, y = cpu.Kernel(x, y, s.opts.BatchSize)
		if s.ctx.Err() != nil {
			return
		}
		if math.IsNaN(x) || math.IsInf(x, 0) || math.IsNaN(y) || math.IsInf(y, 0) {
			s.agg.RecordFault(w)
			utils.Emitf(e.sink, "Worker %d: non-finite kernel state, abandoning run", w)
			return
		}
		s.agg.CommitBatch(w, cpu.FloatingPoint, uint64(s.opts.BatchSize))
	}
}

func sleepCtx(s *session, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
