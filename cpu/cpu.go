package cpu

import (
	"context"
	"math"
	"math/bits"
	"time"
)

const (
	valueCeiling = 4.0
	valueFold    = 3.75
	increment    = 0.0000001

	integerMultiplier = 7
	integerAddend     = 0x9E3779B9
	integerXorMask    = 0xAAAAAAAA
)

// clamp folds v back into a bounded range and recovers from non-finite drift.
func clamp(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 1.0
	}
	if v > valueCeiling {
		v -= valueFold
		if v > valueCeiling {
			v = math.Mod(v, valueCeiling)
		}
	}
	return v
}

// FloatStep chains sqrt, sin and cos on a running scalar.
func FloatStep(v float64) float64 {
	v = math.Sqrt(math.Abs(v)*1.000001 + increment)
	v = math.Sin(v) + 1.000001
	v = math.Cos(v)
	return clamp(v)
}

// IntegerStep runs a multiply-accumulate, xor and rotate chain on 32-bit state.
func IntegerStep(acc uint32) uint32 {
	acc = acc*integerMultiplier + integerAddend
	acc ^= integerXorMask
	return bits.RotateLeft32(acc, 5)
}

// TouchMemory read-modify-writes every byte of buf and folds the result back into v.
func TouchMemory(buf []byte, v float64) float64 {
	if len(buf) == 0 {
		return v
	}
	seed := byte(v * 255)
	for i := range buf {
		buf[i] = buf[i] + seed + byte(i)
	}
	return clamp(float64(buf[len(buf)-1]) / 255.0)
}

// MixedStep interleaves one floating point and one integer step.
func MixedStep(v float64, acc uint32) (float64, uint32) {
	v = FloatStep(v)
	acc = IntegerStep(acc ^ uint32(v*1_000_000))
	return v, acc
}

// RunBatch executes n iterations of phase against st and returns the iterations
// completed. Idle sleeps for IdlePause instead and counts nothing; it returns
// early when ctx is cancelled.
func RunBatch(ctx context.Context, phase Phase, st *WorkerState, n int) uint64 {
	switch phase {
	case FloatingPoint:
		v := st.Value
		for i := 0; i < n; i++ {
			v = FloatStep(v)
		}
		st.Value = v
	case Integer:
		acc := st.Acc
		for i := 0; i < n; i++ {
			acc = IntegerStep(acc)
		}
		st.Acc = acc
	case MemoryTouch:
		v := st.Value
		for i := 0; i < n; i++ {
			v = TouchMemory(st.Scratch, v)
		}
		st.Value = v
	case Mixed:
		v, acc := st.Value, st.Acc
		for i := 0; i < n; i++ {
			v, acc = MixedStep(v, acc)
		}
		st.Value, st.Acc = v, acc
	case Idle:
		t := time.NewTimer(IdlePause)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
		}
		return 0
	default:
		return 0
	}
	return uint64(n)
}

// Kernel is the fixed benchmark kernel: n chained sqrt/cos/sin iterations on (x, y).
func Kernel(x, y float64, n int) (float64, float64) {
	for i := 0; i < n; i++ {
		x = math.Sqrt(x*1.0000005 + 0.0000008)
		y = math.Cos(x)*math.Sin(y) + 1.0000002
	}
	return x, y
}
