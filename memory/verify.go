package memory

import (
	"context"
	"sync/atomic"

	"github.com/nkthebass/XenoCPUUtility-legacy/utils"
)

// MaxLoggedMismatches bounds how many mismatches one verifier reports line by line.
const MaxLoggedMismatches = 100

// SegmentBytes is how much of a buffer one write or verify sweep covers
// between checkpoints.
const SegmentBytes = 1 << 20

// Checkpoint is called between segments of a pass. A non-nil error abandons the pass.
type Checkpoint func(ctx context.Context) error

// firstOffset is the first multiple of stride at or after lo.
func firstOffset(lo, stride int) int {
	return (lo + stride - 1) / stride * stride
}

func writeRange(buf []byte, p Pattern, stride, lo, hi int) {
	for off := firstOffset(lo, stride); off < hi; off += stride {
		buf[off] = p.At(off)
	}
}

func verifyRange(buf []byte, p Pattern, stride, lo, hi int, report func(offset int, want, got byte)) uint64 {
	var mismatches uint64
	for off := firstOffset(lo, stride); off < hi; off += stride {
		want := p.At(off)
		if got := buf[off]; got != want {
			mismatches++
			if report != nil {
				report(off, want, got)
			}
		}
	}
	return mismatches
}

// WritePattern stores p at every stride-th byte of buf.
func WritePattern(buf []byte, p Pattern, stride int) {
	writeRange(buf, p, stride, 0, len(buf))
}

// VerifyPattern re-reads every stride-th byte of buf and counts bytes that do
// not match p. report, when non-nil, is called for each mismatch.
func VerifyPattern(buf []byte, p Pattern, stride int, report func(offset int, want, got byte)) uint64 {
	return verifyRange(buf, p, stride, 0, len(buf), report)
}

// Verifier runs write/verify passes for one session.
type Verifier struct {
	profile  Profile
	patterns []Pattern
	sink     utils.LogSink
	logged   atomic.Int64
}

func NewVerifier(profile Profile, seed uint64, sink utils.LogSink) *Verifier {
	return &Verifier{
		profile:  profile,
		patterns: Patterns(profile, seed),
		sink:     utils.SinkOr(sink),
	}
}

// RunPass writes and verifies every pattern over buf, one SegmentBytes segment
// at a time. Each pattern is written across the whole buffer before it is
// verified. Mismatches are findings, not failures: they are counted and
// logged, and the pass carries on. cp, when non-nil, runs before every
// segment; its error or ctx's abandons the pass with the count so far.
func (v *Verifier) RunPass(ctx context.Context, buf []byte, index int, cp Checkpoint) (uint64, error) {
	stride := max(v.profile.Stride, 1)
	var total uint64

	sweep := func(fn func(lo, hi int)) error {
		for lo := 0; lo < len(buf); lo += SegmentBytes {
			if err := ctx.Err(); err != nil {
				return err
			}
			if cp != nil {
				if err := cp(ctx); err != nil {
					return err
				}
			}
			fn(lo, min(lo+SegmentBytes, len(buf)))
		}
		return nil
	}

	for _, p := range v.patterns {
		err := sweep(func(lo, hi int) { writeRange(buf, p, stride, lo, hi) })
		if err != nil {
			return total, err
		}
		err = sweep(func(lo, hi int) {
			total += verifyRange(buf, p, stride, lo, hi, func(off int, want, got byte) {
				v.report(index, p.Name, off, want, got)
			})
		})
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (v *Verifier) report(index int, pattern string, off int, want, got byte) {
	n := v.logged.Add(1)
	switch {
	case n <= MaxLoggedMismatches:
		utils.Emitf(v.sink, "Memory error: buffer %d offset 0x%X pattern %s expected 0x%02X got 0x%02X",
			index, off, pattern, want, got)
	case n == MaxLoggedMismatches+1:
		utils.Emitf(v.sink, "Memory error log limit (%d) reached, further mismatches are counted only", MaxLoggedMismatches)
	}
}
