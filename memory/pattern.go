package memory

// Pattern yields the byte written at a given buffer offset. Every pattern is a
// pure function of the offset, so verification recomputes rather than stores.
type Pattern struct {
	Name string
	at   func(offset int) byte
}

// At returns the pattern byte for offset.
func (p Pattern) At(offset int) byte {
	return p.at(offset)
}

func fixed(name string, b byte) Pattern {
	return Pattern{Name: name, at: func(int) byte { return b }}
}

// Patterns returns the four canonical patterns for profile. Older generations
// get walking ones/zeros plus alternating bits; newer ones get zero, all-ones,
// an index-derived pattern and a seeded pseudo-random pattern.
func Patterns(profile Profile, seed uint64) []Pattern {
	stride := max(profile.Stride, 1)

	switch {
	case profile.UsesRandomPattern:
		return []Pattern{
			fixed("zeros", 0x00),
			fixed("ones", 0xFF),
			{Name: "index", at: func(off int) byte {
				return byte(off) ^ byte(off>>8) ^ byte(off>>16)
			}},
			{Name: "random", at: func(off int) byte {
				return byte(splitmix64(seed ^ uint64(off)))
			}},
		}
	case profile.UsesWalkingBitPatterns:
		return []Pattern{
			{Name: "walking-ones", at: func(off int) byte {
				return 1 << uint((off/stride)%8)
			}},
			{Name: "walking-zeros", at: func(off int) byte {
				return ^byte(1 << uint((off/stride)%8))
			}},
			fixed("alternating-55", 0x55),
			fixed("alternating-AA", 0xAA),
		}
	}
	return []Pattern{
		fixed("zeros", 0x00),
		fixed("ones", 0xFF),
		fixed("alternating-55", 0x55),
		fixed("alternating-AA", 0xAA),
	}
}

// splitmix64 is a stateless 64-bit mixer.
func splitmix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	return x ^ (x >> 31)
}
