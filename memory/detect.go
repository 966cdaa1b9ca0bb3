package memory

import (
	"github.com/nkthebass/XenoCPUUtility-legacy/systeminfo"
	"github.com/nkthebass/XenoCPUUtility-legacy/utils"
)

// ModuleSource lists installed memory modules.
type ModuleSource interface {
	MemoryModules() ([]systeminfo.Module, error)
}

// SMBIOS type 17 memory type codes.
var generationCodes = map[uint16]RamType{
	0x0F: SDRAM,
	0x12: DDR1,
	0x13: DDR2,
	0x14: DDR2, // DDR2 FB-DIMM
	0x18: DDR3,
	0x1D: DDR3, // LPDDR3
	0x1A: DDR4,
	0x1E: DDR4, // LPDDR4
	0x22: DDR5,
	0x23: DDR5, // LPDDR5
}

// Legacy memory type codes, which stop at DDR4.
var legacyCodes = map[uint16]RamType{
	17: SDRAM,
	20: DDR1,
	21: DDR2,
	22: DDR2,
	24: DDR3,
	26: DDR4,
}

// ClassifyModule guesses a module's generation from its type code, then its
// legacy type code, then its speed. ok is false when nothing is usable.
func ClassifyModule(m systeminfo.Module) (t RamType, ok bool) {
	if t, ok := generationCodes[m.GenerationCode]; ok {
		return t, true
	}
	if t, ok := legacyCodes[m.LegacyCode]; ok {
		return t, true
	}
	switch speed := m.SpeedMHz; {
	case speed >= 4400:
		return DDR5, true
	case speed >= 2133:
		return DDR4, true
	case speed >= 800:
		return DDR3, true
	case speed >= 400:
		return DDR2, true
	case speed >= 200:
		return DDR1, true
	case speed > 0:
		return SDRAM, true
	}
	return 0, false
}

// MajorityVote returns the most common generation; ties go to the newer one.
// ok is false for an empty vote.
func MajorityVote(votes []RamType) (winner RamType, ok bool) {
	counts := make(map[RamType]int, len(RamTypes))
	for _, v := range votes {
		counts[v]++
	}
	best := 0
	for i := len(RamTypes) - 1; i >= 0; i-- {
		t := RamTypes[i]
		if counts[t] > best {
			best = counts[t]
			winner = t
		}
	}
	return winner, best > 0
}

// DetermineProfile picks the RAM profile for a session: the override when
// given, else a majority vote over the reported modules, else DefaultRamType.
// A failed query is logged and never returned.
func DetermineProfile(override *RamType, src ModuleSource, sink utils.LogSink) Profile {
	sink = utils.SinkOr(sink)

	if override != nil {
		p := ProfileFor(*override)
		utils.Emitf(sink, "RAM type override: %s", p)
		return p
	}

	if src == nil {
		utils.Emitf(sink, "No hardware inventory available, assuming %s", DefaultRamType)
		return ProfileFor(DefaultRamType)
	}

	modules, err := src.MemoryModules()
	if err != nil {
		utils.Emitf(sink, "Memory module query failed: %v, assuming %s", err, DefaultRamType)
		return ProfileFor(DefaultRamType)
	}

	votes := make([]RamType, 0, len(modules))
	for _, m := range modules {
		if t, ok := ClassifyModule(m); ok {
			votes = append(votes, t)
		}
	}

	winner, ok := MajorityVote(votes)
	if !ok {
		utils.Emitf(sink, "No classifiable memory modules (%d reported), assuming %s", len(modules), DefaultRamType)
		return ProfileFor(DefaultRamType)
	}

	p := ProfileFor(winner)
	utils.Emitf(sink, "Detected RAM type %s from %d of %d modules", p, len(votes), len(modules))
	return p
}
