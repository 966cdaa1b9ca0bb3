package memory

import (
	"fmt"
	"strings"
)

// RamType is a memory generation.
type RamType int

const (
	SDRAM RamType = iota
	DDR1
	DDR2
	DDR3
	DDR4
	DDR5
)

// DefaultRamType is assumed when detection has nothing to go on.
const DefaultRamType = DDR3

var ramTypeNames = [...]string{"SDRAM", "DDR1", "DDR2", "DDR3", "DDR4", "DDR5"}

// RamTypes lists every generation, oldest first.
var RamTypes = []RamType{SDRAM, DDR1, DDR2, DDR3, DDR4, DDR5}

func (t RamType) String() string {
	if t < SDRAM || t > DDR5 {
		return fmt.Sprintf("RamType(%d)", int(t))
	}
	return ramTypeNames[t]
}

// ParseRamType reads a generation name. "auto" and "" return nil, meaning detect.
func ParseRamType(s string) (*RamType, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	switch name {
	case "", "AUTO":
		return nil, nil
	case "DDR":
		name = "DDR1"
	}
	for i, n := range ramTypeNames {
		if n == name {
			t := RamType(i)
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unknown RAM type %q (want auto, SDRAM, DDR1..DDR5)", s)
}

// Profile is the stride and pattern set tuned to one generation.
type Profile struct {
	Type                   RamType
	Stride                 int
	UsesWalkingBitPatterns bool
	UsesRandomPattern      bool
}

func (p Profile) String() string {
	return fmt.Sprintf("%s (stride %d, walking=%v, random=%v)", p.Type, p.Stride, p.UsesWalkingBitPatterns, p.UsesRandomPattern)
}

var profiles = map[RamType]Profile{
	SDRAM: {Type: SDRAM, Stride: 64, UsesWalkingBitPatterns: true},
	DDR1:  {Type: DDR1, Stride: 64, UsesWalkingBitPatterns: true},
	DDR2:  {Type: DDR2, Stride: 128, UsesWalkingBitPatterns: true},
	DDR3:  {Type: DDR3, Stride: 128, UsesWalkingBitPatterns: true},
	DDR4:  {Type: DDR4, Stride: 256, UsesRandomPattern: true},
	DDR5:  {Type: DDR5, Stride: 512, UsesRandomPattern: true},
}

// ProfileFor returns the profile of t, or of DefaultRamType for unknown values.
func ProfileFor(t RamType) Profile {
	if p, ok := profiles[t]; ok {
		return p
	}
	return profiles[DefaultRamType]
}

// Plan is the memory pool layout of one RAM stress session.
type Plan struct {
	TotalBudgetBytes uint64
	BufferSizes      []int
	Profile          Profile
}

// Bytes sums the planned buffer sizes.
func (p Plan) Bytes() uint64 {
	var n uint64
	for _, s := range p.BufferSizes {
		n += uint64(s)
	}
	return n
}
