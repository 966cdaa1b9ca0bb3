package memory

import (
	"math/bits"

	"github.com/nkthebass/XenoCPUUtility-legacy/utils"
)

const (
	// MinBudgetBytes is the smallest pool a RAM stress session allocates.
	MinBudgetBytes = 32 * utils.MiB
	// MaxChunkBytes bounds a single buffer.
	MaxChunkBytes = 512 * utils.MiB
	// FallbackSystemBytes stands in for the system memory size when it is unknown.
	FallbackSystemBytes = 512 * utils.MiB

	budgetDivisor = 4
)

// PlanCeiling caps the budget so the pool fits the process address space:
// 1.5GiB on 32-bit builds, 64GiB on 64-bit ones.
var PlanCeiling = addressSpaceCeiling(bits.UintSize)

func addressSpaceCeiling(wordBits int) uint64 {
	if wordBits == 32 {
		return 1536 * utils.MiB
	}
	return 64 * utils.GiB
}

// BuildPlan sizes the pool for a machine with totalSystemBytes of memory.
func BuildPlan(totalSystemBytes uint64, profile Profile) Plan {
	return BuildPlanWithCeiling(totalSystemBytes, profile, PlanCeiling)
}

// BuildPlanWithCeiling is BuildPlan with an explicit ceiling. The budget is a
// quarter of system memory, raised to MinBudgetBytes and capped at ceiling
// (itself never below MinBudgetBytes).
func BuildPlanWithCeiling(totalSystemBytes uint64, profile Profile, ceiling uint64) Plan {
	if ceiling < MinBudgetBytes {
		ceiling = MinBudgetBytes
	}

	budget := max(totalSystemBytes/budgetDivisor, MinBudgetBytes)
	budget = min(budget, ceiling)

	return Plan{
		TotalBudgetBytes: budget,
		BufferSizes:      partition(budget, MaxChunkBytes),
		Profile:          profile,
	}
}

// BuildPlanForBudget plans exactly budget bytes (floored at MinBudgetBytes).
func BuildPlanForBudget(budget uint64, profile Profile) Plan {
	budget = max(budget, MinBudgetBytes)
	return Plan{
		TotalBudgetBytes: budget,
		BufferSizes:      partition(budget, MaxChunkBytes),
		Profile:          profile,
	}
}

// partition splits budget into full chunks plus one remainder buffer.
func partition(budget, chunk uint64) []int {
	n := budget / chunk
	sizes := make([]int, 0, n+1)
	for i := uint64(0); i < n; i++ {
		sizes = append(sizes, int(chunk))
	}
	if rem := budget % chunk; rem > 0 {
		sizes = append(sizes, int(rem))
	}
	return sizes
}
