package utils

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
)

// Byte multiples used by sizing code.
const (
	KiB = 1 << 10
	MiB = 1 << 20
	GiB = 1 << 30
)

// FormatSize converts bytes to human-readable string (KB, MB, GB)
func FormatSize(size int64) string {
	switch {
	case size >= GiB:
		return fmt.Sprintf("%.2fGB", float64(size)/float64(GiB))
	case size >= MiB:
		return fmt.Sprintf("%.2fMB", float64(size)/float64(MiB))
	case size >= KiB:
		return fmt.Sprintf("%.2fKB", float64(size)/float64(KiB))
	}
	return fmt.Sprintf("%dB", size)
}

// FormatCount abbreviates large iteration counts (K, M, G).
func FormatCount(count uint64) string {
	switch {
	case count >= 1_000_000_000:
		return fmt.Sprintf("%.2fG", float64(count)/1_000_000_000)
	case count >= 1_000_000:
		return fmt.Sprintf("%.2fM", float64(count)/1_000_000)
	case count >= 1_000:
		return fmt.Sprintf("%.2fK", float64(count)/1_000)
	default:
		return fmt.Sprintf("%d", count)
	}
}

// ParseSize parses size string with units (e.g., 4K, 64KB, 512M, 1G)
func ParseSize(sizeStr string) (int64, error) {
	s := strings.ToUpper(strings.TrimSpace(sizeStr))
	var multiplier int64 = 1

	// Longer suffixes first so "MB" is not read as "B".
	for _, u := range []struct {
		suffix string
		mult   int64
	}{
		{"KB", KiB}, {"MB", MiB}, {"GB", GiB},
		{"K", KiB}, {"M", MiB}, {"G", GiB}, {"B", 1},
	} {
		if strings.HasSuffix(s, u.suffix) {
			multiplier = u.mult
			s = strings.TrimSuffix(s, u.suffix)
			break
		}
	}

	size, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", sizeStr, err)
	}
	if size < 0 {
		return 0, fmt.Errorf("invalid size %q: negative", sizeStr)
	}

	return size * multiplier, nil
}

// NewRand creates a new random number generator with the given seed
func NewRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}
