//go:build linux

package cpu

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// PinToCPU locks the calling goroutine to its OS thread and restricts that
// thread to cpuID. The returned func undoes the thread lock; it is valid even
// when err is non-nil, since the lock is taken before affinity is attempted.
func PinToCPU(cpuID int) (release func(), err error) {
	runtime.LockOSThread()
	release = runtime.UnlockOSThread

	var set unix.CPUSet
	set.Set(cpuID)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return release, fmt.Errorf("failed to set CPU affinity for CPU %d: %w", cpuID, err)
	}
	return release, nil
}

// CurrentAffinity returns the CPUs the calling thread may run on.
func CurrentAffinity() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, err
	}
	cpus := make([]int, 0, set.Count())
	for i := 0; i < len(set)*64; i++ {
		if set.IsSet(i) {
			cpus = append(cpus, i)
		}
	}
	return cpus, nil
}
