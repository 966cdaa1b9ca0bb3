//go:build !linux

package cpu

import (
	"errors"
	"runtime"
)

var errAffinityUnsupported = errors.New("CPU affinity is not supported on " + runtime.GOOS)

// PinToCPU only locks the OS thread on platforms without sched_setaffinity.
func PinToCPU(cpuID int) (release func(), err error) {
	runtime.LockOSThread()
	return runtime.UnlockOSThread, errAffinityUnsupported
}

func CurrentAffinity() ([]int, error) {
	return nil, errAffinityUnsupported
}
