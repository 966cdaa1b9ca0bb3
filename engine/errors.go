package engine

import "errors"

var (
	// ErrBusy is returned by Start while a session is active.
	ErrBusy = errors.New("a stress session is already active")
	// ErrNotRunning is returned by Pause and Resume with no running session.
	ErrNotRunning = errors.New("no stress session is running")
	// ErrInvalidWorkerCount is returned by Start for fewer than one worker.
	ErrInvalidWorkerCount = errors.New("worker count must be at least 1")
)
