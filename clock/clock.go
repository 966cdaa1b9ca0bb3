package clock

import "time"

// Clock is the time source used by workers and deadlines. Readings must carry
// the monotonic component so elapsed math is immune to wall clock steps.
type Clock interface {
	Now() time.Time
}

// System reads time.Now, which includes a monotonic reading.
type System struct{}

func (System) Now() time.Time {
	return time.Now()
}

// Or returns c, or System when c is nil.
func Or(c Clock) Clock {
	if c == nil {
		return System{}
	}
	return c
}

// Deadline is a start instant plus a target end.
type Deadline struct {
	clk   Clock
	start time.Time
	end   time.Time
}

// NewDeadline starts a deadline now. A target shorter than floor is raised to floor.
func NewDeadline(c Clock, target, floor time.Duration) Deadline {
	c = Or(c)
	if target < floor {
		target = floor
	}
	start := c.Now()
	return Deadline{clk: c, start: start, end: start.Add(target)}
}

// Expired reports whether the end has been reached.
func (d Deadline) Expired() bool {
	return !d.clk.Now().Before(d.end)
}

// Elapsed returns the time since the deadline was created.
func (d Deadline) Elapsed() time.Duration {
	return d.clk.Now().Sub(d.start)
}

// Remaining returns the time left, never negative.
func (d Deadline) Remaining() time.Duration {
	r := d.end.Sub(d.clk.Now())
	if r < 0 {
		return 0
	}
	return r
}

// Start returns the instant the deadline was created.
func (d Deadline) Start() time.Time {
	return d.start
}

// Stopwatch measures time since its last restart.
type Stopwatch struct {
	clk   Clock
	start time.Time
}

func NewStopwatch(c Clock) *Stopwatch {
	c = Or(c)
	return &Stopwatch{clk: c, start: c.Now()}
}

func (s *Stopwatch) Elapsed() time.Duration {
	return s.clk.Now().Sub(s.start)
}

func (s *Stopwatch) Restart() {
	s.start = s.clk.Now()
}
