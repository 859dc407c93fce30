package cache

import "time"

// Clock abstracts time for the monitor's debouncing, so tests drive it
// deterministically and real runs use the runtime's monotonic clock
// instead of raw wall time.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// SystemClock returns the real clock.
func SystemClock() Clock {
	return systemClock{}
}
