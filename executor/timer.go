package executor

import (
	"fmt"
	"time"
)

// Timer accumulates wall time and call counts for instrumented kernel
// launches.
type Timer struct {
	total time.Duration
	count int
}

// Add records one timed call.
func (t *Timer) Add(d time.Duration) {
	t.total += d
	t.count++
}

// Count returns how many calls were recorded.
func (t *Timer) Count() int { return t.count }

// Total returns the accumulated wall time.
func (t *Timer) Total() time.Duration { return t.total }

// Average returns the mean call duration, zero before the first call.
func (t *Timer) Average() time.Duration {
	if t.count == 0 {
		return 0
	}
	return t.total / time.Duration(t.count)
}

func (t *Timer) String() string {
	return fmt.Sprintf("%d calls, %v total, %v avg", t.count, t.total, t.Average())
}
