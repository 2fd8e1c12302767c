package policy

import (
	"fmt"
	"sync"
	"time"

	"bgtask/internal/task/dispatch"
)

// FixedInterval fires on the first poll and then whenever interval has passed
// since the previous fire. When not due it sleeps the whole interval, so a late
// run pushes the schedule later and it never catches up.
type FixedInterval struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
}

func NewFixedInterval(interval time.Duration) (*FixedInterval, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be > 0")
	}
	return &FixedInterval{interval: interval}, nil
}

func (f *FixedInterval) Interval() time.Duration { return f.interval }

// Next returns the next fire time. Zero until the first fire.
func (f *FixedInterval) Next() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.next
}

func (f *FixedInterval) Begin(time.Time) {}

func (f *FixedInterval) Poll(now time.Time) dispatch.Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	if now.Before(f.next) {
		return dispatch.Step{Wait: f.interval}
	}
	f.next = now.Add(f.interval)
	return dispatch.Step{Fire: true, Due: now}
}

func (f *FixedInterval) Fired(dispatch.Step, time.Time) {}
