package policy

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"bgtask/internal/task/clock"
	"bgtask/internal/task/dispatch"
)

// PollInterval is how long the absolute-time loop sleeps between checks.
// Fire times are honored to within one PollInterval.
const PollInterval = time.Minute

// AbsoluteTime fires at absolute instants; each fired instant recurs once
// more after Interval if that lands in the future.
//
// The pending list is sorted once when a loop begins. Recurrences are
// appended at the end, so after the first recurrence the head is not
// necessarily the earliest entry; an earlier entry queued behind a later head
// waits for that head.
type AbsoluteTime struct {
	mu       sync.Mutex
	interval time.Duration
	clock    clock.Clock
	loc      *time.Location
	pending  []time.Time
}

type AbsoluteOption func(*AbsoluteTime)

// WithClock sets the clock used to resolve "today" in AddFireTime.
func WithClock(c clock.Clock) AbsoluteOption {
	return func(a *AbsoluteTime) {
		if c != nil {
			a.clock = c
		}
	}
}

func WithLocation(loc *time.Location) AbsoluteOption {
	return func(a *AbsoluteTime) {
		if loc != nil {
			a.loc = loc
		}
	}
}

// NewAbsoluteTime returns a policy whose fire times recur every interval.
// An interval <= 0 disables recurrence.
func NewAbsoluteTime(interval time.Duration, opts ...AbsoluteOption) *AbsoluteTime {
	a := &AbsoluteTime{
		interval: interval,
		clock:    clock.Real{},
		loc:      time.Local,
	}
	for _, o := range opts {
		if o != nil {
			o(a)
		}
	}
	return a
}

// AddFireTime registers hour:minute:second of the current day.
// Register fire times before the task is dispatched.
func (a *AbsoluteTime) AddFireTime(hour, minute, second int) error {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 || second < 0 || second > 59 {
		return fmt.Errorf("invalid fire time %02d:%02d:%02d", hour, minute, second)
	}
	now := a.clock.Now().In(a.loc)
	at := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, second, 0, a.loc)
	a.AddAt(at)
	return nil
}

// AddAt registers a fixed instant.
func (a *AbsoluteTime) AddAt(at time.Time) {
	a.mu.Lock()
	a.pending = append(a.pending, at)
	a.mu.Unlock()
}

func (a *AbsoluteTime) Interval() time.Duration { return a.interval }

// Pending returns a copy of the pending fire times in their current order.
func (a *AbsoluteTime) Pending() []time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]time.Time, len(a.pending))
	copy(out, a.pending)
	return out
}

func (a *AbsoluteTime) Begin(time.Time) {
	a.mu.Lock()
	sort.SliceStable(a.pending, func(i, j int) bool { return a.pending[i].Before(a.pending[j]) })
	a.mu.Unlock()
}

func (a *AbsoluteTime) Poll(now time.Time) dispatch.Step {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pending) == 0 {
		return dispatch.Step{Done: true}
	}
	head := a.pending[0]
	if now.Before(head) {
		return dispatch.Step{Wait: PollInterval}
	}
	return dispatch.Step{Fire: true, Due: head, Wait: PollInterval}
}

func (a *AbsoluteTime) Fired(step dispatch.Step, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, at := range a.pending {
		if at.Equal(step.Due) {
			a.pending = append(a.pending[:i], a.pending[i+1:]...)
			break
		}
	}
	next := step.Due.Add(a.interval)
	if next.After(now) {
		a.pending = append(a.pending, next)
	}
}
