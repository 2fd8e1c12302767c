package policy

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"bgtask/internal/task/clock"
	"bgtask/internal/task/dispatch"
)

func day(d, h, m int) time.Time {
	return time.Date(2025, 6, d, h, m, 0, 0, time.UTC)
}

func equalTimes(a, b []time.Time) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// fireAt polls at now, requires a fire and reports success back to the policy.
func fireAt(t *testing.T, p dispatch.Policy, now time.Time) dispatch.Step {
	t.Helper()
	step := p.Poll(now)
	if !step.Fire {
		t.Fatalf("Poll(%v) did not fire: %+v", now, step)
	}
	p.Fired(step, now)
	return step
}

func TestAbsoluteTimeDailyRecurrence(t *testing.T) {
	t.Parallel()
	fc := clock.NewFake(day(1, 7, 0))
	a := NewAbsoluteTime(24*time.Hour, WithClock(fc), WithLocation(time.UTC))
	if err := a.AddFireTime(20, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := a.AddFireTime(8, 0, 0); err != nil {
		t.Fatal(err)
	}
	a.Begin(fc.Now())

	if got := a.Pending(); !equalTimes(got, []time.Time{day(1, 8, 0), day(1, 20, 0)}) {
		t.Fatalf("sorted pending = %v", got)
	}
	if step := a.Poll(day(1, 7, 0)); step.Fire || step.Done || step.Wait != PollInterval {
		t.Fatalf("early poll = %+v", step)
	}

	if s := fireAt(t, a, day(1, 8, 0)); !s.Due.Equal(day(1, 8, 0)) || s.Wait != PollInterval {
		t.Fatalf("first fire step = %+v", s)
	}
	fireAt(t, a, day(1, 20, 0))

	want := []time.Time{day(2, 8, 0), day(2, 20, 0)}
	if got := a.Pending(); !equalTimes(got, want) {
		t.Fatalf("pending after day 1 = %v, want %v", got, want)
	}
}

func TestAbsoluteTimeZeroIntervalExhausts(t *testing.T) {
	t.Parallel()
	fc := clock.NewFake(day(1, 7, 0))
	a := NewAbsoluteTime(0, WithClock(fc), WithLocation(time.UTC))
	_ = a.AddFireTime(8, 0, 0)
	_ = a.AddFireTime(20, 0, 0)
	a.Begin(fc.Now())

	fireAt(t, a, day(1, 8, 0))
	fireAt(t, a, day(1, 20, 0))
	if got := a.Pending(); len(got) != 0 {
		t.Fatalf("pending = %v, want empty", got)
	}
	if step := a.Poll(day(1, 20, 1)); !step.Done {
		t.Fatalf("Poll after exhaustion = %+v, want Done", step)
	}
}

func TestAbsoluteTimeRecurrenceIsAppendedUnsorted(t *testing.T) {
	t.Parallel()
	fc := clock.NewFake(day(1, 7, 0))
	a := NewAbsoluteTime(time.Hour, WithClock(fc), WithLocation(time.UTC))
	_ = a.AddFireTime(8, 0, 0)
	_ = a.AddFireTime(20, 0, 0)
	a.Begin(fc.Now())

	fireAt(t, a, day(1, 8, 0))
	if got := a.Pending(); !equalTimes(got, []time.Time{day(1, 20, 0), day(1, 9, 0)}) {
		t.Fatalf("pending = %v, want 20:00 ahead of 09:00", got)
	}
	// 09:00 is overdue but the head is 20:00.
	if step := a.Poll(day(1, 9, 30)); step.Fire {
		t.Fatalf("09:30 poll fired %+v", step)
	}
	fireAt(t, a, day(1, 20, 0))
	s := fireAt(t, a, day(1, 20, 1))
	if !s.Due.Equal(day(1, 9, 0)) {
		t.Fatalf("late fire due = %v, want 09:00", s.Due)
	}
	// 09:00+1h is in the past, so it does not recur.
	if got := a.Pending(); !equalTimes(got, []time.Time{day(1, 21, 0)}) {
		t.Fatalf("pending = %v", got)
	}
}

func TestAbsoluteTimeRejectsInvalidFireTime(t *testing.T) {
	t.Parallel()
	a := NewAbsoluteTime(time.Hour)
	for _, hms := range [][3]int{{24, 0, 0}, {-1, 0, 0}, {0, 60, 0}, {0, 0, 60}} {
		if err := a.AddFireTime(hms[0], hms[1], hms[2]); err == nil {
			t.Fatalf("AddFireTime(%v) should fail", hms)
		}
	}
}

func TestAbsoluteTimeFiresOnceAndSchedulesNextDay(t *testing.T) {
	t.Parallel()
	fc := clock.NewFake(time.Date(2025, 6, 1, 8, 59, 30, 0, time.UTC))
	a := NewAbsoluteTime(24*time.Hour, WithClock(fc), WithLocation(time.UTC))
	if err := a.AddFireTime(9, 0, 0); err != nil {
		t.Fatal(err)
	}

	var calls atomic.Int32
	cancelled := make(chan struct{})
	task, err := dispatch.New("daily", a,
		func(context.Context, any) error { calls.Add(1); return nil },
		dispatch.WithClock(fc),
		dispatch.WithObserver(dispatch.ObserverFunc(func(e dispatch.Event) {
			if e.Kind == dispatch.EventCancelled {
				close(cancelled)
			}
		})))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := task.Dispatch(ctx, nil); err != nil {
		t.Fatal(err)
	}

	waitTimers(t, fc)
	if calls.Load() != 0 {
		t.Fatal("fired before 09:00")
	}
	fc.Advance(PollInterval)

	waitTimers(t, fc)
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
	want := []time.Time{time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}
	if got := a.Pending(); !equalTimes(got, want) {
		t.Fatalf("pending = %v, want %v", got, want)
	}

	fc.Advance(PollInterval)
	waitTimers(t, fc)
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d after another minute, want 1", got)
	}

	cancel()
	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop on cancel")
	}
}

func TestFixedIntervalFirstPollIsDue(t *testing.T) {
	t.Parallel()
	t0 := day(1, 12, 0)
	f, err := NewFixedInterval(10 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !f.Next().IsZero() {
		t.Fatalf("Next = %v, want zero", f.Next())
	}
	if s := f.Poll(t0); !s.Fire || s.Wait != 0 {
		t.Fatalf("first poll = %+v", s)
	}
	if s := f.Poll(t0.Add(5 * time.Second)); s.Fire || s.Wait != 10*time.Second {
		t.Fatalf("poll before due = %+v, want full interval wait", s)
	}
	// a late poll re-anchors on now; the lost time is never made up
	if s := f.Poll(t0.Add(15 * time.Second)); !s.Fire {
		t.Fatalf("late poll = %+v", s)
	}
	if want := t0.Add(25 * time.Second); !f.Next().Equal(want) {
		t.Fatalf("Next = %v, want %v", f.Next(), want)
	}
}

func TestFixedIntervalRejectsNonPositive(t *testing.T) {
	t.Parallel()
	for _, d := range []time.Duration{0, -time.Second} {
		if _, err := NewFixedInterval(d); err == nil {
			t.Fatalf("NewFixedInterval(%v) should fail", d)
		}
	}
}

func TestFixedIntervalRunsNoEarlierThanInterval(t *testing.T) {
	t.Parallel()
	t0 := day(1, 0, 0)
	fc := clock.NewFake(t0)
	f, _ := NewFixedInterval(time.Second)
	calls := make(chan time.Time, 16)

	task, _ := dispatch.New("ticker", f,
		func(context.Context, any) error { calls <- fc.Now(); return nil },
		dispatch.WithClock(fc))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := task.Dispatch(ctx, nil); err != nil {
		t.Fatal(err)
	}

	for k := 0; k < 4; k++ {
		select {
		case at := <-calls:
			if earliest := t0.Add(time.Duration(k) * time.Second); at.Before(earliest) {
				t.Fatalf("execution %d at %v, earlier than %v", k, at, earliest)
			}
			if k == 0 && !at.Equal(t0) {
				t.Fatalf("first execution at %v, want %v", at, t0)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("execution %d did not happen", k)
		}
		waitTimers(t, fc)
		fc.Advance(time.Second)
	}
}

// failOnce fails its first call and succeeds afterwards, reporting each call time.
func failOnce(fc *clock.Fake, calls chan<- time.Time) dispatch.WorkFunc {
	var n atomic.Int32
	return func(context.Context, any) error {
		calls <- fc.Now()
		if n.Add(1) == 1 {
			return errors.New("flaky")
		}
		return nil
	}
}

func TestFixedIntervalRetryWaitsForNextInterval(t *testing.T) {
	t.Parallel()
	t0 := day(1, 12, 0)
	fc := clock.NewFake(t0)
	f, _ := NewFixedInterval(time.Hour)
	calls := make(chan time.Time, 8)

	task, _ := dispatch.New("flaky", f, failOnce(fc, calls),
		dispatch.WithBackoff(30*time.Second), dispatch.WithClock(fc))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := task.Dispatch(ctx, nil); err != nil {
		t.Fatal(err)
	}

	if at := <-calls; !at.Equal(t0) {
		t.Fatalf("first execution at %v, want %v", at, t0)
	}
	waitTimers(t, fc)
	fc.Advance(30 * time.Second)
	// back in the policy: not due until t0+1h
	waitTimers(t, fc)
	select {
	case at := <-calls:
		t.Fatalf("retry ran at %v, inside the interval", at)
	default:
	}

	fc.Advance(time.Hour)
	select {
	case at := <-calls:
		if at.Before(t0.Add(time.Hour)) {
			t.Fatalf("retry at %v, earlier than %v", at, t0.Add(time.Hour))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not run after the interval")
	}
}

func TestAbsoluteTimeRetryKeepsEntryUntilSuccess(t *testing.T) {
	t.Parallel()
	fc := clock.NewFake(time.Date(2025, 6, 1, 8, 59, 30, 0, time.UTC))
	a := NewAbsoluteTime(24*time.Hour, WithClock(fc), WithLocation(time.UTC))
	if err := a.AddFireTime(9, 0, 0); err != nil {
		t.Fatal(err)
	}
	calls := make(chan time.Time, 8)

	task, _ := dispatch.New("flaky-daily", a, failOnce(fc, calls),
		dispatch.WithBackoff(30*time.Second), dispatch.WithClock(fc))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := task.Dispatch(ctx, nil); err != nil {
		t.Fatal(err)
	}

	waitTimers(t, fc)
	fc.Advance(PollInterval)
	<-calls
	waitTimers(t, fc)
	if got := a.Pending(); !equalTimes(got, []time.Time{day(1, 9, 0)}) {
		t.Fatalf("pending during backoff = %v, want the failed entry", got)
	}

	fc.Advance(30 * time.Second)
	select {
	case at := <-calls:
		if want := time.Date(2025, 6, 1, 9, 1, 0, 0, time.UTC); !at.Equal(want) {
			t.Fatalf("retry at %v, want %v", at, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("still-due entry was not retried")
	}
	waitTimers(t, fc)
	if got := a.Pending(); !equalTimes(got, []time.Time{day(2, 9, 0)}) {
		t.Fatalf("pending after success = %v, want next day only", got)
	}
}

func TestCronPolicy(t *testing.T) {
	t.Parallel()
	c, err := NewCron("*/15 * * * *", time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	c.Begin(day(1, 10, 7))
	if !c.Next().Equal(day(1, 10, 15)) {
		t.Fatalf("Next = %v", c.Next())
	}
	if s := c.Poll(day(1, 10, 7)); s.Fire || s.Wait != 8*time.Minute {
		t.Fatalf("early poll = %+v", s)
	}
	s := fireAt(t, c, day(1, 10, 15).Add(2*time.Second))
	if !s.Due.Equal(day(1, 10, 15)) {
		t.Fatalf("Due = %v", s.Due)
	}
	if !c.Next().Equal(day(1, 10, 30)) {
		t.Fatalf("Next after fire = %v", c.Next())
	}
}

func TestCronPolicyNeverMatchingIsDone(t *testing.T) {
	t.Parallel()
	c, err := NewCron("0 0 30 2 *", time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	c.Begin(day(1, 0, 0))
	if s := c.Poll(day(1, 0, 0)); !s.Done {
		t.Fatalf("Poll = %+v, want Done", s)
	}
}

func TestCronPolicyInvalid(t *testing.T) {
	t.Parallel()
	if _, err := NewCron("not cron", time.UTC); err == nil {
		t.Fatal("expected parse error")
	}
}

func waitTimers(t *testing.T, fc *clock.Fake) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := fc.BlockUntil(ctx, 1); err != nil {
		t.Fatalf("loop never went to sleep: %v", err)
	}
}
