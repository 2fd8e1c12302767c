package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"bgtask/internal/task/clock"
)

// Task is one schedulable unit of background work.
//
// Dispatch must not be called concurrently on the same Task, and a Task must
// not have two live loops: the policy state is owned by the running loop.
type Task struct {
	name       string
	retryLimit int
	backoff    time.Duration

	prerequisites []Prerequisite

	policy   Policy
	work     WorkFunc
	exec     Executor
	clock    clock.Clock
	observer Observer
}

type Option func(*Task)

// WithRetryLimit sets how many failed attempts end the loop. Values < 1 keep the default (3).
func WithRetryLimit(n int) Option {
	return func(t *Task) {
		if n > 0 {
			t.retryLimit = n
		}
	}
}

// WithBackoff sets the fixed delay between a failed attempt and the retry. Values <= 0 keep the default (30s).
func WithBackoff(d time.Duration) Option {
	return func(t *Task) {
		if d > 0 {
			t.backoff = d
		}
	}
}

func WithPrerequisites(p ...Prerequisite) Option {
	return func(t *Task) { t.prerequisites = append(t.prerequisites, p...) }
}

func WithExecutor(e Executor) Option {
	return func(t *Task) {
		if e != nil {
			t.exec = e
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(t *Task) {
		if c != nil {
			t.clock = c
		}
	}
}

func WithObserver(o Observer) Option {
	return func(t *Task) { t.observer = o }
}

// New builds a task. It returns an error if name, policy or work is missing.
func New(name string, policy Policy, work WorkFunc, opts ...Option) (*Task, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("task name is required")
	}
	if policy == nil {
		return nil, ErrNoPolicy
	}
	if work == nil {
		return nil, ErrNoWork
	}
	t := &Task{
		name:       name,
		retryLimit: DefaultRetryLimit,
		backoff:    DefaultBackoff,
		policy:     policy,
		work:       work,
		exec:       GoExecutor{},
		clock:      clock.Real{},
	}
	for _, o := range opts {
		if o != nil {
			o(t)
		}
	}
	return t, nil
}

func (t *Task) TaskName() string { return t.name }

func (t *Task) RetryLimit() int { return t.retryLimit }

func (t *Task) Backoff() time.Duration { return t.backoff }

func (t *Task) Policy() Policy { return t.policy }

// AddPrerequisite appends to the prerequisite chain. Call before Dispatch.
func (t *Task) AddPrerequisite(p Prerequisite) {
	if p != nil {
		t.prerequisites = append(t.prerequisites, p)
	}
}

// Dispatch starts the task without waiting for its work.
//
// When ctx is not cancelled and the prerequisite chain is non-empty, only the
// first prerequisite runs (synchronously) and its error is returned; the
// task's own loop is not started by that call. Otherwise the loop is
// submitted to the executor; the returned error only reports a rejected
// submission, never the outcome of the work.
func (t *Task) Dispatch(ctx context.Context, input any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() == nil && len(t.prerequisites) > 0 {
		t.emit(Event{Kind: EventPrerequisite})
		return t.prerequisites[0].Run(ctx, input)
	}
	if ctx.Err() != nil {
		return nil
	}

	runID := uuid.NewString()
	t.emit(Event{Kind: EventDispatched, RunID: runID})
	return t.exec.Submit(ctx, Job{
		Name:  t.name,
		Input: input,
		Run: func(c context.Context, in any) {
			t.loop(c, in, runID)
		},
	})
}

func (t *Task) loop(ctx context.Context, input any, runID string) {
	st := attemptState{limit: t.retryLimit}
	t.policy.Begin(t.clock.Now())

	for {
		if ctx.Err() != nil {
			t.emit(Event{Kind: EventCancelled, RunID: runID, Attempt: st.failures, Err: ErrCancelled})
			return
		}

		step := t.policy.Poll(t.clock.Now())
		if step.Done {
			t.emit(Event{Kind: EventScheduleExhausted, RunID: runID, Err: ErrScheduleExhausted})
			return
		}

		if step.Fire {
			t.emit(Event{Kind: EventFired, RunID: runID, Due: step.Due})
			switch t.attempt(ctx, input, runID, step, &st) {
			case outcomeSucceeded:
				t.policy.Fired(step, t.clock.Now())
			case outcomeRetry:
				if clock.Sleep(ctx, t.clock, t.backoff) != nil {
					t.emit(Event{Kind: EventCancelled, RunID: runID, Due: step.Due, Attempt: st.failures, Err: ErrCancelled})
					return
				}
				// the policy decides when the retry runs
				continue
			default:
				return
			}
		}

		if err := clock.Sleep(ctx, t.clock, step.Wait); err != nil {
			t.emit(Event{Kind: EventCancelled, RunID: runID, Attempt: st.failures, Err: ErrCancelled})
			return
		}
	}
}

// attempt runs the work once for step and reports the outcome. A retry
// outcome leaves the backoff to the caller.
func (t *Task) attempt(ctx context.Context, input any, runID string, step Step, st *attemptState) outcome {
	err := t.call(ctx, input, runID)
	o := st.next(ctx, err)
	switch o {
	case outcomeSucceeded:
		t.emit(Event{Kind: EventSucceeded, RunID: runID, Due: step.Due})
	case outcomeCancelled:
		t.emit(Event{Kind: EventCancelled, RunID: runID, Due: step.Due, Attempt: st.failures, Err: err})
	case outcomeExhausted:
		t.emit(Event{Kind: EventAttemptFailed, RunID: runID, Due: step.Due, Attempt: st.failures, Err: err})
		t.emit(Event{Kind: EventGaveUp, RunID: runID, Due: step.Due, Attempt: st.failures, Err: fmt.Errorf("%w: %w", ErrRetriesExhausted, err)})
	case outcomeRetry:
		t.emit(Event{Kind: EventAttemptFailed, RunID: runID, Due: step.Due, Attempt: st.failures, Err: err})
		t.emit(Event{Kind: EventRetryScheduled, RunID: runID, Due: step.Due, Attempt: st.failures, Delay: t.backoff})
	}
	return o
}

// call runs the work once, converting a panic into an error.
func (t *Task) call(ctx context.Context, input any, runID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			t.emit(Event{Kind: EventPanic, RunID: runID, Err: err, Stack: string(debug.Stack())})
		}
	}()
	return t.work(ctx, input)
}

func (t *Task) emit(e Event) {
	if t.observer == nil {
		return
	}
	e.Task = t.name
	if e.Time.IsZero() {
		e.Time = t.clock.Now()
	}
	t.observer.OnEvent(e)
}
