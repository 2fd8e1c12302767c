package dispatch

import (
	"context"
	"time"
)

const (
	DefaultRetryLimit = 3
	DefaultBackoff    = 30 * time.Second
)

// WorkFunc is the scheduled work. It receives the input given to Dispatch.
type WorkFunc func(ctx context.Context, input any) error

// Prerequisite runs before the task's own work.
type Prerequisite interface {
	Run(ctx context.Context, input any) error
}

// PrerequisiteFunc adapts a function to Prerequisite.
type PrerequisiteFunc func(ctx context.Context, input any) error

func (f PrerequisiteFunc) Run(ctx context.Context, input any) error { return f(ctx, input) }

// Job is a unit handed to an Executor.
type Job struct {
	Name  string
	Input any
	Run   func(ctx context.Context, input any)
}

// Executor runs jobs asynchronously. Submit must not wait for the job to finish.
// The ctx given to Submit is the job's cancellation signal.
type Executor interface {
	Submit(ctx context.Context, job Job) error
}

// Step is a policy's answer to "what now?".
type Step struct {
	// Fire requests one execution of the work.
	Fire bool
	// Due is the schedule slot being served. Zero for policies without slots.
	Due time.Time
	// Wait is slept (cancellably) after the step, fired or not.
	Wait time.Duration
	// Done ends the loop: the policy has nothing left to fire.
	Done bool
}

// Policy decides when work is due.
//
// Policies are driven by exactly one loop at a time and are not required to be
// safe for concurrent use by multiple loops.
type Policy interface {
	// Begin is called once each time a loop starts.
	Begin(now time.Time)
	// Poll reports what the loop should do at now.
	Poll(now time.Time) Step
	// Fired is called after a Fire step's work succeeded.
	Fired(step Step, now time.Time)
}

// Named is implemented by tasks that carry a unique name.
type Named interface {
	TaskName() string
}

type EventKind string

const (
	EventDispatched        EventKind = "task.dispatched"
	EventPrerequisite      EventKind = "task.prerequisite"
	EventFired             EventKind = "task.fired"
	EventSucceeded         EventKind = "task.succeeded"
	EventAttemptFailed     EventKind = "task.attempt_failed"
	EventRetryScheduled    EventKind = "task.retry_scheduled"
	EventCancelled         EventKind = "task.cancelled"
	EventGaveUp            EventKind = "task.gave_up"
	EventScheduleExhausted EventKind = "task.schedule_exhausted"
	EventPanic             EventKind = "task.panic"
)

// Event describes something that happened inside a task loop.
type Event struct {
	Kind    EventKind     `json:"kind"`
	Task    string        `json:"task"`
	RunID   string        `json:"run_id,omitempty"`
	Time    time.Time     `json:"time"`
	Attempt int           `json:"attempt,omitempty"`
	Due     time.Time     `json:"due,omitempty"`
	Delay   time.Duration `json:"delay,omitempty"`
	Err     error         `json:"-"`
	Stack   string        `json:"stack,omitempty"`
}

// Observer receives task events. OnEvent runs on the task's loop and must not block.
type Observer interface {
	OnEvent(e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }
