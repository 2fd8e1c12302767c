package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"bgtask/internal/task/clock"
	"bgtask/internal/task/dispatch"
	logx "bgtask/pkg/logx"
)

var ErrUnknownTask = errors.New("unknown task")

// Config controls the task registry.
type Config struct {
	// Location resolves fire times and cron expressions. Nil means time.Local.
	Location *time.Location
	// Clock drives every task added to the registry. Nil means the real clock.
	Clock clock.Clock
}

// Definition is a named task as registered with the scheduler.
type Definition struct {
	Name     string
	Schedule string
	Work     dispatch.WorkFunc
	Input    any

	RetryLimit    int
	Backoff       time.Duration
	Prerequisites []dispatch.Prerequisite
}

type entry struct {
	def    Definition
	parsed ParsedSpec
	task   *dispatch.Task

	mu           sync.Mutex
	cancel       context.CancelFunc
	dispatchedAt time.Time
	running      bool
	lastEvent    dispatch.EventKind
	lastEventAt  time.Time
	lastErr      string
}

type Service struct {
	mu sync.Mutex

	log      logx.Logger
	cfg      Config
	exec     dispatch.Executor
	observer dispatch.Observer

	parent  context.Context
	started bool

	entries map[string]*entry
	order   []string
}

// TaskInfo is a point-in-time view of one registered task.
type TaskInfo struct {
	Name         string      `json:"name"`
	Schedule     string      `json:"schedule"`
	Kind         string      `json:"kind"`
	RetryLimit   int         `json:"retry_limit"`
	Backoff      string      `json:"backoff"`
	DispatchedAt time.Time   `json:"dispatched_at,omitempty"`
	Running      bool        `json:"running"`
	LastEvent    string      `json:"last_event,omitempty"`
	LastEventAt  time.Time   `json:"last_event_at,omitempty"`
	LastError    string      `json:"last_error,omitempty"`
	Next         time.Time   `json:"next,omitempty"`
	Pending      []time.Time `json:"pending,omitempty"`
}

type Snapshot struct {
	Started  bool       `json:"started"`
	Timezone string     `json:"timezone"`
	Tasks    []TaskInfo `json:"tasks"`
}
