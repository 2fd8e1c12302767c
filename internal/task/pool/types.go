package pool

import (
	"context"
	"errors"
	"time"

	"bgtask/internal/task/dispatch"
)

var (
	ErrStopped   = errors.New("worker pool stopped")
	ErrStopping  = errors.New("worker pool stopping")
	ErrQueueFull = errors.New("worker pool queue full")
)

// Config sizes the pool.
//
// A task loop holds its worker for as long as the loop lives, so Workers
// bounds how many task loops can run at once. Submissions beyond that wait in
// the queue until a loop ends.
type Config struct {
	Workers     int
	QueueSize   int
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

type queuedJob struct {
	ctx        context.Context
	job        dispatch.Job
	enqueuedAt time.Time
}

// HistoryItem records one finished job.
type HistoryItem struct {
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Panic      string        `json:"panic,omitempty"`
}

// JobEvent is published on the bus for pool-level job events.
type JobEvent struct {
	Name       string        `json:"name"`
	QueueDelay time.Duration `json:"queue_delay,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	Reason     string        `json:"reason,omitempty"`
}

const (
	EventJobStarted  = "pool.job_started"
	EventJobFinished = "pool.job_finished"
	EventJobDropped  = "pool.job_dropped"
)

type Snapshot struct {
	Running   bool          `json:"running"`
	Workers   int           `json:"workers"`
	QueueLen  int           `json:"queue_len"`
	QueueCap  int           `json:"queue_cap"`
	InFlight  int           `json:"in_flight"`
	Completed uint64        `json:"completed"`
	Panics    uint64        `json:"panics"`
	Dropped   uint64        `json:"dropped"`
	History   []HistoryItem `json:"history"`
}
