package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// Retain caps how many records are kept; older ones are pruned.
	Retain int
}

const defaultRetain = 10000

// RunRecord is one task lifecycle event.
type RunRecord struct {
	At      time.Time     `json:"at"`
	Task    string        `json:"task"`
	RunID   string        `json:"run_id,omitempty"`
	Kind    string        `json:"kind"`
	Attempt int           `json:"attempt,omitempty"`
	Due     time.Time     `json:"due,omitempty"`
	Delay   time.Duration `json:"delay,omitempty"`
	Error   string        `json:"error,omitempty"`
}
