package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the daemon configuration file (JSON or YAML).
//
// Durations are Go duration strings ("30s", "5m").
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Pool     PoolConfig     `json:"pool"`
	Storage  *StorageConfig `json:"storage,omitempty"`
	Defaults DefaultsConfig `json:"defaults"`
	Status   StatusConfig   `json:"status"`

	// Timezone used to resolve fire times and cron expressions. Empty means local.
	Timezone string `json:"timezone,omitempty"`

	Tasks []TaskConfig `json:"tasks"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	// WarnRatePerSec throttles task failure warnings. 0 means 1/s.
	WarnRatePerSec float64 `json:"warn_rate_per_sec,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// PoolConfig sizes the worker pool. Every dispatched task holds one worker
// for its loop's lifetime; workers defaults to the number of enabled tasks.
type PoolConfig struct {
	Workers     int `json:"workers,omitempty"`
	QueueSize   int `json:"queue_size,omitempty"`
	HistorySize int `json:"history_size,omitempty"`
}

// StorageConfig controls the run-history store.
//
//	"storage": { "driver": "sqlite", "path": "./bgtask.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	Retain      int    `json:"retain,omitempty"`
}

// StatusConfig controls the optional HTTP status server.
type StatusConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// DefaultsConfig applies to tasks that leave the field unset.
type DefaultsConfig struct {
	RetryLimit int    `json:"retry_limit,omitempty"`
	Backoff    string `json:"backoff,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
}

const (
	KindExec    = "exec"
	KindHTTP    = "http"
	KindSystemd = "systemd"
)

type TaskConfig struct {
	Name     string `json:"name"`
	Enabled  *bool  `json:"enabled,omitempty"`
	Schedule string `json:"schedule"`
	Kind     string `json:"kind"`

	// exec
	Command []string `json:"command,omitempty"`
	Dir     string   `json:"dir,omitempty"`
	Env     []string `json:"env,omitempty"`

	// http
	URL    string `json:"url,omitempty"`
	Method string `json:"method,omitempty"`

	// systemd
	Unit   string `json:"unit,omitempty"`
	Action string `json:"action,omitempty"` // start, stop or restart (default)

	// Timeout bounds one attempt.
	Timeout    string `json:"timeout,omitempty"`
	RetryLimit int    `json:"retry_limit,omitempty"`
	Backoff    string `json:"backoff,omitempty"`

	Prerequisites []PrerequisiteConfig `json:"prerequisites,omitempty"`
}

// PrerequisiteConfig is a command run ahead of the task.
type PrerequisiteConfig struct {
	Command []string `json:"command"`
	Timeout string   `json:"timeout,omitempty"`
}

func (t TaskConfig) IsEnabled() bool { return t.Enabled == nil || *t.Enabled }

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	return loc, nil
}

// EnabledTasks returns the tasks that are not disabled, in file order.
func (c *Config) EnabledTasks() []TaskConfig {
	out := make([]TaskConfig, 0, len(c.Tasks))
	for _, t := range c.Tasks {
		if t.IsEnabled() {
			out = append(out, t)
		}
	}
	return out
}
