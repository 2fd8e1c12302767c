package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"bgtask/internal/config"
	"bgtask/internal/jobs"
	"bgtask/internal/task/dispatch"
	"bgtask/internal/task/scheduler"
	logx "bgtask/pkg/logx"
	"bgtask/pkg/systemdmanager"
)

// taskBuilder turns task config entries into scheduler definitions.
type taskBuilder struct {
	log   logx.Logger
	http  *http.Client
	units jobs.UnitController
}

type taskDefaults struct {
	retryLimit int
	backoff    time.Duration
	timeout    time.Duration
}

func resolveDefaults(cfg *config.Config) (taskDefaults, error) {
	var (
		d   taskDefaults
		err error
	)
	d.retryLimit = cfg.Defaults.RetryLimit
	if d.retryLimit <= 0 {
		d.retryLimit = dispatch.DefaultRetryLimit
	}
	if d.backoff, err = config.ParseDurationOrDefault("defaults.backoff", cfg.Defaults.Backoff, dispatch.DefaultBackoff); err != nil {
		return d, err
	}
	if d.timeout, err = config.ParseDurationOrDefault("defaults.timeout", cfg.Defaults.Timeout, 0); err != nil {
		return d, err
	}
	return d, nil
}

func (b taskBuilder) definition(tc config.TaskConfig, d taskDefaults) (scheduler.Definition, error) {
	path := "tasks[" + tc.Name + "]"
	def := scheduler.Definition{
		Name:       tc.Name,
		Schedule:   tc.Schedule,
		RetryLimit: tc.RetryLimit,
	}
	if def.RetryLimit <= 0 {
		def.RetryLimit = d.retryLimit
	}
	var err error
	if def.Backoff, err = config.ParseDurationOrDefault(path+".backoff", tc.Backoff, d.backoff); err != nil {
		return def, err
	}
	timeout, err := config.ParseDurationOrDefault(path+".timeout", tc.Timeout, d.timeout)
	if err != nil {
		return def, err
	}

	switch strings.ToLower(strings.TrimSpace(tc.Kind)) {
	case config.KindExec:
		def.Work = jobs.Exec(jobs.ExecSpec{Command: tc.Command, Dir: tc.Dir, Env: tc.Env, Timeout: timeout},
			b.log.With(logx.Task(tc.Name)))
	case config.KindHTTP:
		def.Work = jobs.HTTP(jobs.HTTPSpec{URL: tc.URL, Method: tc.Method, Timeout: timeout}, b.http)
	case config.KindSystemd:
		action, err := systemdmanager.ParseAction(tc.Action)
		if err != nil {
			return def, fmt.Errorf("%s: %w", path, err)
		}
		def.Work = jobs.Systemd(jobs.SystemdSpec{Unit: tc.Unit, Action: action, Timeout: timeout}, b.units)
	default:
		return def, fmt.Errorf("%s: unknown kind %q", path, tc.Kind)
	}

	for i, p := range tc.Prerequisites {
		pt, err := config.ParseDurationOrDefault(fmt.Sprintf("%s.prerequisites[%d].timeout", path, i), p.Timeout, 0)
		if err != nil {
			return def, err
		}
		def.Prerequisites = append(def.Prerequisites, jobs.ExecPrerequisite(jobs.ExecSpec{Command: p.Command, Timeout: pt}))
	}
	return def, nil
}

// checkTasks verifies what Validate leaves to the scheduler: schedule strings
// and the definitions built from each enabled task.
func checkTasks(_ context.Context, cfg *config.Config) error {
	d, err := resolveDefaults(cfg)
	if err != nil {
		return err
	}
	var errs []error
	b := taskBuilder{log: logx.Nop()}
	for _, tc := range cfg.EnabledTasks() {
		if _, err := scheduler.ParseSchedule(tc.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("tasks[%s].schedule: %w", tc.Name, err))
			continue
		}
		if _, err := b.definition(tc, d); err != nil {
			errs = append(errs, err)
		}
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapStatusConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// poolWorkers sizes the pool so every enabled task loop gets a worker.
func poolWorkers(cfg *config.Config) int {
	return max(cfg.Pool.Workers, len(cfg.EnabledTasks()), 1)
}

func hasKind(cfg *config.Config, kind string) bool {
	for _, tc := range cfg.EnabledTasks() {
		if strings.EqualFold(strings.TrimSpace(tc.Kind), kind) {
			return true
		}
	}
	return false
}
