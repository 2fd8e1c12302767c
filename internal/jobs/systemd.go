package jobs

import (
	"context"
	"errors"
	"time"

	"bgtask/internal/task/dispatch"
	"bgtask/pkg/systemdmanager"
)

// UnitController is satisfied by *systemdmanager.ServiceManager.
type UnitController interface {
	Do(ctx context.Context, action systemdmanager.Action, unit string) error
}

type SystemdSpec struct {
	Unit    string
	Action  systemdmanager.Action
	Timeout time.Duration
}

// Systemd returns work that applies spec.Action to spec.Unit and waits for
// systemd to report the job result.
func Systemd(spec SystemdSpec, ctl UnitController) dispatch.WorkFunc {
	return func(ctx context.Context, _ any) error {
		if ctl == nil {
			return dispatch.NoRetry(errors.New("systemd is not available"))
		}
		if spec.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
			defer cancel()
		}
		return ctl.Do(ctx, spec.Action, spec.Unit)
	}
}
