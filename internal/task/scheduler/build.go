package scheduler

import (
	"fmt"
	"time"

	"bgtask/internal/task/clock"
	"bgtask/internal/task/dispatch"
	"bgtask/internal/task/policy"
)

// BuildPolicy turns a parsed schedule into a fresh policy instance.
// Fire times of an "at:" schedule are resolved against today in loc.
func BuildPolicy(ps ParsedSpec, loc *time.Location, clk clock.Clock) (dispatch.Policy, error) {
	if loc == nil {
		loc = time.Local
	}
	if clk == nil {
		clk = clock.Real{}
	}
	switch ps.Kind {
	case SpecInterval:
		return policy.NewFixedInterval(ps.Every)
	case SpecCron:
		return policy.NewCron(ps.Cron, loc)
	case SpecAt:
		p := policy.NewAbsoluteTime(ps.Recur, policy.WithClock(clk), policy.WithLocation(loc))
		for _, t := range ps.At {
			if err := p.AddFireTime(t.Hour, t.Minute, t.Second); err != nil {
				return nil, err
			}
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported schedule kind %v", ps.Kind)
	}
}
