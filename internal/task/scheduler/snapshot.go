package scheduler

import (
	"bgtask/internal/task/policy"
)

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	started := s.started
	tz := s.cfg.Location.String()
	list := s.listLocked()
	s.mu.Unlock()

	out := Snapshot{Started: started, Timezone: tz, Tasks: make([]TaskInfo, 0, len(list))}
	for _, e := range list {
		info := TaskInfo{
			Name:       e.def.Name,
			Schedule:   e.def.Schedule,
			Kind:       e.parsed.Kind.String(),
			RetryLimit: e.task.RetryLimit(),
			Backoff:    e.task.Backoff().String(),
		}
		switch p := e.task.Policy().(type) {
		case *policy.FixedInterval:
			info.Next = p.Next()
		case *policy.Cron:
			info.Next = p.Next()
		case *policy.AbsoluteTime:
			info.Pending = p.Pending()
			if len(info.Pending) > 0 {
				info.Next = info.Pending[0]
			}
		}

		e.mu.Lock()
		info.DispatchedAt = e.dispatchedAt
		info.Running = e.running
		info.LastEvent = string(e.lastEvent)
		info.LastEventAt = e.lastEventAt
		info.LastError = e.lastErr
		e.mu.Unlock()

		out.Tasks = append(out.Tasks, info)
	}
	return out
}
