package app

import (
	"context"
	"time"

	"bgtask/internal/eventbus"
	"bgtask/internal/storage"
	"bgtask/internal/task/dispatch"
	logx "bgtask/pkg/logx"
)

const storeTimeout = 2 * time.Second

// busObserver forwards task events to the bus as "task.*" events.
type busObserver struct {
	bus eventbus.Bus
}

func (o busObserver) OnEvent(e dispatch.Event) {
	o.bus.Publish(eventbus.Event{Type: string(e.Kind), Time: e.Time, Data: e})
}

func taskEvent(e eventbus.Event) (dispatch.Event, bool) {
	te, ok := e.Data.(dispatch.Event)
	return te, ok
}

// logTaskEvents logs task events until ctx is done. Attempt failures go
// through warnLog, which is rate limited.
func logTaskEvents(ctx context.Context, events <-chan eventbus.Event, log, warnLog logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			te, ok := taskEvent(e)
			if !ok {
				continue
			}
			fields := []logx.Field{logx.Task(te.Task), logx.String("run_id", te.RunID)}
			if !te.Due.IsZero() {
				fields = append(fields, logx.Time("due", te.Due))
			}
			if te.Attempt > 0 {
				fields = append(fields, logx.Int("attempt", te.Attempt))
			}
			if te.Err != nil {
				fields = append(fields, logx.Err(te.Err))
			}

			switch te.Kind {
			case dispatch.EventDispatched, dispatch.EventScheduleExhausted:
				log.Info(string(te.Kind), fields...)
			case dispatch.EventAttemptFailed:
				warnLog.Warn(string(te.Kind), fields...)
			case dispatch.EventRetryScheduled:
				log.Debug(string(te.Kind), append(fields, logx.Duration("delay", te.Delay))...)
			case dispatch.EventGaveUp:
				log.Error(string(te.Kind), fields...)
			case dispatch.EventPanic:
				log.Error(string(te.Kind), append(fields, logx.Stack(te.Stack))...)
			default:
				log.Debug(string(te.Kind), fields...)
			}
		}
	}
}

// storeTaskEvents appends every task event to the run history.
func storeTaskEvents(ctx context.Context, events <-chan eventbus.Event, st storage.Store, warnLog logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			te, ok := taskEvent(e)
			if !ok {
				continue
			}
			rec := storage.RunRecord{
				At:      te.Time,
				Task:    te.Task,
				RunID:   te.RunID,
				Kind:    string(te.Kind),
				Attempt: te.Attempt,
				Due:     te.Due,
				Delay:   te.Delay,
			}
			if te.Err != nil {
				rec.Error = te.Err.Error()
			}
			sctx, cancel := context.WithTimeout(ctx, storeTimeout)
			err := st.AppendRun(sctx, rec)
			cancel()
			if err != nil && ctx.Err() == nil {
				warnLog.Warn("run history write failed", logx.Task(te.Task), logx.Err(err))
			}
		}
	}
}
