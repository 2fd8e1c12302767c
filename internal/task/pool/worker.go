package pool

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "bgtask/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan queuedJob) {
	for {
		// a closed stopCh wins over queued work
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qj := <-queue:
			s.inFlight.Add(1)
			s.execOne(ctx, qj)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) execOne(workerCtx context.Context, qj queuedJob) {
	start := time.Now()
	queueDelay := max(start.Sub(qj.enqueuedAt), 0)

	// The job keeps its own context values and deadline, and is also cancelled
	// when the pool stops.
	runCtx, cancel := context.WithCancel(qj.ctx)
	stop := context.AfterFunc(workerCtx, cancel)
	defer func() {
		stop()
		cancel()
	}()

	s.publish(EventJobStarted, JobEvent{Name: qj.job.Name, QueueDelay: queueDelay})
	s.log.Debug("job started", logx.String("job", qj.job.Name), logx.Duration("queue_delay", queueDelay))

	item := HistoryItem{Name: qj.job.Name, Started: start, QueueDelay: queueDelay}
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.panics.Add(1)
				item.Panic = fmt.Sprint(r)
				s.log.Error("job panicked", logx.String("job", qj.job.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			}
		}()
		qj.job.Run(runCtx, qj.job.Input)
	}()

	item.Duration = time.Since(start)
	s.record(item)
	s.completed.Add(1)
	s.publish(EventJobFinished, JobEvent{Name: qj.job.Name, Duration: item.Duration})
	s.log.Debug("job finished", logx.String("job", qj.job.Name), logx.Duration("duration", item.Duration))
}
