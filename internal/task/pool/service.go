// Package pool is a bounded worker pool implementing dispatch.Executor.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"bgtask/internal/eventbus"
	rtsup "bgtask/internal/runtime/supervisor"
	"bgtask/internal/task/dispatch"
	logx "bgtask/pkg/logx"
)

const warnEvery = 5 * time.Second

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	// warnLog throttles queue-full warnings.
	warnLog logx.Logger
	bus     eventbus.Bus

	q        chan queuedJob
	sup      *rtsup.Supervisor
	spawned  int
	stopCh   chan struct{}
	stopDone chan struct{}

	inFlight  atomic.Int32
	completed atomic.Uint64
	panics    atomic.Uint64
	dropped   atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
}

var _ dispatch.Executor = (*Service)(nil)

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	return &Service{
		cfg:     cfg.withDefaults(),
		log:     log,
		warnLog: log.Limited(rate.NewLimiter(rate.Every(warnEvery), 1), logx.LevelWarn),
		bus:     bus,
	}
}

// Start launches the workers. It is a no-op while already running.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	cfg := s.cfg
	s.q = make(chan queuedJob, cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.stopDone = nil
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log.With(logx.String("comp", "pool"))))
	for i := 0; i < cfg.Workers; i++ {
		s.spawnLocked(i)
	}
	s.spawned = cfg.Workers
	s.mu.Unlock()

	s.log.Info("worker pool started", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize))
}

// Apply updates the config. A running pool starts extra workers at once when
// Workers grew; fewer workers and a new QueueSize take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	if s.stopCh == nil || s.stopDone != nil {
		return
	}
	if cfg.Workers > s.spawned {
		for i := s.spawned; i < cfg.Workers; i++ {
			s.spawnLocked(i)
		}
		s.log.Info("worker pool grown", logx.Int("from", s.spawned), logx.Int("to", cfg.Workers))
		s.spawned = cfg.Workers
	}
}

func (s *Service) spawnLocked(i int) {
	queue, stopCh := s.q, s.stopCh
	s.sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
		s.worker(c, stopCh, queue)
		select {
		case <-stopCh:
			return context.Canceled
		default:
		}
		if c.Err() != nil {
			return c.Err()
		}
		return errors.New("worker exited unexpectedly")
	})
}

// Stop cancels every running job's context and waits for the workers, or for ctx.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	close(s.stopCh)
	sup := s.sup
	s.mu.Unlock()

	sup.Cancel()
	go func() {
		_ = sup.Wait(context.Background())
		s.mu.Lock()
		s.q, s.stopCh, s.stopDone, s.sup, s.spawned = nil, nil, nil, nil, 0
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("worker pool stopped")
	case <-ctx.Done():
		s.log.Warn("worker pool stop timed out", logx.Err(ctx.Err()))
	}
}

// Submit queues job without blocking. ctx is the job's cancellation signal:
// the job sees it cancelled when either ctx or the pool stops.
func (s *Service) Submit(ctx context.Context, job dispatch.Job) error {
	if job.Run == nil {
		return fmt.Errorf("job %q: Run is nil", job.Name)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	q, stopCh, stopping := s.q, s.stopCh, s.stopDone != nil
	s.mu.Unlock()

	if q == nil || stopCh == nil {
		return ErrStopped
	}
	if stopping {
		return ErrStopping
	}

	select {
	case q <- queuedJob{ctx: ctx, job: job, enqueuedAt: time.Now()}:
		return nil
	default:
		s.dropped.Add(1)
		s.publish(EventJobDropped, JobEvent{Name: job.Name, Reason: "queue_full"})
		s.warnLog.Warn("job dropped: queue full",
			logx.String("job", job.Name),
			logx.Int("queue_cap", cap(q)),
			logx.Uint64("dropped", s.dropped.Load()))
		return ErrQueueFull
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	q, running, workers := s.q, s.stopCh != nil && s.stopDone == nil, s.spawned
	s.mu.Unlock()

	snap := Snapshot{
		Running:   running,
		Workers:   workers,
		InFlight:  int(s.inFlight.Load()),
		Completed: s.completed.Load(),
		Panics:    s.panics.Load(),
		Dropped:   s.dropped.Load(),
	}
	if q != nil {
		snap.QueueLen, snap.QueueCap = len(q), cap(q)
	}
	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}

func (s *Service) publish(typ string, data JobEvent) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}

func (s *Service) record(item HistoryItem) {
	s.mu.Lock()
	n := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > n {
		s.history = s.history[len(s.history)-n:]
	}
	s.hmu.Unlock()
}
