package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bgtask/internal/task/clock"
	"bgtask/internal/task/dispatch"
	logx "bgtask/pkg/logx"
)

var ErrNotStarted = errors.New("scheduler not started")

// New returns a registry whose tasks submit their loops to exec and report
// events to obs. Either may be nil.
func New(cfg Config, exec dispatch.Executor, log logx.Logger, obs dispatch.Observer) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if exec == nil {
		exec = dispatch.GoExecutor{}
	}
	return &Service{
		cfg:      cfg,
		log:      log,
		exec:     exec,
		observer: obs,
		entries:  map[string]*entry{},
	}
}

// SetLocation changes the location used by tasks added afterwards.
// Tasks already registered keep theirs until they are added again.
func (s *Service) SetLocation(loc *time.Location) {
	if loc == nil {
		loc = time.Local
	}
	s.mu.Lock()
	s.cfg.Location = loc
	s.mu.Unlock()
}

// Add registers def, replacing (and cancelling) any task with the same name.
// After Start the task is dispatched immediately.
func (s *Service) Add(def Definition) error {
	def.Name = strings.TrimSpace(def.Name)
	if def.Name == "" {
		return fmt.Errorf("task name is required")
	}

	s.mu.Lock()
	e, err := s.buildLocked(def)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("task %s: %w", def.Name, err)
	}
	old, replaced := s.entries[def.Name]
	if !replaced {
		s.order = append(s.order, def.Name)
	}
	s.entries[def.Name] = e
	started, parent := s.started, s.parent
	s.mu.Unlock()

	if replaced {
		old.stop()
	}
	s.log.Info("task registered",
		logx.Task(def.Name),
		logx.String("schedule", def.Schedule),
		logx.String("kind", e.parsed.Kind.String()),
		logx.Bool("replaced", replaced),
	)
	if started {
		s.dispatch(parent, e)
	}
	return nil
}

// Remove cancels and unregisters a task. It reports whether the task existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	e, ok := s.entries[name]
	if ok {
		delete(s.entries, name)
		for i, n := range s.order {
			if n == name {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()
	if ok {
		e.stop()
		s.log.Info("task removed", logx.Task(name))
	}
	return ok
}

// Lookup returns the current task registered under name.
func (s *Service) Lookup(name string) (*dispatch.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return nil, false
	}
	return e.task, true
}

// Names returns registered task names in registration order.
func (s *Service) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Start dispatches every registered task under ctx. Tasks added later are
// dispatched as they are added.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.parent = ctx
	list := s.listLocked()
	loc := s.cfg.Location
	s.mu.Unlock()

	for _, e := range list {
		s.dispatch(ctx, e)
	}
	s.log.Info("service started", logx.String("tz", loc.String()), logx.Int("tasks", len(list)))
}

// Stop cancels every task loop. Registrations are kept so a later Start
// dispatches them again.
func (s *Service) Stop(ctx context.Context) {
	_ = ctx
	start := time.Now()
	s.log.Info("stop requested")

	s.mu.Lock()
	s.started = false
	s.parent = nil
	list := s.listLocked()
	s.mu.Unlock()

	for _, e := range list {
		e.stop()
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// Dispatch runs a registered task again: its loop, if any, is cancelled and
// a freshly built task (new policy state) is dispatched in its place.
func (s *Service) Dispatch(name string) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	old, ok := s.entries[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	e, err := s.buildLocked(old.def)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.entries[name] = e
	parent := s.parent
	s.mu.Unlock()

	old.stop()
	return s.dispatch(parent, e)
}

func (s *Service) listLocked() []*entry {
	out := make([]*entry, 0, len(s.order))
	for _, n := range s.order {
		out = append(out, s.entries[n])
	}
	return out
}

func (s *Service) buildLocked(def Definition) (*entry, error) {
	ps, err := ParseSchedule(def.Schedule)
	if err != nil {
		return nil, err
	}
	pol, err := BuildPolicy(ps, s.cfg.Location, s.cfg.Clock)
	if err != nil {
		return nil, err
	}

	e := &entry{def: def, parsed: ps}
	t, err := dispatch.New(def.Name, pol, def.Work,
		dispatch.WithRetryLimit(def.RetryLimit),
		dispatch.WithBackoff(def.Backoff),
		dispatch.WithPrerequisites(def.Prerequisites...),
		dispatch.WithExecutor(s.exec),
		dispatch.WithClock(s.cfg.Clock),
		dispatch.WithObserver(dispatch.ObserverFunc(func(ev dispatch.Event) {
			e.note(ev)
			if s.observer != nil {
				s.observer.OnEvent(ev)
			}
		})),
	)
	if err != nil {
		return nil, err
	}
	e.task = t
	return e, nil
}

// dispatch starts e under a child of parent. A failing prerequisite is
// reported and leaves the task idle until it is dispatched again.
func (s *Service) dispatch(parent context.Context, e *entry) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	e.mu.Lock()
	e.cancel = cancel
	e.dispatchedAt = s.cfg.Clock.Now()
	e.lastErr = ""
	e.mu.Unlock()

	err := e.task.Dispatch(ctx, e.def.Input)
	if err != nil {
		e.mu.Lock()
		e.lastErr = err.Error()
		e.mu.Unlock()
		s.log.Warn("task dispatch failed", logx.Task(e.def.Name), logx.Err(err))
	}
	return err
}

func (e *entry) stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (e *entry) note(ev dispatch.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastEvent = ev.Kind
	e.lastEventAt = ev.Time
	switch ev.Kind {
	case dispatch.EventDispatched:
		e.running = true
	case dispatch.EventCancelled, dispatch.EventGaveUp, dispatch.EventScheduleExhausted:
		e.running = false
	}
	switch ev.Kind {
	case dispatch.EventAttemptFailed, dispatch.EventGaveUp:
		if ev.Err != nil {
			e.lastErr = ev.Err.Error()
		}
	case dispatch.EventSucceeded:
		e.lastErr = ""
	}
}
