package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/time/rate"

	"bgtask/internal/config"
	"bgtask/internal/eventbus"
	"bgtask/internal/observability/status"
	"bgtask/internal/runtime/supervisor"
	"bgtask/internal/storage"
	"bgtask/internal/task/clock"
	"bgtask/internal/task/pool"
	"bgtask/internal/task/scheduler"
	logx "bgtask/pkg/logx"
	"bgtask/pkg/systemdmanager"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	units *systemdmanager.ServiceManager

	pool    *pool.Service
	sched   *scheduler.Service
	status  *status.Service
	builder taskBuilder
}

// Snapshot is a point-in-time view of the daemon.
type Snapshot struct {
	Scheduler     scheduler.Snapshot  `json:"scheduler"`
	Pool          pool.Snapshot       `json:"pool"`
	Supervisor    supervisor.Snapshot `json:"supervisor"`
	BusDropped    uint64              `json:"bus_dropped"`
	LogSuppressed uint64              `json:"log_suppressed"`
}

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func poolConfig(cfg *config.Config) pool.Config {
	return pool.Config{
		Workers:     poolWorkers(cfg),
		QueueSize:   cfg.Pool.QueueSize,
		HistorySize: cfg.Pool.HistorySize,
	}
}

// New loads the config at cfgPath and builds every component without
// starting anything.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := checkTasks(context.Background(), cfg); err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))
	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		appLog.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     bus,
		store:   store,
	}
	a.builder = taskBuilder{
		log:  log.With(logx.String("comp", "jobs")),
		http: &http.Client{Timeout: 5 * time.Minute},
	}
	if hasKind(cfg, config.KindSystemd) {
		a.connectUnits()
	}

	a.pool = pool.New(poolConfig(cfg), log.With(logx.String("comp", "pool")), bus)
	a.sched = scheduler.New(scheduler.Config{Location: loc, Clock: clock.Real{}},
		a.pool, log.With(logx.String("comp", "scheduler")), busObserver{bus: bus})

	stc, err := mapStatusConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.status = status.New(stc, a, log.With(logx.String("comp", "status")))

	if err := a.registerTasks(cfg, nil); err != nil {
		return nil, err
	}
	return a, nil
}

// connectUnits opens the systemd bus connection once. Without it, systemd
// tasks fail without retrying.
func (a *App) connectUnits() {
	if a.units != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sm, err := systemdmanager.NewServiceManagerContext(ctx)
	if err != nil {
		a.log.Warn("systemd unavailable; systemd tasks will fail", logx.Err(err))
		return
	}
	a.units = sm
	a.builder.units = sm
}

// registerTasks adds the enabled tasks named in only (all when only is nil)
// and removes the named tasks that are gone or disabled.
func (a *App) registerTasks(cfg *config.Config, only []string) error {
	d, err := resolveDefaults(cfg)
	if err != nil {
		return err
	}
	enabled := map[string]config.TaskConfig{}
	for _, tc := range cfg.EnabledTasks() {
		enabled[tc.Name] = tc
	}
	if only == nil {
		for _, tc := range cfg.EnabledTasks() {
			only = append(only, tc.Name)
		}
	}

	for _, name := range only {
		tc, ok := enabled[name]
		if !ok {
			a.sched.Remove(name)
			continue
		}
		def, err := a.builder.definition(tc, d)
		if err != nil {
			return err
		}
		if err := a.sched.Add(def); err != nil {
			return err
		}
	}
	return nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Snapshot() Snapshot {
	s := Snapshot{
		Scheduler:     a.sched.Snapshot(),
		Pool:          a.pool.Snapshot(),
		BusDropped:    a.bus.Dropped(),
		LogSuppressed: a.logs.Suppressed(),
	}
	if a.sup != nil {
		s.Supervisor = a.sup.Snapshot()
	}
	return s
}

// Store returns the run history store, or nil when storage is disabled.
func (a *App) Store() storage.Store { return a.store }

// StatusAddr is the status server's bound address, or "" when it is off.
func (a *App) StatusAddr() string { return a.status.Addr() }

// Status implements status.Backend.
func (a *App) Status() any { return a.Snapshot() }

func (a *App) RecentRuns(ctx context.Context, task string, n int) ([]storage.RunRecord, error) {
	if a.store == nil {
		return nil, storage.ErrDisabled
	}
	return a.store.RecentRuns(ctx, task, n)
}

// DispatchTask restarts a task's loop right away.
func (a *App) DispatchTask(name string) error { return a.sched.Dispatch(name) }

func warnLimiter(cfg *config.Config) *rate.Limiter {
	r := cfg.Logging.WarnRatePerSec
	if r <= 0 {
		r = 1
	}
	return rate.NewLimiter(rate.Limit(r), max(1, int(r)))
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	// transactional config reload: validate before commit/publish
	a.cfgm.SetValidator(checkTasks)

	cfg := a.cfgm.Get()
	taskLog := a.log.With(logx.String("comp", "tasks"))
	warnLog := taskLog.Limited(warnLimiter(cfg), logx.LevelWarn)

	// subscribe before the first dispatch so no event is missed
	events, unsub := a.bus.Subscribe(256, "task.")
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		logTaskEvents(c, events, taskLog, warnLog)
	})
	if a.store != nil {
		stored, unsubStore := a.bus.Subscribe(1024, "task.")
		a.sup.Go0("eventbus.storage", func(c context.Context) {
			defer unsubStore()
			storeTaskEvents(c, stored, a.store, warnLog)
		})
	}

	a.pool.Start(a.sup.Context())
	a.sched.Start(a.sup.Context())

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		watchdog(c, a.log)
	})
	a.status.Start(a.sup.Context())

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started", logx.Int("tasks", len(a.sched.Names())), logx.Int("workers", a.pool.Snapshot().Workers))
	return nil
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	change := config.SummarizeConfigChange(oldCfg, newCfg)
	if change.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	sdNotify(a.log, daemon.SdNotifyReloading)
	defer sdNotify(a.log, daemon.SdNotifyReady)

	fields := append([]logx.Field{logx.String("changed", strings.Join(change.Sections, ","))}, change.Fields...)
	a.log.Debug("config change summary", fields...)

	for _, s := range change.Sections {
		if s == "storage" {
			a.log.Warn("storage config changed; restart required for changes to take effect")
			break
		}
	}

	a.logs.Apply(logConfig(newCfg))
	a.pool.Apply(poolConfig(newCfg))

	if stc, err := mapStatusConfig(newCfg); err == nil {
		a.status.Reconfigure(a.sup.Context(), stc)
	}
	if loc, err := newCfg.Location(); err == nil {
		a.sched.SetLocation(loc)
	}
	if hasKind(newCfg, config.KindSystemd) {
		a.connectUnits()
	}
	if len(change.Tasks) > 0 {
		if err := a.registerTasks(newCfg, change.Tasks); err != nil {
			a.log.Warn("task reload failed", logx.Err(err))
		}
		a.log.Info("tasks reloaded", logx.String("tasks", strings.Join(change.Tasks, ",")))
	}
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	sdNotify(a.log, daemon.SdNotifyStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

		stepCtx := ctx
		var cancel context.CancelFunc
		if limit > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				limit = min(limit, max(time.Until(dl), 0))
			}
			if limit > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, limit)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("status", time.Second, func(c context.Context) error { a.status.Stop(c); return nil })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("pool", 5*time.Second, func(c context.Context) error { a.pool.Stop(c); return nil })
	// wait for the bus consumers before closing the store they write to
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("systemd", time.Second, func(c context.Context) error {
		if a.units != nil {
			return a.units.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
