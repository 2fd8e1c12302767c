package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"testing"
	"time"

	"bgtask/internal/config"
	"bgtask/internal/storage"
	"bgtask/internal/task/dispatch"
)

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

const appConfig = `
logging:
  level: error
storage:
  driver: file
  path: %STATE%
status:
  enabled: true
  addr: 127.0.0.1:0
tasks:
  - name: touch
    schedule: every:1h
    kind: exec
    command: ["sh", "-c", "true"]
`

func startApp(t *testing.T) (*App, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "bgtask.yaml")
	writeConfig(t, path, strings.ReplaceAll(appConfig, "%STATE%", filepath.Join(dir, "state", "bgtask")))

	a, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := a.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = a.Stop(stopCtx, StopAppStop)
	})
	return a, path
}

func waitRun(t *testing.T, st storage.Store, task string, kind dispatch.EventKind) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		recs, err := st.RecentRuns(context.Background(), task, 50)
		if err != nil {
			t.Fatal(err)
		}
		for _, r := range recs {
			if r.Kind == string(kind) {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("no %s record for %s", kind, task)
}

func TestAppRunsTasksAndRecordsHistory(t *testing.T) {
	t.Parallel()
	a, _ := startApp(t)
	if a.Store() == nil {
		t.Fatal("storage should be enabled")
	}
	waitRun(t, a.Store(), "touch", dispatch.EventSucceeded)

	snap := a.Snapshot()
	if len(snap.Scheduler.Tasks) != 1 || !snap.Scheduler.Tasks[0].Running {
		t.Fatalf("scheduler snapshot = %+v", snap.Scheduler)
	}
	if !snap.Pool.Running || snap.Pool.InFlight != 1 {
		t.Fatalf("pool snapshot = %+v", snap.Pool)
	}

	var addr string
	for deadline := time.Now().Add(3 * time.Second); addr == "" && time.Now().Before(deadline); {
		addr = a.StatusAddr()
		time.Sleep(10 * time.Millisecond)
	}
	resp, err := http.Get("http://" + addr + "/runs?task=touch")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var runs []storage.RunRecord
	if err := json.NewDecoder(resp.Body).Decode(&runs); err != nil || len(runs) == 0 {
		t.Fatalf("runs = %v, %v", runs, err)
	}
}

func TestAppReloadAddsAndRemovesTasks(t *testing.T) {
	t.Parallel()
	a, path := startApp(t)
	waitRun(t, a.Store(), "touch", dispatch.EventSucceeded)

	body := strings.ReplaceAll(appConfig, "%STATE%", a.cfgm.Get().Storage.Path)
	body = strings.Replace(body, "  - name: touch", "  - name: other\n    schedule: 30m\n    kind: exec\n    command: [\"sh\", \"-c\", \"true\"]\n  - name: touch\n    enabled: false", 1)
	writeConfig(t, path, body)
	// the file watcher may get there first; either way the config is committed
	if _, err := a.cfgm.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		names := a.sched.Names()
		if len(names) == 1 && names[0] == "other" {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if names := a.sched.Names(); len(names) != 1 || names[0] != "other" {
		t.Fatalf("names after reload = %v", names)
	}
	waitRun(t, a.Store(), "touch", dispatch.EventCancelled)
	waitRun(t, a.Store(), "other", dispatch.EventSucceeded)
}

func TestReloadRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	a, path := startApp(t)
	writeConfig(t, path, strings.ReplaceAll(
		strings.ReplaceAll(appConfig, "%STATE%", a.cfgm.Get().Storage.Path),
		"every:1h", "every:never"))
	if ok, err := a.cfgm.Reload(context.Background()); ok || err == nil || !strings.Contains(err.Error(), "schedule") {
		t.Fatalf("Reload = %v, %v", ok, err)
	}
}

func TestCheckTasks(t *testing.T) {
	t.Parallel()
	good := config.TaskConfig{Name: "a", Schedule: "at:08:00", Kind: config.KindHTTP, URL: "http://x"}
	bad := config.TaskConfig{Name: "b", Schedule: "0 99 * * *", Kind: config.KindExec, Command: []string{"true"}}
	off := false
	disabled := bad
	disabled.Enabled = &off

	if err := checkTasks(context.Background(), &config.Config{Tasks: []config.TaskConfig{good, disabled}}); err != nil {
		t.Fatalf("checkTasks = %v", err)
	}
	err := checkTasks(context.Background(), &config.Config{Tasks: []config.TaskConfig{good, bad}})
	if err == nil || !strings.Contains(err.Error(), "tasks[b].schedule") {
		t.Fatalf("checkTasks = %v", err)
	}
}

func TestDefinitionDefaults(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Defaults: config.DefaultsConfig{RetryLimit: 7, Backoff: "5s"}}
	d, err := resolveDefaults(cfg)
	if err != nil {
		t.Fatal(err)
	}
	b := taskBuilder{}
	def, err := b.definition(config.TaskConfig{
		Name: "a", Schedule: "1m", Kind: config.KindExec, Command: []string{"true"},
		Prerequisites: []config.PrerequisiteConfig{{Command: []string{"true"}}},
	}, d)
	if err != nil {
		t.Fatal(err)
	}
	if def.RetryLimit != 7 || def.Backoff != 5*time.Second || len(def.Prerequisites) != 1 || def.Work == nil {
		t.Fatalf("def = %+v", def)
	}

	def, err = b.definition(config.TaskConfig{Name: "b", Schedule: "1m", Kind: config.KindSystemd, Unit: "x", RetryLimit: 2, Backoff: "1m"}, d)
	if err != nil {
		t.Fatal(err)
	}
	if def.RetryLimit != 2 || def.Backoff != time.Minute {
		t.Fatalf("def = %+v", def)
	}
	if err := def.Work(context.Background(), nil); !dispatch.IsNoRetry(err) {
		t.Fatalf("systemd work without a connection = %v", err)
	}
}

func TestPoolWorkersCoverEnabledTasks(t *testing.T) {
	t.Parallel()
	tasks := []config.TaskConfig{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	if got := poolWorkers(&config.Config{Tasks: tasks}); got != 3 {
		t.Fatalf("workers = %d", got)
	}
	if got := poolWorkers(&config.Config{Pool: config.PoolConfig{Workers: 8}, Tasks: tasks}); got != 8 {
		t.Fatalf("workers = %d", got)
	}
	if got := poolWorkers(&config.Config{}); got != 1 {
		t.Fatalf("workers = %d", got)
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		sc      *config.StorageConfig
		enabled bool
		wantErr bool
	}{
		{name: "absent"},
		{name: "none", sc: &config.StorageConfig{Driver: "none"}},
		{name: "file", sc: &config.StorageConfig{Driver: "file"}, enabled: true},
		{name: "sqlite", sc: &config.StorageConfig{Driver: "SQLite", Path: "x.db", BusyTimeout: "2s"}, enabled: true},
		{name: "sqlite without path", sc: &config.StorageConfig{Driver: "sqlite"}, wantErr: true},
		{name: "unknown", sc: &config.StorageConfig{Driver: "redis"}, wantErr: true},
	}
	for _, tt := range tests {
		sc, enabled, err := mapStorageConfig(&config.Config{Storage: tt.sc})
		if (err != nil) != tt.wantErr || enabled != tt.enabled {
			t.Fatalf("%s: enabled=%v err=%v", tt.name, enabled, err)
		}
		if tt.name == "sqlite" && (sc.Driver != "sqlite" || sc.BusyTimeout != 2*time.Second) {
			t.Fatalf("sqlite config = %+v", sc)
		}
	}
}

func TestMapStatusConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		sc      config.StatusConfig
		wantErr string
	}{
		{name: "disabled public addr", sc: config.StatusConfig{Addr: "0.0.0.0:80"}},
		{name: "loopback", sc: config.StatusConfig{Enabled: true, Addr: "127.0.0.1:7070"}},
		{name: "public with token", sc: config.StatusConfig{Enabled: true, Addr: ":7070", Token: "t"}},
		{name: "public insecure", sc: config.StatusConfig{Enabled: true, Addr: ":7070", AllowInsecure: true}},
		{name: "public without token", sc: config.StatusConfig{Enabled: true, Addr: ":7070"}, wantErr: "non-loopback"},
		{name: "bad addr", sc: config.StatusConfig{Enabled: true, Addr: "localhost"}, wantErr: "host:port"},
		{name: "bad timeout", sc: config.StatusConfig{ReadTimeout: "fast"}, wantErr: "status.read_timeout"},
	}
	for _, tt := range tests {
		out, err := mapStatusConfig(&config.Config{Status: tt.sc})
		if tt.wantErr != "" {
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("%s: err = %v", tt.name, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if out.ReadTimeout != 5*time.Second || out.IdleTimeout != 120*time.Second {
			t.Fatalf("%s: timeouts = %v %v", tt.name, out.ReadTimeout, out.IdleTimeout)
		}
	}
	out, _ := mapStatusConfig(&config.Config{})
	if out.Addr != "127.0.0.1:6060" || out.Enabled {
		t.Fatalf("defaults = %+v", out)
	}
}

func TestAppRecentRunsWithoutStorage(t *testing.T) {
	t.Parallel()
	a := &App{}
	if _, err := a.RecentRuns(context.Background(), "", 10); !errors.Is(err, storage.ErrDisabled) {
		t.Fatalf("RecentRuns = %v", err)
	}
}

func TestSignalReason(t *testing.T) {
	t.Parallel()
	tests := []struct {
		sig  os.Signal
		want StopReason
	}{
		{os.Interrupt, StopSIGINT},
		{syscall.SIGTERM, StopSIGTERM},
		{syscall.SIGHUP, StopUnknown},
	}
	for _, tt := range tests {
		if got := SignalReason(tt.sig); got != tt.want {
			t.Fatalf("SignalReason(%v) = %s, want %s", tt.sig, got, tt.want)
		}
	}
}
