package jobs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"bgtask/internal/task/dispatch"
	logx "bgtask/pkg/logx"
	"bgtask/pkg/systemdmanager"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
}

func TestExec(t *testing.T) {
	t.Parallel()
	requireShell(t)
	dir := t.TempDir()
	marker := filepath.Join(dir, "ran")

	tests := []struct {
		name    string
		spec    ExecSpec
		wantErr string
		noRetry bool
	}{
		{name: "success", spec: ExecSpec{Command: []string{"sh", "-c", "touch ran"}, Dir: dir}},
		{name: "env", spec: ExecSpec{Command: []string{"sh", "-c", `test "$BGTASK_X" = 1`}, Env: []string{"BGTASK_X=1"}}},
		{name: "exit status", spec: ExecSpec{Command: []string{"sh", "-c", "echo broken >&2; exit 3"}}, wantErr: "broken"},
		{name: "missing binary", spec: ExecSpec{Command: []string{"bgtask-definitely-missing"}}, wantErr: "bgtask-definitely-missing", noRetry: true},
		{name: "timeout", spec: ExecSpec{Command: []string{"sleep", "5"}, Timeout: 50 * time.Millisecond}, wantErr: "deadline"},
		{name: "empty", spec: ExecSpec{}, wantErr: "empty command", noRetry: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := Exec(tt.spec, logx.Nop())(context.Background(), nil)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("err = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
			if dispatch.IsNoRetry(err) != tt.noRetry {
				t.Fatalf("IsNoRetry = %v, want %v", dispatch.IsNoRetry(err), tt.noRetry)
			}
		})
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("success case did not run in Dir: %v", err)
	}
}

func TestExecPrerequisite(t *testing.T) {
	t.Parallel()
	requireShell(t)
	ctx := context.Background()
	if err := ExecPrerequisite(ExecSpec{Command: []string{"sh", "-c", "exit 0"}}).Run(ctx, nil); err != nil {
		t.Fatalf("passing prerequisite = %v", err)
	}
	if err := ExecPrerequisite(ExecSpec{Command: []string{"sh", "-c", "exit 1"}}).Run(ctx, nil); err == nil {
		t.Fatal("failing prerequisite should return an error")
	}
}

func TestTailBufferKeepsLastBytes(t *testing.T) {
	t.Parallel()
	var b tailBuffer
	_, _ = b.Write([]byte(strings.Repeat("a", outputTail-2)))
	_, _ = b.Write([]byte("bcde"))
	if b.Len() != outputTail || !strings.HasSuffix(b.String(), "bcde") || !strings.HasPrefix(b.String(), "aa") {
		t.Fatalf("len = %d", b.Len())
	}
	n, _ := b.Write([]byte(strings.Repeat("z", outputTail+10)))
	if n != outputTail+10 || b.String() != strings.Repeat("z", outputTail) {
		t.Fatalf("n = %d len = %d", n, b.Len())
	}
}

func TestHTTP(t *testing.T) {
	t.Parallel()
	var (
		mu        sync.Mutex
		gotMethod string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotMethod = r.Method
		mu.Unlock()
		switch r.URL.Path {
		case "/ok":
			w.WriteHeader(http.StatusNoContent)
		case "/missing":
			http.NotFound(w, r)
		case "/busy":
			w.WriteHeader(http.StatusTooManyRequests)
		case "/slow":
			time.Sleep(200 * time.Millisecond)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	tests := []struct {
		path    string
		method  string
		fail    bool
		noRetry bool
		timeout time.Duration
	}{
		{path: "/ok", method: "post"},
		{path: "/missing", fail: true, noRetry: true},
		{path: "/busy", fail: true},
		{path: "/down", fail: true},
		{path: "/slow", fail: true, timeout: 20 * time.Millisecond},
	}
	for _, tt := range tests {
		err := HTTP(HTTPSpec{URL: srv.URL + tt.path, Method: tt.method, Timeout: tt.timeout}, srv.Client())(context.Background(), nil)
		if (err != nil) != tt.fail {
			t.Fatalf("%s: err = %v", tt.path, err)
		}
		if dispatch.IsNoRetry(err) != tt.noRetry {
			t.Fatalf("%s: IsNoRetry = %v", tt.path, dispatch.IsNoRetry(err))
		}
		mu.Lock()
		method := gotMethod
		mu.Unlock()
		if tt.path == "/ok" && method != http.MethodPost {
			t.Fatalf("method = %s", method)
		}
	}
}

type fakeUnits struct {
	calls []string
	err   error
}

func (f *fakeUnits) Do(_ context.Context, action systemdmanager.Action, unit string) error {
	f.calls = append(f.calls, string(action)+" "+unit)
	return f.err
}

func TestSystemd(t *testing.T) {
	t.Parallel()
	ctl := &fakeUnits{}
	work := Systemd(SystemdSpec{Unit: "nginx", Action: systemdmanager.ActionRestart}, ctl)
	if err := work(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if len(ctl.calls) != 1 || ctl.calls[0] != "restart nginx" {
		t.Fatalf("calls = %v", ctl.calls)
	}

	ctl.err = errors.New("job failed")
	if err := work(context.Background(), nil); !errors.Is(err, ctl.err) {
		t.Fatalf("err = %v", err)
	}
	if err := Systemd(SystemdSpec{Unit: "x"}, nil)(context.Background(), nil); !dispatch.IsNoRetry(err) {
		t.Fatalf("nil controller = %v", err)
	}
}
