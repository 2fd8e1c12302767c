package logx

import (
	"bytes"
	"strings"
	"testing"

	"golang.org/x/time/rate"
)

func TestLimitedDropsAboveGate(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").Limited(rate.NewLimiter(0, 1), LevelWarn)

	log.Warn("first")
	log.Warn("second")
	log.Debug("debug is never throttled")

	out := buf.String()
	if !strings.Contains(out, "first") {
		t.Fatalf("expected first warning to pass, got %q", out)
	}
	if strings.Contains(out, "second") {
		t.Fatalf("expected second warning to be dropped, got %q", out)
	}
	if !strings.Contains(out, "debug is never throttled") {
		t.Fatalf("expected debug record below gate, got %q", out)
	}
}

func TestWithKeepsParentFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewWriter(&buf, "info").With(String("comp", "test"))
	child := base.With(Int("n", 7))

	child.Info("hello")
	base.Info("plain")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], `"comp":"test"`) || !strings.Contains(lines[0], `"n":7`) {
		t.Fatalf("child record missing fields: %s", lines[0])
	}
	if strings.Contains(lines[1], `"n":7`) {
		t.Fatalf("parent record leaked child field: %s", lines[1])
	}
}

func TestParseLevelFallback(t *testing.T) {
	t.Parallel()
	if got := ParseLevel("warning", LevelInfo); got != LevelWarn {
		t.Fatalf("ParseLevel(warning) = %v, want %v", got, LevelWarn)
	}
	if got := ParseLevel("bogus", LevelError); got != LevelError {
		t.Fatalf("ParseLevel(bogus) = %v, want %v", got, LevelError)
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Error("must not panic")
}

func TestTaskFieldAndCaller(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(Task("backup"))

	log.Info("ran", Err(nil), Stack("  "))

	out := buf.String()
	if !strings.Contains(out, `"task":"backup"`) {
		t.Fatalf("missing task field: %s", out)
	}
	if !strings.Contains(out, `"caller":"logging_test.go:`) {
		t.Fatalf("caller should point at the test file: %s", out)
	}
	if strings.Contains(out, `"err"`) || strings.Contains(out, `"stack"`) {
		t.Fatalf("nil error and blank stack should be omitted: %s", out)
	}
}
