package systemdmanager

import "testing"

func TestUnitName(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"nginx":        "nginx.service",
		" nginx ":      "nginx.service",
		"backup.timer": "backup.timer",
		"data.mount":   "data.mount",
		"":             "",
	}
	for in, want := range cases {
		if got := UnitName(in); got != want {
			t.Fatalf("UnitName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseAction(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]Action{"": ActionRestart, "Start": ActionStart, " stop": ActionStop} {
		got, err := ParseAction(in)
		if err != nil || got != want {
			t.Fatalf("ParseAction(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseAction("reload-or-restart"); err == nil {
		t.Fatal("expected error")
	}
}
