// Package systemdmanager starts, stops and restarts systemd units over D-Bus.
package systemdmanager

import (
	"fmt"
	"strings"
)

type Action string

const (
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
)

func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionStart, ActionStop, ActionRestart:
		return a, nil
	case "":
		return ActionRestart, nil
	default:
		return "", fmt.Errorf("unknown unit action %q (use start, stop or restart)", s)
	}
}

// UnitName appends ".service" to names without a unit suffix.
func UnitName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || strings.Contains(name, ".") {
		return name
	}
	return name + ".service"
}
