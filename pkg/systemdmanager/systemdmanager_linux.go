//go:build linux

package systemdmanager

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
)

// ServiceManager holds one system bus connection.
type ServiceManager struct {
	mu   sync.RWMutex
	conn *dbus.Conn
}

// NewServiceManagerContext connects to the system bus.
// If ctx is nil, context.Background() is used.
func NewServiceManagerContext(ctx context.Context) (*ServiceManager, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	return &ServiceManager{conn: conn}, nil
}

func (sm *ServiceManager) Close() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.conn != nil {
		sm.conn.Close()
		sm.conn = nil
	}
	return nil
}

type unitJob func(ctx context.Context, name, mode string, ch chan<- string) (int, error)

// Do runs action on unit and waits for systemd to finish the job.
func (sm *ServiceManager) Do(ctx context.Context, action Action, unit string) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if sm.conn == nil {
		return fmt.Errorf("systemd connection is closed")
	}

	var fn unitJob
	switch action {
	case ActionStart:
		fn = sm.conn.StartUnitContext
	case ActionStop:
		fn = sm.conn.StopUnitContext
	case ActionRestart:
		fn = sm.conn.RestartUnitContext
	default:
		return fmt.Errorf("unknown unit action %q", action)
	}

	name := UnitName(unit)
	done := make(chan string, 1)
	if _, err := fn(ctx, name, "replace", done); err != nil {
		return fmt.Errorf("failed to %s %s: %w", action, name, err)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case result := <-done:
		if result != "done" {
			return fmt.Errorf("%s %s: job %s", action, name, result)
		}
		return nil
	}
}

// ActiveState returns the unit's ActiveState property (active, failed, ...).
func (sm *ServiceManager) ActiveState(ctx context.Context, unit string) (string, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if sm.conn == nil {
		return "", fmt.Errorf("systemd connection is closed")
	}
	prop, err := sm.conn.GetUnitPropertyContext(ctx, UnitName(unit), "ActiveState")
	if err != nil {
		return "", err
	}
	s, _ := prop.Value.Value().(string)
	return s, nil
}
