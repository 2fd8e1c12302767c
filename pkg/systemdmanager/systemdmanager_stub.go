//go:build !linux

package systemdmanager

import (
	"context"
	"errors"
)

var ErrUnsupported = errors.New("systemdmanager: unsupported OS (linux only)")

type ServiceManager struct{}

func NewServiceManagerContext(context.Context) (*ServiceManager, error) {
	return nil, ErrUnsupported
}

func (sm *ServiceManager) Close() error { return nil }

func (sm *ServiceManager) Do(context.Context, Action, string) error { return ErrUnsupported }

func (sm *ServiceManager) ActiveState(context.Context, string) (string, error) {
	return "", ErrUnsupported
}
