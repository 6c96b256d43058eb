//go:build !linux

package mounts

import (
	"context"
	"errors"
)

type System struct{}

func (System) Mounts() ([]Mount, error) {
	return nil, errors.New("reading the mount table is only supported on linux")
}

type SystemUnmounter struct{}

func (SystemUnmounter) Unmount(_ context.Context, _ string) error {
	return errors.New("unmounting is only supported on linux")
}
