//go:build !linux

package devlock

import (
	"context"
	"errors"
)

// Flock is only available on Linux.
type Flock struct{}

func (Flock) Acquire(_ context.Context, _ Mode, _ ...string) (Release, error) {
	return nil, errors.New("device locking is only supported on linux")
}
