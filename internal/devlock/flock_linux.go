package devlock

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Flock locks the device nodes with flock(2). Acquire blocks until every lock
// is granted.
type Flock struct{}

func (Flock) Acquire(ctx context.Context, mode Mode, paths ...string) (Release, error) {
	how := unix.LOCK_SH
	if mode == Exclusive {
		how = unix.LOCK_EX
	}

	var held []*os.File
	release := func() error {
		var errs []error
		for i := len(held) - 1; i >= 0; i-- {
			if err := unix.Flock(int(held[i].Fd()), unix.LOCK_UN); err != nil {
				errs = append(errs, fmt.Errorf("unlocking %s: %w", held[i].Name(), err))
			}
			if err := held[i].Close(); err != nil {
				errs = append(errs, err)
			}
		}
		held = nil
		return errors.Join(errs...)
	}

	for _, p := range sortedUnique(paths) {
		if err := ctx.Err(); err != nil {
			_ = release()
			return nil, err
		}

		f, err := os.Open(p)
		if err != nil {
			_ = release()
			return nil, fmt.Errorf("opening %s for locking: %w", p, err)
		}
		if err := unix.Flock(int(f.Fd()), how); err != nil {
			f.Close()
			_ = release()
			return nil, fmt.Errorf("taking %s lock on %s: %w", mode, p, err)
		}
		held = append(held, f)
	}

	return release, nil
}
