// Package devlock provides advisory locks over block devices.
//
// Locks are taken with flock(2) on the device node, the same convention udev
// and systemd use to keep away from a device that is being repartitioned.
// Readers take shared locks, a commit takes exclusive ones.
package devlock

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type Mode int

const (
	Shared Mode = iota
	Exclusive
)

func (m Mode) String() string {
	switch m {
	case Shared:
		return "shared"
	case Exclusive:
		return "exclusive"
	default:
		panic(fmt.Sprintf("unknown lock mode with enum value %d", int(m)))
	}
}

// Release gives up the locks returned by Locker.Acquire.
type Release func() error

// Locker acquires advisory locks over a set of devices. Paths are locked in
// sorted order so that two lockers never deadlock each other.
type Locker interface {
	Acquire(ctx context.Context, mode Mode, paths ...string) (Release, error)
}

// LockedError is returned by non-blocking lockers when a device is already
// locked in a conflicting mode.
type LockedError struct {
	Device string
	Mode   Mode
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("device %s is locked, cannot acquire %s lock", e.Device, e.Mode)
}

func sortedUnique(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	res := make([]string, 0, len(paths))
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			res = append(res, p)
		}
	}
	sort.Strings(res)
	return res
}

// Nop does not lock anything.
type Nop struct{}

func (Nop) Acquire(_ context.Context, _ Mode, _ ...string) (Release, error) {
	return func() error { return nil }, nil
}

// Memory is an in-process, non-blocking Locker. A conflicting request fails
// with *LockedError instead of waiting.
type Memory struct {
	mu     sync.Mutex
	shared map[string]int
	excl   map[string]bool

	// Acquired records every successful request, for inspection in tests.
	Acquired []string
}

func NewMemory() *Memory {
	return &Memory{
		shared: make(map[string]int),
		excl:   make(map[string]bool),
	}
}

func (m *Memory) Acquire(ctx context.Context, mode Mode, paths ...string) (Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	paths = sortedUnique(paths)

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range paths {
		if m.excl[p] || (mode == Exclusive && m.shared[p] > 0) {
			return nil, &LockedError{Device: p, Mode: mode}
		}
	}

	for _, p := range paths {
		if mode == Exclusive {
			m.excl[p] = true
		} else {
			m.shared[p]++
		}
		m.Acquired = append(m.Acquired, fmt.Sprintf("%s:%s", mode, p))
	}

	var once sync.Once
	return func() error {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for _, p := range paths {
				if mode == Exclusive {
					delete(m.excl, p)
				} else if m.shared[p]--; m.shared[p] <= 0 {
					delete(m.shared, p)
				}
			}
		})
		return nil
	}, nil
}

// Held reports whether any lock is currently held on the device.
func (m *Memory) Held(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.excl[path] || m.shared[path] > 0
}
