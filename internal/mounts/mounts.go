// Package mounts reads the live mount table and unmounts filesystems.
package mounts

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/osbuild/disk-stager/internal/disk"
)

// Mount is a single entry of the live mount table.
type Mount struct {
	Source     string // Device node
	Mountpoint string
	FSType     string
}

// Table is a read-only source of the mounts of the running system.
type Table interface {
	Mounts() ([]Mount, error)
}

// Unmounter detaches a mounted filesystem.
type Unmounter interface {
	Unmount(ctx context.Context, mountpoint string) error
}

// ByDevice indexes mounts by device node. A device that is mounted more than
// once is reported with its shortest mount point.
func ByDevice(mounts []Mount) map[string]Mount {
	res := make(map[string]Mount, len(mounts))
	for _, m := range mounts {
		if !strings.HasPrefix(m.Source, "/dev/") {
			continue
		}
		if prev, ok := res[m.Source]; ok && len(prev.Mountpoint) <= len(m.Mountpoint) {
			continue
		}
		res[m.Source] = m
	}
	return res
}

// MountpointsOf returns every mount point of a device, deepest first, which
// is the order they have to be unmounted in.
func MountpointsOf(mounts []Mount, device string) []string {
	var res []string
	for _, m := range mounts {
		if m.Source == device {
			res = append(res, m.Mountpoint)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return strings.Count(res[i], "/") > strings.Count(res[j], "/") ||
			(strings.Count(res[i], "/") == strings.Count(res[j], "/") && res[i] > res[j])
	})
	return res
}

// UnmountDevice unmounts every mount point of a device node, deepest first.
// A failure is returned as *disk.UnmountRequiredError.
func UnmountDevice(ctx context.Context, table Table, unmounter Unmounter, device string) error {
	current, err := table.Mounts()
	if err != nil {
		return err
	}
	for _, mp := range MountpointsOf(current, device) {
		if err := unmounter.Unmount(ctx, mp); err != nil {
			return &disk.UnmountRequiredError{Partition: device, Mountpoint: mp, Err: err}
		}
	}
	return nil
}

// Static is a fixed mount table.
type Static []Mount

func (s Static) Mounts() ([]Mount, error) {
	return append([]Mount(nil), s...), nil
}

// Fake is an in-memory mount table and unmounter for tests. Unmounting
// removes the entry from the table unless a failure was registered for the
// mount point.
type Fake struct {
	mu       sync.Mutex
	mounts   []Mount
	failures map[string]error

	Unmounted []string
}

func NewFake(mounts ...Mount) *Fake {
	return &Fake{
		mounts:   mounts,
		failures: make(map[string]error),
	}
}

// FailUnmount makes every unmount of mountpoint fail with err.
func (f *Fake) FailUnmount(mountpoint string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[mountpoint] = err
}

func (f *Fake) Mounts() ([]Mount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Mount(nil), f.mounts...), nil
}

func (f *Fake) Unmount(ctx context.Context, mountpoint string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failures[mountpoint]; err != nil {
		return err
	}
	for i, m := range f.mounts {
		if m.Mountpoint == mountpoint {
			f.mounts = append(f.mounts[:i], f.mounts[i+1:]...)
			f.Unmounted = append(f.Unmounted, mountpoint)
			return nil
		}
	}
	return fmt.Errorf("%s is not mounted", mountpoint)
}
