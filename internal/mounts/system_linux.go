package mounts

import (
	"context"
	"fmt"
	"strings"

	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"
)

// System is the mount table of the running system, read from
// /proc/self/mountinfo.
type System struct{}

func devicesOnly(info *mountinfo.Info) (skip, stop bool) {
	return !strings.HasPrefix(info.Source, "/dev/"), false
}

func (System) Mounts() ([]Mount, error) {
	infos, err := mountinfo.GetMounts(devicesOnly)
	if err != nil {
		return nil, fmt.Errorf("reading mount table: %w", err)
	}

	res := make([]Mount, 0, len(infos))
	for _, info := range infos {
		res = append(res, Mount{
			Source:     info.Source,
			Mountpoint: info.Mountpoint,
			FSType:     info.FSType,
		})
	}
	return res, nil
}

// SystemUnmounter unmounts with umount(2). Busy filesystems are not detached
// lazily; the error is returned to the caller.
type SystemUnmounter struct{}

func (SystemUnmounter) Unmount(ctx context.Context, mountpoint string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := unix.Unmount(mountpoint, 0); err != nil {
		return fmt.Errorf("unmounting %s: %w", mountpoint, err)
	}
	return nil
}
