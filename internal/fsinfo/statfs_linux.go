package fsinfo

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func usedRatio(mountpoint string) (float64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(mountpoint, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", mountpoint, err)
	}
	if st.Blocks == 0 {
		return 0, nil
	}
	return float64(st.Blocks-st.Bfree) / float64(st.Blocks), nil
}

// usedRatioReadOnly mounts the filesystem read-only on a scratch directory
// for the duration of the measurement.
func (h *Host) usedRatioReadOnly(_ context.Context, path, fsType string) (float64, error) {
	dir, err := os.MkdirTemp(h.ScratchDir, "disk-stager-probe-")
	if err != nil {
		return 0, fmt.Errorf("creating scratch mount point: %w", err)
	}
	defer os.Remove(dir)

	if err := unix.Mount(path, dir, fsType, unix.MS_RDONLY|unix.MS_NOEXEC|unix.MS_NOSUID|unix.MS_NODEV, probeMountOptions(fsType)); err != nil {
		return 0, fmt.Errorf("mounting %s read-only: %w", path, err)
	}
	defer func() {
		if err := unix.Unmount(dir, 0); err != nil {
			h.Logger.Error(err, "cannot unmount scratch mount", "device", path, "mountpoint", dir)
		}
	}()

	return usedRatio(dir)
}
