package prometheus

import (
	"errors"
	"time"

	"github.com/osbuild/disk-stager/internal/disk"
)

type ObserveFunc func() time.Duration

// Timer returns a function that reports the time passed since Timer was
// called.
func Timer() ObserveFunc {
	start := time.Now()
	return func() time.Duration {
		return time.Since(start)
	}
}

// ErrorKind maps an error to the label used by the rejection counters.
func ErrorKind(err error) string {
	var (
		geometry   *disk.GeometryRangeError
		structural *disk.StructuralIneligibleError
		conflict   *disk.MountConflictError
		invalid    *disk.InvalidMountpointError
		unmount    *disk.UnmountRequiredError
		read       *disk.DeviceReadError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &geometry):
		return "geometry_range"
	case errors.As(err, &structural):
		return "structural_ineligible"
	case errors.As(err, &conflict):
		return "mount_conflict"
	case errors.As(err, &invalid):
		return "invalid_mountpoint"
	case errors.As(err, &unmount):
		return "unmount_required"
	case errors.As(err, &read):
		return "device_read"
	default:
		return "other"
	}
}
