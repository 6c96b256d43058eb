package disk

import "fmt"

// DeviceReadError is returned when the partition table of a single device
// cannot be read. The device is still listed, without partitions.
type DeviceReadError struct {
	Device string
	Err    error
}

func (e *DeviceReadError) Error() string {
	return fmt.Sprintf("cannot read partition table of %s: %v", e.Device, e.Err)
}

func (e *DeviceReadError) Unwrap() error {
	return e.Err
}

// GeometryRangeError is returned when a requested size is outside of what a
// free region can hold.
type GeometryRangeError struct {
	RequestedMB uint64
	MaxMB       uint64
}

func (e *GeometryRangeError) Error() string {
	return fmt.Sprintf("requested size %d MB is outside of the allowed range 1-%d MB", e.RequestedMB, e.MaxMB)
}

// StructuralIneligibleError is returned when a partition of the given kind
// cannot exist at the requested place of the partition table.
type StructuralIneligibleError struct {
	Device string
	Kind   PartitionKind
	Reason string
}

func (e *StructuralIneligibleError) Error() string {
	return fmt.Sprintf("cannot use %s partition on %s: %s", e.Kind, e.Device, e.Reason)
}

// MountConflictError is returned when a mount point is claimed twice or when
// no partition is mounted at "/".
type MountConflictError struct {
	Mountpoint string
	Claimants  []string // Identities that claim the mount point
}

func (e *MountConflictError) Error() string {
	if len(e.Claimants) == 0 {
		return fmt.Sprintf("no partition is assigned to mount point %s", e.Mountpoint)
	}
	return fmt.Sprintf("mount point %s is claimed more than once: %v", e.Mountpoint, e.Claimants)
}

// InvalidMountpointError is returned for mount points that are not allowed.
type InvalidMountpointError struct {
	Mountpoint string
	Reason     string
}

func (e *InvalidMountpointError) Error() string {
	return fmt.Sprintf("invalid mount point %q: %s", e.Mountpoint, e.Reason)
}

// UnmountRequiredError is returned when a partition that is about to be
// destroyed is mounted and could not be unmounted.
type UnmountRequiredError struct {
	Partition  string
	Mountpoint string
	Err        error
}

func (e *UnmountRequiredError) Error() string {
	return fmt.Sprintf("%s is mounted at %s and cannot be unmounted: %v", e.Partition, e.Mountpoint, e.Err)
}

func (e *UnmountRequiredError) Unwrap() error {
	return e.Err
}
