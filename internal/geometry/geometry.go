// Package geometry decides which partition kinds can be created in a free
// region and computes the sectors of a new partition.
package geometry

import (
	"fmt"

	"github.com/osbuild/images/pkg/datasizes"

	"github.com/osbuild/disk-stager/internal/disk"
)

// Placement selects the end of the free region the new partition is placed
// at; the unused remainder ends up on the other side.
type Placement uint64

const (
	FromStart Placement = iota
	FromEnd
)

func (p Placement) String() string {
	switch p {
	case FromStart:
		return "start"
	case FromEnd:
		return "end"
	default:
		panic(fmt.Sprintf("unknown placement with enum value %d", p))
	}
}

func (p Placement) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Placement) UnmarshalText(data []byte) error {
	new, err := NewPlacement(string(data))
	if err != nil {
		return err
	}
	*p = new
	return nil
}

func NewPlacement(s string) (Placement, error) {
	switch s {
	case "", "start", "beginning":
		return FromStart, nil
	case "end":
		return FromEnd, nil
	default:
		return FromStart, fmt.Errorf("unknown placement: %s", s)
	}
}

// Request describes a partition to be created in a free region.
type Request struct {
	Kind      disk.PartitionKind
	SizeMB    uint64
	Placement Placement
}

// MaxAvailableMB returns the largest size, in decimal megabytes, a new
// partition in the region can have.
func MaxAvailableMB(dev *disk.Device, region disk.Geometry) uint64 {
	return dev.SectorsToBytes(region.Length()) / datasizes.MegaByte
}

// EligibleKinds returns the partition kinds that can be created in the free
// region, in the order they are offered. It is empty for regions nothing
// can be created in: the only top level region of a device that has an
// extended partition, or any region of a device without partition table.
func EligibleKinds(dev *disk.Device, region *disk.Partition) []disk.PartitionKind {
	var kinds []disk.PartitionKind
	for _, kind := range []disk.PartitionKind{disk.KindPrimary, disk.KindExtended, disk.KindLogical} {
		if CheckEligible(dev, region, kind) == nil {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// CheckEligible returns a *disk.StructuralIneligibleError when a partition
// of the given kind cannot be created in the free region.
func CheckEligible(dev *disk.Device, region *disk.Partition, kind disk.PartitionKind) error {
	ineligible := func(reason string) error {
		return &disk.StructuralIneligibleError{Device: dev.Path, Kind: kind, Reason: reason}
	}

	if region == nil {
		return ineligible("no free region selected")
	}
	if !region.IsFree() {
		return ineligible(fmt.Sprintf("%s is not a free region", region))
	}
	if dev.Table == disk.PT_NONE {
		return ineligible("device has no partition table")
	}

	switch kind {
	case disk.KindPrimary:
		if region.Kind != disk.KindFreeSpace {
			return ineligible("primary partitions cannot be created inside the extended partition")
		}
		if dev.PrimaryCount() >= dev.MaxPrimary {
			return ineligible(fmt.Sprintf("maximum number of primary partitions reached (%d)", dev.MaxPrimary))
		}
		if dev.HasExtended() && onlyTopLevelRegion(dev, region) {
			return ineligible("the only top level free region of a device with an extended partition is reserved for logical partitions")
		}
	case disk.KindExtended:
		if region.Kind != disk.KindFreeSpace {
			return ineligible("extended partitions cannot be nested")
		}
		if !dev.SupportsExtended() {
			return ineligible(fmt.Sprintf("%s partition tables do not support extended partitions", dev.Table))
		}
		if dev.HasExtended() {
			return ineligible("device already has an extended partition")
		}
		if dev.PrimaryCount() >= dev.MaxPrimary {
			return ineligible(fmt.Sprintf("maximum number of primary partitions reached (%d)", dev.MaxPrimary))
		}
	case disk.KindLogical:
		if region.Kind != disk.KindFreeSpaceInExtended {
			return ineligible("logical partitions can only be created inside the extended partition")
		}
		if dev.MaxLogical != disk.NoLogicalLimit && dev.LogicalCount() >= dev.MaxLogical {
			return ineligible(fmt.Sprintf("maximum number of logical partitions reached (%d)", dev.MaxLogical))
		}
	case disk.KindFreeSpace, disk.KindFreeSpaceInExtended:
		return ineligible("free space cannot be created")
	default:
		panic(fmt.Sprintf("unknown partition kind with enum value %d", kind))
	}

	return nil
}

// onlyTopLevelRegion reports whether region is the only free region of dev
// outside of the extended partition.
func onlyTopLevelRegion(dev *disk.Device, region *disk.Partition) bool {
	var top []*disk.Partition
	for _, free := range dev.FreeSpace() {
		if free.Kind == disk.KindFreeSpace {
			top = append(top, free)
		}
	}
	return len(top) == 1 && top[0].Geometry == region.Geometry
}

// PlanCreate checks the request against the free region and returns the
// sectors of the new partition. Sizes outside of 1..MaxAvailableMB are a
// *disk.GeometryRangeError; they are never clamped. A remainder smaller than
// one megabyte is added to the new partition.
func PlanCreate(dev *disk.Device, region *disk.Partition, req Request) (disk.Geometry, error) {
	if err := CheckEligible(dev, region, req.Kind); err != nil {
		return disk.Geometry{}, err
	}

	maxMB := MaxAvailableMB(dev, region.Geometry)
	if req.SizeMB < 1 || req.SizeMB > maxMB {
		return disk.Geometry{}, &disk.GeometryRangeError{RequestedMB: req.SizeMB, MaxMB: maxMB}
	}

	length := region.Geometry.Length()
	size := ceilSectors(dev, req.SizeMB*datasizes.MegaByte)
	if size > length {
		size = length
	}
	if length-size < ceilSectors(dev, disk.MinFreeBytes) {
		size = length
	}

	switch req.Placement {
	case FromStart:
		return disk.Geometry{Start: region.Geometry.Start, End: region.Geometry.Start + size - 1}, nil
	case FromEnd:
		return disk.Geometry{Start: region.Geometry.End - size + 1, End: region.Geometry.End}, nil
	default:
		panic(fmt.Sprintf("unknown placement with enum value %d", req.Placement))
	}
}

func ceilSectors(dev *disk.Device, bytes uint64) uint64 {
	sectorSize := dev.SectorsToBytes(1)
	return (bytes + sectorSize - 1) / sectorSize
}

// FindRegion returns the free region of dev that contains the sector, or
// nil.
func FindRegion(dev *disk.Device, sector uint64) *disk.Partition {
	for _, region := range dev.FreeSpace() {
		if sector >= region.Geometry.Start && sector <= region.Geometry.End {
			return region
		}
	}
	return nil
}
