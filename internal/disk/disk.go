// Package disk contains the data types used to describe live block devices,
// their partition tables and the free space between partitions.
//
// Device, Partition and Geometry model what was read from a device. Free space
// is not stored; it is synthesized from the partitions of a device by
// Device.FreeSpace so that it always reflects the current (possibly staged)
// set of partitions. Identity is the stable key used to correlate a partition
// across repeated enumerations.
package disk

import (
	"fmt"

	"github.com/osbuild/images/pkg/datasizes"
)

const (
	// Default sector size in bytes
	DefaultSectorSize = 512

	// Default grain size in bytes. Partitions on a device start at or after
	// the first grain.
	DefaultGrainBytes = uint64(datasizes.MiB)

	// Smallest region, in bytes, that is reported as free space and the
	// smallest remainder a new partition may leave behind in its region.
	MinFreeBytes = uint64(datasizes.MB)

	// Sectors reserved at the end of a GPT disk for the backup header and
	// partition entries.
	GPTFooterSectors = 33

	// Sectors reserved in front of every logical partition for its EBR.
	EBRSectors = 1

	// Limits of the table types.
	MaxPrimaryDOS  = 4
	MaxPrimaryGPT  = 128
	MaxLogicalDOS  = 60
	NoLogicalLimit = 0
)

// PartitionTableType is the partition table type enum.
type PartitionTableType uint64

const (
	PT_NONE PartitionTableType = iota
	PT_MSDOS
	PT_GPT
)

func (t PartitionTableType) String() string {
	switch t {
	case PT_NONE:
		return "none"
	case PT_MSDOS:
		return "msdos"
	case PT_GPT:
		return "gpt"
	default:
		panic(fmt.Sprintf("unknown or unsupported partition table type with enum value %d", t))
	}
}

func (t PartitionTableType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *PartitionTableType) UnmarshalText(data []byte) error {
	new, err := NewPartitionTableType(string(data))
	if err != nil {
		return err
	}
	*t = new
	return nil
}

// NewPartitionTableType parses the table names used by parted ("msdos",
// "gpt") and by sfdisk ("dos").
func NewPartitionTableType(s string) (PartitionTableType, error) {
	switch s {
	case "", "none", "loop":
		return PT_NONE, nil
	case "msdos", "dos", "mbr":
		return PT_MSDOS, nil
	case "gpt":
		return PT_GPT, nil
	default:
		return PT_NONE, fmt.Errorf("unknown or unsupported partition table type name: %s", s)
	}
}

// MaxPrimary returns the number of primary slots of a table type.
func (t PartitionTableType) MaxPrimary() int {
	switch t {
	case PT_MSDOS:
		return MaxPrimaryDOS
	case PT_GPT:
		return MaxPrimaryGPT
	default:
		return 0
	}
}

// MaxLogical returns the number of logical partitions a table type can hold.
func (t PartitionTableType) MaxLogical() int {
	if t == PT_MSDOS {
		return MaxLogicalDOS
	}
	return NoLogicalLimit
}

// PartitionKind is the closed set of row kinds found on a device.
type PartitionKind uint64

const (
	KindPrimary PartitionKind = iota
	KindExtended
	KindLogical
	KindFreeSpace
	KindFreeSpaceInExtended
)

func (k PartitionKind) String() string {
	switch k {
	case KindPrimary:
		return "primary"
	case KindExtended:
		return "extended"
	case KindLogical:
		return "logical"
	case KindFreeSpace:
		return "free"
	case KindFreeSpaceInExtended:
		return "free-extended"
	default:
		panic(fmt.Sprintf("unknown partition kind with enum value %d", k))
	}
}

func (k PartitionKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *PartitionKind) UnmarshalText(data []byte) error {
	new, err := NewPartitionKind(string(data))
	if err != nil {
		return err
	}
	*k = new
	return nil
}

func NewPartitionKind(s string) (PartitionKind, error) {
	switch s {
	case "primary":
		return KindPrimary, nil
	case "extended":
		return KindExtended, nil
	case "logical":
		return KindLogical, nil
	case "free":
		return KindFreeSpace, nil
	case "free-extended":
		return KindFreeSpaceInExtended, nil
	default:
		return KindPrimary, fmt.Errorf("unknown partition kind: %s", s)
	}
}

// IsFree reports whether the kind is one of the free space pseudo kinds.
func (k PartitionKind) IsFree() bool {
	switch k {
	case KindFreeSpace, KindFreeSpaceInExtended:
		return true
	case KindPrimary, KindExtended, KindLogical:
		return false
	default:
		panic(fmt.Sprintf("unknown partition kind with enum value %d", k))
	}
}

// IsNested reports whether rows of this kind live inside the extended
// partition rather than directly on the device.
func (k PartitionKind) IsNested() bool {
	switch k {
	case KindLogical, KindFreeSpaceInExtended:
		return true
	case KindPrimary, KindExtended, KindFreeSpace:
		return false
	default:
		panic(fmt.Sprintf("unknown partition kind with enum value %d", k))
	}
}

// FSType is the enum of filesystems that can be created on a partition.
//
// Filesystems that are only detected, never created, are kept as plain
// strings on the Partition.
type FSType uint64

const (
	FS_NONE FSType = iota
	FS_BTRFS
	FS_EXT2
	FS_EXT3
	FS_EXT4
	FS_F2FS
	FS_JFS
	FS_REISERFS
	FS_SWAP
	FS_VFAT
	FS_XFS
)

func (f FSType) String() string {
	switch f {
	case FS_NONE:
		return ""
	case FS_BTRFS:
		return "btrfs"
	case FS_EXT2:
		return "ext2"
	case FS_EXT3:
		return "ext3"
	case FS_EXT4:
		return "ext4"
	case FS_F2FS:
		return "f2fs"
	case FS_JFS:
		return "jfs"
	case FS_REISERFS:
		return "reiserfs"
	case FS_SWAP:
		return "swap"
	case FS_VFAT:
		return "vfat"
	case FS_XFS:
		return "xfs"
	default:
		panic(fmt.Sprintf("unknown or unsupported filesystem type with enum value %d", f))
	}
}

func (f FSType) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *FSType) UnmarshalText(data []byte) error {
	new, err := NewFSType(string(data))
	if err != nil {
		return err
	}
	*f = new
	return nil
}

func NewFSType(s string) (FSType, error) {
	switch s {
	case "", "none":
		return FS_NONE, nil
	case "btrfs":
		return FS_BTRFS, nil
	case "ext2":
		return FS_EXT2, nil
	case "ext3":
		return FS_EXT3, nil
	case "ext4":
		return FS_EXT4, nil
	case "f2fs":
		return FS_F2FS, nil
	case "jfs":
		return FS_JFS, nil
	case "reiserfs":
		return FS_REISERFS, nil
	case "swap", "linux-swap":
		return FS_SWAP, nil
	case "vfat", "fat32", "fat16":
		return FS_VFAT, nil
	case "xfs":
		return FS_XFS, nil
	default:
		return FS_NONE, fmt.Errorf("unknown or unsupported filesystem type name: %s", s)
	}
}

// FSTypes lists every filesystem that can be created, sorted by name.
func FSTypes() []FSType {
	return []FSType{FS_BTRFS, FS_EXT2, FS_EXT3, FS_EXT4, FS_F2FS, FS_JFS, FS_REISERFS, FS_SWAP, FS_VFAT, FS_XFS}
}
