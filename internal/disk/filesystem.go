package disk

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Filesystem describes a filesystem that is going to be created on a
// partition.
type Filesystem struct {
	Type FSType
	// ID of the filesystem, vfat doesn't use traditional UUIDs, therefore this
	// is just a string.
	UUID       string
	Label      string
	Mountpoint string
}

// NewFilesystem returns a filesystem of the given type with a freshly
// generated UUID.
func NewFilesystem(fsType FSType, label, mountpoint string) *Filesystem {
	return &Filesystem{
		Type:       fsType,
		UUID:       NewFilesystemUUID(fsType),
		Label:      label,
		Mountpoint: mountpoint,
	}
}

// Clone the filesystem structure
func (fs *Filesystem) Clone() *Filesystem {
	if fs == nil {
		return nil
	}

	return &Filesystem{
		Type:       fs.Type,
		UUID:       fs.UUID,
		Label:      fs.Label,
		Mountpoint: fs.Mountpoint,
	}
}

// NewFilesystemUUID generates an identifier suitable for the filesystem type.
// vfat uses a 32 bit volume id in the form "XXXX-XXXX".
func NewFilesystemUUID(fsType FSType) string {
	id := uuid.New()
	switch fsType {
	case FS_NONE:
		return ""
	case FS_VFAT:
		return strings.ToUpper(fmt.Sprintf("%X-%X", id[0:2], id[2:4]))
	default:
		return id.String()
	}
}

// MaxLabelLength returns the longest label the filesystem type accepts.
func (f FSType) MaxLabelLength() int {
	switch f {
	case FS_VFAT:
		return 11
	case FS_XFS:
		return 12
	case FS_EXT2, FS_EXT3, FS_EXT4, FS_JFS:
		return 16
	case FS_REISERFS:
		return 16
	case FS_SWAP:
		return 15
	case FS_BTRFS:
		return 255
	case FS_F2FS:
		return 512
	case FS_NONE:
		return 0
	default:
		panic(fmt.Sprintf("unknown or unsupported filesystem type with enum value %d", f))
	}
}

// IsSwap reports whether the filesystem is a swap area which never takes a
// mount point.
func (f FSType) IsSwap() bool {
	return f == FS_SWAP
}
