package disk

import "fmt"

// Identity is the stable key of a partition: the device it lives on and the
// sectors it occupies. It does not depend on the partition number, the device
// node or the contents, so it survives renumbering and re-enumeration.
type Identity struct {
	Device string `toml:"device"`
	Start  uint64 `toml:"start"`
	End    uint64 `toml:"end"`
}

// IdentityOf returns the identity of p. Free space has no identity.
func IdentityOf(p *Partition) (Identity, bool) {
	if p == nil || p.Device == nil {
		return Identity{}, false
	}

	switch p.Kind {
	case KindPrimary, KindExtended, KindLogical:
		return Identity{
			Device: p.Device.Path,
			Start:  p.Geometry.Start,
			End:    p.Geometry.End,
		}, true
	case KindFreeSpace, KindFreeSpaceInExtended:
		return Identity{}, false
	default:
		panic(fmt.Sprintf("unknown partition kind with enum value %d", p.Kind))
	}
}

// Geometry returns the sector range of the identity.
func (id Identity) Geometry() Geometry {
	return Geometry{Start: id.Start, End: id.End}
}

// Less orders identities by device path and then by start sector.
func (id Identity) Less(o Identity) bool {
	if id.Device != o.Device {
		return id.Device < o.Device
	}
	if id.Start != o.Start {
		return id.Start < o.Start
	}
	return id.End < o.End
}

func (id Identity) String() string {
	return fmt.Sprintf("%s:%d-%d", id.Device, id.Start, id.End)
}
