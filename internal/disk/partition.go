package disk

import (
	"fmt"
	"strings"
)

// Geometry is an inclusive range of sectors.
type Geometry struct {
	Start uint64
	End   uint64
}

// Length returns the number of sectors in the range.
func (g Geometry) Length() uint64 {
	if g.End < g.Start {
		return 0
	}
	return g.End - g.Start + 1
}

// Contains reports whether o lies completely inside g.
func (g Geometry) Contains(o Geometry) bool {
	return o.Start >= g.Start && o.End <= g.End
}

// Overlaps reports whether g and o share at least one sector.
func (g Geometry) Overlaps(o Geometry) bool {
	return g.Start <= o.End && o.Start <= g.End
}

func (g Geometry) String() string {
	return fmt.Sprintf("%d-%d", g.Start, g.End)
}

// Flags is the set of partition flags reported by the table.
type Flags uint64

const (
	FlagBoot Flags = 1 << iota
	FlagESP
	FlagBIOSGrub
	FlagLVM
	FlagRAID
	FlagSwap
	FlagHidden
	FlagLBA
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagBoot, "boot"},
	{FlagESP, "esp"},
	{FlagBIOSGrub, "bios_grub"},
	{FlagLVM, "lvm"},
	{FlagRAID, "raid"},
	{FlagSwap, "swap"},
	{FlagHidden, "hidden"},
	{FlagLBA, "lba"},
}

func (f Flags) Has(o Flags) bool {
	return f&o == o
}

// String renders the flags the way parted prints them: "boot, esp".
func (f Flags) String() string {
	var names []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			names = append(names, fn.name)
		}
	}
	return strings.Join(names, ", ")
}

// ParseFlags parses a comma separated flag list; unknown flags are ignored.
func ParseFlags(s string) Flags {
	var f Flags
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		for _, fn := range flagNames {
			if fn.name == item {
				f |= fn.flag
			}
		}
	}
	return f
}

type Partition struct {
	// Device that owns the partition. Set for every partition that is part of
	// a Device, including free space.
	Device *Device

	Number   int    // Partition number, 0 for free space and staged partitions
	Path     string // Device node, empty for free space and staged partitions
	Kind     PartitionKind
	Geometry Geometry

	FSType     string // Filesystem as detected, empty if none
	Flags      Flags
	Mountpoint string // Where the partition is mounted on the live system
	Label      string // Filesystem label as found in the superblock
}

// Clone returns a copy of the partition that is not attached to any device.
func (p *Partition) Clone() *Partition {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Device = nil
	return &clone
}

// IsFree reports whether p is a free space pseudo-partition.
func (p *Partition) IsFree() bool {
	return p.Kind.IsFree()
}

// SizeBytes returns the size of the partition in bytes.
func (p *Partition) SizeBytes() uint64 {
	return p.Device.SectorsToBytes(p.Geometry.Length())
}

// IsMounted reports whether the live system has the partition mounted.
func (p *Partition) IsMounted() bool {
	return p.Mountpoint != ""
}

// Formattable reports whether a filesystem can be created on the partition.
func (p *Partition) Formattable() bool {
	switch p.Kind {
	case KindPrimary, KindLogical:
		return true
	case KindExtended, KindFreeSpace, KindFreeSpaceInExtended:
		return false
	default:
		panic(fmt.Sprintf("unknown partition kind with enum value %d", p.Kind))
	}
}

func (p *Partition) String() string {
	if p.Path != "" {
		return p.Path
	}
	dev := ""
	if p.Device != nil {
		dev = p.Device.Path
	}
	return fmt.Sprintf("%s[%s %s]", dev, p.Kind, p.Geometry)
}
