package disk

import (
	"fmt"
	"sort"
)

// Device is a physical block device and its partition table.
type Device struct {
	Path       string
	Model      string
	Length     uint64 // Size of the device in sectors
	SectorSize uint64 // Logical sector size in bytes
	Table      PartitionTableType

	MaxPrimary int // Number of primary slots (primary + extended)
	MaxLogical int // Number of logical partitions, 0 means unlimited

	// Partitions sorted by start sector. Free space is never stored here.
	Partitions []*Partition
}

// NewDevice returns an empty device with the limits of the given table type.
func NewDevice(path string, length, sectorSize uint64, table PartitionTableType) *Device {
	return &Device{
		Path:       path,
		Length:     length,
		SectorSize: sectorSize,
		Table:      table,
		MaxPrimary: table.MaxPrimary(),
		MaxLogical: table.MaxLogical(),
	}
}

// Clone returns a deep copy of the device; the partitions of the copy point
// back to the copy.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}

	clone := &Device{
		Path:       d.Path,
		Model:      d.Model,
		Length:     d.Length,
		SectorSize: d.SectorSize,
		Table:      d.Table,
		MaxPrimary: d.MaxPrimary,
		MaxLogical: d.MaxLogical,
		Partitions: make([]*Partition, 0, len(d.Partitions)),
	}
	for _, p := range d.Partitions {
		pc := p.Clone()
		pc.Device = clone
		clone.Partitions = append(clone.Partitions, pc)
	}
	return clone
}

// Convert the given bytes to the number of sectors.
func (d *Device) BytesToSectors(size uint64) uint64 {
	return size / d.sectorSize()
}

// Convert the given number of sectors to bytes.
func (d *Device) SectorsToBytes(size uint64) uint64 {
	return size * d.sectorSize()
}

func (d *Device) sectorSize() uint64 {
	if d == nil || d.SectorSize == 0 {
		return DefaultSectorSize
	}
	return d.SectorSize
}

// SizeBytes returns the size of the whole device in bytes.
func (d *Device) SizeBytes() uint64 {
	return d.SectorsToBytes(d.Length)
}

// FirstUsable returns the first sector a partition may start at.
func (d *Device) FirstUsable() uint64 {
	return d.BytesToSectors(DefaultGrainBytes)
}

// LastUsable returns the last sector a partition may end at.
func (d *Device) LastUsable() uint64 {
	reserved := uint64(1)
	if d.Table == PT_GPT {
		reserved += GPTFooterSectors
	}
	if d.Length < reserved {
		return 0
	}
	return d.Length - reserved
}

// SupportsExtended reports whether the table can hold an extended partition.
func (d *Device) SupportsExtended() bool {
	return d.Table == PT_MSDOS
}

// Extended returns the extended partition or nil.
func (d *Device) Extended() *Partition {
	for _, p := range d.Partitions {
		if p.Kind == KindExtended {
			return p
		}
	}
	return nil
}

func (d *Device) HasExtended() bool {
	return d.Extended() != nil
}

// PrimaryCount returns the number of used primary slots. The extended
// partition occupies a primary slot.
func (d *Device) PrimaryCount() int {
	n := 0
	for _, p := range d.Partitions {
		if p.Kind == KindPrimary || p.Kind == KindExtended {
			n++
		}
	}
	return n
}

func (d *Device) LogicalCount() int {
	return len(d.Logicals())
}

// Logicals returns the logical partitions, sorted by start sector.
func (d *Device) Logicals() []*Partition {
	var res []*Partition
	for _, p := range d.Partitions {
		if p.Kind == KindLogical {
			res = append(res, p)
		}
	}
	return res
}

// FindByGeometry returns the partition occupying exactly g or nil.
func (d *Device) FindByGeometry(g Geometry) *Partition {
	for _, p := range d.Partitions {
		if p.Geometry == g {
			return p
		}
	}
	return nil
}

// FindByPath returns the partition with the given device node or nil.
func (d *Device) FindByPath(path string) *Partition {
	for _, p := range d.Partitions {
		if p.Path != "" && p.Path == path {
			return p
		}
	}
	return nil
}

// Sort orders the partitions by start sector and reattaches them to d.
func (d *Device) Sort() {
	for _, p := range d.Partitions {
		p.Device = d
	}
	sort.SliceStable(d.Partitions, func(i, j int) bool {
		return d.Partitions[i].Geometry.Start < d.Partitions[j].Geometry.Start
	})
}

// AddPartition inserts a new partition of the given kind. The structural
// rules of the table are enforced; the caller is expected to have picked the
// geometry from one of the free regions of the device.
func (d *Device) AddPartition(kind PartitionKind, g Geometry) (*Partition, error) {
	ineligible := func(reason string) error {
		return &StructuralIneligibleError{Device: d.Path, Kind: kind, Reason: reason}
	}

	if g.End < g.Start {
		return nil, fmt.Errorf("invalid geometry %s on %s", g, d.Path)
	}
	if g.Start < d.FirstUsable() || g.End > d.LastUsable() {
		return nil, ineligible(fmt.Sprintf("geometry %s outside of usable range %d-%d", g, d.FirstUsable(), d.LastUsable()))
	}

	switch kind {
	case KindPrimary, KindExtended:
		if d.Table == PT_NONE {
			return nil, ineligible("device has no partition table")
		}
		if d.PrimaryCount() >= d.MaxPrimary {
			return nil, ineligible(fmt.Sprintf("maximum number of primary partitions reached (%d)", d.MaxPrimary))
		}
		if kind == KindExtended {
			if !d.SupportsExtended() {
				return nil, ineligible(fmt.Sprintf("%s partition tables do not support extended partitions", d.Table))
			}
			if d.HasExtended() {
				return nil, ineligible("device already has an extended partition")
			}
		}
		for _, p := range d.Partitions {
			if p.Kind != KindLogical && p.Geometry.Overlaps(g) {
				return nil, ineligible(fmt.Sprintf("geometry %s overlaps %s", g, p))
			}
		}
	case KindLogical:
		ext := d.Extended()
		if ext == nil {
			return nil, ineligible("device has no extended partition")
		}
		if g.Start <= ext.Geometry.Start || g.End > ext.Geometry.End {
			return nil, ineligible(fmt.Sprintf("geometry %s is not inside the extended partition", g))
		}
		if d.MaxLogical != NoLogicalLimit && d.LogicalCount() >= d.MaxLogical {
			return nil, ineligible(fmt.Sprintf("maximum number of logical partitions reached (%d)", d.MaxLogical))
		}
		for _, p := range d.Logicals() {
			if p.Geometry.Overlaps(g) {
				return nil, ineligible(fmt.Sprintf("geometry %s overlaps %s", g, p))
			}
		}
	case KindFreeSpace, KindFreeSpaceInExtended:
		return nil, fmt.Errorf("cannot add free space to %s", d.Path)
	default:
		panic(fmt.Sprintf("unknown partition kind with enum value %d", kind))
	}

	p := &Partition{Device: d, Kind: kind, Geometry: g}
	d.Partitions = append(d.Partitions, p)
	d.Sort()
	return p, nil
}

// RemovePartition removes the partition occupying exactly g. An extended
// partition can only be removed once it holds no logical partitions.
func (d *Device) RemovePartition(g Geometry) (*Partition, error) {
	for idx, p := range d.Partitions {
		if p.Geometry != g {
			continue
		}
		if p.Kind == KindExtended && d.LogicalCount() > 0 {
			return nil, &StructuralIneligibleError{
				Device: d.Path,
				Kind:   p.Kind,
				Reason: "extended partition still contains logical partitions",
			}
		}
		d.Partitions = append(d.Partitions[:idx], d.Partitions[idx+1:]...)
		p.Device = nil
		return p, nil
	}
	return nil, fmt.Errorf("no partition at %s on %s", g, d.Path)
}

// FreeSpace synthesizes the free regions of the device, sorted by start
// sector. Top level gaps are KindFreeSpace, gaps inside the extended
// partition are KindFreeSpaceInExtended. Regions smaller than MinFreeBytes
// are not reported.
func (d *Device) FreeSpace() []*Partition {
	if d.Table == PT_NONE || d.LastUsable() < d.FirstUsable() {
		return nil
	}

	var free []*Partition
	add := func(kind PartitionKind, start, end uint64) {
		if end < start {
			return
		}
		g := Geometry{Start: start, End: end}
		if d.SectorsToBytes(g.Length()) < MinFreeBytes {
			return
		}
		free = append(free, &Partition{Device: d, Kind: kind, Geometry: g, FSType: ""})
	}

	cursor := d.FirstUsable()
	for _, p := range d.Partitions {
		if p.Kind == KindLogical {
			continue
		}
		if p.Geometry.Start > cursor {
			add(KindFreeSpace, cursor, p.Geometry.Start-1)
		}
		if p.Geometry.End+1 > cursor {
			cursor = p.Geometry.End + 1
		}
	}
	add(KindFreeSpace, cursor, d.LastUsable())

	if ext := d.Extended(); ext != nil {
		cursor = ext.Geometry.Start
		for _, l := range d.Logicals() {
			if l.Geometry.Start > cursor+2*EBRSectors {
				add(KindFreeSpaceInExtended, cursor+EBRSectors, l.Geometry.Start-EBRSectors-1)
			}
			cursor = l.Geometry.End + 1
		}
		add(KindFreeSpaceInExtended, cursor+EBRSectors, ext.Geometry.End)
	}

	sort.SliceStable(free, func(i, j int) bool {
		return free[i].Geometry.Start < free[j].Geometry.Start
	})
	return free
}

// WithFreeSpace returns partitions and free regions merged and sorted by
// start sector, i.e. in the physical order of the device.
func (d *Device) WithFreeSpace() []*Partition {
	all := append([]*Partition{}, d.Partitions...)
	all = append(all, d.FreeSpace()...)
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Geometry.Start < all[j].Geometry.Start
	})
	return all
}
