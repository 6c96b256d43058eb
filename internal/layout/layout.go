// Package layout builds the tree of devices, partitions and free regions
// that is shown to the user, with staged edits merged in.
package layout

import (
	"fmt"
	"sort"

	"github.com/osbuild/disk-stager/internal/catalog"
	"github.com/osbuild/disk-stager/internal/disk"
	"github.com/osbuild/disk-stager/internal/geometry"
	"github.com/osbuild/disk-stager/internal/staging"
	"github.com/osbuild/disk-stager/internal/usedspace"
)

const (
	// FreeSpacePath is the display path of free regions.
	FreeSpacePath = "free space"

	// NoFilesystem is the filesystem shown for free regions.
	NoFilesystem = "none"

	// ExtendedFilesystem is the filesystem shown for extended partitions.
	ExtendedFilesystem = "extended"

	// UnknownFilesystem is shown for live partitions without a detected
	// filesystem.
	UnknownFilesystem = "?"
)

// Row is a device, a partition or a free region.
type Row struct {
	IsDevice bool
	Device   string

	// Device node, FreeSpacePath for free regions, empty for partitions
	// created by the plan.
	Path     string
	Kind     disk.PartitionKind
	Geometry disk.Geometry

	// Zero for device rows and free regions.
	Identity disk.Identity

	Model string                  // device rows only
	Table disk.PartitionTableType // device rows only

	FSType      string
	Label       string
	Mountpoint  string
	Flags       disk.Flags
	Format      bool
	Formattable bool
	Staged      bool
	Created     bool

	SizeBytes uint64
	Size      string
	Used      string // empty when unknown

	// Partition kinds that can be created in a free region, empty when the
	// region cannot take any.
	Offers []disk.PartitionKind

	Children []*Row
}

// HasIdentity reports whether the row is a partition.
func (r *Row) HasIdentity() bool {
	return !r.IsDevice && !r.Kind.IsFree()
}

// Tree holds one row per device, sorted by device path.
type Tree struct {
	Devices []*Row
}

// Build returns the tree of the staged devices. devices must have the
// journal of store applied. The used space of live partitions without a
// staged edit is taken from cache, computed with measure on a miss; a nil
// cache or measure leaves it empty.
func Build(devices map[string]*disk.Device, store *staging.Store, cache *usedspace.Cache, measure usedspace.MeasureFunc) *Tree {
	tree := &Tree{}
	for _, path := range catalog.SortedPaths(devices) {
		tree.Devices = append(tree.Devices, buildDevice(devices[path], store, cache, measure))
	}
	return tree
}

func buildDevice(dev *disk.Device, store *staging.Store, cache *usedspace.Cache, measure usedspace.MeasureFunc) *Row {
	size := dev.SizeBytes()
	root := &Row{
		IsDevice:  true,
		Device:    dev.Path,
		Path:      dev.Path,
		Model:     dev.Model,
		Table:     dev.Table,
		SizeBytes: size,
		Size:      disk.HumanSize(size),
	}

	var extended *Row
	for _, p := range dev.WithFreeSpace() {
		row := buildPartition(dev, p, store, cache, measure)

		switch p.Kind {
		case disk.KindPrimary, disk.KindFreeSpace:
			root.Children = append(root.Children, row)
		case disk.KindExtended:
			root.Children = append(root.Children, row)
			extended = row
		case disk.KindLogical, disk.KindFreeSpaceInExtended:
			if extended == nil {
				panic(fmt.Sprintf("programming error: %s row outside of an extended partition on %s", p.Kind, dev.Path))
			}
			extended.Children = append(extended.Children, row)
		default:
			panic(fmt.Sprintf("unknown partition kind with enum value %d", p.Kind))
		}
	}

	return root
}

func buildPartition(dev *disk.Device, p *disk.Partition, store *staging.Store, cache *usedspace.Cache, measure usedspace.MeasureFunc) *Row {
	size := p.SizeBytes()
	row := &Row{
		Device:    dev.Path,
		Path:      p.Path,
		Kind:      p.Kind,
		Geometry:  p.Geometry,
		SizeBytes: size,
		Size:      disk.HumanSize(size),
	}

	if p.IsFree() {
		row.Path = FreeSpacePath
		row.FSType = NoFilesystem
		row.Offers = geometry.EligibleKinds(dev, p)
		return row
	}

	id, _ := disk.IdentityOf(p)
	row.Identity = id
	row.Flags = p.Flags
	row.Label = p.Label
	row.Mountpoint = p.Mountpoint
	row.FSType = p.FSType
	row.Formattable = p.Formattable()

	if p.Kind == disk.KindExtended {
		row.FSType = ExtendedFilesystem
		return row
	}

	if edit, ok := store.Lookup(id); ok {
		row.Staged = true
		row.Created = store.IsCreated(id)
		row.Label = edit.Label
		row.Mountpoint = edit.Mountpoint
		row.Format = edit.Format
		if edit.FSType != disk.FS_NONE {
			row.FSType = edit.FSType.String()
		}
		return row
	}

	if row.FSType == "" {
		row.FSType = UnknownFilesystem
		return row
	}

	if cache != nil && measure != nil && p.Path != "" {
		used, err := cache.GetOrCompute(id, func() (uint64, error) {
			return measure(p)
		})
		if err == nil {
			row.Used = disk.HumanSize(used)
		}
	}

	return row
}

// Walk calls fn for every row in display order, with the nesting depth of
// the row (0 for devices). Walk stops when fn returns false.
func (t *Tree) Walk(fn func(row *Row, depth int) bool) {
	var walk func(rows []*Row, depth int) bool
	walk = func(rows []*Row, depth int) bool {
		for _, row := range rows {
			if !fn(row, depth) {
				return false
			}
			if !walk(row.Children, depth+1) {
				return false
			}
		}
		return true
	}
	walk(t.Devices, 0)
}

// Identities returns the identities of every partition row, sorted.
func (t *Tree) Identities() []disk.Identity {
	var ids []disk.Identity
	t.Walk(func(row *Row, _ int) bool {
		if row.HasIdentity() {
			ids = append(ids, row.Identity)
		}
		return true
	})
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].Less(ids[j])
	})
	return ids
}
