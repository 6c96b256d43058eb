package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/osbuild/disk-stager/internal/disk"
	"github.com/osbuild/disk-stager/internal/mounts"
)

// Fake is an in-memory Provider for tests. It keeps its own copy of the
// devices as the "hardware" and numbers partitions the way the kernel does:
// primary partitions keep their slot, logical partitions are renumbered
// from 5 in the order of their position on the device.
type Fake struct {
	mu       sync.Mutex
	hardware map[string]*disk.Device
	failures map[string]error
	mounts   mounts.Table

	// Calls records every provider call that changes a device.
	Calls []string
}

// NewFake returns a provider serving copies of devices. Partitions without
// number get one assigned.
func NewFake(table mounts.Table, devices ...*disk.Device) *Fake {
	if table == nil {
		table = mounts.Static{}
	}
	f := &Fake{
		hardware: make(map[string]*disk.Device),
		failures: make(map[string]error),
		mounts:   table,
	}
	for _, dev := range devices {
		hw := dev.Clone()
		renumber(hw)
		f.hardware[hw.Path] = hw
	}
	return f
}

// Fail makes the operation fail with err. Operations are named
// "<op> <path>", e.g. "list /dev/sda", "create /dev/sda",
// "delete /dev/sda2", "replace-table /dev/sda", "finalize /dev/sda". Settle
// has no path and is named "settle ".
func (f *Fake) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = err
}

// Hardware returns a copy of the current state of a device.
func (f *Fake) Hardware(path string) *disk.Device {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hardware[path].Clone()
}

func partitionPath(dev string, number int) string {
	if n := len(dev); n > 0 && dev[n-1] >= '0' && dev[n-1] <= '9' {
		return fmt.Sprintf("%sp%d", dev, number)
	}
	return fmt.Sprintf("%s%d", dev, number)
}

func renumber(dev *disk.Device) {
	used := make(map[int]bool)
	for _, p := range dev.Partitions {
		if p.Kind != disk.KindLogical && p.Number > 0 {
			used[p.Number] = true
		}
	}
	next := 5
	for _, p := range dev.Partitions {
		switch p.Kind {
		case disk.KindLogical:
			p.Number = next
			next++
		default:
			if p.Number == 0 {
				for n := 1; ; n++ {
					if !used[n] {
						p.Number = n
						used[n] = true
						break
					}
				}
			}
		}
		p.Path = partitionPath(dev.Path, p.Number)
	}
}

func (f *Fake) failure(op, path string) error {
	return f.failures[op+" "+path]
}

func (f *Fake) ListDevices(ctx context.Context) ([]*disk.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	paths := make([]string, 0, len(f.hardware))
	for path := range f.hardware {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var res []*disk.Device
	for _, path := range paths {
		hw := f.hardware[path]
		dev := disk.NewDevice(hw.Path, hw.Length, hw.SectorSize, disk.PT_NONE)
		dev.Model = hw.Model
		res = append(res, dev)
	}
	return res, nil
}

func (f *Fake) ListPartitions(ctx context.Context, dev *disk.Device) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failure("list", dev.Path); err != nil {
		return nil, err
	}
	hw, ok := f.hardware[dev.Path]
	if !ok {
		return nil, fmt.Errorf("no such device: %s", dev.Path)
	}

	table := &Table{Type: hw.Table}
	for _, p := range hw.Partitions {
		table.Partitions = append(table.Partitions, p.Clone())
	}
	return table, nil
}

func (f *Fake) IsMounted(p *disk.Partition) bool {
	table, err := f.mounts.Mounts()
	if err != nil {
		return false
	}
	_, ok := mounts.ByDevice(table)[p.Path]
	return ok
}

func (f *Fake) Flags(p *disk.Partition) disk.Flags {
	f.mu.Lock()
	defer f.mu.Unlock()

	if p.Device == nil {
		return 0
	}
	if hw, ok := f.hardware[p.Device.Path]; ok {
		if found := hw.FindByPath(p.Path); found != nil {
			return found.Flags
		}
	}
	return 0
}

func (f *Fake) Create(ctx context.Context, dev *disk.Device, kind disk.PartitionKind, g disk.Geometry) (*disk.Partition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.Calls = append(f.Calls, fmt.Sprintf("create %s %s %s", dev.Path, kind, g))
	if err := f.failure("create", dev.Path); err != nil {
		return nil, err
	}
	hw, ok := f.hardware[dev.Path]
	if !ok {
		return nil, fmt.Errorf("no such device: %s", dev.Path)
	}

	p, err := hw.AddPartition(kind, g)
	if err != nil {
		return nil, err
	}
	renumber(hw)

	res := p.Clone()
	res.Device = dev
	return res, nil
}

func (f *Fake) Delete(ctx context.Context, dev *disk.Device, p *disk.Partition) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.Calls = append(f.Calls, fmt.Sprintf("delete %s %d", dev.Path, p.Number))
	if err := f.failure("delete", p.Path); err != nil {
		return err
	}
	hw, ok := f.hardware[dev.Path]
	if !ok {
		return fmt.Errorf("no such device: %s", dev.Path)
	}

	// like parted, the partition is addressed by number
	for _, hp := range hw.Partitions {
		if hp.Number == p.Number {
			if _, err := hw.RemovePartition(hp.Geometry); err != nil {
				return err
			}
			renumber(hw)
			return nil
		}
	}
	return fmt.Errorf("partition %d not found on %s", p.Number, dev.Path)
}

func (f *Fake) ReplaceTable(ctx context.Context, path string, table disk.PartitionTableType) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.Calls = append(f.Calls, fmt.Sprintf("replace-table %s %s", path, table))
	if err := f.failure("replace-table", path); err != nil {
		return err
	}
	hw, ok := f.hardware[path]
	if !ok {
		return fmt.Errorf("no such device: %s", path)
	}

	fresh := disk.NewDevice(hw.Path, hw.Length, hw.SectorSize, table)
	fresh.Model = hw.Model
	f.hardware[path] = fresh
	return nil
}

func (f *Fake) Finalize(ctx context.Context, dev *disk.Device) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.Calls = append(f.Calls, fmt.Sprintf("finalize %s", dev.Path))
	return f.failure("finalize", dev.Path)
}

func (f *Fake) Settle(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.Calls = append(f.Calls, "settle")
	return f.failure("settle", "")
}
