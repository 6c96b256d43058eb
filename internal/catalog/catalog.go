// Package catalog enumerates the block devices of the host and their
// partition tables.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gobwas/glob"
	"golang.org/x/sync/errgroup"

	"github.com/osbuild/disk-stager/internal/devlock"
	"github.com/osbuild/disk-stager/internal/disk"
	"github.com/osbuild/disk-stager/internal/fsinfo"
	"github.com/osbuild/disk-stager/internal/mounts"
	"github.com/osbuild/disk-stager/internal/prometheus"
	"github.com/osbuild/disk-stager/pkg/slogger"
	"github.com/osbuild/disk-stager/pkg/slogger/noop"
)

// Table is the partition table read from a device.
type Table struct {
	Type       disk.PartitionTableType
	Partitions []*disk.Partition
}

// Provider enumerates devices and partitions and applies structural changes
// to partition tables.
type Provider interface {
	// ListDevices returns the whole-disk block devices, without partitions.
	ListDevices(ctx context.Context) ([]*disk.Device, error)

	// ListPartitions reads the partition table of dev.
	ListPartitions(ctx context.Context, dev *disk.Device) (*Table, error)

	// IsMounted reports whether the partition is mounted on the live system.
	IsMounted(p *disk.Partition) bool

	// Flags returns the flags of a partition returned by ListPartitions.
	Flags(p *disk.Partition) disk.Flags

	// Create adds a partition of the given kind and geometry to dev and
	// returns it as found on the device afterwards.
	Create(ctx context.Context, dev *disk.Device, kind disk.PartitionKind, g disk.Geometry) (*disk.Partition, error)

	// Delete removes the partition p from dev.
	Delete(ctx context.Context, dev *disk.Device, p *disk.Partition) error

	// ReplaceTable writes a new, empty partition table to the device.
	ReplaceTable(ctx context.Context, path string, table disk.PartitionTableType) error

	// Finalize makes the kernel re-read the partition table of dev. It is
	// called while dev is still locked.
	Finalize(ctx context.Context, dev *disk.Device) error

	// Settle waits until udev has processed the events of the finalized
	// devices. udev holds back the events of a locked device, so Settle is
	// only called once the device locks are released.
	Settle(ctx context.Context) error
}

// DefaultExclude are the device nodes that are never offered for
// partitioning: optical drives, device-mapper, md raid, loop, zram and
// ram disks.
var DefaultExclude = []string{
	"/dev/sr*",
	"/dev/mapper/*",
	"/dev/dm-*",
	"/dev/md*",
	"/dev/loop*",
	"/dev/zram*",
	"/dev/ram*",
}

const DefaultParallelism = 4

type Options struct {
	Provider Provider
	Mounts   mounts.Table

	// Optional; labels and undetected filesystem types are probed with it.
	FSInfo fsinfo.Provider

	// Optional; defaults to devlock.Nop.
	Locker devlock.Locker

	// Glob patterns of device paths to skip, DefaultExclude if nil.
	Exclude []string

	// Number of devices read at the same time, DefaultParallelism if 0.
	Parallelism int

	Logger slogger.SimpleLogger
}

// Catalog caches the devices of the host until Invalidate is called.
type Catalog struct {
	opts    Options
	exclude []glob.Glob

	mu         sync.Mutex
	devices    map[string]*disk.Device
	readErrors []*disk.DeviceReadError
}

func New(opts Options) (*Catalog, error) {
	if opts.Provider == nil {
		return nil, errors.New("catalog needs a device provider")
	}
	if opts.Mounts == nil {
		opts.Mounts = mounts.Static{}
	}
	if opts.Locker == nil {
		opts.Locker = devlock.Nop{}
	}
	if opts.Exclude == nil {
		opts.Exclude = DefaultExclude
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = DefaultParallelism
	}
	if opts.Logger == nil {
		opts.Logger = noop.NewNoopLogger()
	}

	c := &Catalog{opts: opts}
	for _, pattern := range opts.Exclude {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid device exclude pattern %q: %w", pattern, err)
		}
		c.exclude = append(c.exclude, g)
	}

	return c, nil
}

// Provider returns the provider the catalog reads from.
func (c *Catalog) Provider() Provider {
	return c.opts.Provider
}

// Excluded reports whether the device path matches one of the exclude
// patterns.
func (c *Catalog) Excluded(path string) bool {
	for _, g := range c.exclude {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// Invalidate drops the cached devices; the next Refresh reads the hardware
// again.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.devices = nil
	c.readErrors = nil
}

// ReadErrors returns the devices that could not be read during the last
// refresh.
func (c *Catalog) ReadErrors() []*disk.DeviceReadError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*disk.DeviceReadError(nil), c.readErrors...)
}

// Refresh returns the devices of the host keyed by path. The hardware is
// only read on the first call after New or Invalidate; the result is a deep
// copy the caller may modify. A device whose partition table cannot be read
// is returned without partitions and with table type none.
func (c *Catalog) Refresh(ctx context.Context) (map[string]*disk.Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.devices == nil {
		devices, readErrors, err := c.read(ctx)
		if err != nil {
			return nil, err
		}
		c.devices = devices
		c.readErrors = readErrors
	}

	return CloneDevices(c.devices), nil
}

func (c *Catalog) read(ctx context.Context) (map[string]*disk.Device, []*disk.DeviceReadError, error) {
	observe := prometheus.Timer()

	listed, err := c.opts.Provider.ListDevices(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("listing block devices: %w", err)
	}

	table, err := c.opts.Mounts.Mounts()
	if err != nil {
		return nil, nil, err
	}
	mounted := mounts.ByDevice(table)

	var devices []*disk.Device
	for _, dev := range listed {
		if c.Excluded(dev.Path) {
			c.opts.Logger.Debug("skipping excluded device", "device", dev.Path)
			continue
		}
		devices = append(devices, dev)
	}

	readErrors := make([]*disk.DeviceReadError, len(devices))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Parallelism)
	for idx, dev := range devices {
		g.Go(func() error {
			err := c.readDevice(gctx, dev, mounted)
			var readErr *disk.DeviceReadError
			if errors.As(err, &readErr) {
				c.opts.Logger.Error(readErr.Err, "cannot read partition table, skipping", "device", dev.Path)
				readErrors[idx] = readErr
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	res := make(map[string]*disk.Device, len(devices))
	var failed []*disk.DeviceReadError
	for idx, dev := range devices {
		res[dev.Path] = dev
		if readErrors[idx] != nil {
			failed = append(failed, readErrors[idx])
		}
	}

	prometheus.RefreshMetrics(observe, len(failed))
	c.opts.Logger.Info("read partition tables", "devices", fmt.Sprint(len(res)), "failed", fmt.Sprint(len(failed)))
	return res, failed, nil
}

// readDevice fills in the partitions of dev. Failures to read the table are
// returned as *disk.DeviceReadError, with dev reset to an empty table.
func (c *Catalog) readDevice(ctx context.Context, dev *disk.Device, mounted map[string]mounts.Mount) error {
	release, err := c.opts.Locker.Acquire(ctx, devlock.Shared, dev.Path)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return c.unreadable(dev, err)
	}
	defer func() {
		if err := release(); err != nil {
			c.opts.Logger.Error(err, "cannot release device lock", "device", dev.Path)
		}
	}()

	table, err := c.opts.Provider.ListPartitions(ctx, dev)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return c.unreadable(dev, err)
	}

	dev.Table = table.Type
	dev.MaxPrimary = table.Type.MaxPrimary()
	dev.MaxLogical = table.Type.MaxLogical()
	dev.Partitions = table.Partitions
	dev.Sort()

	for _, p := range dev.Partitions {
		p.Flags = c.opts.Provider.Flags(p)
		c.probeFilesystem(ctx, p)

		// swap is never shown as mounted
		if m, ok := mounted[p.Path]; ok && c.opts.Provider.IsMounted(p) && !isSwap(p.FSType) {
			p.Mountpoint = m.Mountpoint
		}
	}

	return nil
}

func (c *Catalog) unreadable(dev *disk.Device, err error) error {
	dev.Table = disk.PT_NONE
	dev.MaxPrimary = 0
	dev.MaxLogical = 0
	dev.Partitions = nil
	return &disk.DeviceReadError{Device: dev.Path, Err: err}
}

func (c *Catalog) probeFilesystem(ctx context.Context, p *disk.Partition) {
	if c.opts.FSInfo == nil || p.Path == "" || p.Kind == disk.KindExtended {
		return
	}

	if p.FSType == "" {
		fsType, err := c.opts.FSInfo.ProbeType(ctx, p.Path)
		if err != nil {
			c.opts.Logger.Error(err, "cannot probe filesystem type", "partition", p.Path)
		}
		p.FSType = fsType
	}
	if p.FSType == "" {
		return
	}

	label, err := c.opts.FSInfo.ProbeLabel(ctx, p.Path)
	if err != nil {
		c.opts.Logger.Error(err, "cannot probe filesystem label", "partition", p.Path)
		return
	}
	if label != "" {
		p.Label = label
	}
}

func isSwap(fsType string) bool {
	return fsType == "swap" || fsType == "linux-swap"
}

// CloneDevices returns a deep copy of a device map.
func CloneDevices(devices map[string]*disk.Device) map[string]*disk.Device {
	res := make(map[string]*disk.Device, len(devices))
	for path, dev := range devices {
		res[path] = dev.Clone()
	}
	return res
}

// SortedPaths returns the device paths of a device map in sorted order.
func SortedPaths(devices map[string]*disk.Device) []string {
	paths := make([]string, 0, len(devices))
	for path := range devices {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}
