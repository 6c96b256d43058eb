// Package session holds the state of one partitioning session: the devices
// read at its start, the staged changes and the used space measured so far.
//
// Every staging operation is validated before it changes the plan; a
// rejected operation leaves the plan exactly as it was. The session ends
// with Undo or with a successful Commit.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/osbuild/disk-stager/internal/catalog"
	"github.com/osbuild/disk-stager/internal/commit"
	"github.com/osbuild/disk-stager/internal/common"
	"github.com/osbuild/disk-stager/internal/disk"
	"github.com/osbuild/disk-stager/internal/geometry"
	"github.com/osbuild/disk-stager/internal/layout"
	"github.com/osbuild/disk-stager/internal/mountplan"
	"github.com/osbuild/disk-stager/internal/mounts"
	"github.com/osbuild/disk-stager/internal/prometheus"
	"github.com/osbuild/disk-stager/internal/staging"
	"github.com/osbuild/disk-stager/internal/usedspace"
	"github.com/osbuild/disk-stager/pkg/slogger"
	"github.com/osbuild/disk-stager/pkg/slogger/noop"
)

var ErrSessionClosed = errors.New("staging session is closed")

type Options struct {
	Catalog *catalog.Catalog

	// Used to unmount partitions that are deleted or whose device gets a
	// new partition table.
	Mounts    mounts.Table
	Unmounter mounts.Unmounter

	// Optional; without it the layout carries no used space.
	Measure usedspace.MeasureFunc

	Logger slogger.SimpleLogger
}

// CreateRequest describes a new partition and the filesystem it gets.
type CreateRequest struct {
	Kind       disk.PartitionKind
	SizeMB     uint64
	Placement  geometry.Placement
	Label      string
	Mountpoint string
	FSType     disk.FSType
}

type Session struct {
	opts Options

	mu         sync.Mutex
	snapshot   map[string]*disk.Device
	staged     map[string]*disk.Device
	store      *staging.Store
	cache      *usedspace.Cache
	bootDevice string
	closed     bool
}

// New reads the devices once and starts an empty session on them.
func New(ctx context.Context, opts Options) (*Session, error) {
	if opts.Catalog == nil {
		return nil, errors.New("session needs a device catalog")
	}
	if opts.Mounts == nil {
		opts.Mounts = mounts.Static{}
	}
	if opts.Logger == nil {
		opts.Logger = noop.NewNoopLogger()
	}

	snapshot, err := opts.Catalog.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading devices: %w", err)
	}

	s := &Session{
		opts:     opts,
		snapshot: snapshot,
		store:    staging.NewStore(),
		cache:    usedspace.NewCache(),
	}
	s.staged = catalog.CloneDevices(snapshot)
	s.cache.RetainDevices(snapshot)
	return s, nil
}

func (s *Session) checkOpen() error {
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

// apply runs mutate on a copy of the store and only keeps the result when
// the journal still applies to the devices.
func (s *Session) apply(mutate func(store *staging.Store)) error {
	next := s.store.Clone()
	mutate(next)
	staged, err := next.Replay(s.snapshot)
	if err != nil {
		return err
	}
	s.store = next
	s.staged = staged
	return nil
}

func (s *Session) claims() []mountplan.Claim {
	return mountplan.Collect(s.staged, s.store.All())
}

// Devices returns a copy of the devices with the staged changes applied.
func (s *Session) Devices() map[string]*disk.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return catalog.CloneDevices(s.staged)
}

// Layout returns the display tree of the staged devices.
func (s *Session) Layout() *layout.Tree {
	s.mu.Lock()
	defer s.mu.Unlock()
	return layout.Build(s.staged, s.store, s.cache, s.opts.Measure)
}

// Operations returns the staged structural changes.
func (s *Session) Operations() []staging.Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Operations()
}

// Edits returns the staged edits.
func (s *Session) Edits() []staging.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.All()
}

func (s *Session) device(path string) (*disk.Device, error) {
	dev, ok := s.staged[path]
	if !ok {
		return nil, fmt.Errorf("unknown device %s", path)
	}
	return dev, nil
}

func (s *Session) partition(id disk.Identity) (*disk.Partition, error) {
	dev, err := s.device(id.Device)
	if err != nil {
		return nil, err
	}
	p := dev.FindByGeometry(id.Geometry())
	if p == nil {
		return nil, fmt.Errorf("no partition %s", id)
	}
	return p, nil
}

// FreeRegions returns the free regions of a staged device.
func (s *Session) FreeRegions(path string) ([]*disk.Partition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dev, err := s.device(path)
	if err != nil {
		return nil, err
	}
	return dev.Clone().FreeSpace(), nil
}

// Partition returns a copy of the staged partition with the given identity.
func (s *Session) Partition(id disk.Identity) (*disk.Partition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.partition(id); err != nil {
		return nil, err
	}
	return s.staged[id.Device].Clone().FindByGeometry(id.Geometry()), nil
}

// Resolve returns the identity of the partition with the given device node.
func (s *Session) Resolve(path string) (disk.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, devPath := range catalog.SortedPaths(s.staged) {
		if p := s.staged[devPath].FindByPath(path); p != nil {
			id, _ := disk.IdentityOf(p)
			return id, nil
		}
	}
	return disk.Identity{}, fmt.Errorf("no partition %s", path)
}

// Claims returns the mount points claimed by the staged layout.
func (s *Session) Claims() []mountplan.Claim {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claims()
}

// Committable returns nil when the staged layout can be committed, and the
// *disk.MountConflictError that prevents it otherwise.
func (s *Session) Committable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return mountplan.Check(s.claims())
}

// CheckMountpoint validates a mount point proposed for a partition while it
// is typed, before anything is staged.
func (s *Session) CheckMountpoint(mountpoint string, proposer disk.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := mountplan.Validate(mountpoint, disk.FS_NONE); err != nil {
		return err
	}
	return s.checkConflict(mountpoint, proposer)
}

func (s *Session) checkConflict(mountpoint string, proposer disk.Identity) error {
	claims := s.claims()
	if !mountplan.Conflict(claims, mountpoint, proposer) {
		return nil
	}
	var claimants []string
	for _, c := range claims {
		if c.Mountpoint == mountpoint && c.Identity != proposer {
			claimants = append(claimants, c.Identity.String())
		}
	}
	return &disk.MountConflictError{
		Mountpoint: mountpoint,
		Claimants:  append(claimants, proposer.String()),
	}
}

// BootDevice returns the device selected for the boot loader.
func (s *Session) BootDevice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bootDevice
}

// SetBootDevice selects the device the boot loader is installed to. It has
// to be one of catalog.BootCandidates.
func (s *Session) SetBootDevice(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	for _, c := range catalog.BootCandidates(s.staged) {
		if c.Path == path {
			s.bootDevice = path
			return nil
		}
	}
	return fmt.Errorf("%s cannot hold a boot loader", path)
}

// Create stages a new partition in a free region. The partition is always
// formatted with the requested filesystem on commit.
func (s *Session) Create(region *disk.Partition, req CreateRequest) (id disk.Identity, err error) {
	defer func() { prometheus.StagingMetrics(staging.OpCreate.String(), err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return disk.Identity{}, err
	}
	if region == nil || region.Device == nil {
		return disk.Identity{}, errors.New("no free region selected")
	}

	dev, err := s.device(region.Device.Path)
	if err != nil {
		return disk.Identity{}, err
	}
	free := freeRegionAt(dev, region.Geometry)
	if free == nil {
		return disk.Identity{}, fmt.Errorf("%s is not a free region of %s", region.Geometry, dev.Path)
	}

	g, err := geometry.PlanCreate(dev, free, geometry.Request{
		Kind:      req.Kind,
		SizeMB:    req.SizeMB,
		Placement: req.Placement,
	})
	if err != nil {
		return disk.Identity{}, err
	}
	id = disk.Identity{Device: dev.Path, Start: g.Start, End: g.End}

	edit := staging.Edit{}
	if req.Kind == disk.KindExtended {
		if req.FSType != disk.FS_NONE || req.Mountpoint != "" || req.Label != "" {
			return disk.Identity{}, &disk.StructuralIneligibleError{Device: dev.Path, Kind: req.Kind, Reason: "extended partitions cannot hold a filesystem"}
		}
	} else {
		if err := mountplan.Validate(req.Mountpoint, req.FSType); err != nil {
			return disk.Identity{}, err
		}
		if err := s.checkConflict(req.Mountpoint, id); err != nil {
			return disk.Identity{}, err
		}
		edit = staging.Edit{
			Label:      req.Label,
			Mountpoint: req.Mountpoint,
			FSType:     req.FSType,
			Format:     true,
		}
	}

	err = s.apply(func(store *staging.Store) {
		store.RecordCreate(dev.Path, req.Kind, g, edit)
	})
	if err != nil {
		return disk.Identity{}, err
	}
	s.cache.Invalidate(id)

	s.opts.Logger.Info("staged new partition", "partition", id.String(), "kind", req.Kind.String(), "size", disk.HumanSize(dev.SectorsToBytes(g.Length())))
	return id, nil
}

func freeRegionAt(dev *disk.Device, g disk.Geometry) *disk.Partition {
	for _, region := range dev.FreeSpace() {
		if region.Geometry == g {
			return region
		}
	}
	return nil
}

// Edit stages new settings for a partition. Partitions created by the plan
// are always formatted.
func (s *Session) Edit(id disk.Identity, edit staging.Edit) (err error) {
	defer func() { prometheus.StagingMetrics("edit", err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	p, err := s.partition(id)
	if err != nil {
		return err
	}
	if err := checkNotContainer(p); err != nil {
		return err
	}

	if s.store.IsCreated(id) {
		edit.Format = true
	}
	if edit.Format && edit.FSType == disk.FS_NONE {
		return fmt.Errorf("cannot format %s without a filesystem type", p)
	}

	fsType := edit.FSType
	if fsType == disk.FS_NONE {
		// unknown detected filesystems are validated like none
		fsType, _ = disk.NewFSType(p.FSType)
	}
	if err := mountplan.Validate(edit.Mountpoint, fsType); err != nil {
		return err
	}
	if err := s.checkConflict(edit.Mountpoint, id); err != nil {
		return err
	}

	err = s.apply(func(store *staging.Store) {
		store.Stage(id, edit)
	})
	if err != nil {
		return err
	}

	s.opts.Logger.Info("staged partition edit", "partition", id.String(), "mountpoint", edit.Mountpoint, "fstype", edit.FSType.String())
	return nil
}

// checkNotContainer rejects edits and deletes of extended partitions that
// hold logical partitions, and edits of any extended partition.
func checkNotContainer(p *disk.Partition) error {
	if p.Kind != disk.KindExtended {
		return nil
	}
	reason := "extended partitions cannot hold a filesystem"
	if p.Device.LogicalCount() > 0 {
		reason = "extended partition still contains logical partitions"
	}
	return &disk.StructuralIneligibleError{Device: p.Device.Path, Kind: p.Kind, Reason: reason}
}

func (s *Session) unmount(ctx context.Context, p *disk.Partition) error {
	if p.Mountpoint == "" || p.Path == "" {
		return nil
	}
	if s.opts.Unmounter == nil {
		return &disk.UnmountRequiredError{Partition: p.Path, Mountpoint: p.Mountpoint, Err: errors.New("no unmounter available")}
	}
	if err := mounts.UnmountDevice(ctx, s.opts.Mounts, s.opts.Unmounter, p.Path); err != nil {
		return err
	}
	s.opts.Logger.Info("unmounted partition", "partition", p.Path, "mountpoint", p.Mountpoint)

	// the live partition is no longer mounted
	if live := s.snapshot[p.Device.Path].FindByGeometry(p.Geometry); live != nil {
		live.Mountpoint = ""
	}
	p.Mountpoint = ""
	return nil
}

// Delete stages the removal of a partition. A mounted partition is
// unmounted first; when that fails the plan is left untouched and a
// *disk.UnmountRequiredError is returned.
func (s *Session) Delete(ctx context.Context, id disk.Identity) (err error) {
	defer func() { prometheus.StagingMetrics(staging.OpDelete.String(), err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	p, err := s.partition(id)
	if err != nil {
		return err
	}
	if p.Kind == disk.KindExtended && p.Device.LogicalCount() > 0 {
		return checkNotContainer(p)
	}
	if err := s.unmount(ctx, p); err != nil {
		return err
	}

	kind := p.Kind
	err = s.apply(func(store *staging.Store) {
		store.RecordDelete(id.Device, kind, id.Geometry())
	})
	if err != nil {
		return err
	}
	s.cache.Invalidate(id)

	s.opts.Logger.Info("staged partition removal", "partition", id.String())
	return nil
}

// NewTable stages a new, empty partition table for a device. Mounted
// partitions of the device are unmounted first, deepest mount point first;
// staged edits of the device are dropped. When an unmount fails nothing is
// staged, but the partitions unmounted before it stay unmounted and are
// shown as such.
func (s *Session) NewTable(ctx context.Context, path string, table disk.PartitionTableType) (err error) {
	defer func() { prometheus.StagingMetrics(staging.OpReplaceTable.String(), err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	dev, err := s.device(path)
	if err != nil {
		return err
	}
	if table == disk.PT_NONE {
		return fmt.Errorf("cannot stage a partition table of type %s on %s", table, path)
	}
	// nested mount points first
	mounted := append([]*disk.Partition(nil), dev.Partitions...)
	sort.SliceStable(mounted, func(i, j int) bool {
		return len(mounted[i].Mountpoint) > len(mounted[j].Mountpoint)
	})
	var unmounted []string
	for _, p := range mounted {
		mountpoint := p.Mountpoint
		if err := s.unmount(ctx, p); err != nil {
			if len(unmounted) > 0 {
				s.opts.Logger.Info("partition table not staged, some partitions were already unmounted", "device", path, "mountpoints", strings.Join(unmounted, ","))
			}
			return err
		}
		if mountpoint != "" && p.Mountpoint == "" {
			unmounted = append(unmounted, mountpoint)
		}
	}

	var orphans []disk.Identity
	err = s.apply(func(store *staging.Store) {
		orphans = store.RecordReplaceTable(path, table)
	})
	if err != nil {
		return err
	}
	for _, id := range orphans {
		s.opts.Logger.Info("dropping staged edit of partition on replaced table", "partition", id.String())
	}
	for _, p := range s.snapshot[path].Partitions {
		if id, ok := disk.IdentityOf(p); ok {
			s.cache.Invalidate(id)
		}
	}

	s.opts.Logger.Info("staged new partition table", "device", path, "table", table.String())
	return nil
}

// Undo discards every staged change and ends the session. The devices are
// read again and a fresh session on them is returned.
func (s *Session) Undo(ctx context.Context) (*Session, error) {
	s.mu.Lock()
	if err := s.checkOpen(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.store.Clear()
	s.closed = true
	s.mu.Unlock()

	s.opts.Catalog.Invalidate()
	s.opts.Logger.Info("discarded staged changes")
	return New(ctx, s.opts)
}

// Commit applies the plan with the engine. The session ends when the
// commit succeeds or fails after changing devices; validation errors leave
// it open for corrections.
func (s *Session) Commit(ctx context.Context, engine *commit.Engine) (*commit.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := mountplan.Check(s.claims()); err != nil {
		return nil, err
	}

	res, err := engine.Commit(ctx, commit.Plan{
		Snapshot:   s.snapshot,
		Store:      s.store,
		BootDevice: s.bootDevice,
	})
	if engine.State() != common.CSPlanning {
		s.closed = true
		s.opts.Catalog.Invalidate()
	}
	return res, err
}
