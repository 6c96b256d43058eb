// Package commit applies a staged plan to the devices of the host.
//
// A commit goes through the states PLANNING, APPLYING, FINALIZING and DONE,
// or ends in FAILED. The plan is validated while PLANNING; nothing is
// written before the mount plan is committable. Once APPLYING has started
// the commit cannot be cancelled and a failure is not rolled back.
package commit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/osbuild/disk-stager/internal/catalog"
	"github.com/osbuild/disk-stager/internal/common"
	"github.com/osbuild/disk-stager/internal/devlock"
	"github.com/osbuild/disk-stager/internal/disk"
	"github.com/osbuild/disk-stager/internal/fsinfo"
	"github.com/osbuild/disk-stager/internal/mounts"
	"github.com/osbuild/disk-stager/internal/mountplan"
	"github.com/osbuild/disk-stager/internal/prometheus"
	"github.com/osbuild/disk-stager/internal/staging"
	"github.com/osbuild/disk-stager/pkg/slogger"
	"github.com/osbuild/disk-stager/pkg/slogger/noop"
)

type Options struct {
	Provider  catalog.Provider
	FSInfo    fsinfo.Provider
	Mounts    mounts.Table
	Unmounter mounts.Unmounter

	// Optional; defaults to devlock.Nop.
	Locker devlock.Locker

	Logger slogger.SimpleLogger

	// DryRun leaves mounted filesystems alone and resolves partitions from
	// the staged layout instead of re-reading the devices. The providers
	// are expected to be in dry-run mode as well.
	DryRun bool
}

// Plan is what gets committed: the devices as they were read when the plan
// was staged, and the staged changes.
type Plan struct {
	Snapshot   map[string]*disk.Device
	Store      *staging.Store
	BootDevice string
}

// Engine commits a single plan.
type Engine struct {
	opts Options

	mu    sync.Mutex
	state common.CommitState
	err   error
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.Provider == nil {
		return nil, errors.New("commit engine needs a device provider")
	}
	if opts.FSInfo == nil {
		return nil, errors.New("commit engine needs a filesystem provider")
	}
	if opts.Unmounter == nil && !opts.DryRun {
		return nil, errors.New("commit engine needs an unmounter")
	}
	if opts.Mounts == nil {
		opts.Mounts = mounts.Static{}
	}
	if opts.Locker == nil {
		opts.Locker = devlock.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = noop.NewNoopLogger()
	}
	return &Engine{opts: opts, state: common.CSPlanning}, nil
}

func (e *Engine) State() common.CommitState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Err returns the reason of a failed commit.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *Engine) setState(state common.CommitState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = state
}

// Commit applies the plan. Validation failures, a cancelled context or
// failing to lock the devices leave the engine in PLANNING and nothing is
// written. Any later failure is a *CommitFatalError; the partial result is
// returned along with it.
func (e *Engine) Commit(ctx context.Context, plan Plan) (*Result, error) {
	if state := e.State(); state != common.CSPlanning {
		return nil, fmt.Errorf("cannot commit, engine is in state %s", state)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	staged, err := plan.Store.Replay(plan.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("staged plan does not apply to the devices: %w", err)
	}
	edits := plan.Store.All()
	claims := mountplan.Collect(staged, edits)
	if err := mountplan.Check(claims); err != nil {
		return nil, err
	}

	ctx, oid := common.WithOperationID(ctx)
	observe := prometheus.Timer()

	touched := touchedDevices(plan.Store, edits)
	release, err := e.opts.Locker.Acquire(ctx, devlock.Exclusive, touched...)
	if err != nil {
		return nil, fmt.Errorf("locking devices: %w", err)
	}

	// physical changes cannot be aborted half way
	ctx = context.WithoutCancel(ctx)
	e.setState(common.CSApplying)
	e.opts.Logger.Info("applying staged operations", "operation_id", oid, "devices", strings.Join(touched, ","))
	if e.opts.DryRun {
		e.opts.Logger.Info("dry run, not doing any real changes", "operation_id", oid)
	}

	res := &Result{
		OperationID: oid,
		BootDevice:  plan.BootDevice,
		Mounts:      make(map[string]string),
	}

	err = e.apply(ctx, oid, plan.Store, staged, edits)
	if rerr := release(); rerr != nil {
		e.opts.Logger.Error(rerr, "cannot release device locks", "operation_id", oid)
	}
	if err != nil {
		return e.fail(observe, res, err)
	}

	e.setState(common.CSFinalizing)
	if len(plan.Store.Devices()) > 0 {
		if err := e.opts.Provider.Settle(ctx); err != nil {
			return e.fail(observe, res, e.fatal("settle", "", "", err))
		}
	}
	if err := e.finalize(ctx, oid, staged, edits, claims, res); err != nil {
		return e.fail(observe, res, err)
	}

	e.setState(common.CSDone)
	prometheus.CommitMetrics(observe, common.CSDone.String())
	e.opts.Logger.Info("commit done", "operation_id", oid, "mounts", fmt.Sprint(len(res.Mounts)), "formatted", fmt.Sprint(len(res.Formatted)))
	return res, nil
}

func (e *Engine) fail(observe prometheus.ObserveFunc, res *Result, err error) (*Result, error) {
	e.mu.Lock()
	failedIn := e.state
	e.state = common.CSFailed
	e.err = err
	e.mu.Unlock()

	prometheus.CommitMetrics(observe, common.CSFailed.String())
	e.opts.Logger.Error(err, "commit failed", "operation_id", res.OperationID, "state", failedIn.String())
	return res, err
}

func (e *Engine) fatal(op, device, partition string, err error) error {
	return &CommitFatalError{
		State:     e.State(),
		Op:        op,
		Device:    device,
		Partition: partition,
		Err:       err,
	}
}

// apply runs while the touched devices are locked: it unmounts what gets
// formatted and changes the partition tables.
func (e *Engine) apply(ctx context.Context, oid string, store *staging.Store, staged map[string]*disk.Device, edits []staging.Entry) error {
	if err := e.unmountFormatted(ctx, oid, staged, edits); err != nil {
		return err
	}

	ops := store.Operations()
	for _, path := range store.Devices() {
		if err := e.applyDevice(ctx, oid, staged[path], operationsOf(ops, path)); err != nil {
			return err
		}
	}
	return nil
}

// touchedDevices returns the devices changed by the journal or holding a
// partition that gets formatted.
func touchedDevices(store *staging.Store, edits []staging.Entry) []string {
	seen := make(map[string]bool)
	var res []string
	add := func(path string) {
		if !seen[path] {
			seen[path] = true
			res = append(res, path)
		}
	}
	for _, path := range store.Devices() {
		add(path)
	}
	for _, entry := range edits {
		if entry.Edit.Format {
			add(entry.Identity.Device)
		}
	}
	sort.Strings(res)
	return res
}

func operationsOf(ops []staging.Operation, device string) []staging.Operation {
	var res []staging.Operation
	for _, op := range ops {
		if op.Device == device {
			res = append(res, op)
		}
	}
	return res
}

func findByGeometry(partitions []*disk.Partition, g disk.Geometry) *disk.Partition {
	for _, p := range partitions {
		if p.Geometry == g {
			return p
		}
	}
	return nil
}

func (e *Engine) unmount(ctx context.Context, oid, path string) error {
	if path == "" {
		return nil
	}
	if e.opts.DryRun {
		current, err := e.opts.Mounts.Mounts()
		if err != nil {
			return err
		}
		for _, mp := range mounts.MountpointsOf(current, path) {
			e.opts.Logger.Info("dry run, not unmounting", "operation_id", oid, "partition", path, "mountpoint", mp)
		}
		return nil
	}
	return mounts.UnmountDevice(ctx, e.opts.Mounts, e.opts.Unmounter, path)
}

// unmountFormatted unmounts the existing partitions that get a new
// filesystem, while their device nodes are still the ones in the mount
// table.
func (e *Engine) unmountFormatted(ctx context.Context, oid string, staged map[string]*disk.Device, edits []staging.Entry) error {
	for _, entry := range edits {
		if !entry.Edit.Format {
			continue
		}
		dev, ok := staged[entry.Identity.Device]
		if !ok {
			continue
		}
		p := dev.FindByGeometry(entry.Identity.Geometry())
		if p == nil || p.Path == "" {
			continue
		}
		if err := e.unmount(ctx, oid, p.Path); err != nil {
			return e.fatal("unmount", dev.Path, p.Path, err)
		}
	}
	return nil
}

// applyDevice replaces the table, deletes and creates partitions on a
// single device, in that order, and makes the kernel re-read the table.
func (e *Engine) applyDevice(ctx context.Context, oid string, dev *disk.Device, ops []staging.Operation) error {
	var replace *staging.Operation
	var deletes, creates []staging.Operation
	for idx := range ops {
		switch ops[idx].Type {
		case staging.OpReplaceTable:
			replace = &ops[idx]
		case staging.OpDelete:
			deletes = append(deletes, ops[idx])
		case staging.OpCreate:
			creates = append(creates, ops[idx])
		default:
			panic(fmt.Sprintf("unknown operation type with enum value %d", ops[idx].Type))
		}
	}

	if replace != nil {
		live, err := e.opts.Provider.ListPartitions(ctx, dev)
		if err != nil {
			return e.fatal("list", dev.Path, "", err)
		}
		for _, p := range live.Partitions {
			if err := e.unmount(ctx, oid, p.Path); err != nil {
				return e.fatal("unmount", dev.Path, p.Path, err)
			}
		}
		e.opts.Logger.Info("replacing partition table", "operation_id", oid, "device", dev.Path, "table", replace.Table.String())
		if err := e.opts.Provider.ReplaceTable(ctx, dev.Path, replace.Table); err != nil {
			return e.fatal(replace.Type.String(), dev.Path, "", err)
		}
	}

	// logical partitions go before the extended one, and the partitions at
	// the end of the device go first so that lower numbers stay put
	sort.SliceStable(deletes, func(i, j int) bool {
		li, lj := deletes[i].Kind == disk.KindLogical, deletes[j].Kind == disk.KindLogical
		if li != lj {
			return li
		}
		return deletes[i].Geometry.Start > deletes[j].Geometry.Start
	})
	for _, op := range deletes {
		// numbers change with every delete, so the target is looked up by
		// geometry each time
		live, err := e.opts.Provider.ListPartitions(ctx, dev)
		if err != nil {
			return e.fatal("list", dev.Path, "", err)
		}
		p := findByGeometry(live.Partitions, op.Geometry)
		if p == nil {
			return e.fatal(op.Type.String(), dev.Path, op.Geometry.String(), errors.New("partition not found"))
		}
		p.Device = dev
		if err := e.unmount(ctx, oid, p.Path); err != nil {
			return e.fatal("unmount", dev.Path, p.Path, err)
		}
		e.opts.Logger.Info("deleting partition", "operation_id", oid, "device", dev.Path, "partition", p.String())
		if err := e.opts.Provider.Delete(ctx, dev, p); err != nil {
			return e.fatal(op.Type.String(), dev.Path, p.String(), err)
		}
	}

	sort.SliceStable(creates, func(i, j int) bool {
		return creates[i].Geometry.Start < creates[j].Geometry.Start
	})
	for _, op := range creates {
		e.opts.Logger.Info("creating partition", "operation_id", oid, "device", dev.Path, "kind", op.Kind.String(), "geometry", op.Geometry.String())
		if _, err := e.opts.Provider.Create(ctx, dev, op.Kind, op.Geometry); err != nil {
			return e.fatal(op.Type.String(), dev.Path, op.Geometry.String(), err)
		}
	}

	if err := e.opts.Provider.Finalize(ctx, dev); err != nil {
		return e.fatal("finalize", dev.Path, "", err)
	}
	return nil
}

// locator finds partitions by geometry in fresh listings of the devices;
// the device nodes of partitions may have changed while applying.
type locator struct {
	ctx      context.Context
	provider catalog.Provider
	staged   map[string]*disk.Device
	dryRun   bool
	listings map[string][]*disk.Partition
}

func (l *locator) locate(id disk.Identity) (*disk.Partition, error) {
	dev, ok := l.staged[id.Device]
	if !ok {
		return nil, fmt.Errorf("unknown device %s", id.Device)
	}

	partitions, ok := l.listings[id.Device]
	if !ok {
		if l.dryRun {
			partitions = dev.Partitions
		} else {
			table, err := l.provider.ListPartitions(l.ctx, dev)
			if err != nil {
				return nil, err
			}
			partitions = table.Partitions
		}
		l.listings[id.Device] = partitions
	}

	p := findByGeometry(partitions, id.Geometry())
	if p == nil {
		return nil, fmt.Errorf("no partition at %s on %s", id.Geometry(), id.Device)
	}
	return p, nil
}

// nodeOf returns the device node of p; partitions that only exist in a dry
// run have none and are reported by identity.
func nodeOf(p *disk.Partition, id disk.Identity) string {
	if p.Path != "" {
		return p.Path
	}
	return id.String()
}

func (e *Engine) finalize(ctx context.Context, oid string, staged map[string]*disk.Device, edits []staging.Entry, claims []mountplan.Claim, res *Result) error {
	loc := &locator{
		ctx:      ctx,
		provider: e.opts.Provider,
		staged:   staged,
		dryRun:   e.opts.DryRun,
		listings: make(map[string][]*disk.Partition),
	}

	edited := make(map[disk.Identity]bool, len(edits))
	for _, entry := range edits {
		id := entry.Identity
		edited[id] = true

		p, err := loc.locate(id)
		if err != nil {
			return e.fatal("locate", id.Device, id.String(), err)
		}
		node := nodeOf(p, id)

		edit := entry.Edit
		if edit.FSType.IsSwap() {
			res.Swap = append(res.Swap, node)
		}
		if !edit.Format || edit.FSType == disk.FS_NONE {
			continue
		}

		fs := disk.NewFilesystem(edit.FSType, edit.Label, edit.Mountpoint)
		e.opts.Logger.Info("creating filesystem", "operation_id", oid, "partition", node, "fstype", fs.Type.String(), "uuid", fs.UUID)
		if err := e.opts.FSInfo.CreateFilesystem(ctx, p.Path, fs); err != nil {
			return e.fatal("format", id.Device, node, err)
		}
		prometheus.FormattedPartition(fs.Type.String())
		res.Formatted = append(res.Formatted, FormattedPartition{
			Path:       node,
			Mountpoint: fs.Mountpoint,
			FSType:     fs.Type.String(),
			Label:      fs.Label,
			UUID:       fs.UUID,
		})
	}

	for _, claim := range claims {
		p, err := loc.locate(claim.Identity)
		if err != nil {
			return e.fatal("locate", claim.Identity.Device, claim.Identity.String(), err)
		}
		res.Mounts[claim.Mountpoint] = nodeOf(p, claim.Identity)
	}

	// existing swap areas are handed over as well
	for _, path := range catalog.SortedPaths(staged) {
		for _, p := range staged[path].Partitions {
			id, ok := disk.IdentityOf(p)
			if !ok || edited[id] || (p.FSType != "swap" && p.FSType != "linux-swap") {
				continue
			}
			found, err := loc.locate(id)
			if err != nil {
				return e.fatal("locate", id.Device, id.String(), err)
			}
			res.Swap = append(res.Swap, nodeOf(found, id))
		}
	}
	sort.Strings(res.Swap)

	return nil
}
