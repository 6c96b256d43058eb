package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/osbuild/disk-stager/internal/disk"
	"github.com/osbuild/disk-stager/internal/mounts"
	"github.com/osbuild/disk-stager/internal/runner"
	"github.com/osbuild/disk-stager/pkg/slogger"
	"github.com/osbuild/disk-stager/pkg/slogger/noop"
)

// jsonUint decodes numbers that older lsblk versions print as strings.
type jsonUint uint64

func (u *jsonUint) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*u = 0
		return nil
	}
	v, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", string(data), err)
	}
	*u = jsonUint(v)
	return nil
}

type lsblkDevice struct {
	Path     string        `json:"path"`
	Model    string        `json:"model"`
	Size     jsonUint      `json:"size"`
	LogSec   jsonUint      `json:"log-sec"`
	Type     string        `json:"type"`
	FSType   string        `json:"fstype"`
	Label    string        `json:"label"`
	Children []lsblkDevice `json:"children"`
}

type lsblkOutput struct {
	BlockDevices []lsblkDevice `json:"blockdevices"`
}

type sfdiskPartition struct {
	Node     string `json:"node"`
	Start    uint64 `json:"start"`
	Size     uint64 `json:"size"`
	Type     string `json:"type"`
	Bootable bool   `json:"bootable"`
}

type sfdiskTable struct {
	Label      string            `json:"label"`
	Device     string            `json:"device"`
	SectorSize uint64            `json:"sectorsize"`
	Partitions []sfdiskPartition `json:"partitions"`
}

type sfdiskOutput struct {
	PartitionTable sfdiskTable `json:"partitiontable"`
}

type partitionType struct {
	table    disk.PartitionTableType
	typ      string
	bootable bool
}

var partitionNumberRE = regexp.MustCompile(`([0-9]+)$`)

// sfdisk reports devices without a table with this message
const noTableMessage = "does not contain a recognized partition table"

// Parted reads partition tables with sfdisk and lsblk and changes them with
// parted. Every command runs through the Runner.
type Parted struct {
	Runner runner.Runner
	Mounts mounts.Table
	Logger slogger.SimpleLogger

	// DryRun logs the commands that would change a device instead of
	// running them.
	DryRun bool

	mu    sync.Mutex
	types map[string]partitionType
}

func NewParted(r runner.Runner, table mounts.Table, logger slogger.SimpleLogger) *Parted {
	if logger == nil {
		logger = noop.NewNoopLogger()
	}
	if table == nil {
		table = mounts.Static{}
	}
	return &Parted{
		Runner: r,
		Mounts: table,
		Logger: logger,
		types:  make(map[string]partitionType),
	}
}

func (pt *Parted) ListDevices(ctx context.Context) ([]*disk.Device, error) {
	out, err := pt.Runner.Run(ctx, "lsblk", "-J", "-b", "-d", "-o", "PATH,MODEL,SIZE,LOG-SEC,TYPE")
	if err != nil {
		return nil, err
	}

	var lsblk lsblkOutput
	if err := json.Unmarshal(out, &lsblk); err != nil {
		return nil, fmt.Errorf("parsing lsblk output: %w", err)
	}

	var res []*disk.Device
	for _, bd := range lsblk.BlockDevices {
		if bd.Type != "disk" {
			continue
		}
		sectorSize := uint64(bd.LogSec)
		if sectorSize == 0 {
			sectorSize = disk.DefaultSectorSize
		}
		dev := disk.NewDevice(bd.Path, uint64(bd.Size)/sectorSize, sectorSize, disk.PT_NONE)
		dev.Model = strings.TrimSpace(bd.Model)
		res = append(res, dev)
	}
	return res, nil
}

func flattenLsblk(devices []lsblkDevice, res map[string]lsblkDevice) {
	for _, bd := range devices {
		res[bd.Path] = bd
		flattenLsblk(bd.Children, res)
	}
}

func (pt *Parted) filesystems(ctx context.Context, path string) map[string]lsblkDevice {
	res := make(map[string]lsblkDevice)
	out, err := pt.Runner.Run(ctx, "lsblk", "-J", "-b", "-o", "PATH,FSTYPE,LABEL", path)
	if err != nil {
		pt.Logger.Error(err, "cannot list filesystems", "device", path)
		return res
	}
	var lsblk lsblkOutput
	if err := json.Unmarshal(out, &lsblk); err != nil {
		pt.Logger.Error(err, "cannot parse lsblk output", "device", path)
		return res
	}
	flattenLsblk(lsblk.BlockDevices, res)
	return res
}

func partitionNumber(node string) int {
	m := partitionNumberRE.FindString(node)
	if m == "" {
		return 0
	}
	n, _ := strconv.Atoi(m)
	return n
}

func partitionKind(table disk.PartitionTableType, number int, typ string) disk.PartitionKind {
	if table != disk.PT_MSDOS {
		return disk.KindPrimary
	}
	if disk.IsDOSExtendedType(typ) {
		return disk.KindExtended
	}
	if number >= 5 {
		return disk.KindLogical
	}
	return disk.KindPrimary
}

func (pt *Parted) ListPartitions(ctx context.Context, dev *disk.Device) (*Table, error) {
	out, err := pt.Runner.Run(ctx, "sfdisk", "-J", dev.Path)
	if err != nil {
		if strings.Contains(err.Error(), noTableMessage) {
			return &Table{Type: disk.PT_NONE}, nil
		}
		return nil, err
	}

	var sfdisk sfdiskOutput
	if err := json.Unmarshal(out, &sfdisk); err != nil {
		return nil, fmt.Errorf("parsing sfdisk output: %w", err)
	}

	tableType, err := disk.NewPartitionTableType(sfdisk.PartitionTable.Label)
	if err != nil {
		return nil, err
	}

	filesystems := pt.filesystems(ctx, dev.Path)

	pt.mu.Lock()
	defer pt.mu.Unlock()

	table := &Table{Type: tableType}
	for _, sp := range sfdisk.PartitionTable.Partitions {
		if sp.Size == 0 {
			continue
		}
		number := partitionNumber(sp.Node)
		p := &disk.Partition{
			Number: number,
			Path:   sp.Node,
			Kind:   partitionKind(tableType, number, sp.Type),
			Geometry: disk.Geometry{
				Start: sp.Start,
				End:   sp.Start + sp.Size - 1,
			},
		}
		if fs, ok := filesystems[sp.Node]; ok && p.Kind != disk.KindExtended {
			p.FSType = fs.FSType
			p.Label = fs.Label
		}
		pt.types[sp.Node] = partitionType{table: tableType, typ: sp.Type, bootable: sp.Bootable}
		table.Partitions = append(table.Partitions, p)
	}

	return table, nil
}

func (pt *Parted) IsMounted(p *disk.Partition) bool {
	if p.Path == "" {
		return false
	}
	table, err := pt.Mounts.Mounts()
	if err != nil {
		pt.Logger.Error(err, "cannot read mount table")
		return false
	}
	_, ok := mounts.ByDevice(table)[p.Path]
	return ok
}

func (pt *Parted) Flags(p *disk.Partition) disk.Flags {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	info, ok := pt.types[p.Path]
	if !ok {
		return 0
	}
	flags := disk.FlagsFromType(info.table, info.typ)
	if info.bootable {
		flags |= disk.FlagBoot
	}
	return flags
}

// change runs a command that writes to a device, or only logs it in dry-run
// mode.
func (pt *Parted) change(ctx context.Context, name string, args ...string) error {
	if pt.DryRun {
		pt.Logger.Info("dry run, not doing any real changes", "command", runner.CommandLine(name, args...))
		return nil
	}
	_, err := pt.Runner.Run(ctx, name, args...)
	return err
}

func (pt *Parted) Create(ctx context.Context, dev *disk.Device, kind disk.PartitionKind, g disk.Geometry) (*disk.Partition, error) {
	switch kind {
	case disk.KindPrimary, disk.KindExtended, disk.KindLogical:
	case disk.KindFreeSpace, disk.KindFreeSpaceInExtended:
		return nil, fmt.Errorf("cannot create a %s partition", kind)
	default:
		panic(fmt.Sprintf("unknown partition kind with enum value %d", kind))
	}

	err := pt.change(ctx, "parted", "-s", "-a", "none", dev.Path, "unit", "s",
		"mkpart", kind.String(), fmt.Sprintf("%ds", g.Start), fmt.Sprintf("%ds", g.End))
	if err != nil {
		return nil, fmt.Errorf("creating %s partition %s on %s: %w", kind, g, dev.Path, err)
	}

	if pt.DryRun {
		return &disk.Partition{Device: dev, Kind: kind, Geometry: g}, nil
	}

	table, err := pt.ListPartitions(ctx, dev)
	if err != nil {
		return nil, fmt.Errorf("reading back %s: %w", dev.Path, err)
	}
	for _, p := range table.Partitions {
		if p.Geometry == g {
			p.Device = dev
			return p, nil
		}
	}
	return nil, fmt.Errorf("created partition %s not found on %s", g, dev.Path)
}

func (pt *Parted) Delete(ctx context.Context, dev *disk.Device, p *disk.Partition) error {
	if p.Number <= 0 {
		return fmt.Errorf("partition %s has no number", p)
	}
	err := pt.change(ctx, "parted", "-s", dev.Path, "rm", strconv.Itoa(p.Number))
	if err != nil {
		return fmt.Errorf("deleting partition %s: %w", p, err)
	}
	return nil
}

func (pt *Parted) ReplaceTable(ctx context.Context, path string, table disk.PartitionTableType) error {
	if table == disk.PT_NONE {
		return fmt.Errorf("cannot write a partition table of type %s to %s", table, path)
	}
	err := pt.change(ctx, "parted", "-s", path, "mklabel", table.String())
	if err != nil {
		return fmt.Errorf("creating %s partition table on %s: %w", table, path, err)
	}
	return nil
}

func (pt *Parted) Finalize(ctx context.Context, dev *disk.Device) error {
	if err := pt.change(ctx, "partprobe", dev.Path); err != nil {
		return fmt.Errorf("re-reading partition table of %s: %w", dev.Path, err)
	}
	return nil
}

func (pt *Parted) Settle(ctx context.Context) error {
	if err := pt.change(ctx, "udevadm", "settle"); err != nil {
		return fmt.Errorf("waiting for udev: %w", err)
	}
	return nil
}
