// Package script applies staging scripts: TOML documents with a list of
// staging actions that are run against a session in order.
//
//	boot_device = "/dev/sda"
//
//	[[action]]
//	type = "new-table"
//	device = "/dev/sdb"
//	table = "gpt"
//
//	[[action]]
//	type = "create"
//	device = "/dev/sdb"
//	region = 0
//	kind = "primary"
//	size = "512 MiB"
//	fstype = "vfat"
//	mountpoint = "/boot/efi"
//
//	[[action]]
//	type = "edit"
//	path = "/dev/sda1"
//	mountpoint = "/"
package script

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/osbuild/images/pkg/datasizes"
	"golang.org/x/exp/slices"

	"github.com/osbuild/disk-stager/internal/disk"
	"github.com/osbuild/disk-stager/internal/geometry"
	"github.com/osbuild/disk-stager/internal/session"
	"github.com/osbuild/disk-stager/internal/staging"
	"github.com/osbuild/disk-stager/pkg/slogger"
	"github.com/osbuild/disk-stager/pkg/slogger/noop"
)

type ActionType uint64

const (
	ActionNewTable ActionType = iota
	ActionCreate
	ActionEdit
	ActionDelete
)

func (t ActionType) String() string {
	switch t {
	case ActionNewTable:
		return "new-table"
	case ActionCreate:
		return "create"
	case ActionEdit:
		return "edit"
	case ActionDelete:
		return "delete"
	default:
		panic(fmt.Sprintf("unknown action type with enum value %d", t))
	}
}

func (t ActionType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *ActionType) UnmarshalText(data []byte) error {
	new, err := NewActionType(string(data))
	if err != nil {
		return err
	}
	*t = new
	return nil
}

func NewActionType(s string) (ActionType, error) {
	switch s {
	case "new-table":
		return ActionNewTable, nil
	case "create":
		return ActionCreate, nil
	case "edit":
		return ActionEdit, nil
	case "delete":
		return ActionDelete, nil
	default:
		return ActionNewTable, fmt.Errorf("unknown action type: %s", s)
	}
}

// Action is one staging action. Which fields are used depends on the type.
type Action struct {
	Type ActionType `toml:"type"`

	// Partitions are addressed by Path or by Device and Start. Free regions
	// are addressed by Device and Region (the index in the free region list
	// of the device) or by a Start sector inside the region.
	Device string  `toml:"device,omitempty"`
	Path   string  `toml:"path,omitempty"`
	Start  *uint64 `toml:"start,omitempty"`
	Region *int    `toml:"region,omitempty"`

	Table disk.PartitionTableType `toml:"table,omitempty"`

	// Size is a data size like "20 GB" or "512 MiB", SizeMB is in decimal
	// megabytes. Without either the partition fills the free region.
	Kind      disk.PartitionKind `toml:"kind,omitempty"`
	Size      datasizes.Size     `toml:"size,omitempty"`
	SizeMB    uint64             `toml:"size_mb,omitempty"`
	Placement geometry.Placement `toml:"placement,omitempty"`

	FSType     disk.FSType `toml:"fstype,omitempty"`
	Mountpoint string      `toml:"mountpoint,omitempty"`
	Label      string      `toml:"label,omitempty"`
	Format     bool        `toml:"format,omitempty"`
}

func (a Action) target() string {
	switch {
	case a.Path != "":
		return a.Path
	case a.Start != nil:
		return fmt.Sprintf("%s@%d", a.Device, *a.Start)
	case a.Region != nil:
		return fmt.Sprintf("%s region %d", a.Device, *a.Region)
	default:
		return a.Device
	}
}

func (a Action) String() string {
	return fmt.Sprintf("%s %s", a.Type, a.target())
}

type Script struct {
	BootDevice string   `toml:"boot_device,omitempty"`
	Actions    []Action `toml:"action"`
}

// ActionError reports the action that stopped a script.
type ActionError struct {
	Index  int
	Action Action
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %d (%s) failed: %v", e.Index, e.Action, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// Load decodes a script. Unknown keys are an error.
func Load(r io.Reader) (*Script, error) {
	var s Script
	md, err := toml.NewDecoder(r).Decode(&s)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("unknown keys in staging script: %s", strings.Join(keys, ", "))
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func LoadFile(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	s, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("loading staging script %s: %w", path, err)
	}
	return s, nil
}

// Validate checks that every action carries the fields its type needs.
func (s *Script) Validate() error {
	for idx, a := range s.Actions {
		if err := a.validate(); err != nil {
			return &ActionError{Index: idx, Action: a, Err: err}
		}
	}
	return nil
}

func (a Action) validate() error {
	switch a.Type {
	case ActionNewTable:
		if a.Device == "" {
			return errors.New("device is required")
		}
		if a.Table == disk.PT_NONE {
			return errors.New("table is required")
		}
	case ActionCreate:
		if a.Device == "" {
			return errors.New("device is required")
		}
		if a.Region == nil && a.Start == nil {
			return errors.New("region or start is required")
		}
		if a.Size != 0 && a.SizeMB != 0 {
			return errors.New("size and size_mb are mutually exclusive")
		}
		if !slices.Contains([]disk.PartitionKind{disk.KindPrimary, disk.KindExtended, disk.KindLogical}, a.Kind) {
			return fmt.Errorf("cannot create partitions of kind %s", a.Kind)
		}
	case ActionEdit, ActionDelete:
		if a.Path == "" && (a.Device == "" || a.Start == nil) {
			return errors.New("path or device and start are required")
		}
	default:
		panic(fmt.Sprintf("unknown action type with enum value %d", a.Type))
	}
	return nil
}

// Apply runs the actions against the session in order and selects the boot
// device. The first failing action stops the script with an *ActionError;
// the actions before it stay staged.
func (s *Script) Apply(ctx context.Context, sess *session.Session, logger slogger.SimpleLogger) error {
	if logger == nil {
		logger = noop.NewNoopLogger()
	}

	for idx, a := range s.Actions {
		logger.Debug("applying staging action", "index", fmt.Sprint(idx), "action", a.String())
		if err := a.apply(ctx, sess); err != nil {
			return &ActionError{Index: idx, Action: a, Err: err}
		}
	}

	if s.BootDevice != "" {
		if err := sess.SetBootDevice(s.BootDevice); err != nil {
			return err
		}
	}
	return nil
}

func (a Action) apply(ctx context.Context, sess *session.Session) error {
	switch a.Type {
	case ActionNewTable:
		return sess.NewTable(ctx, a.Device, a.Table)
	case ActionCreate:
		region, err := a.region(sess)
		if err != nil {
			return err
		}
		_, err = sess.Create(region, session.CreateRequest{
			Kind:       a.Kind,
			SizeMB:     a.sizeMB(region),
			Placement:  a.Placement,
			Label:      a.Label,
			Mountpoint: a.Mountpoint,
			FSType:     a.FSType,
		})
		return err
	case ActionEdit:
		id, err := a.partition(sess)
		if err != nil {
			return err
		}
		return sess.Edit(id, staging.Edit{
			Label:      a.Label,
			Mountpoint: a.Mountpoint,
			FSType:     a.FSType,
			Format:     a.Format,
		})
	case ActionDelete:
		id, err := a.partition(sess)
		if err != nil {
			return err
		}
		return sess.Delete(ctx, id)
	default:
		panic(fmt.Sprintf("unknown action type with enum value %d", a.Type))
	}
}

// sizeMB rounds data sizes up to whole megabytes.
func (a Action) sizeMB(region *disk.Partition) uint64 {
	switch {
	case a.SizeMB != 0:
		return a.SizeMB
	case a.Size != 0:
		return (a.Size.Uint64() + datasizes.MegaByte - 1) / datasizes.MegaByte
	default:
		return geometry.MaxAvailableMB(region.Device, region.Geometry)
	}
}

func (a Action) region(sess *session.Session) (*disk.Partition, error) {
	regions, err := sess.FreeRegions(a.Device)
	if err != nil {
		return nil, err
	}

	if a.Region != nil {
		if *a.Region < 0 || *a.Region >= len(regions) {
			return nil, fmt.Errorf("%s has no free region %d", a.Device, *a.Region)
		}
		return regions[*a.Region], nil
	}

	for _, r := range regions {
		if *a.Start >= r.Geometry.Start && *a.Start <= r.Geometry.End {
			return r, nil
		}
	}
	return nil, fmt.Errorf("sector %d of %s is not free", *a.Start, a.Device)
}

func (a Action) partition(sess *session.Session) (disk.Identity, error) {
	if a.Path != "" {
		return sess.Resolve(a.Path)
	}

	dev, ok := sess.Devices()[a.Device]
	if !ok {
		return disk.Identity{}, fmt.Errorf("unknown device %s", a.Device)
	}
	for _, p := range dev.Partitions {
		if p.Geometry.Start == *a.Start {
			id, _ := disk.IdentityOf(p)
			return id, nil
		}
	}
	return disk.Identity{}, fmt.Errorf("no partition starts at sector %d of %s", *a.Start, a.Device)
}
