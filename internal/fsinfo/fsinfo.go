// Package fsinfo inspects and creates filesystems on partitions.
package fsinfo

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"unicode/utf8"

	"github.com/osbuild/disk-stager/internal/disk"
	"github.com/osbuild/disk-stager/internal/mounts"
	"github.com/osbuild/disk-stager/internal/runner"
	"github.com/osbuild/disk-stager/pkg/slogger"
	"github.com/osbuild/disk-stager/pkg/slogger/noop"
)

// Provider reads filesystem metadata and creates filesystems.
type Provider interface {
	// ProbeLabel returns the label found in the superblock, "" if none.
	ProbeLabel(ctx context.Context, path string) (string, error)

	// ProbeType returns the filesystem type found in the superblock, "" if
	// none.
	ProbeType(ctx context.Context, path string) (string, error)

	// ProbeUsedRatio returns the used fraction (0..1) of the filesystem.
	ProbeUsedRatio(ctx context.Context, path, fsType string) (float64, error)

	// CreateFilesystem formats the partition at path.
	CreateFilesystem(ctx context.Context, path string, fs *disk.Filesystem) error
}

// Host implements Provider with blkid, statfs(2) and the mkfs tools of the
// host.
type Host struct {
	Runner runner.Runner
	Mounts mounts.Table
	Logger slogger.SimpleLogger

	// DryRun logs mkfs invocations instead of running them.
	DryRun bool

	// Directory for temporary read-only mounts, os.TempDir() if empty.
	ScratchDir string
}

func NewHost(r runner.Runner, table mounts.Table, logger slogger.SimpleLogger) *Host {
	if logger == nil {
		logger = noop.NewNoopLogger()
	}
	return &Host{Runner: r, Mounts: table, Logger: logger}
}

// blkid exits with 2 when the requested tag is not found.
func isNotFound(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == 2
}

func (h *Host) probeTag(ctx context.Context, path, tag string) (string, error) {
	out, err := h.Runner.Run(ctx, "blkid", "-p", "-o", "value", "-s", tag, path)
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("probing %s of %s: %w", strings.ToLower(tag), path, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (h *Host) ProbeLabel(ctx context.Context, path string) (string, error) {
	return h.probeTag(ctx, path, "LABEL")
}

func (h *Host) ProbeType(ctx context.Context, path string) (string, error) {
	return h.probeTag(ctx, path, "TYPE")
}

func (h *Host) ProbeUsedRatio(ctx context.Context, path, fsType string) (float64, error) {
	if fsType == "" || strings.Contains(fsType, "swap") {
		return 0, nil
	}

	table, err := h.Mounts.Mounts()
	if err != nil {
		return 0, err
	}
	if m, ok := mounts.ByDevice(table)[path]; ok {
		return usedRatio(m.Mountpoint)
	}

	return h.usedRatioReadOnly(ctx, path, fsType)
}

// truncateLabel cuts label to at most limit bytes without splitting a
// multi-byte character.
func truncateLabel(label string, limit int) string {
	if len(label) <= limit {
		return label
	}
	end := limit
	for end > 0 && !utf8.RuneStart(label[end]) {
		end--
	}
	return label[:end]
}

// probeMountOptions returns the mount data for a read-only measurement
// mount. Journals and logs are not replayed, so the device is not written.
func probeMountOptions(fsType string) string {
	switch fsType {
	case "ext3", "ext4":
		return "noload"
	case "xfs":
		return "norecovery"
	case "btrfs":
		return "nologreplay"
	default:
		return ""
	}
}

// MkfsCommand returns the command line that creates fs on the partition.
func MkfsCommand(path string, fs *disk.Filesystem) (string, []string, error) {
	label := truncateLabel(fs.Label, fs.Type.MaxLabelLength())

	var name string
	var args []string
	switch fs.Type {
	case disk.FS_EXT2, disk.FS_EXT3, disk.FS_EXT4:
		name = "mkfs." + fs.Type.String()
		args = []string{"-F", "-U", fs.UUID}
		if label != "" {
			args = append(args, "-L", label)
		}
	case disk.FS_XFS:
		name = "mkfs.xfs"
		args = []string{"-f", "-m", "uuid=" + fs.UUID}
		if label != "" {
			args = append(args, "-L", label)
		}
	case disk.FS_BTRFS:
		name = "mkfs.btrfs"
		args = []string{"-f", "-U", fs.UUID}
		if label != "" {
			args = append(args, "-L", label)
		}
	case disk.FS_F2FS:
		name = "mkfs.f2fs"
		args = []string{"-f", "-U", fs.UUID}
		if label != "" {
			args = append(args, "-l", label)
		}
	case disk.FS_JFS:
		name = "mkfs.jfs"
		args = []string{"-q"}
		if label != "" {
			args = append(args, "-L", label)
		}
	case disk.FS_REISERFS:
		name = "mkreiserfs"
		args = []string{"-q", "-u", fs.UUID}
		if label != "" {
			args = append(args, "-l", label)
		}
	case disk.FS_VFAT:
		name = "mkfs.vfat"
		args = []string{"-F", "32", "-i", strings.ReplaceAll(fs.UUID, "-", "")}
		if label != "" {
			args = append(args, "-n", strings.ToUpper(label))
		}
	case disk.FS_SWAP:
		name = "mkswap"
		args = []string{"-f", "-U", fs.UUID}
		if label != "" {
			args = append(args, "-L", label)
		}
	case disk.FS_NONE:
		return "", nil, fmt.Errorf("no filesystem type given for %s", path)
	default:
		panic(fmt.Sprintf("unknown or unsupported filesystem type with enum value %d", fs.Type))
	}

	return name, append(args, path), nil
}

func (h *Host) CreateFilesystem(ctx context.Context, path string, fs *disk.Filesystem) error {
	if fs.Type == disk.FS_JFS {
		// mkfs.jfs cannot set the UUID
		fs.UUID = ""
	}

	name, args, err := MkfsCommand(path, fs)
	if err != nil {
		return err
	}

	if h.DryRun {
		h.Logger.Info("dry run, not doing any real changes", "command", runner.CommandLine(name, args...))
		return nil
	}

	if _, err := h.Runner.Run(ctx, name, args...); err != nil {
		return fmt.Errorf("creating %s filesystem on %s: %w", fs.Type, path, err)
	}
	h.Logger.Info("created filesystem", "device", path, "type", fs.Type.String(), "label", fs.Label, "uuid", fs.UUID)
	return nil
}
