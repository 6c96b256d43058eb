package fsinfo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbuild/disk-stager/internal/disk"
	"github.com/osbuild/disk-stager/internal/mounts"
	"github.com/osbuild/disk-stager/internal/runner"
)

func TestMkfsCommand(t *testing.T) {
	type testCase struct {
		fs   disk.Filesystem
		name string
		args []string
	}

	tests := []testCase{
		{
			fs:   disk.Filesystem{Type: disk.FS_EXT4, UUID: "6264d520-3fb9-423f-8ab8-7a0a8e3d3562", Label: "root"},
			name: "mkfs.ext4",
			args: []string{"-F", "-U", "6264d520-3fb9-423f-8ab8-7a0a8e3d3562", "-L", "root", "/dev/sda2"},
		},
		{
			fs:   disk.Filesystem{Type: disk.FS_XFS, UUID: "cb07c243-bc44-4717-853e-28852021225b", Label: "a-very-long-label"},
			name: "mkfs.xfs",
			args: []string{"-f", "-m", "uuid=cb07c243-bc44-4717-853e-28852021225b", "-L", "a-very-long-", "/dev/sda2"},
		},
		{
			fs:   disk.Filesystem{Type: disk.FS_EXT4, UUID: "6264d520-3fb9-423f-8ab8-7a0a8e3d3562", Label: "home-partition-été"},
			name: "mkfs.ext4",
			args: []string{"-F", "-U", "6264d520-3fb9-423f-8ab8-7a0a8e3d3562", "-L", "home-partition-", "/dev/sda2"},
		},
		{
			fs:   disk.Filesystem{Type: disk.FS_VFAT, UUID: "7B77-95E7", Label: "efi"},
			name: "mkfs.vfat",
			args: []string{"-F", "32", "-i", "7B7795E7", "-n", "EFI", "/dev/sda2"},
		},
		{
			fs:   disk.Filesystem{Type: disk.FS_SWAP, UUID: "0657fd6d-a4ab-43c4-84e5-0933c84b4f4f"},
			name: "mkswap",
			args: []string{"-f", "-U", "0657fd6d-a4ab-43c4-84e5-0933c84b4f4f", "/dev/sda2"},
		},
		{
			fs:   disk.Filesystem{Type: disk.FS_JFS, Label: "data"},
			name: "mkfs.jfs",
			args: []string{"-q", "-L", "data", "/dev/sda2"},
		},
	}

	for _, tc := range tests {
		name, args, err := MkfsCommand("/dev/sda2", &tc.fs)
		require.NoError(t, err)
		assert.Equal(t, tc.name, name)
		assert.Equal(t, tc.args, args)
	}

	_, _, err := MkfsCommand("/dev/sda2", &disk.Filesystem{})
	assert.Error(t, err)
}

func TestTruncateLabel(t *testing.T) {
	assert.Equal(t, "root", truncateLabel("root", 16))
	assert.Equal(t, "a-very-long-", truncateLabel("a-very-long-label", 12))
	assert.Equal(t, "données", truncateLabel("données", 8))
	assert.Equal(t, "donn", truncateLabel("données", 5))
	assert.Equal(t, "", truncateLabel("été", 1))
}

func TestProbeMountOptions(t *testing.T) {
	assert.Equal(t, "noload", probeMountOptions("ext4"))
	assert.Equal(t, "noload", probeMountOptions("ext3"))
	assert.Equal(t, "norecovery", probeMountOptions("xfs"))
	assert.Equal(t, "nologreplay", probeMountOptions("btrfs"))
	assert.Empty(t, probeMountOptions("ext2"))
	assert.Empty(t, probeMountOptions("vfat"))
}

func TestCreateFilesystem(t *testing.T) {
	r := runner.NewFake()
	h := NewHost(r, mounts.Static{}, nil)

	fs := &disk.Filesystem{Type: disk.FS_BTRFS, UUID: "uuid", Label: "home"}
	require.NoError(t, h.CreateFilesystem(context.Background(), "/dev/sdb1", fs))
	assert.True(t, r.Ran("mkfs.btrfs -f -U uuid -L home /dev/sdb1"))

	r.SetResult("mkfs.btrfs -f -U uuid -L home /dev/sdb2", runner.FakeResult{Err: errors.New("device busy")})
	err := h.CreateFilesystem(context.Background(), "/dev/sdb2", fs)
	assert.ErrorContains(t, err, "device busy")

	jfs := &disk.Filesystem{Type: disk.FS_JFS, UUID: "ignored"}
	require.NoError(t, h.CreateFilesystem(context.Background(), "/dev/sdb3", jfs))
	assert.Empty(t, jfs.UUID)
}

func TestCreateFilesystemDryRun(t *testing.T) {
	r := runner.NewFake()
	h := NewHost(r, mounts.Static{}, nil)
	h.DryRun = true

	require.NoError(t, h.CreateFilesystem(context.Background(), "/dev/sdb1", disk.NewFilesystem(disk.FS_EXT4, "", "")))
	assert.Empty(t, r.Commands)
}

func TestProbeLabel(t *testing.T) {
	r := runner.NewFake()
	r.AddResult("blkid -p -o value -s LABEL /dev/sda1", runner.FakeResult{Stdout: "fedora\n"})
	r.AddResult("blkid -p -o value -s TYPE /dev/sda1", runner.FakeResult{Stdout: "btrfs\n"})
	r.AddResult("blkid -p -o value -s LABEL /dev/sda2", runner.FakeResult{Err: errors.New("no such device")})
	h := NewHost(r, mounts.Static{}, nil)

	label, err := h.ProbeLabel(context.Background(), "/dev/sda1")
	require.NoError(t, err)
	assert.Equal(t, "fedora", label)

	fsType, err := h.ProbeType(context.Background(), "/dev/sda1")
	require.NoError(t, err)
	assert.Equal(t, "btrfs", fsType)

	_, err = h.ProbeLabel(context.Background(), "/dev/sda2")
	assert.Error(t, err)

	// nothing registered: blkid printed nothing
	label, err = h.ProbeLabel(context.Background(), "/dev/sda3")
	require.NoError(t, err)
	assert.Empty(t, label)
}

func TestProbeUsedRatioSwap(t *testing.T) {
	h := NewHost(runner.NewFake(), mounts.Static{}, nil)
	ratio, err := h.ProbeUsedRatio(context.Background(), "/dev/sda3", "swap")
	require.NoError(t, err)
	assert.Zero(t, ratio)

	ratio, err = h.ProbeUsedRatio(context.Background(), "/dev/sda3", "")
	require.NoError(t, err)
	assert.Zero(t, ratio)
}
