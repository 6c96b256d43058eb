package mounts

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbuild/disk-stager/internal/disk"
)

func TestByDevice(t *testing.T) {
	byDev := ByDevice([]Mount{
		{Source: "/dev/sda2", Mountpoint: "/", FSType: "ext4"},
		{Source: "/dev/sda3", Mountpoint: "/var/lib/containers/storage/overlay", FSType: "xfs"},
		{Source: "/dev/sda3", Mountpoint: "/home", FSType: "xfs"},
		{Source: "tmpfs", Mountpoint: "/tmp", FSType: "tmpfs"},
	})

	require.Len(t, byDev, 2)
	assert.Equal(t, "/", byDev["/dev/sda2"].Mountpoint)
	assert.Equal(t, "/home", byDev["/dev/sda3"].Mountpoint)
}

func TestMountpointsOf(t *testing.T) {
	mounts := []Mount{
		{Source: "/dev/sda3", Mountpoint: "/home"},
		{Source: "/dev/sda3", Mountpoint: "/home/user/data"},
		{Source: "/dev/sda2", Mountpoint: "/"},
		{Source: "/dev/sda3", Mountpoint: "/srv"},
	}
	assert.Equal(t, []string{"/home/user/data", "/srv", "/home"}, MountpointsOf(mounts, "/dev/sda3"))
	assert.Empty(t, MountpointsOf(mounts, "/dev/sdb1"))
}

func TestFake(t *testing.T) {
	ctx := context.Background()
	f := NewFake(
		Mount{Source: "/dev/sda2", Mountpoint: "/"},
		Mount{Source: "/dev/sda3", Mountpoint: "/home"},
	)
	f.FailUnmount("/", errors.New("target is busy"))

	assert.EqualError(t, f.Unmount(ctx, "/"), "target is busy")
	require.NoError(t, f.Unmount(ctx, "/home"))
	assert.Error(t, f.Unmount(ctx, "/home"))

	mounts, err := f.Mounts()
	require.NoError(t, err)
	assert.Equal(t, []Mount{{Source: "/dev/sda2", Mountpoint: "/"}}, mounts)
	assert.Equal(t, []string{"/home"}, f.Unmounted)
}

func TestStatic(t *testing.T) {
	s := Static{{Source: "/dev/vda1", Mountpoint: "/boot"}}
	mounts, err := s.Mounts()
	require.NoError(t, err)
	mounts[0].Mountpoint = "/changed"
	assert.Equal(t, "/boot", s[0].Mountpoint)
}

func TestUnmountDevice(t *testing.T) {
	ctx := context.Background()
	f := NewFake(
		Mount{Source: "/dev/sda3", Mountpoint: "/home"},
		Mount{Source: "/dev/sda3", Mountpoint: "/home/user/data"},
		Mount{Source: "/dev/sda4", Mountpoint: "/srv"},
	)

	require.NoError(t, UnmountDevice(ctx, f, f, "/dev/sda3"))
	assert.Equal(t, []string{"/home/user/data", "/home"}, f.Unmounted)
	require.NoError(t, UnmountDevice(ctx, f, f, "/dev/sdb1"))

	f.FailUnmount("/srv", errors.New("target is busy"))
	err := UnmountDevice(ctx, f, f, "/dev/sda4")
	var unmount *disk.UnmountRequiredError
	require.ErrorAs(t, err, &unmount)
	assert.Equal(t, "/dev/sda4", unmount.Partition)
	assert.Equal(t, "/srv", unmount.Mountpoint)
}
