package runner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeRunner(t *testing.T) {
	f := NewFake()
	f.AddResult("sfdisk -J /dev/sda", FakeResult{Stdout: "first"})
	f.AddResult("sfdisk -J /dev/sda", FakeResult{Stdout: "second"})
	f.AddResult("partprobe /dev/sda", FakeResult{Err: errors.New("busy")})

	out, err := f.Run(context.Background(), "sfdisk", "-J", "/dev/sda")
	require.NoError(t, err)
	assert.Equal(t, "first", string(out))

	out, err = f.Run(context.Background(), "sfdisk", "-J", "/dev/sda")
	require.NoError(t, err)
	assert.Equal(t, "second", string(out))

	// the last result is repeated
	out, err = f.Run(context.Background(), "sfdisk", "-J", "/dev/sda")
	require.NoError(t, err)
	assert.Equal(t, "second", string(out))

	_, err = f.Run(context.Background(), "partprobe", "/dev/sda")
	assert.EqualError(t, err, "busy")

	out, err = f.Run(context.Background(), "udevadm", "settle")
	require.NoError(t, err)
	assert.Empty(t, out)

	assert.True(t, f.Ran("udevadm settle"))
	assert.False(t, f.Ran("udevadm trigger"))
	assert.Len(t, f.Commands, 5)
}

func TestFakeRunnerCancelled(t *testing.T) {
	f := NewFake()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Run(ctx, "parted", "-s", "/dev/sda", "rm", "1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, f.Ran("parted -s /dev/sda rm 1"))
}

func TestLinuxRunner(t *testing.T) {
	r := NewLinux(nil)
	assert.Equal(t, "linux", r.String())

	out, err := r.Run(context.Background(), "sh", "-c", "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(out))

	_, err = r.Run(context.Background(), "sh", "-c", "echo broken >&2; exit 3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestCommandLine(t *testing.T) {
	assert.Equal(t, "parted -s /dev/sda unit s rm 2", CommandLine("parted", "-s", "/dev/sda", "unit", "s", "rm", "2"))
	assert.Equal(t, "partprobe", CommandLine("partprobe"))
}
