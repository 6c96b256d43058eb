package disk

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2 GiB at 512 byte sectors
const testDeviceLength = 4194304

func newTestDevice(table PartitionTableType) *Device {
	return NewDevice("/dev/sda", testDeviceLength, DefaultSectorSize, table)
}

func TestPartitionTableTypeNames(t *testing.T) {
	for _, name := range []string{"none", "msdos", "gpt"} {
		pt, err := NewPartitionTableType(name)
		require.NoError(t, err)
		assert.Equal(t, name, pt.String())
	}

	pt, err := NewPartitionTableType("dos")
	require.NoError(t, err)
	assert.Equal(t, PT_MSDOS, pt)

	_, err = NewPartitionTableType("sun")
	assert.Error(t, err)

	assert.Panics(t, func() { _ = PartitionTableType(42).String() })
}

func TestFSTypeNames(t *testing.T) {
	for _, fs := range FSTypes() {
		parsed, err := NewFSType(fs.String())
		require.NoError(t, err)
		assert.Equal(t, fs, parsed)
	}

	fs, err := NewFSType("linux-swap")
	require.NoError(t, err)
	assert.Equal(t, FS_SWAP, fs)
	assert.True(t, fs.IsSwap())

	_, err = NewFSType("ntfs")
	assert.Error(t, err)
}

func TestPartitionKind(t *testing.T) {
	assert.True(t, KindFreeSpace.IsFree())
	assert.True(t, KindFreeSpaceInExtended.IsFree())
	assert.False(t, KindLogical.IsFree())

	assert.True(t, KindLogical.IsNested())
	assert.True(t, KindFreeSpaceInExtended.IsNested())
	assert.False(t, KindExtended.IsNested())

	var k PartitionKind
	require.NoError(t, k.UnmarshalText([]byte("free-extended")))
	assert.Equal(t, KindFreeSpaceInExtended, k)
}

func TestFlags(t *testing.T) {
	f := ParseFlags("boot, esp,unknown")
	assert.True(t, f.Has(FlagBoot))
	assert.True(t, f.Has(FlagESP))
	assert.False(t, f.Has(FlagLVM))
	assert.Equal(t, "boot, esp", f.String())

	assert.Equal(t, FlagESP|FlagBoot, FlagsFromType(PT_GPT, "c12a7328-f81f-11d2-ba4b-00a0c93ec93b"))
	assert.Equal(t, FlagSwap, FlagsFromType(PT_MSDOS, "82"))
	assert.Equal(t, FlagLBA, FlagsFromType(PT_MSDOS, "0x0f"))
	assert.True(t, IsDOSExtendedType("0x05"))
	assert.True(t, IsDOSExtendedType("85"))
	assert.False(t, IsDOSExtendedType("83"))
}

func TestFreeSpaceEmptyDevice(t *testing.T) {
	dos := newTestDevice(PT_MSDOS)
	free := dos.FreeSpace()
	require.Len(t, free, 1)
	assert.Equal(t, KindFreeSpace, free[0].Kind)
	assert.Equal(t, Geometry{Start: 2048, End: testDeviceLength - 1}, free[0].Geometry)
	assert.Same(t, dos, free[0].Device)

	gpt := newTestDevice(PT_GPT)
	free = gpt.FreeSpace()
	require.Len(t, free, 1)
	assert.Equal(t, Geometry{Start: 2048, End: testDeviceLength - 34}, free[0].Geometry)

	none := newTestDevice(PT_NONE)
	assert.Empty(t, none.FreeSpace())
}

func TestFreeSpaceExtended(t *testing.T) {
	dev := newTestDevice(PT_MSDOS)
	_, err := dev.AddPartition(KindPrimary, Geometry{Start: 2048, End: 1050623})
	require.NoError(t, err)
	_, err = dev.AddPartition(KindExtended, Geometry{Start: 1050624, End: testDeviceLength - 1})
	require.NoError(t, err)
	_, err = dev.AddPartition(KindLogical, Geometry{Start: 1052672, End: 2099199})
	require.NoError(t, err)

	free := dev.FreeSpace()
	require.Len(t, free, 2)

	assert.Equal(t, KindFreeSpaceInExtended, free[0].Kind)
	assert.Equal(t, Geometry{Start: 1050625, End: 1052670}, free[0].Geometry)
	assert.Equal(t, KindFreeSpaceInExtended, free[1].Kind)
	assert.Equal(t, Geometry{Start: 2099201, End: testDeviceLength - 1}, free[1].Geometry)

	rows := dev.WithFreeSpace()
	require.Len(t, rows, 5)
	for i := 1; i < len(rows); i++ {
		assert.LessOrEqual(t, rows[i-1].Geometry.Start, rows[i].Geometry.Start)
	}
}

func TestFreeSpaceSkipsTinyGaps(t *testing.T) {
	dev := newTestDevice(PT_GPT)
	_, err := dev.AddPartition(KindPrimary, Geometry{Start: 2048, End: 4095})
	require.NoError(t, err)
	// 1000 sectors = 512000 bytes, below 1 MB
	_, err = dev.AddPartition(KindPrimary, Geometry{Start: 5096, End: testDeviceLength - 34})
	require.NoError(t, err)

	assert.Empty(t, dev.FreeSpace())
}

func TestAddPartitionRules(t *testing.T) {
	dev := newTestDevice(PT_MSDOS)
	size := uint64(100000)
	start := dev.FirstUsable()
	for i := 0; i < MaxPrimaryDOS; i++ {
		_, err := dev.AddPartition(KindPrimary, Geometry{Start: start, End: start + size - 1})
		require.NoError(t, err)
		start += size
	}
	assert.Equal(t, 4, dev.PrimaryCount())

	_, err := dev.AddPartition(KindPrimary, Geometry{Start: start, End: start + size - 1})
	var structural *StructuralIneligibleError
	require.True(t, errors.As(err, &structural))
	assert.Equal(t, KindPrimary, structural.Kind)

	gpt := newTestDevice(PT_GPT)
	_, err = gpt.AddPartition(KindExtended, Geometry{Start: 2048, End: 4095})
	assert.True(t, errors.As(err, &structural))

	_, err = gpt.AddPartition(KindLogical, Geometry{Start: 2048, End: 4095})
	assert.True(t, errors.As(err, &structural))

	_, err = gpt.AddPartition(KindPrimary, Geometry{Start: 0, End: 4095})
	assert.True(t, errors.As(err, &structural), "partitions must not start before the first grain")

	_, err = gpt.AddPartition(KindPrimary, Geometry{Start: 2048, End: 4095})
	require.NoError(t, err)
	_, err = gpt.AddPartition(KindPrimary, Geometry{Start: 4000, End: 8191})
	assert.True(t, errors.As(err, &structural), "overlapping partitions must be rejected")
}

func TestRemoveExtendedWithLogicals(t *testing.T) {
	dev := newTestDevice(PT_MSDOS)
	ext, err := dev.AddPartition(KindExtended, Geometry{Start: 2048, End: 1050623})
	require.NoError(t, err)
	extGeom := ext.Geometry
	logical, err := dev.AddPartition(KindLogical, Geometry{Start: 4096, End: 8191})
	require.NoError(t, err)
	logicalGeom := logical.Geometry

	_, err = dev.RemovePartition(extGeom)
	var structural *StructuralIneligibleError
	require.True(t, errors.As(err, &structural))

	_, err = dev.RemovePartition(logicalGeom)
	require.NoError(t, err)
	_, err = dev.RemovePartition(extGeom)
	require.NoError(t, err)
	assert.Empty(t, dev.Partitions)

	_, err = dev.RemovePartition(extGeom)
	assert.Error(t, err)
}

func TestDeviceClone(t *testing.T) {
	dev := newTestDevice(PT_GPT)
	_, err := dev.AddPartition(KindPrimary, Geometry{Start: 2048, End: 4095})
	require.NoError(t, err)

	clone := dev.Clone()
	assert.Equal(t, dev.Path, clone.Path)
	require.Len(t, clone.Partitions, 1)
	assert.Same(t, clone, clone.Partitions[0].Device)
	assert.NotSame(t, dev.Partitions[0], clone.Partitions[0])

	_, err = clone.AddPartition(KindPrimary, Geometry{Start: 4096, End: 8191})
	require.NoError(t, err)
	assert.Len(t, dev.Partitions, 1)
}

func TestPartitionFormattable(t *testing.T) {
	dev := newTestDevice(PT_MSDOS)
	ext, err := dev.AddPartition(KindExtended, Geometry{Start: 2048, End: 1050623})
	require.NoError(t, err)
	assert.False(t, ext.Formattable())
	assert.False(t, dev.FreeSpace()[0].Formattable())

	logical, err := dev.AddPartition(KindLogical, Geometry{Start: 4096, End: 8191})
	require.NoError(t, err)
	assert.True(t, logical.Formattable())
	assert.Equal(t, uint64(4096*512), logical.SizeBytes())
}

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "512 b", HumanSize(512))
	assert.Equal(t, "1.5 K", HumanSize(1500))
	assert.Equal(t, "20.0 M", HumanSize(20*1000*1000))
	assert.Equal(t, "2.1 G", HumanSize(2147483648))
	assert.Equal(t, uint64(1), SizeMB(1048576))
}

func TestNewFilesystemUUID(t *testing.T) {
	assert.Empty(t, NewFilesystemUUID(FS_NONE))
	assert.Regexp(t, `^[0-9A-F]{4}-[0-9A-F]{4}$`, NewFilesystemUUID(FS_VFAT))
	assert.Len(t, NewFilesystemUUID(FS_EXT4), 36)
	assert.NotEqual(t, NewFilesystemUUID(FS_EXT4), NewFilesystemUUID(FS_EXT4))

	fs := NewFilesystem(FS_XFS, "data", "/srv")
	clone := fs.Clone()
	assert.Equal(t, fs, clone)
	assert.NotSame(t, fs, clone)
}
