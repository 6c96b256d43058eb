package staging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbuild/disk-stager/internal/disk"
)

func testSnapshot(t *testing.T) map[string]*disk.Device {
	t.Helper()

	sda := disk.NewDevice("/dev/sda", 4194304, 512, disk.PT_MSDOS)
	_, err := sda.AddPartition(disk.KindPrimary, disk.Geometry{Start: 2048, End: 1050623})
	require.NoError(t, err)
	_, err = sda.AddPartition(disk.KindExtended, disk.Geometry{Start: 1050624, End: 3147775})
	require.NoError(t, err)
	_, err = sda.AddPartition(disk.KindLogical, disk.Geometry{Start: 1052672, End: 2099199})
	require.NoError(t, err)

	sdb := disk.NewDevice("/dev/sdb", 2097152, 512, disk.PT_NONE)

	return map[string]*disk.Device{sda.Path: sda, sdb.Path: sdb}
}

func TestStageRoundTrip(t *testing.T) {
	store := NewStore()
	id := disk.Identity{Device: "/dev/sda", Start: 2048, End: 1050623}

	_, ok := store.Lookup(id)
	assert.False(t, ok)

	store.Stage(id, Edit{Mountpoint: "/"})
	store.Stage(id, Edit{Mountpoint: "/home", Label: "home"})
	edit, ok := store.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, Edit{Mountpoint: "/home", Label: "home"}, edit)

	store.Unstage(id)
	_, ok = store.Lookup(id)
	assert.False(t, ok)
	assert.Empty(t, store.All())
}

func TestAllSorted(t *testing.T) {
	store := NewStore()
	store.Stage(disk.Identity{Device: "/dev/sdb", Start: 2048, End: 4095}, Edit{Label: "c"})
	store.Stage(disk.Identity{Device: "/dev/sda", Start: 4096, End: 8191}, Edit{Label: "b"})
	store.Stage(disk.Identity{Device: "/dev/sda", Start: 2048, End: 4095}, Edit{Label: "a"})

	var labels []string
	for _, e := range store.All() {
		labels = append(labels, e.Edit.Label)
	}
	assert.Equal(t, []string{"a", "b", "c"}, labels)
}

func TestRecordCreateStagesEdit(t *testing.T) {
	store := NewStore()
	g := disk.Geometry{Start: 2099200, End: 3147775}
	edit := Edit{Mountpoint: "/home", FSType: disk.FS_EXT4, Format: true}

	id := store.RecordCreate("/dev/sda", disk.KindLogical, g, edit)
	assert.Equal(t, disk.Identity{Device: "/dev/sda", Start: 2099200, End: 3147775}, id)
	assert.True(t, store.IsCreated(id))

	staged, ok := store.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, edit, staged)
	assert.Equal(t, []Operation{{Type: OpCreate, Device: "/dev/sda", Kind: disk.KindLogical, Geometry: g}}, store.Operations())
}

func TestDeleteOfCreatedPartition(t *testing.T) {
	store := NewStore()
	g := disk.Geometry{Start: 2099200, End: 3147775}
	id := store.RecordCreate("/dev/sda", disk.KindLogical, g, Edit{FSType: disk.FS_EXT4, Format: true})

	store.RecordDelete("/dev/sda", disk.KindLogical, g)
	assert.False(t, store.IsCreated(id))
	assert.Empty(t, store.Operations())
	assert.Empty(t, store.All())
}

func TestRecordCreateExtended(t *testing.T) {
	store := NewStore()
	g := disk.Geometry{Start: 2241179, End: 4194303}

	id := store.RecordCreate("/dev/sdc", disk.KindExtended, g, Edit{})
	assert.True(t, store.IsCreated(id))
	_, ok := store.Lookup(id)
	assert.False(t, ok)
	assert.Empty(t, store.All())
	assert.Equal(t, []Operation{{Type: OpCreate, Device: "/dev/sdc", Kind: disk.KindExtended, Geometry: g}}, store.Operations())

	store.RecordDelete("/dev/sdc", disk.KindExtended, g)
	assert.Empty(t, store.Operations())
}

func TestRecordDelete(t *testing.T) {
	store := NewStore()
	g := disk.Geometry{Start: 2048, End: 1050623}
	store.Stage(disk.Identity{Device: "/dev/sda", Start: 2048, End: 1050623}, Edit{Mountpoint: "/"})

	store.RecordDelete("/dev/sda", disk.KindPrimary, g)
	assert.Empty(t, store.All())
	assert.Equal(t, []Operation{{Type: OpDelete, Device: "/dev/sda", Kind: disk.KindPrimary, Geometry: g}}, store.Operations())
}

func TestRecordReplaceTable(t *testing.T) {
	store := NewStore()
	store.RecordDelete("/dev/sda", disk.KindPrimary, disk.Geometry{Start: 2048, End: 1050623})
	store.RecordCreate("/dev/sda", disk.KindPrimary, disk.Geometry{Start: 2048, End: 1050623}, Edit{Mountpoint: "/"})
	store.Stage(disk.Identity{Device: "/dev/sda", Start: 1052672, End: 2099199}, Edit{Label: "old"})
	store.RecordCreate("/dev/sdb", disk.KindPrimary, disk.Geometry{Start: 2048, End: 4095}, Edit{Mountpoint: "/data"})

	orphans := store.RecordReplaceTable("/dev/sda", disk.PT_GPT)
	assert.Equal(t, []disk.Identity{
		{Device: "/dev/sda", Start: 2048, End: 1050623},
		{Device: "/dev/sda", Start: 1052672, End: 2099199},
	}, orphans)

	assert.Equal(t, []Operation{
		{Type: OpCreate, Device: "/dev/sdb", Kind: disk.KindPrimary, Geometry: disk.Geometry{Start: 2048, End: 4095}},
		{Type: OpReplaceTable, Device: "/dev/sda", Table: disk.PT_GPT},
	}, store.Operations())
	assert.Len(t, store.All(), 1)

	assert.Equal(t, []string{"/dev/sda", "/dev/sdb"}, store.Devices())
}

func TestReplay(t *testing.T) {
	snapshot := testSnapshot(t)
	store := NewStore()

	store.RecordDelete("/dev/sda", disk.KindLogical, disk.Geometry{Start: 1052672, End: 2099199})
	store.RecordCreate("/dev/sda", disk.KindLogical, disk.Geometry{Start: 1052672, End: 1574911}, Edit{FSType: disk.FS_SWAP, Format: true})
	store.RecordReplaceTable("/dev/sdb", disk.PT_GPT)
	store.RecordCreate("/dev/sdb", disk.KindPrimary, disk.Geometry{Start: 2048, End: 1050623}, Edit{Mountpoint: "/", FSType: disk.FS_XFS, Format: true})

	staged, err := store.Replay(snapshot)
	require.NoError(t, err)

	sda := staged["/dev/sda"]
	require.Len(t, sda.Partitions, 3)
	assert.Equal(t, disk.Geometry{Start: 1052672, End: 1574911}, sda.Partitions[2].Geometry)
	assert.Same(t, sda, sda.Partitions[2].Device)

	sdb := staged["/dev/sdb"]
	assert.Equal(t, disk.PT_GPT, sdb.Table)
	assert.Equal(t, disk.MaxPrimaryGPT, sdb.MaxPrimary)
	require.Len(t, sdb.Partitions, 1)

	// the snapshot is left alone
	assert.Len(t, snapshot["/dev/sda"].Partitions, 3)
	assert.Equal(t, disk.Geometry{Start: 1052672, End: 2099199}, snapshot["/dev/sda"].Partitions[2].Geometry)
	assert.Equal(t, disk.PT_NONE, snapshot["/dev/sdb"].Table)
	assert.Empty(t, snapshot["/dev/sdb"].Partitions)
}

func TestReplayErrors(t *testing.T) {
	store := NewStore()
	store.RecordCreate("/dev/sdz", disk.KindPrimary, disk.Geometry{Start: 2048, End: 4095}, Edit{})
	_, err := store.Replay(testSnapshot(t))
	assert.ErrorContains(t, err, "unknown device /dev/sdz")

	store = NewStore()
	store.RecordDelete("/dev/sda", disk.KindExtended, disk.Geometry{Start: 1050624, End: 3147775})
	_, err = store.Replay(testSnapshot(t))
	var structural *disk.StructuralIneligibleError
	assert.ErrorAs(t, err, &structural)
}

func TestClone(t *testing.T) {
	store := NewStore()
	store.RecordCreate("/dev/sda", disk.KindPrimary, disk.Geometry{Start: 2048, End: 4095}, Edit{Mountpoint: "/"})

	clone := store.Clone()
	clone.Clear()
	assert.Len(t, store.Operations(), 1)
	assert.Len(t, store.All(), 1)
	assert.Empty(t, clone.All())
	assert.Empty(t, clone.Operations())
}

func TestOperationString(t *testing.T) {
	assert.Equal(t, "replace-table /dev/sda gpt", Operation{Type: OpReplaceTable, Device: "/dev/sda", Table: disk.PT_GPT}.String())
	assert.Equal(t, "create logical /dev/sda 10-20", Operation{Type: OpCreate, Device: "/dev/sda", Kind: disk.KindLogical, Geometry: disk.Geometry{Start: 10, End: 20}}.String())
	assert.Panics(t, func() { _ = OpType(42).String() })
}
