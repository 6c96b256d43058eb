package script

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbuild/disk-stager/internal/catalog"
	"github.com/osbuild/disk-stager/internal/disk"
	"github.com/osbuild/disk-stager/internal/geometry"
	"github.com/osbuild/disk-stager/internal/mounts"
	"github.com/osbuild/disk-stager/internal/session"
	"github.com/osbuild/disk-stager/internal/staging"
)

func newSession(t *testing.T) (*session.Session, *mounts.Fake) {
	t.Helper()

	sda := disk.NewDevice("/dev/sda", 4194304, 512, disk.PT_MSDOS)
	for _, p := range []struct {
		kind disk.PartitionKind
		g    disk.Geometry
		fs   string
	}{
		{disk.KindPrimary, disk.Geometry{Start: 2048, End: 1050623}, "ext4"},
		{disk.KindExtended, disk.Geometry{Start: 1050624, End: 3147775}, ""},
		{disk.KindLogical, disk.Geometry{Start: 1052672, End: 2099199}, "swap"},
		{disk.KindLogical, disk.Geometry{Start: 2099200, End: 3147775}, "ext4"},
	} {
		part, err := sda.AddPartition(p.kind, p.g)
		require.NoError(t, err)
		part.FSType = p.fs
	}
	sdb := disk.NewDevice("/dev/sdb", 2097152, 512, disk.PT_NONE)

	table := mounts.NewFake(
		mounts.Mount{Source: "/dev/sda1", Mountpoint: "/", FSType: "ext4"},
		mounts.Mount{Source: "/dev/sda6", Mountpoint: "/home", FSType: "ext4"},
	)
	cat, err := catalog.New(catalog.Options{Provider: catalog.NewFake(table, sda, sdb), Mounts: table})
	require.NoError(t, err)

	sess, err := session.New(context.Background(), session.Options{
		Catalog:   cat,
		Mounts:    table,
		Unmounter: table,
	})
	require.NoError(t, err)
	return sess, table
}

func TestLoadFile(t *testing.T) {
	s, err := LoadFile("testdata/install.toml")
	require.NoError(t, err)

	assert.Equal(t, "/dev/sda", s.BootDevice)
	require.Len(t, s.Actions, 6)
	assert.Equal(t, ActionNewTable, s.Actions[0].Type)
	assert.Equal(t, disk.PT_GPT, s.Actions[0].Table)
	assert.Equal(t, uint64(512*1024*1024), s.Actions[1].Size.Uint64())
	assert.Equal(t, 0, *s.Actions[1].Region)
	assert.Equal(t, geometry.FromStart, s.Actions[1].Placement)
	assert.Equal(t, disk.FS_VFAT, s.Actions[1].FSType)
	assert.Equal(t, "delete /dev/sda6", s.Actions[3].String())
	assert.Equal(t, disk.KindLogical, s.Actions[4].Kind)
	assert.Equal(t, uint64(200), s.Actions[4].SizeMB)
	assert.Equal(t, "edit /dev/sda@2048", s.Actions[5].String())
	assert.True(t, s.Actions[5].Format)

	_, err = LoadFile("testdata/unknown-type.toml")
	assert.ErrorContains(t, err, "unknown action type: resize")

	_, err = LoadFile("testdata/missing.toml")
	assert.Error(t, err)
}

func TestLoadInvalid(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown key": `
[[action]]
type = "delete"
path = "/dev/sda1"
force = true
`,
		"new-table without table": `
[[action]]
type = "new-table"
device = "/dev/sdb"
`,
		"create without region": `
[[action]]
type = "create"
device = "/dev/sdb"
`,
		"two sizes": `
[[action]]
type = "create"
device = "/dev/sdb"
region = 0
size = "1 GB"
size_mb = 1000
`,
		"free kind": `
[[action]]
type = "create"
device = "/dev/sdb"
region = 0
kind = "free"
`,
		"edit without start": `
[[action]]
type = "edit"
device = "/dev/sda"
`,
		"bad size": `
[[action]]
type = "create"
device = "/dev/sdb"
region = 0
size = "12 parsecs"
`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestApply(t *testing.T) {
	sess, table := newSession(t)
	s, err := LoadFile("testdata/install.toml")
	require.NoError(t, err)

	require.NoError(t, s.Apply(context.Background(), sess, nil))
	assert.Equal(t, "/dev/sda", sess.BootDevice())
	assert.Equal(t, []string{"/home"}, table.Unmounted)
	require.NoError(t, sess.Committable())

	ops := sess.Operations()
	var lines []string
	for _, op := range ops {
		lines = append(lines, op.String())
	}
	assert.Equal(t, []string{
		"replace-table /dev/sdb gpt",
		"create primary /dev/sdb 2048-1050876",
		"create primary /dev/sdb 1050877-2097118",
		"delete logical /dev/sda 2099200-3147775",
		"create logical /dev/sda 2099201-2489825",
	}, lines)

	mountpoints := make(map[string]string)
	for _, c := range sess.Claims() {
		mountpoints[c.Mountpoint] = c.Identity.String()
	}
	assert.Equal(t, map[string]string{
		"/":         "/dev/sda:2048-1050623",
		"/boot/efi": "/dev/sdb:2048-1050876",
		"/home":     "/dev/sda:2099201-2489825",
		"/srv":      "/dev/sdb:1050877-2097118",
	}, mountpoints)

	var root staging.Edit
	for _, e := range sess.Edits() {
		if e.Identity.Start == 2048 && e.Identity.Device == "/dev/sda" {
			root = e.Edit
		}
	}
	assert.Equal(t, staging.Edit{Label: "root", Mountpoint: "/", FSType: disk.FS_XFS, Format: true}, root)
}

func TestApplyStopsAtFirstFailure(t *testing.T) {
	sess, _ := newSession(t)
	s, err := Load(strings.NewReader(`
[[action]]
type = "edit"
path = "/dev/sda1"
label = "root"
mountpoint = "/"

[[action]]
type = "edit"
path = "/dev/sda5"
mountpoint = "/data"

[[action]]
type = "delete"
path = "/dev/sda6"
`))
	require.NoError(t, err)

	err = s.Apply(context.Background(), sess, nil)
	var actionErr *ActionError
	require.ErrorAs(t, err, &actionErr)
	assert.Equal(t, 1, actionErr.Index)
	assert.Equal(t, ActionEdit, actionErr.Action.Type)

	var invalid *disk.InvalidMountpointError
	assert.True(t, errors.As(err, &invalid))

	assert.Len(t, sess.Edits(), 1)
	assert.Empty(t, sess.Operations())
}

func TestApplyAddressing(t *testing.T) {
	sess, _ := newSession(t)

	for _, doc := range []string{
		"[[action]]\ntype = \"delete\"\npath = \"/dev/sda9\"\n",
		"[[action]]\ntype = \"delete\"\ndevice = \"/dev/sda\"\nstart = 4096\n",
		"[[action]]\ntype = \"delete\"\ndevice = \"/dev/sdz\"\nstart = 2048\n",
		"[[action]]\ntype = \"create\"\ndevice = \"/dev/sda\"\nregion = 5\nsize_mb = 1\n",
		"[[action]]\ntype = \"create\"\ndevice = \"/dev/sda\"\nstart = 2048\nsize_mb = 1\n",
		"[[action]]\ntype = \"create\"\ndevice = \"/dev/sdb\"\nregion = 0\nsize_mb = 1\n",
	} {
		s, err := Load(strings.NewReader(doc))
		require.NoError(t, err)
		var actionErr *ActionError
		assert.ErrorAs(t, s.Apply(context.Background(), sess, nil), &actionErr, doc)
	}
	assert.Empty(t, sess.Operations())
}

func TestActionType(t *testing.T) {
	for _, name := range []string{"new-table", "create", "edit", "delete"} {
		typ, err := NewActionType(name)
		require.NoError(t, err)
		assert.Equal(t, name, typ.String())
	}
	_, err := NewActionType("move")
	assert.Error(t, err)
	assert.Panics(t, func() { _ = ActionType(42).String() })
}
