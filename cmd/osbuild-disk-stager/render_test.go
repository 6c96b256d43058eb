package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbuild/disk-stager/internal/catalog"
	"github.com/osbuild/disk-stager/internal/disk"
	"github.com/osbuild/disk-stager/internal/layout"
	"github.com/osbuild/disk-stager/internal/staging"
)

func testTree() *layout.Tree {
	return &layout.Tree{
		Devices: []*layout.Row{
			{
				IsDevice: true,
				Device:   "/dev/sda",
				Path:     "/dev/sda",
				Model:    "ATA Disk",
				Table:    disk.PT_MSDOS,
				Size:     "2.1 G",
				Children: []*layout.Row{
					{Device: "/dev/sda", Path: "/dev/sda1", Kind: disk.KindPrimary, FSType: "ext4", Mountpoint: "/", Size: "536.9 M", Used: "120.0 M", Flags: disk.FlagBoot},
					{Device: "/dev/sda", Path: "/dev/sda2", Kind: disk.KindExtended, FSType: layout.ExtendedFilesystem, Size: "1.1 G", Children: []*layout.Row{
						{Device: "/dev/sda", Kind: disk.KindLogical, FSType: "xfs", Mountpoint: "/home", Format: true, Staged: true, Created: true, Size: "200.0 M"},
					}},
					{Device: "/dev/sda", Path: layout.FreeSpacePath, Kind: disk.KindFreeSpace, FSType: layout.NoFilesystem, Size: "536.9 M", Offers: []disk.PartitionKind{disk.KindPrimary, disk.KindExtended}},
					{Device: "/dev/sda", Path: layout.FreeSpacePath, Kind: disk.KindFreeSpace, FSType: layout.NoFilesystem, Size: "2.0 M"},
				},
			},
		},
	}
}

func TestRenderLayout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderLayout(&buf, testTree()))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 7)
	assert.True(t, strings.HasPrefix(lines[0], "DEVICE"))
	assert.Contains(t, lines[0], "CREATE")
	assert.Contains(t, lines[1], "msdos")
	assert.Contains(t, lines[1], "ATA Disk")
	assert.True(t, strings.HasPrefix(lines[2], "  /dev/sda1"))
	assert.Contains(t, lines[2], "120.0 M")
	assert.Contains(t, lines[2], "boot")
	assert.True(t, strings.HasPrefix(lines[4], "    new"))
	assert.Contains(t, lines[4], "yes")
	assert.Contains(t, lines[5], layout.FreeSpacePath)
	assert.True(t, strings.HasSuffix(lines[5], "primary,extended"))
	assert.True(t, strings.HasSuffix(lines[6], "-"))
	assert.NotContains(t, lines[2], "-")
}

func TestRenderOperations(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderOperations(&buf, nil))
	assert.Contains(t, buf.String(), "no staged partition table changes")

	buf.Reset()
	require.NoError(t, renderOperations(&buf, []staging.Operation{
		{Type: staging.OpReplaceTable, Device: "/dev/sdb", Table: disk.PT_GPT},
		{Type: staging.OpCreate, Device: "/dev/sdb", Kind: disk.KindPrimary, Geometry: disk.Geometry{Start: 2048, End: 4095}},
	}))
	assert.Equal(t, "1. replace-table /dev/sdb gpt\n2. create primary /dev/sdb 2048-4095\n", buf.String())
}

func TestRenderBootCandidates(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderBootCandidates(&buf, []catalog.BootCandidate{
		{Path: "/dev/sda", Model: "ATA Disk", Size: 500000000000},
	}))
	assert.Equal(t, "ATA Disk [500 GB] (/dev/sda)\n", buf.String())
}
