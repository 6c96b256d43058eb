package main

import (
	"bytes"
	"os"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/require"

	"github.com/osbuild/disk-stager/internal/catalog"
)

func TestEmpty(t *testing.T) {
	config, err := LoadConfig("testdata/empty-config.toml")
	require.NoError(t, err)
	require.NotNil(t, config)
	require.Equal(t, GetDefaultConfig(), config)
}

func TestNonExisting(t *testing.T) {
	config, err := LoadConfig("testdata/non-existing-config.toml")
	require.Error(t, err)
	require.True(t, os.IsNotExist(err))
	require.Nil(t, config)
}

func TestDefaultConfig(t *testing.T) {
	defaultConfig := GetDefaultConfig()
	require.Equal(t, "info", defaultConfig.Log.Level)
	require.False(t, defaultConfig.Log.Journal)
	require.Equal(t, catalog.DefaultExclude, defaultConfig.Catalog.Exclude)
	require.Equal(t, catalog.DefaultParallelism, defaultConfig.Catalog.Parallelism)
	require.False(t, defaultConfig.Commit.DryRun)
	require.True(t, defaultConfig.Commit.Lock)
	require.Equal(t, "", defaultConfig.Metrics.Textfile)
}

func TestConfig(t *testing.T) {
	config, err := LoadConfig("testdata/test.toml")
	require.NoError(t, err)
	require.NotNil(t, config)

	require.Equal(t, "debug", config.Log.Level)
	require.True(t, config.Log.Journal)
	require.Equal(t, []string{"/dev/sr*", "/dev/nvme1n1"}, config.Catalog.Exclude)
	require.Equal(t, 2, config.Catalog.Parallelism)
	require.True(t, config.Commit.DryRun)
	require.False(t, config.Commit.Lock)
	require.Equal(t, "/var/tmp", config.Commit.ScratchDir)
	require.Equal(t, "/run/installer/disks.toml", config.Handoff.Path)
	require.Equal(t, "/var/lib/node_exporter/textfile/disk_stager.prom", config.Metrics.Textfile)
}

func TestBadLevel(t *testing.T) {
	_, err := LoadConfig("testdata/bad-level.toml")
	require.ErrorContains(t, err, "invalid log level")
}

func TestDumpConfig(t *testing.T) {
	config, err := LoadConfig("testdata/test.toml")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, DumpConfig(config, &buf))

	dumped := GetDefaultConfig()
	_, err = toml.Decode(buf.String(), dumped)
	require.NoError(t, err)
	require.Equal(t, config, dumped)
}
