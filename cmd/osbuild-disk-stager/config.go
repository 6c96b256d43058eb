package main

import (
	"fmt"
	"io"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/osbuild/disk-stager/internal/catalog"
)

const DefaultConfigPath = "/etc/osbuild-disk-stager/config.toml"

type StagerConfigFile struct {
	Log     LogConfig     `toml:"log"`
	Catalog CatalogConfig `toml:"catalog"`
	Commit  CommitConfig  `toml:"commit"`
	Handoff HandoffConfig `toml:"handoff"`
	Metrics MetricsConfig `toml:"metrics"`
}

type LogConfig struct {
	Level string `toml:"level"`
	// also send log entries to the systemd journal when it is available
	Journal bool `toml:"journal"`
}

type CatalogConfig struct {
	Exclude     []string `toml:"exclude"`
	Parallelism int      `toml:"parallelism"`
}

type CommitConfig struct {
	DryRun bool `toml:"dry_run"`
	// take flock(2) locks on the device nodes while reading and writing
	Lock bool `toml:"lock"`
	// directory for temporary read-only mounts used to measure used space
	ScratchDir string `toml:"scratch_dir"`
}

type HandoffConfig struct {
	// the commit result is written here, to stdout when empty
	Path string `toml:"path"`
}

type MetricsConfig struct {
	// node_exporter textfile collector file, no metrics are written when empty
	Textfile string `toml:"textfile"`
}

func GetDefaultConfig() *StagerConfigFile {
	return &StagerConfigFile{
		Log: LogConfig{
			Level: "info",
		},
		Catalog: CatalogConfig{
			Exclude:     append([]string(nil), catalog.DefaultExclude...),
			Parallelism: catalog.DefaultParallelism,
		},
		Commit: CommitConfig{
			Lock: true,
		},
		Handoff: HandoffConfig{
			Path: "/run/osbuild-disk-stager/result.toml",
		},
	}
}

func LoadConfig(name string) (*StagerConfigFile, error) {
	c := GetDefaultConfig()
	_, err := toml.DecodeFile(name, c)
	if err != nil {
		return nil, err
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	if c.Catalog.Parallelism < 0 {
		return nil, fmt.Errorf("invalid catalog parallelism: %d", c.Catalog.Parallelism)
	}

	return c, nil
}

func DumpConfig(c *StagerConfigFile, w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}
