package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/osbuild/disk-stager/internal/catalog"
	"github.com/osbuild/disk-stager/internal/commit"
	"github.com/osbuild/disk-stager/internal/devlock"
	"github.com/osbuild/disk-stager/internal/fsinfo"
	"github.com/osbuild/disk-stager/internal/mounts"
	"github.com/osbuild/disk-stager/internal/runner"
	"github.com/osbuild/disk-stager/internal/session"
	"github.com/osbuild/disk-stager/internal/usedspace"
	"github.com/osbuild/disk-stager/pkg/slogger"
)

// stager wires the host implementations of the providers together.
type stager struct {
	cfg    *StagerConfigFile
	logger slogger.SimpleLogger
	dryRun bool

	mounts    mounts.Table
	unmounter mounts.Unmounter
	locker    devlock.Locker
	provider  catalog.Provider
	fsinfo    fsinfo.Provider
	catalog   *catalog.Catalog
}

// dryRunUnmounter logs instead of unmounting.
type dryRunUnmounter struct {
	logger slogger.SimpleLogger
}

func (u dryRunUnmounter) Unmount(_ context.Context, mountpoint string) error {
	u.logger.Info("dry run, not unmounting", "mountpoint", mountpoint)
	return nil
}

func newStager(cfg *StagerConfigFile, logger slogger.SimpleLogger, dryRun bool) (*stager, error) {
	s := &stager{
		cfg:       cfg,
		logger:    logger,
		dryRun:    dryRun,
		mounts:    mounts.System{},
		unmounter: mounts.SystemUnmounter{},
		locker:    devlock.Nop{},
	}
	if dryRun {
		s.unmounter = dryRunUnmounter{logger: logger}
	}
	if cfg.Commit.Lock {
		s.locker = devlock.Flock{}
	}

	r := runner.NewLinux(logger)

	parted := catalog.NewParted(r, s.mounts, logger)
	parted.DryRun = dryRun
	s.provider = parted

	host := fsinfo.NewHost(r, s.mounts, logger)
	host.DryRun = dryRun
	host.ScratchDir = cfg.Commit.ScratchDir
	s.fsinfo = host

	var err error
	s.catalog, err = catalog.New(catalog.Options{
		Provider:    s.provider,
		Mounts:      s.mounts,
		FSInfo:      s.fsinfo,
		Locker:      s.locker,
		Exclude:     cfg.Catalog.Exclude,
		Parallelism: cfg.Catalog.Parallelism,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *stager) session(ctx context.Context) (*session.Session, error) {
	sess, err := session.New(ctx, session.Options{
		Catalog:   s.catalog,
		Mounts:    s.mounts,
		Unmounter: s.unmounter,
		Measure:   usedspace.Measure(ctx, s.fsinfo),
		Logger:    s.logger,
	})
	if err != nil {
		return nil, err
	}
	for _, readErr := range s.catalog.ReadErrors() {
		s.logger.Error(readErr, "device listed without partitions", "device", readErr.Device)
	}
	return sess, nil
}

func (s *stager) engine() (*commit.Engine, error) {
	return commit.NewEngine(commit.Options{
		Provider:  s.provider,
		FSInfo:    s.fsinfo,
		Mounts:    s.mounts,
		Unmounter: s.unmounter,
		Locker:    s.locker,
		Logger:    s.logger,
		DryRun:    s.dryRun,
	})
}

// handOff writes the commit result to the configured path, or to stdout.
func (s *stager) handOff(res *commit.Result) error {
	path := s.cfg.Handoff.Path
	if path == "" {
		return res.WriteTOML(os.Stdout)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating hand-off directory: %w", err)
	}
	if err := res.WriteFile(path); err != nil {
		return err
	}
	s.logger.Info("commit result written", "path", path, "operation_id", res.OperationID)
	return nil
}
