package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/osbuild/disk-stager/internal/catalog"
	"github.com/osbuild/disk-stager/internal/common"
	commonslogger "github.com/osbuild/disk-stager/internal/common/slogger"
	"github.com/osbuild/disk-stager/internal/prometheus"
	"github.com/osbuild/disk-stager/internal/script"
	"github.com/osbuild/disk-stager/pkg/slogger"
)

const journalIdentifier = "osbuild-disk-stager"

var (
	configPath string
	verbose    bool

	commitPlan bool
	dryRun     bool

	config *StagerConfigFile
	logger slogger.SimpleLogger
)

var rootCmd = &cobra.Command{
	Use:          "osbuild-disk-stager",
	Short:        "Stage partitioning changes and apply them to the disks of the host",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		config, err = loadConfig(configPath)
		if err != nil {
			return err
		}
		logger, err = setupLogging(config, verbose)
		return err
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the devices, partitions and free regions of the host",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newStager(config, logger, true)
		if err != nil {
			return err
		}
		sess, err := s.session(cmd.Context())
		if err != nil {
			return err
		}
		return renderLayout(cmd.OutOrStdout(), sess.Layout())
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the devices a boot loader can be installed to",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newStager(config, logger, true)
		if err != nil {
			return err
		}
		devices, err := s.catalog.Refresh(cmd.Context())
		if err != nil {
			return err
		}
		return renderBootCandidates(cmd.OutOrStdout(), catalog.BootCandidates(devices))
	},
}

var applyCmd = &cobra.Command{
	Use:   "apply <script.toml>",
	Short: "Stage the actions of a script and optionally commit them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		sc, err := script.LoadFile(args[0])
		if err != nil {
			return err
		}

		s, err := newStager(config, logger, dryRun || config.Commit.DryRun || !commitPlan)
		if err != nil {
			return err
		}
		sess, err := s.session(ctx)
		if err != nil {
			return err
		}
		if err := sc.Apply(ctx, sess, logger); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if err := renderLayout(out, sess.Layout()); err != nil {
			return err
		}
		if err := renderOperations(out, sess.Operations()); err != nil {
			return err
		}

		if !commitPlan {
			if err := sess.Committable(); err != nil {
				return err
			}
			logger.Info("plan is committable, pass --commit to apply it")
			return nil
		}

		engine, err := s.engine()
		if err != nil {
			return err
		}
		res, err := sess.Commit(ctx, engine)
		if err != nil {
			return err
		}
		return s.handOff(res)
	},
}

func loadConfig(path string) (*StagerConfigFile, error) {
	c, err := LoadConfig(path)
	if err != nil {
		// A non-existing default config isn't an error, use defaults in this case.
		if errors.Is(err, os.ErrNotExist) && path == DefaultConfigPath {
			return GetDefaultConfig(), nil
		}
		return nil, fmt.Errorf("loading configuration %s: %w", path, err)
	}
	return c, nil
}

func setupLogging(c *StagerConfigFile, verbose bool) (slogger.SimpleLogger, error) {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stderr)

	if c.Log.Journal {
		if hook := common.NewJournalHook(journalIdentifier); hook != nil {
			logrus.AddHook(hook)
		} else {
			logrus.Info("journal is not available, logging to stderr only")
		}
	}

	return commonslogger.NewLogrusLogger(logrus.StandardLogger()), nil
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", DefaultConfigPath, "configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	applyCmd.Flags().BoolVar(&commitPlan, "commit", false, "apply the staged plan to the devices")
	applyCmd.Flags().BoolVar(&dryRun, "dry-run", false, "log the changes of the commit instead of doing them")
	rootCmd.AddCommand(listCmd, devicesCmd, applyCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if config != nil && config.Metrics.Textfile != "" {
		if merr := prometheus.WriteTextfile(config.Metrics.Textfile); merr != nil {
			logrus.Error(merr)
		}
	}

	if err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
