package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/franksops/gofanout/config"
	"github.com/franksops/gofanout/daemon"
	"github.com/franksops/gofanout/logging"
)

var runFlags struct {
	workDir    string
	distFile   string
	rescan     int
	maxProcess int
	logLevel   string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon in the foreground",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(runOverrides(cmd))
		if err != nil {
			return err
		}
		logger, err := logging.NewFromConfig(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		d := daemon.New(cfg, logger)

		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-hup:
					logger.Info("reload requested")
					d.Reload()
				}
			}
		}()

		err = d.Run(ctx)
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			return fmt.Errorf("%w in %s", err, cfg.WorkDir)
		}
		return err
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.workDir, "work-dir", "", "Override the work directory")
	f.StringVar(&runFlags.distFile, "dirs", "", "Override the distribution file")
	f.IntVar(&runFlags.rescan, "rescan", 0, "Override the rescan interval in seconds")
	f.IntVar(&runFlags.maxProcess, "max-process", 0, "Override the worker pool size")
	f.StringVar(&runFlags.logLevel, "log-level", "", "Override the log level")
}

// runOverrides applies only the flags the user actually set.
func runOverrides(cmd *cobra.Command) func(*config.Config) {
	f := cmd.Flags()
	return func(c *config.Config) {
		if f.Changed("work-dir") {
			c.WorkDir = runFlags.workDir
		}
		if f.Changed("dirs") {
			c.DistributionFile = runFlags.distFile
		}
		if f.Changed("rescan") {
			c.RescanInterval = runFlags.rescan
		}
		if f.Changed("max-process") {
			c.MaxProcess = runFlags.maxProcess
		}
		if f.Changed("log-level") {
			c.Log.Level = runFlags.logLevel
		}
	}
}
