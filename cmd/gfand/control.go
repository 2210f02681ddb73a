package main

import (
	"fmt"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/franksops/gofanout/daemon"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask a running daemon to shut down",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return signalDaemon(cmd, unix.SIGTERM)
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Ask a running daemon to reread its distribution file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return signalDaemon(cmd, unix.SIGHUP)
	},
}

func signalDaemon(cmd *cobra.Command, sig syscall.Signal) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pid, err := daemon.ReadPID(cfg)
	if err != nil {
		return err
	}
	if err := unix.Kill(pid, sig); err != nil {
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sent %s to %d\n", unix.SignalName(sig), pid)
	return nil
}
