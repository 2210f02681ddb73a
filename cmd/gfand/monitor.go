package main

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/franksops/gofanout/ui"
)

var monitorInterval time.Duration

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch a running daemon",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		p := tea.NewProgram(ui.NewTUIModel(cfg.StatusPath(), monitorInterval), tea.WithAltScreen())
		_, err = p.Run()
		return err
	},
}

func init() {
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", time.Second, "How often to reread the status file")
}
