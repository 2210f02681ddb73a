package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/franksops/gofanout/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "gfand",
	Short: "File distribution daemon",
	Long: `gfand watches input directories, groups new files into jobs by
destination and hands every job to the transfer stage.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "~/.config/gofanout/gfand.toml", "Path to the daemon config file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(targetCmd)
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func loadConfig(overrides ...func(*config.Config)) (*config.Config, error) {
	return config.Load(configPath, overrides...)
}
