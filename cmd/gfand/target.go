package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/franksops/gofanout/logging"
	"github.com/franksops/gofanout/targets"
)

var targetCmd = &cobra.Command{
	Use:   "target",
	Short: "Change the state of a transfer target",
}

var targetActions = []struct {
	name  string
	short string
	apply func(*targets.State)
}{
	{"pause", "Hold new jobs for a target", func(s *targets.State) { s.Paused = true }},
	{"resume", "Release held jobs for a target", func(s *targets.State) { s.Paused = false }},
	{"disable", "Discard new jobs for a target", func(s *targets.State) { s.Disabled = true }},
	{"enable", "Accept new jobs for a target again", func(s *targets.State) {
		s.Disabled = false
		s.ErrorCount = 0
	}},
}

func init() {
	for _, a := range targetActions {
		targetCmd.AddCommand(&cobra.Command{
			Use:   a.name + " <target>",
			Short: a.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return updateTarget(cmd, args[0], a.name, a.apply)
			},
		})
	}
}

func updateTarget(cmd *cobra.Command, name, action string, fn func(*targets.State)) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	table, err := targets.OpenFile(cfg.TargetsFile, logging.NewNop())
	if err != nil {
		return err
	}
	if err := table.Update(name, fn); err != nil {
		return err
	}
	st := table.Status(name)
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (paused=%t disabled=%t)\n", name, action, st.Paused, st.Disabled)
	return nil
}
