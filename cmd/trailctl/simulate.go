package main

import (
	"github.com/spf13/cobra"

	"github.com/trailpay/platform/internal/provider"
	"github.com/trailpay/platform/internal/simulate"
)

var scriptFile string

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Replay a learner script against a trail file on a virtual clock",
		Args:  cobra.NoArgs,
		RunE:  runSimulateCmd,
	}
	cmd.Flags().StringVar(&trailFile, "file", "", "trail TOML file")
	cmd.Flags().StringVar(&scriptFile, "script", "", "learner script TOML file")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("script")
	return cmd
}

func runSimulateCmd(cmd *cobra.Command, _ []string) error {
	trail, err := provider.LoadTrailFile(trailFile)
	if err != nil {
		return err
	}
	script, err := simulate.LoadScript(scriptFile)
	if err != nil {
		return err
	}
	res, err := simulate.Run(trail, script)
	if err != nil {
		return err
	}
	return printJSON(cmd, res)
}
