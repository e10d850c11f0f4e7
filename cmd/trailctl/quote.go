package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trailpay/platform/internal/pricing"
	"github.com/trailpay/platform/internal/provider"
)

var (
	quoteFrom int
	quoteTo   int
)

type quoteOutput struct {
	Trail        string  `json:"trail"`
	From         int     `json:"from"`
	To           int     `json:"to"`
	PerStepValue float64 `json:"per_step_value"`
	Amount       int64   `json:"amount"`
	Currency     string  `json:"currency"`
}

func newQuoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Price a skip between two steps of a trail file",
		Args:  cobra.NoArgs,
		RunE:  runQuoteCmd,
	}
	cmd.Flags().StringVar(&trailFile, "file", "", "trail TOML file")
	cmd.Flags().IntVar(&quoteFrom, "from", 0, "frontier step index")
	cmd.Flags().IntVar(&quoteTo, "to", 1, "target step index")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runQuoteCmd(cmd *cobra.Command, _ []string) error {
	trail, err := provider.LoadTrailFile(trailFile)
	if err != nil {
		return err
	}
	n := trail.StepCount()
	if quoteFrom < 0 || quoteFrom >= n || quoteTo < 0 || quoteTo > n {
		return fmt.Errorf("steps out of range for a %d-step trail", n)
	}
	return printJSON(cmd, quoteOutput{
		Trail:        trail.Title,
		From:         quoteFrom,
		To:           quoteTo,
		PerStepValue: pricing.PerStepValue(trail.TrailValue, n),
		Amount:       pricing.SkipCost(trail.TrailValue, n, quoteFrom, quoteTo),
		Currency:     trail.Currency,
	})
}
