package cmd

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"fuel-pricing/core/record"
)

var rerunRates map[string]string

// rerunCmd recalculates a stored scenario
var rerunCmd = &cobra.Command{
	Use:   "rerun <record-id>",
	Short: "Recalculate a stored scenario",
	Long: `Recalculate a stored scenario against the current rules using the
exchange rates the source calculation used. --rate replaces single pairs;
every other pair keeps its recorded rate.

Examples:
  fuel-pricing rerun 6f1c...
  fuel-pricing rerun 6f1c... --rate EUR-USD=1.0850 --rate GBP-USD=1.27`,
	Args: cobra.ExactArgs(1),
	RunE: runRerun,
}

func init() {
	addEngineFlags(rerunCmd)
	rerunCmd.Flags().StringToStringVar(&rerunRates, "rate", nil, "override an exchange rate (FROM-TO=RATE)")
}

func runRerun(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	overrides := make(map[string]decimal.Decimal, len(rerunRates))
	for pair, raw := range rerunRates {
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("rate %s: %w", pair, err)
		}
		overrides[pair] = rate
	}

	a, err := newApp(ctx, appOptions{rulesPath: rulesPath, withEngine: true, metricsFile: metricsFile})
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.engine.Rerun(ctx, record.ID(args[0]), overrides)
	if err != nil {
		return err
	}
	if err := printResult(cmd.OutOrStdout(), outputFormat, string(rec.ID), rec.Results()); err != nil {
		return err
	}
	return exportRecord(rec, exportPath)
}
