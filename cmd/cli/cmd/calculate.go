package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"fuel-pricing/core/types"
	"fuel-pricing/internal/config"
	"fuel-pricing/internal/logging"
)

var (
	rulesPath     string
	outputFormat  string
	exportPath    string
	metricsFile   string
	dryRun        bool
	extendExpired bool
	supplierRates bool
)

// calculateCmd prices a scenario file
var calculateCmd = &cobra.Command{
	Use:   "calculate <scenario.json|->",
	Short: "Price a fuel uplift scenario",
	Long: `Price the scenario described in a JSON file ("-" reads stdin) and store
the result as an immutable calculation record.

With --dry-run the result is printed without being stored.

Examples:
  fuel-pricing calculate --rules rules.json scenario.json
  fuel-pricing calculate --dry-run --output table scenario.json
  cat scenario.json | fuel-pricing calculate --export out.xlsx -`,
	Args: cobra.ExactArgs(1),
	RunE: runCalculate,
}

func init() {
	addEngineFlags(calculateCmd)
	calculateCmd.Flags().BoolVar(&dryRun, "dry-run", false, "price without storing a record")
	calculateCmd.Flags().BoolVar(&extendExpired, "extend-expired", false, "fall back to expired client-specific pricing")
	calculateCmd.Flags().BoolVar(&supplierRates, "supplier-rates", false, "use exchange rates stored on supplier prices")
}

// addEngineFlags registers the flags shared by pricing commands
func addEngineFlags(c *cobra.Command) {
	c.Flags().StringVar(&rulesPath, "rules", "", "rules fixture file (overrides pricing.rules_path)")
	c.Flags().StringVarP(&outputFormat, "output", "o", "table", "output format (table, json)")
	c.Flags().StringVar(&exportPath, "export", "", "also write the breakdown as XLSX to this path")
	c.Flags().StringVar(&metricsFile, "metrics-textfile", "", "write Prometheus metrics to this file on exit")
}

func runCalculate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	in, err := readScenario(cmd, args[0])
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("extend-expired") {
		in.ExtendExpiredClientSpecific = extendExpired
	} else if config.Get().Pricing.ExtendExpiredClientSpecific {
		in.ExtendExpiredClientSpecific = true
	}
	if cmd.Flags().Changed("supplier-rates") {
		in.UseSupplierExchangeRates = supplierRates
	}

	a, err := newApp(ctx, appOptions{rulesPath: rulesPath, withEngine: true, metricsFile: metricsFile})
	if err != nil {
		return err
	}
	defer a.Close()

	if dryRun {
		res, err := a.engine.GetResults(ctx, in)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), outputFormat, "", res)
	}

	rec, err := a.engine.Calculate(ctx, in)
	if err != nil {
		return err
	}
	logging.Sugar.Debugf("stored record %s", rec.ID)
	if err := printResult(cmd.OutOrStdout(), outputFormat, string(rec.ID), rec.Results()); err != nil {
		return err
	}
	return exportRecord(rec, exportPath)
}

func readScenario(cmd *cobra.Command, path string) (types.ScenarioInput, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return types.ScenarioInput{}, fmt.Errorf("read scenario: %w", err)
	}

	var in types.ScenarioInput
	if err := json.Unmarshal(data, &in); err != nil {
		return types.ScenarioInput{}, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	return in, nil
}
