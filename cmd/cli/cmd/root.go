// Package cmd provides the CLI commands for fuel-pricing.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fuel-pricing/internal/config"
	"fuel-pricing/internal/logging"
)

// Version is set at build time
var Version = "0.1.0"

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "fuel-pricing",
	Short: "Price aviation fuel uplifts",
	Long: `fuel-pricing resolves the applicable fuel price, supplier fees and taxes
for a fuel uplift and stores every calculation as an immutable record.

Examples:
  fuel-pricing calculate --rules rules.json scenario.json
  fuel-pricing calculate --dry-run --output table scenario.json
  fuel-pricing rerun <record-id> --rate EUR-USD=1.0850
  fuel-pricing export <record-id> -o breakdown.xlsx`,
	SilenceUsage: true,
}

// Execute runs the CLI
func Execute() error {
	defer logging.Sync()
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(calculateCmd)
	rootCmd.AddCommand(rerunCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	config.Set(cfg)

	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := logging.Initialize(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
	}
}

// versionCmd prints version information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "fuel-pricing version %s\n", Version)
	},
}
