package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fuel-pricing/adapters/postgres"
	"fuel-pricing/internal/config"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database maintenance",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the rule and record tables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		pool, err := postgres.NewPool(ctx, config.Get().Database)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := postgres.Migrate(ctx, pool); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
		return nil
	},
}

func init() {
	dbCmd.AddCommand(dbMigrateCmd)
}
