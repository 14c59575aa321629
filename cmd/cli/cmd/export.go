package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"fuel-pricing/core/record"
)

var exportOut string

// exportCmd writes a stored record as an XLSX workbook
var exportCmd = &cobra.Command{
	Use:   "export <record-id>",
	Short: "Export a stored record as XLSX",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := newApp(ctx, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.store.Get(ctx, record.ID(args[0]))
		if err != nil {
			return err
		}
		path := exportOut
		if path == "" {
			path = args[0] + ".xlsx"
		}
		if err := exportRecord(rec, path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default <record-id>.xlsx)")
}
