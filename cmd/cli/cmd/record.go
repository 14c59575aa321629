package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"fuel-pricing/adapters/storage"
	"fuel-pricing/core/record"
)

var (
	listAirport string
	listLimit   int
)

// recordCmd groups the stored record commands
var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Inspect stored calculation records",
}

var recordShowCmd = &cobra.Command{
	Use:   "show <record-id>",
	Short: "Print a stored record as JSON",
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
		data, err := rec.Encode()
		if err != nil {
			return err
		}
		var out bytes.Buffer
		if err := json.Indent(&out, data, "", "  "); err != nil {
			return err
		}
		out.WriteByte('\n')
		_, err = out.WriteTo(cmd.OutOrStdout())
		return err
	},
}

var recordListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored records, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := newApp(ctx, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		metas, err := a.store.List(ctx, record.ListFilter{AirportID: listAirport, Limit: listLimit})
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tCREATED\tAIRPORT\tROWS\tSOURCE")
		for _, m := range metas {
			source := "-"
			if m.SourceID != "" {
				source = string(m.SourceID)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", m.ID, m.CreatedAt.Format(time.RFC3339), m.AirportID, m.Rows, source)
		}
		return tw.Flush()
	},
}

var recordVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the content hash of every stored record",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := newApp(ctx, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		var corrupted []string
		if fs, ok := a.store.(*storage.FileStore); ok {
			if corrupted, err = fs.VerifyIntegrity(); err != nil {
				return err
			}
		} else {
			metas, err := a.store.List(ctx, record.ListFilter{})
			if err != nil {
				return err
			}
			for _, m := range metas {
				if _, err := a.store.Get(ctx, m.ID); err != nil {
					corrupted = append(corrupted, string(m.ID))
				}
			}
		}

		for _, id := range corrupted {
			fmt.Fprintf(cmd.OutOrStdout(), "CORRUPTED %s\n", id)
		}
		if len(corrupted) > 0 {
			return fmt.Errorf("%d records failed verification", len(corrupted))
		}
		fmt.Fprintln(cmd.OutOrStdout(), "all records verified")
		return nil
	},
}

func init() {
	recordListCmd.Flags().StringVar(&listAirport, "airport", "", "only records for this airport")
	recordListCmd.Flags().IntVar(&listLimit, "limit", 20, "maximum records to list (0 for all)")

	recordCmd.AddCommand(recordShowCmd)
	recordCmd.AddCommand(recordListCmd)
	recordCmd.AddCommand(recordVerifyCmd)
}
