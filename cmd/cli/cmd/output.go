package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"fuel-pricing/adapters/export"
	"fuel-pricing/core/record"
	"fuel-pricing/core/types"
)

// resultView is the JSON shape printed for a calculation
type resultView struct {
	RecordID string               `json:"record_id,omitempty"`
	Result   types.ScenarioResult `json:"result"`
}

func printResult(w io.Writer, format, recordID string, res types.ScenarioResult) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resultView{RecordID: recordID, Result: res})
	case "table", "":
		printTable(w, recordID, res)
		return nil
	default:
		return fmt.Errorf("unknown output format %q (use table or json)", format)
	}
}

func printTable(w io.Writer, recordID string, res types.ScenarioResult) {
	if recordID != "" {
		fmt.Fprintf(w, "Record:  %s\n", recordID)
	}
	fmt.Fprintf(w, "Airport: %s\n", res.AirportID)
	fmt.Fprintf(w, "Unit:    %s\n\n", res.OutputUnit)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROW\tSUPPLIER\tHANDLER\tCLIENT\tFUEL PRICE\tFUEL\tFEES\tTAXES\tTOTAL\tFLAGS")
	for i, r := range res.Rows {
		price := "-"
		if r.FuelPrice != nil {
			price = r.FuelPrice.Converted.Amount.String()
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			i+1, dash(r.Match.SupplierID), dash(r.Match.HandlerID), dash(r.Match.ClientID), price,
			r.Totals.Fuel, r.Totals.Fees, r.Totals.Taxes, r.Totals.Total, strings.Join(r.Flags, ","))
	}
	_ = tw.Flush()

	for i, r := range res.Rows {
		if len(r.Fees) == 0 && len(r.Taxes) == 0 && len(r.Issues) == 0 {
			continue
		}
		fmt.Fprintf(w, "\nRow %d\n", i+1)
		for _, f := range r.Fees {
			fmt.Fprintf(w, "  fee  %-28s %12s %s\n", f.Name, f.Amount, f.Converted.Unit)
		}
		for _, t := range r.Taxes {
			fmt.Fprintf(w, "  tax  %-28s %12s (%s, %d components)\n", t.Name, t.Total, t.Level, len(t.Components))
		}
		for _, issue := range r.Issues {
			fmt.Fprintf(w, "  !    %s\n", issue)
		}
	}

	for _, issue := range res.Issues {
		fmt.Fprintf(w, "\n! %s\n", issue)
	}
	if len(res.UsedRates) > 0 {
		fmt.Fprintln(w, "\nExchange rates")
		for _, q := range res.UsedRates {
			fmt.Fprintf(w, "  %s %s (%s)\n", q.Pair, q.Rate, q.Source)
		}
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func exportRecord(rec *record.Record, path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export: %w", err)
	}
	if err := export.Write(f, rec); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
