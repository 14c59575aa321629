// Package export renders calculation records as XLSX workbooks with one
// sheet per concern.
package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"fuel-pricing/core/record"
	"fuel-pricing/core/types"
)

// Sheet names in workbook order
const (
	SheetSummary = "Summary"
	SheetFuel    = "Fuel"
	SheetFees    = "Fees"
	SheetTaxes   = "Taxes"
	SheetRates   = "Rates"
	SheetIssues  = "Issues"
)

// Write renders rec as XLSX into w
func Write(w io.Writer, rec *record.Record) error {
	xl, err := Build(rec)
	if err != nil {
		return err
	}
	defer func() { _ = xl.Close() }()
	if _, err := xl.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// Build lays out the workbook of a record. Rows are referenced by their
// position in the result, starting at 1.
func Build(rec *record.Record) (*excelize.File, error) {
	xl := excelize.NewFile()
	res := rec.Results()

	sheets := []struct {
		name string
		fill func(*sheet)
	}{
		{SheetSummary, func(s *sheet) { summary(s, rec, res) }},
		{SheetFuel, func(s *sheet) { fuel(s, res) }},
		{SheetFees, func(s *sheet) { fees(s, res) }},
		{SheetTaxes, func(s *sheet) { taxes(s, res) }},
		{SheetRates, func(s *sheet) { rates(s, rec.Scenario().UsedRates) }},
		{SheetIssues, func(s *sheet) { issues(s, res) }},
	}
	for i, def := range sheets {
		if i == 0 {
			if err := xl.SetSheetName(xl.GetSheetName(0), def.name); err != nil {
				_ = xl.Close()
				return nil, fmt.Errorf("rename sheet: %w", err)
			}
		} else if _, err := xl.NewSheet(def.name); err != nil {
			_ = xl.Close()
			return nil, fmt.Errorf("create sheet %s: %w", def.name, err)
		}
		s := &sheet{xl: xl, name: def.name}
		def.fill(s)
		if s.err != nil {
			_ = xl.Close()
			return nil, fmt.Errorf("fill sheet %s: %w", def.name, s.err)
		}
	}
	xl.SetActiveSheet(0)
	return xl, nil
}

// sheet appends rows and keeps the first error
type sheet struct {
	xl   *excelize.File
	name string
	next int
	err  error
}

func (s *sheet) row(values ...interface{}) {
	if s.err != nil {
		return
	}
	s.next++
	cell, err := excelize.CoordinatesToCellName(1, s.next)
	if err != nil {
		s.err = err
		return
	}
	s.err = s.xl.SetSheetRow(s.name, cell, &values)
}

func summary(s *sheet, rec *record.Record, res types.ScenarioResult) {
	sc := rec.Scenario()
	s.row("record_id", string(rec.ID))
	s.row("content_hash", rec.ContentHash.Hex())
	s.row("created_at", rec.CreatedAt.UTC().Format(time.RFC3339))
	if sc.SourceID != "" {
		s.row("source_calculation_id", string(sc.SourceID))
	}
	s.row("airport", res.AirportID)
	s.row("valid_at", res.ValidAt.UTC().Format(time.RFC3339))
	s.row("fuel", sc.Input.Fuel.Code)
	s.row("uplift", sc.Input.Uplift.String())
	s.row("output_unit", res.OutputUnit.String())
	s.row()
	s.row("row", "supplier", "handler", "apron", "hookup", "client", "fuel", "fees", "taxes", "total", "flags")
	for i, r := range res.Rows {
		s.row(i+1, r.Match.SupplierID, r.Match.HandlerID, r.Match.ApronType, r.Match.HookupMethod, r.Match.ClientID,
			r.Totals.Fuel.String(), r.Totals.Fees.String(), r.Totals.Taxes.String(), r.Totals.Total.String(),
			strings.Join(r.Flags, ","))
	}
}

func fuel(s *sheet, res types.ScenarioResult) {
	s.row("row", "rule_id", "native", "native_unit", "converted", "converted_unit", "exchange_rate",
		"quantity", "total", "band", "expired")
	for i, r := range res.Rows {
		f := r.FuelPrice
		if f == nil {
			continue
		}
		band := ""
		if f.Band != nil {
			band = fmt.Sprintf("%s-%s %s", f.Band.Start, f.Band.EffectiveEnd, f.Band.UOM.Code)
		}
		s.row(i+1, f.RuleID, f.Native.Amount.String(), f.Native.Unit.String(),
			f.Converted.Amount.String(), f.Converted.Unit.String(), f.ExchangeRate.String(),
			f.Quantity.String(), f.Total.String(), band, f.Expired)
	}
}

func fees(s *sheet, res types.ScenarioResult) {
	s.row("row", "fee_id", "rate_id", "name", "category", "native", "native_unit",
		"converted", "converted_unit", "fixed", "quantity", "amount")
	for i, r := range res.Rows {
		for _, f := range r.Fees {
			s.row(i+1, f.FeeID, f.RateID, f.Name, f.Category, f.Native.Amount.String(), f.Native.Unit.String(),
				f.Converted.Amount.String(), f.Converted.Unit.String(), f.Fixed, f.Quantity.String(), f.Amount.String())
		}
	}
}

func taxes(s *sheet, res types.ScenarioResult) {
	s.row("row", "rule_id", "name", "category", "level", "exception", "included", "rate_kind", "rate",
		"base", "amount", "sources")
	for i, r := range res.Rows {
		for _, l := range r.Taxes {
			for _, c := range l.Components {
				src := append(append(append([]string{}, c.Sources.Fuel...), c.Sources.Fees...), c.Sources.Taxes...)
				s.row(i+1, l.RuleID, l.Name, l.Category, l.Level, l.Exception, c.IncludedInPricing,
					string(c.RateKind), c.Rate.String(), c.Base.String(), c.Amount.String(), strings.Join(src, "; "))
			}
		}
	}
}

func rates(s *sheet, used []types.RateQuote) {
	s.row("pair", "rate", "source", "as_of")
	for _, q := range used {
		s.row(q.Pair.String(), q.Rate.String(), string(q.Source), q.AsOf.UTC().Format(time.RFC3339))
	}
}

func issues(s *sheet, res types.ScenarioResult) {
	s.row("row", "issue")
	for _, issue := range res.Issues {
		s.row("", issue)
	}
	for i, r := range res.Rows {
		for _, issue := range r.Issues {
			s.row(i+1, issue)
		}
	}
}
