package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRules = `{
  "fuel_prices": [
    {"id": 1, "location_id": "EGLL", "valid_from": "2026-01-01T00:00:00Z", "valid_ufn": true, "price_active": true,
     "scope": {"supplier_id": "S1", "applies_to_commercial": true, "applies_to_private": true},
     "pricing": {"amount": "2.45", "unit": "EUR/USG"}}
  ],
  "supplier_fees": [
    {"id": 10, "name": "Into-Plane Fee", "category": "into_plane", "location_id": "EGLL", "supplier_id": "S1",
     "rates": [{"id": 11, "valid_from": "2026-01-01T00:00:00Z", "valid_ufn": true, "price_active": true,
                "scope": {"applies_to_commercial": true, "applies_to_private": true},
                "pricing": {"amount": "50", "unit": "EUR/UPLIFT"}}]}
  ],
  "tax_rules": []
}`

const testScenario = `{
  "airport_id": "EGLL",
  "country_code": "GB",
  "fuel": {"code": "JETA1", "category": "JET", "specific_gravity": "0.8"},
  "flight_type": "I",
  "destination": "INT",
  "operated_as": "commercial",
  "uplift_datetime": "2026-03-15T10:00:00Z",
  "uplift": {"amount": "1000", "unit": "USG"},
  "output_unit": "USD/USG"
}`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestCalculateRerunExport(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "config.yaml", `
storage:
  backend: file
  path: `+filepath.Join(dir, "records")+`
fx:
  provider: static
  static_rates:
    EUR-USD: "1.1"
logging:
  level: error
`)
	rules := writeFile(t, dir, "rules.json", testRules)
	scenario := writeFile(t, dir, "scenario.json", testScenario)

	out, err := execute(t, "calculate", "--config", cfg, "--rules", rules, "-o", "json", scenario)
	require.NoError(t, err, out)

	var view struct {
		RecordID string `json:"record_id"`
		Result   struct {
			Rows []struct {
				Totals struct {
					Total string `json:"total"`
				} `json:"totals"`
			} `json:"rows"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &view), out)
	require.NotEmpty(t, view.RecordID)
	require.Len(t, view.Result.Rows, 1)
	assert.Equal(t, "2750", view.Result.Rows[0].Totals.Total)

	out, err = execute(t, "record", "list", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, view.RecordID)

	out, err = execute(t, "rerun", "--config", cfg, "--rules", rules, "-o", "table", "--rate", "EUR-USD=1.2", view.RecordID)
	require.NoError(t, err, out)
	assert.Contains(t, out, "3000")
	assert.Contains(t, out, "EUR-USD 1.2 (override)")

	xlsx := filepath.Join(dir, "out.xlsx")
	out, err = execute(t, "export", "--config", cfg, "-o", xlsx, view.RecordID)
	require.NoError(t, err, out)
	info, err := os.Stat(xlsx)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	out, err = execute(t, "record", "verify", "--config", cfg)
	require.NoError(t, err, out)
	assert.True(t, strings.Contains(out, "all records verified"), out)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "fuel-pricing version")
}
