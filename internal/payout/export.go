// Package payout exports payout tables to files, object storage and the
// database.
package payout

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"reward-distributor/internal/domain"
	"reward-distributor/internal/fixed"
	"reward-distributor/internal/results"
)

// Format is an export encoding.
type Format string

// Export formats.
const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ErrUnknownFormat is returned for an unsupported export format.
var ErrUnknownFormat = errors.New("unknown payout format")

// ParseFormat validates s as a Format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatCSV:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Ext returns the file extension of f.
func (f Format) Ext() string {
	return "." + string(f)
}

// Row is one exported payout.
type Row struct {
	Token     string `json:"token"`
	Address   string `json:"address"`
	Earned    string `json:"earned"`     // whole tokens, 18 decimals
	BaseUnits string `json:"base_units"` // integer amount scaled by 10^18
}

// Document is the JSON export of a run.
type Document struct {
	RunID  string            `json:"run_id"`
	Totals map[string]string `json:"totals"`
	Rows   []Row             `json:"payouts"`
}

// Rows flattens table by token ascending, keeping each token's payout order.
func Rows(table domain.PayoutTable) ([]Row, error) {
	var rows []Row
	for _, token := range table.Tokens() {
		for _, p := range table[token] {
			units, err := fixed.ToBaseUnits(p.Earned)
			if err != nil {
				return nil, fmt.Errorf("token %s address %s: %w", token, p.Address, err)
			}
			rows = append(rows, Row{
				Token:     token,
				Address:   p.Address,
				Earned:    p.Earned.String(),
				BaseUnits: units.Dec(),
			})
		}
	}
	return rows, nil
}

// Encode writes table to w in format f.
func Encode(w io.Writer, f Format, runID string, table domain.PayoutTable) error {
	rows, err := Rows(table)
	if err != nil {
		return err
	}

	switch f {
	case FormatJSON:
		totals := make(map[string]string, len(table))
		for token, total := range results.Totals(table) {
			totals[token] = total.String()
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(Document{RunID: runID, Totals: totals, Rows: rows})

	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"token", "address", "earned", "base_units"}); err != nil {
			return err
		}
		for _, r := range rows {
			if err := cw.Write([]string{r.Token, r.Address, r.Earned, r.BaseUnits}); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, f)
}
