package subgraph

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Subgraph numerics arrive as JSON strings.

func parseDecimal(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	return d, nil
}

func parseInt(field, s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	return n, nil
}

func parseUint(field, s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	return n, nil
}

// collateralFilter renders an optional collateralType where-clause entry.
func collateralFilter(cType string) string {
	if cType == "" {
		return ""
	}
	return fmt.Sprintf(", collateralType: %q", cType)
}
