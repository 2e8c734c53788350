package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"reward-distributor/internal/domain"
	"reward-distributor/internal/fixed"
)

// ErrInvalidTransfer is returned for malformed bridge records.
var ErrInvalidTransfer = errors.New("invalid bridge transfer")

// Record is the JSON form of a bridge transfer. Amount is in base units.
type Record struct {
	TxHash   string `json:"txHash"`
	LogIndex int64  `json:"logIndex"`
	Address  string `json:"address"`
	Token    string `json:"token"`
	Block    uint64 `json:"blockHeight"`
	Amount   string `json:"amount"`
}

// ParseBaseUnits parses a decimal or 0x-prefixed base-unit amount.
func ParseBaseUnits(s string) (decimal.Decimal, error) {
	var (
		v   *uint256.Int
		err error
	)
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		v, err = uint256.FromHex(s)
	} else {
		v, err = uint256.FromDecimal(s)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: amount %q: %v", ErrInvalidTransfer, s, err)
	}
	return fixed.FromBaseUnits(v), nil
}

// Decode reads a JSON array of records.
func Decode(r io.Reader) ([]*domain.BridgeTransfer, error) {
	var records []Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode bridge transfers: %w", err)
	}

	out := make([]*domain.BridgeTransfer, 0, len(records))
	for i, rec := range records {
		if rec.Address == "" || rec.Token == "" {
			return nil, fmt.Errorf("%w: record %d missing address or token", ErrInvalidTransfer, i)
		}
		amount, err := ParseBaseUnits(rec.Amount)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, &domain.BridgeTransfer{
			TxHash:   rec.TxHash,
			LogIndex: rec.LogIndex,
			Address:  rec.Address,
			CType:    rec.Token,
			Block:    rec.Block,
			Amount:   amount,
		})
	}
	return out, nil
}

// LoadFile reads bridge transfers from a JSON file.
func LoadFile(path string) ([]*domain.BridgeTransfer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bridge transfers: %w", err)
	}
	defer f.Close()
	return Decode(f)
}
