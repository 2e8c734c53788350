package bridge

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"reward-distributor/internal/domain"
	"reward-distributor/internal/fixed"
	"reward-distributor/internal/observability"
	"reward-distributor/internal/sources"
)

// standardBridgeABI holds the L2 finalization events of the standard bridge.
const standardBridgeABI = `[
  {"anonymous":false,"name":"ERC20BridgeFinalized","type":"event","inputs":[
    {"indexed":true,"name":"localToken","type":"address"},
    {"indexed":true,"name":"remoteToken","type":"address"},
    {"indexed":true,"name":"from","type":"address"},
    {"indexed":false,"name":"to","type":"address"},
    {"indexed":false,"name":"amount","type":"uint256"},
    {"indexed":false,"name":"extraData","type":"bytes"}]},
  {"anonymous":false,"name":"ETHBridgeFinalized","type":"event","inputs":[
    {"indexed":true,"name":"from","type":"address"},
    {"indexed":true,"name":"to","type":"address"},
    {"indexed":false,"name":"amount","type":"uint256"},
    {"indexed":false,"name":"extraData","type":"bytes"}]}
]`

const (
	eventERC20Finalized = "ERC20BridgeFinalized"
	eventETHFinalized   = "ETHBridgeFinalized"
)

var bridgeABI = mustParseABI(standardBridgeABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("parse bridge abi: %v", err))
	}
	return parsed
}

// LogFilterer is the subset of the Ethereum RPC used by Scanner.
type LogFilterer interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)
}

// ScannerConfig configures a Scanner.
type ScannerConfig struct {
	Bridge common.Address
	// Tokens maps L2 token addresses to the collateral type they back.
	Tokens map[common.Address]string
	// ETHCType is the collateral type credited for native ETH deposits.
	// Empty ignores ETH deposits.
	ETHCType string
}

// Scanner extracts bridge transfers from standard bridge logs.
type Scanner struct {
	client LogFilterer
	cfg    ScannerConfig
}

// NewScanner creates a Scanner.
func NewScanner(client LogFilterer, cfg ScannerConfig) *Scanner {
	return &Scanner{client: client, cfg: cfg}
}

// Scan returns transfers finalized in [from, to] for tracked tokens.
func (s *Scanner) Scan(ctx context.Context, from, to uint64) ([]*domain.BridgeTransfer, error) {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{s.cfg.Bridge},
		Topics: [][]common.Hash{{
			bridgeABI.Events[eventERC20Finalized].ID,
			bridgeABI.Events[eventETHFinalized].ID,
		}},
	}

	start := time.Now()
	logs, err := s.client.FilterLogs(ctx, q)
	observability.RecordRPCLatency("eth_getLogs", time.Since(start).Seconds())
	if err != nil {
		return nil, sources.Wrap("rpc", "eth_getLogs", fmt.Errorf("blocks %d-%d: %w", from, to, err))
	}

	var out []*domain.BridgeTransfer
	for i := range logs {
		t, err := s.decode(&logs[i])
		if err != nil {
			return nil, err
		}
		if t != nil {
			out = append(out, t)
		}
	}
	return out, nil
}

// decode returns nil for removed logs and untracked tokens.
func (s *Scanner) decode(l *gethtypes.Log) (*domain.BridgeTransfer, error) {
	if l.Removed || len(l.Topics) == 0 {
		return nil, nil
	}

	var (
		cType     string
		recipient common.Address
		amount    *big.Int
	)
	switch l.Topics[0] {
	case bridgeABI.Events[eventERC20Finalized].ID:
		if len(l.Topics) < 4 {
			return nil, fmt.Errorf("%w: %s log %s has %d topics", ErrInvalidTransfer, eventERC20Finalized, l.TxHash.Hex(), len(l.Topics))
		}
		localToken := common.BytesToAddress(l.Topics[1].Bytes())
		ct, ok := s.cfg.Tokens[localToken]
		if !ok {
			return nil, nil
		}
		values, err := bridgeABI.Unpack(eventERC20Finalized, l.Data)
		if err != nil || len(values) < 2 {
			return nil, fmt.Errorf("%w: unpack %s: %v", ErrInvalidTransfer, eventERC20Finalized, err)
		}
		cType = ct
		recipient, _ = values[0].(common.Address)
		amount, _ = values[1].(*big.Int)

	case bridgeABI.Events[eventETHFinalized].ID:
		if s.cfg.ETHCType == "" {
			return nil, nil
		}
		if len(l.Topics) < 3 {
			return nil, fmt.Errorf("%w: %s log %s has %d topics", ErrInvalidTransfer, eventETHFinalized, l.TxHash.Hex(), len(l.Topics))
		}
		values, err := bridgeABI.Unpack(eventETHFinalized, l.Data)
		if err != nil || len(values) < 1 {
			return nil, fmt.Errorf("%w: unpack %s: %v", ErrInvalidTransfer, eventETHFinalized, err)
		}
		cType = s.cfg.ETHCType
		recipient = common.BytesToAddress(l.Topics[2].Bytes())
		amount, _ = values[0].(*big.Int)

	default:
		return nil, nil
	}

	if amount == nil {
		return nil, fmt.Errorf("%w: missing amount in %s", ErrInvalidTransfer, l.TxHash.Hex())
	}
	units, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, fmt.Errorf("%w: amount overflows uint256 in %s", ErrInvalidTransfer, l.TxHash.Hex())
	}

	return &domain.BridgeTransfer{
		TxHash:   l.TxHash.Hex(),
		LogIndex: int64(l.Index),
		Address:  strings.ToLower(recipient.Hex()),
		CType:    cType,
		Block:    l.BlockNumber,
		Amount:   fixed.FromBaseUnits(units),
	}, nil
}
