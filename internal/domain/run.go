package domain

import (
	"github.com/shopspring/decimal"
)

// RunStatus is the terminal state of a campaign run.
type RunStatus string

// Run statuses.
const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// CampaignRun records one distribution run over a block window.
type CampaignRun struct {
	RunID      string
	StartBlock uint64
	EndBlock   uint64
	StartedAt  int64 // Unix seconds
	FinishedAt int64 // Unix seconds
	Status     RunStatus
	Error      string // set when Status is failed
	Programs   int    // number of program runs replayed
	Recipients int    // addresses with a non-zero payout
}

// AccrualCheckpoint is a persisted summary of the accrual state partway
// through one program run.
type AccrualCheckpoint struct {
	RunID              string
	Stream             string // program run label, e.g. "LP_REWARDS/KITE"
	Sequence           int    // events applied so far
	Timestamp          int64
	RewardPerWeight    decimal.Decimal
	TotalStakingWeight decimal.Decimal
	TotalEarned        decimal.Decimal
	Accounts           int
}

// BridgeTransfer is one bridge deposit of collateral for an address.
type BridgeTransfer struct {
	TxHash   string
	LogIndex int64
	Address  string
	CType    string
	Block    uint64
	Amount   decimal.Decimal // whole tokens, 18 decimals
}

// StreamArchive holds everything needed to replay one program run offline:
// the run parameters, the initial accounts and the merged event stream.
type StreamArchive struct {
	RunID          string
	Stream         string
	Program        Program
	Token          string
	CTypes         []string
	StartBlock     uint64
	EndBlock       uint64
	StartTimestamp int64
	EndTimestamp   int64
	RewardAmount   decimal.Decimal
	WithBridge     bool
	Rates          Rates
	SqrtPrice      decimal.Decimal

	Accounts []*Account // initial state, weights already set
	Events   []*RewardEvent
}

// StreamLabel names a program run: the program, the reward token and, for
// borrow runs bound to one collateral type, that type.
func StreamLabel(program Program, token, cType string) string {
	if cType == "" {
		return string(program) + "/" + token
	}
	return string(program) + "/" + token + "/" + cType
}
