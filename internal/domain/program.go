package domain

import (
	"github.com/shopspring/decimal"
)

// Program identifies a reward program.
type Program string

// Reward programs.
const (
	ProgramLP     Program = "LP_REWARDS"
	ProgramMinter Program = "MINTER_REWARDS"
)

// IsValid reports whether p is a known program.
func (p Program) IsValid() bool {
	return p == ProgramLP || p == ProgramMinter
}

// ProgramConfig describes one replay run: a program, a block window and the
// reward amount distributed uniformly over the window.
type ProgramConfig struct {
	Program      Program
	StartBlock   uint64
	EndBlock     uint64
	RewardToken  string
	RewardAmount decimal.Decimal
	CTypes       []string // collateral types in scope
	WithBridge   bool     // borrow program only
}

// RunCType returns the collateral type a borrow run is bound to, or "" for LP
// runs and multi-collateral runs.
func (c ProgramConfig) RunCType() string {
	if c.Program == ProgramMinter && len(c.CTypes) == 1 {
		return c.CTypes[0]
	}
	return ""
}
