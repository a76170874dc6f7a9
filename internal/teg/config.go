package teg

import (
	"time"

	"github.com/shopspring/decimal"
)

// FeeConfig controls the transfer fee schedule: fee = clamp(amount * FeePct, MinFee, MaxFee).
type FeeConfig struct {
	MinFee decimal.Decimal
	FeePct decimal.Decimal
	MaxFee decimal.Decimal
}

// DefaultFeeConfig matches spec's stated governance defaults: no
// percentage fee and a 0.001 AVT minimum (see transfer test vector S2:
// transfer(A,B,50) with min_fee=0.001, fee_pct=0 debits the sender
// 50.001 and credits the treasury 0.001). MaxFee is left unset (zero) so a
// governance change to FeePct isn't silently capped until an operator
// configures one explicitly.
func DefaultFeeConfig() FeeConfig {
	return FeeConfig{
		MinFee: decimal.NewFromFloat(0.001),
		FeePct: decimal.Zero,
		MaxFee: decimal.Zero,
	}
}

// Fee computes the fee owed on a transfer of the given amount. A zero MaxFee
// means no cap is configured.
func (c FeeConfig) Fee(amount decimal.Decimal) decimal.Decimal {
	fee := amount.Mul(c.FeePct)
	if fee.LessThan(c.MinFee) {
		fee = c.MinFee
	}
	if !c.MaxFee.IsZero() && fee.GreaterThan(c.MaxFee) {
		fee = c.MaxFee
	}
	return fee
}

// StakeConfig controls staking minimums and the unstake cooldown.
type StakeConfig struct {
	MinStake        decimal.Decimal
	UnstakeCooldown time.Duration
}

// DisputeConfig controls the fixed filing and evidence-stake fees, and the
// reward paid to the arbitrator for each resolution outcome.
type DisputeConfig struct {
	FilingFee          decimal.Decimal
	EvidenceStake       decimal.Decimal
	ArbitratorReward   decimal.Decimal
	ArbitratorRewardInvalid decimal.Decimal
	DefendantPenalty   decimal.Decimal
}

// DefaultDisputeConfig matches the fee table recorded in DESIGN.md: filing
// fee 10 AVT, evidence stake 50 AVT, arbitrator reward 5 AVT for a decided
// outcome and 2 AVT for an invalid one, defendant penalty 25 AVT.
func DefaultDisputeConfig() DisputeConfig {
	return DisputeConfig{
		FilingFee:               decimal.NewFromInt(10),
		EvidenceStake:           decimal.NewFromInt(50),
		ArbitratorReward:        decimal.NewFromInt(5),
		ArbitratorRewardInvalid: decimal.NewFromInt(2),
		DefendantPenalty:        decimal.NewFromInt(25),
	}
}

// DefaultStakeConfig matches the Open Question decision of a 100 AVT minimum
// stake and a seven-day unstake cooldown.
func DefaultStakeConfig() StakeConfig {
	return StakeConfig{
		MinStake:        decimal.NewFromInt(100),
		UnstakeCooldown: 168 * time.Hour,
	}
}
