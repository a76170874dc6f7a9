// Package teg implements the Token Economic Governance ledger: agent token
// balances, atomic transfers with fees, staking and delegation, reputation
// signals, attestation rewards, and the dispute lifecycle.
package teg

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// AccountStatus is the suspension state of an AgentTegProfile.
type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountSuspended AccountStatus = "suspended"
)

// Profile is the authoritative token-balance record for one agent DID.
// balance and staked_total are decimal(precision=18 fractional digits);
// reputation_score is clamped to [-1000, 1000] on every update.
type Profile struct {
	AgentDID        string          `json:"agent_did"         db:"agent_did"`
	Balance         decimal.Decimal `json:"balance"           db:"balance"`
	StakedTotal     decimal.Decimal `json:"staked_total"      db:"staked_total"`
	ReputationScore int             `json:"reputation_score"  db:"reputation_score"`
	AccountStatus   AccountStatus   `json:"account_status"    db:"account_status"`
	UpdatedAt       time.Time       `json:"updated_at"        db:"updated_at"`
}

// TxType enumerates the kinds of ledger movement a TegTransaction records.
type TxType string

const (
	TxTransfer         TxType = "transfer"
	TxTransferToSystem TxType = "transfer_to_system"
	TxIssuance         TxType = "issuance"
	TxBurn             TxType = "burn"
	TxStakeLock        TxType = "stake_lock"
	TxStakeRelease     TxType = "stake_release"
	TxReward           TxType = "reward"
	TxPenalty          TxType = "penalty"
)

// TxStatus is the lifecycle status of a TegTransaction.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxCompleted TxStatus = "completed"
	TxFailed    TxStatus = "failed"
)

// TreasuryDID is the reserved DID that collects transfer fees and funds
// issuance, rewards, and dispute compensation. It never appears as a real
// registered agent.
const TreasuryDID = "did:cos:treasury"

// Transaction is a single ledger movement.
type Transaction struct {
	TxID              string          `json:"tx_id"               db:"tx_id"`
	IdempotencyKey    *string         `json:"idempotency_key,omitempty" db:"idempotency_key"`
	SenderDID         string          `json:"sender_did"          db:"sender_did"`
	ReceiverDID       string          `json:"receiver_did"        db:"receiver_did"`
	Amount            decimal.Decimal `json:"amount"              db:"amount"`
	FeeAmount         decimal.Decimal `json:"fee_amount"          db:"fee_amount"`
	Type              TxType          `json:"type"                db:"type"`
	Status            TxStatus        `json:"status"              db:"status"`
	Timestamp         time.Time       `json:"timestamp"           db:"timestamp"`
	AttachedMessage   *string         `json:"attached_message,omitempty" db:"attached_message"`
	ReputationSignal  *int            `json:"reputation_signal,omitempty" db:"reputation_signal"`
}

// StakeStatus is the lifecycle status of a Stake.
type StakeStatus string

const (
	StakeActive     StakeStatus = "active"
	StakeUnstaking  StakeStatus = "unstaking"
	StakeReleased   StakeStatus = "released"
)

// Stake is a locked portion of an agent's balance committed to staking.
type Stake struct {
	StakeID             string          `json:"stake_id"               db:"stake_id"`
	AgentDID            string          `json:"agent_did"              db:"agent_did"`
	Amount              decimal.Decimal `json:"amount"                 db:"amount"`
	StakedAt            time.Time       `json:"staked_at"              db:"staked_at"`
	Status              StakeStatus     `json:"status"                 db:"status"`
	UnstakeAvailableAt  *time.Time      `json:"unstake_available_at,omitempty" db:"unstake_available_at"`
}

// DelegationStatus is the lifecycle status of a Delegation.
type DelegationStatus string

const (
	DelegationActive DelegationStatus = "active"
	DelegationEnded  DelegationStatus = "ended"
)

// Delegation assigns part of a stake's weight to a validator in exchange for
// a share of the validator's rewards.
type Delegation struct {
	DelegationID   string           `json:"delegation_id"   db:"delegation_id"`
	StakeID        string           `json:"stake_id"        db:"stake_id"`
	ValidatorDID   string           `json:"validator_did"   db:"validator_did"`
	Amount         decimal.Decimal  `json:"amount"          db:"amount"`
	RewardSharePct int              `json:"reward_share_pct" db:"reward_share_pct"`
	Status         DelegationStatus `json:"status"          db:"status"`
}

// DisputeStatus is the lifecycle status of a Dispute.
type DisputeStatus string

const (
	DisputeFiled             DisputeStatus = "filed"
	DisputeUnderReview       DisputeStatus = "under_review"
	DisputeResolvedClaimant  DisputeStatus = "resolved_claimant"
	DisputeResolvedDefendant DisputeStatus = "resolved_defendant"
	DisputeInvalid           DisputeStatus = "invalid"
)

// Dispute records a claim filed by one agent against another, optionally
// tied to a specific transaction.
type Dispute struct {
	DisputeID          string        `json:"dispute_id"                    db:"dispute_id"`
	ClaimantDID        string        `json:"claimant_did"                  db:"claimant_did"`
	DefendantDID       string        `json:"defendant_did"                 db:"defendant_did"`
	RelatedTxID        *string       `json:"related_tx_id,omitempty"       db:"related_tx_id"`
	ReasonCode         string        `json:"reason_code"                   db:"reason_code"`
	EvidencePointer    string        `json:"evidence_pointer"              db:"evidence_pointer"`
	Status             DisputeStatus `json:"status"                        db:"status"`
	FilingFeeTxID      string        `json:"filing_fee_tx_id"              db:"filing_fee_tx_id"`
	EvidenceStakeTxID  string        `json:"evidence_stake_tx_id"          db:"evidence_stake_tx_id"`
	ResolutionNotes    *string       `json:"resolution_notes,omitempty"    db:"resolution_notes"`
	FiledAt            time.Time     `json:"filed_at"                      db:"filed_at"`
	ResolvedAt         *time.Time    `json:"resolved_at,omitempty"         db:"resolved_at"`
}

// AuditorFlag is a pure insert-only audit record with no direct balance
// effect; admins may action a flag, which triggers a separate penalty
// transaction recorded independently.
type AuditorFlag struct {
	FlagID     string    `json:"flag_id"     db:"flag_id"`
	AgentDID   string    `json:"agent_did"   db:"agent_did"`
	ReasonCode string    `json:"reason_code" db:"reason_code"`
	Notes      string    `json:"notes"       db:"notes"`
	Actioned   bool      `json:"actioned"    db:"actioned"`
	CreatedAt  time.Time `json:"created_at"  db:"created_at"`
}

// Errors returned by the ledger service. Handlers map these to the spec's
// uniform error envelope.
var (
	ErrSelfTransfer        = errors.New("sender and receiver must differ")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrAccountSuspended    = errors.New("sender account is suspended")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrProfileNotFound     = errors.New("agent teg profile not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrSignalAlreadySet    = errors.New("reputation signal already set for this transaction")
	ErrSignalNotSender     = errors.New("only the sender of a transaction may set its reputation signal")
	ErrSignalNotCompleted  = errors.New("reputation signal may only be set on a completed transfer")
	ErrBelowMinimumStake   = errors.New("amount is below the minimum stake")
	ErrStakeNotFound       = errors.New("stake not found")
	ErrStakeNotActive      = errors.New("stake is not active")
	ErrDelegationExceedsStake = errors.New("delegated amount exceeds stake amount")
	ErrDisputeNotFound     = errors.New("dispute not found")
	ErrDisputeNotPending   = errors.New("dispute is not in a resolvable state")
)
