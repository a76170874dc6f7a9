package teg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentvault/registry/internal/trustledger"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ledgerRepo is the persistence surface Service depends on. *Repository
// satisfies it; tests substitute an in-memory fake the way
// internal/developers' service_test.go does for developerRepo.
type ledgerRepo interface {
	GetProfile(ctx context.Context, did string) (*Profile, error)
	GetTransactionByIdempotencyKey(ctx context.Context, key string) (*Transaction, error)
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	ApplyTransfer(ctx context.Context, senderDID, receiverDID string, amount, fee decimal.Decimal, txType TxType, idempotencyKey, attachedMessage *string) (*Transaction, error)
	ApplySystemCredit(ctx context.Context, did string, delta decimal.Decimal, txType TxType, attachedMessage *string) (*Transaction, error)
	SetReputationSignal(ctx context.Context, txID string, signal int) error
	AdjustReputation(ctx context.Context, did string, delta int) error
	SuspendAccount(ctx context.Context, did string, status AccountStatus) error
	CreateStake(ctx context.Context, did string, amount decimal.Decimal) (*Stake, error)
	GetStake(ctx context.Context, stakeID string) (*Stake, error)
	RequestUnstake(ctx context.Context, stakeID string, availableAt time.Time) error
	CreateDelegation(ctx context.Context, stakeID, validatorDID string, amount decimal.Decimal, rewardSharePct int) (*Delegation, error)
	CreateDispute(ctx context.Context, d *Dispute) error
	GetDispute(ctx context.Context, disputeID string) (*Dispute, error)
	ResolveDispute(ctx context.Context, disputeID string, status DisputeStatus, notes string) error
	CreateAuditorFlag(ctx context.Context, did, reasonCode, notes string) (*AuditorFlag, error)
}

// Service implements the TEG Ledger's business rules: transfer validation
// and fee assessment, reputation signaling, staking and delegation,
// disputes, and auditor flags. Every state-changing operation is backed by
// the Repository's transactional row-locking writes; Service owns only
// validation and orchestration, never raw SQL.
type Service struct {
	repo    ledgerRepo
	fees    FeeConfig
	stakes  StakeConfig
	dispute DisputeConfig
	ledger  trustledger.Ledger
	logger  *zap.Logger
}

// NewService creates a Service backed by repo, which must provide every
// method ledgerRepo declares; *Repository does so directly, and tests
// substitute an in-memory fake. ledger may be nil, in which case transfers
// are not mirrored to the audit ledger.
func NewService(repo ledgerRepo, fees FeeConfig, stakes StakeConfig, dispute DisputeConfig, ledger trustledger.Ledger, logger *zap.Logger) *Service {
	return &Service{repo: repo, fees: fees, stakes: stakes, dispute: dispute, ledger: ledger, logger: logger}
}

// GetProfile returns an agent's current balance sheet.
func (s *Service) GetProfile(ctx context.Context, did string) (*Profile, error) {
	return s.repo.GetProfile(ctx, did)
}

// TransferRequest is the validated input to Transfer.
type TransferRequest struct {
	SenderDID       string
	ReceiverDID     string
	Amount          decimal.Decimal
	IdempotencyKey  *string
	AttachedMessage *string
}

// Transfer validates and executes a peer-to-peer transfer per the spec's
// transfer protocol: self-transfer and non-positive amounts are rejected
// up front, a suspended sender is rejected, a repeated idempotency key
// short-circuits to the original transaction, the fee is computed from
// FeeConfig, and the balance movement plus fee collection happen atomically
// in Repository.ApplyTransfer.
func (s *Service) Transfer(ctx context.Context, req TransferRequest) (*Transaction, error) {
	if req.SenderDID == req.ReceiverDID {
		return nil, ErrSelfTransfer
	}
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	if req.IdempotencyKey != nil {
		if existing, err := s.repo.GetTransactionByIdempotencyKey(ctx, *req.IdempotencyKey); err == nil {
			return existing, nil
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
	}

	fee := s.fees.Fee(req.Amount)
	txType := TxTransfer
	if req.ReceiverDID == TreasuryDID {
		txType = TxTransferToSystem
	}

	t, err := s.repo.ApplyTransfer(ctx, req.SenderDID, req.ReceiverDID, req.Amount, fee, txType, req.IdempotencyKey, req.AttachedMessage)
	if err != nil {
		return nil, err
	}

	s.appendAudit(ctx, t.ReceiverDID, "teg.transfer", t.SenderDID, t)
	return t, nil
}

func (s *Service) appendAudit(ctx context.Context, subjectDID, action, actor string, payload any) {
	if s.ledger == nil {
		return
	}
	if _, err := s.ledger.Append(ctx, subjectDID, action, actor, payload); err != nil {
		s.logger.Warn("teg audit append failed", zap.String("action", action), zap.Error(err))
	}
}

// Issue mints new supply into an agent's balance from the treasury. Admin-only.
func (s *Service) Issue(ctx context.Context, did string, amount decimal.Decimal, note string) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	msg := note
	t, err := s.repo.ApplySystemCredit(ctx, did, amount, TxIssuance, &msg)
	if err != nil {
		return nil, err
	}
	s.appendAudit(ctx, did, "teg.issuance", TreasuryDID, t)
	return t, nil
}

// Burn removes supply from an agent's balance back to the treasury. Admin-only.
func (s *Service) Burn(ctx context.Context, did string, amount decimal.Decimal, note string) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	msg := note
	t, err := s.repo.ApplySystemCredit(ctx, did, amount.Neg(), TxBurn, &msg)
	if err != nil {
		return nil, err
	}
	s.appendAudit(ctx, did, "teg.burn", TreasuryDID, t)
	return t, nil
}

// Reward pays an agent from the treasury, typically for a verified attestation.
func (s *Service) Reward(ctx context.Context, did string, amount decimal.Decimal, note string) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	msg := note
	t, err := s.repo.ApplySystemCredit(ctx, did, amount, TxReward, &msg)
	if err != nil {
		return nil, err
	}
	s.appendAudit(ctx, did, "teg.reward", TreasuryDID, t)
	return t, nil
}

// Penalize deducts from an agent's balance as a disciplinary action.
// Balance is allowed to go no lower than zero; any shortfall is absorbed
// rather than driving the account negative.
func (s *Service) Penalize(ctx context.Context, did string, amount decimal.Decimal, note string) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	profile, err := s.repo.GetProfile(ctx, did)
	if err != nil {
		return nil, err
	}
	applied := amount
	if profile.Balance.LessThan(applied) {
		applied = profile.Balance
	}
	msg := note
	t, err := s.repo.ApplySystemCredit(ctx, did, applied.Neg(), TxPenalty, &msg)
	if err != nil {
		return nil, err
	}
	s.appendAudit(ctx, did, "teg.penalty", TreasuryDID, t)
	return t, nil
}

// SetReputationSignal lets the sender of a completed transfer stamp a single
// {-1, +1} signal on it, which nudges the receiver's reputation score.
// Each transaction may be signaled exactly once.
func (s *Service) SetReputationSignal(ctx context.Context, txID, callerDID string, signal int) error {
	if signal != -1 && signal != 1 {
		return ErrInvalidAmount
	}
	t, err := s.repo.GetTransaction(ctx, txID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTransactionNotFound
		}
		return err
	}
	if t.SenderDID != callerDID {
		return ErrSignalNotSender
	}
	return s.repo.SetReputationSignal(ctx, txID, signal)
}

// Stake locks part of an agent's liquid balance for the minimum commitment
// duration, enforcing the configured minimum stake amount.
func (s *Service) Stake(ctx context.Context, did string, amount decimal.Decimal) (*Stake, error) {
	if amount.LessThan(s.stakes.MinStake) {
		return nil, ErrBelowMinimumStake
	}
	st, err := s.repo.CreateStake(ctx, did, amount)
	if err != nil {
		return nil, err
	}
	s.appendAudit(ctx, did, "teg.stake", did, st)
	return st, nil
}

// Unstake begins the cooldown period for releasing a stake's funds back to
// the agent's liquid balance. The reaper completes the release once the
// cooldown elapses.
func (s *Service) Unstake(ctx context.Context, stakeID string) (time.Time, error) {
	availableAt := time.Now().UTC().Add(s.stakes.UnstakeCooldown)
	if err := s.repo.RequestUnstake(ctx, stakeID, availableAt); err != nil {
		return time.Time{}, err
	}
	return availableAt, nil
}

// Delegate assigns part of an active stake's weight to a validator.
func (s *Service) Delegate(ctx context.Context, stakeID, validatorDID string, amount decimal.Decimal, rewardSharePct int) (*Delegation, error) {
	if rewardSharePct < 0 || rewardSharePct > 100 {
		return nil, fmt.Errorf("reward share must be between 0 and 100")
	}
	return s.repo.CreateDelegation(ctx, stakeID, validatorDID, amount, rewardSharePct)
}

// FileDispute charges the claimant the filing fee and evidence stake (both
// paid to the treasury), then records the dispute in the filed state.
func (s *Service) FileDispute(ctx context.Context, claimantDID, defendantDID, reasonCode, evidencePointer string, relatedTxID *string) (*Dispute, error) {
	filingMsg := "dispute filing fee"
	filingTx, err := s.repo.ApplyTransfer(ctx, claimantDID, TreasuryDID, s.dispute.FilingFee, decimal.Zero, TxTransferToSystem, nil, &filingMsg)
	if err != nil {
		return nil, fmt.Errorf("charge filing fee: %w", err)
	}
	evidenceMsg := "dispute evidence stake"
	evidenceTx, err := s.repo.ApplyTransfer(ctx, claimantDID, TreasuryDID, s.dispute.EvidenceStake, decimal.Zero, TxTransferToSystem, nil, &evidenceMsg)
	if err != nil {
		return nil, fmt.Errorf("charge evidence stake: %w", err)
	}

	d := &Dispute{
		ClaimantDID:       claimantDID,
		DefendantDID:      defendantDID,
		RelatedTxID:       relatedTxID,
		ReasonCode:        reasonCode,
		EvidencePointer:   evidencePointer,
		FilingFeeTxID:     filingTx.TxID,
		EvidenceStakeTxID: evidenceTx.TxID,
	}
	if err := s.repo.CreateDispute(ctx, d); err != nil {
		return nil, err
	}
	s.appendAudit(ctx, defendantDID, "teg.dispute.filed", claimantDID, d)
	return d, nil
}

// ResolveDispute applies the fee table for the given outcome and pays the
// arbitrator's reward:
//
//   - resolved_claimant: claimant recovers the filing fee and evidence
//     stake plus a matching compensation payment from the defendant, who
//     also takes a reputation and token penalty.
//   - resolved_defendant: claimant forfeits the filing fee and evidence
//     stake; no penalty is applied to the defendant.
//   - invalid: claimant forfeits the filing fee, evidence stake, and takes
//     a reputation penalty for filing a meritless claim.
//
// In all three outcomes the arbitrator is paid from the treasury.
func (s *Service) ResolveDispute(ctx context.Context, disputeID, arbitratorDID string, status DisputeStatus, notes string) (*Dispute, error) {
	if status != DisputeResolvedClaimant && status != DisputeResolvedDefendant && status != DisputeInvalid {
		return nil, fmt.Errorf("resolution status must be a terminal dispute status")
	}

	d, err := s.repo.GetDispute(ctx, disputeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDisputeNotFound
		}
		return nil, err
	}
	if d.Status != DisputeFiled && d.Status != DisputeUnderReview {
		return nil, ErrDisputeNotPending
	}

	reward := s.dispute.ArbitratorReward
	switch status {
	case DisputeResolvedClaimant:
		refund := s.dispute.FilingFee.Add(s.dispute.EvidenceStake)
		refundMsg := "dispute resolved in claimant's favor: fee and stake refund"
		if _, err := s.repo.ApplySystemCredit(ctx, d.ClaimantDID, refund, TxReward, &refundMsg); err != nil {
			return nil, fmt.Errorf("refund claimant: %w", err)
		}
		compMsg := "dispute resolution compensation"
		if _, err := s.repo.ApplyTransfer(ctx, d.DefendantDID, d.ClaimantDID, refund, decimal.Zero, TxTransfer, nil, &compMsg); err != nil {
			return nil, fmt.Errorf("pay compensation: %w", err)
		}
		penaltyMsg := "dispute resolution penalty"
		if _, err := s.repo.ApplySystemCredit(ctx, d.DefendantDID, s.dispute.DefendantPenalty.Neg(), TxPenalty, &penaltyMsg); err != nil {
			return nil, fmt.Errorf("penalize defendant: %w", err)
		}
		if err := s.repo.AdjustReputation(ctx, d.DefendantDID, -1); err != nil {
			return nil, fmt.Errorf("penalize defendant reputation: %w", err)
		}
	case DisputeInvalid:
		reward = s.dispute.ArbitratorRewardInvalid
		if err := s.repo.AdjustReputation(ctx, d.ClaimantDID, -1); err != nil {
			return nil, fmt.Errorf("penalize claimant reputation: %w", err)
		}
	case DisputeResolvedDefendant:
		// Claimant's fee and evidence stake were already charged to the
		// treasury when the dispute was filed; no further movement needed.
	}

	rewardMsg := "dispute arbitration reward"
	if _, err := s.repo.ApplySystemCredit(ctx, arbitratorDID, reward, TxReward, &rewardMsg); err != nil {
		return nil, fmt.Errorf("pay arbitrator: %w", err)
	}

	if err := s.repo.ResolveDispute(ctx, disputeID, status, notes); err != nil {
		return nil, err
	}
	resolved, err := s.repo.GetDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	s.appendAudit(ctx, d.DefendantDID, "teg.dispute.resolved", arbitratorDID, resolved)
	return resolved, nil
}

// FlagAgent records an insert-only auditor flag against an agent. Flags have
// no direct balance effect; an admin actions them separately via Penalize or
// SuspendAccount.
func (s *Service) FlagAgent(ctx context.Context, did, reasonCode, notes string) (*AuditorFlag, error) {
	f, err := s.repo.CreateAuditorFlag(ctx, did, reasonCode, notes)
	if err != nil {
		return nil, err
	}
	s.appendAudit(ctx, did, "teg.flag", "system", f)
	return f, nil
}

// SuspendAccount marks an agent's TEG profile suspended, blocking it from
// sending transfers.
func (s *Service) SuspendAccount(ctx context.Context, did string) error {
	return s.repo.SuspendAccount(ctx, did, AccountSuspended)
}

// ReinstateAccount clears a suspension.
func (s *Service) ReinstateAccount(ctx context.Context, did string) error {
	return s.repo.SuspendAccount(ctx, did, AccountActive)
}
