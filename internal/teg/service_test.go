package teg_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentvault/registry/internal/teg"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// stubLedgerRepo is an in-memory fake satisfying teg's internal ledgerRepo
// interface, in the same style as internal/developers' stubDeveloperRepo.
type stubLedgerRepo struct {
	profiles     map[string]*teg.Profile
	txByID       map[string]*teg.Transaction
	txByIdemKey  map[string]*teg.Transaction
	stakes       map[string]*teg.Stake
	disputes     map[string]*teg.Dispute
	nextTxNum    int
}

func newStubLedgerRepo() *stubLedgerRepo {
	return &stubLedgerRepo{
		profiles:    map[string]*teg.Profile{},
		txByID:      map[string]*teg.Transaction{},
		txByIdemKey: map[string]*teg.Transaction{},
		stakes:      map[string]*teg.Stake{},
		disputes:    map[string]*teg.Dispute{},
	}
}

func (s *stubLedgerRepo) ensure(did string) *teg.Profile {
	p, ok := s.profiles[did]
	if !ok {
		p = &teg.Profile{AgentDID: did, Balance: decimal.Zero, StakedTotal: decimal.Zero, AccountStatus: teg.AccountActive}
		s.profiles[did] = p
	}
	return p
}

func (s *stubLedgerRepo) GetProfile(_ context.Context, did string) (*teg.Profile, error) {
	return s.ensure(did), nil
}

func (s *stubLedgerRepo) GetTransactionByIdempotencyKey(_ context.Context, key string) (*teg.Transaction, error) {
	if t, ok := s.txByIdemKey[key]; ok {
		return t, nil
	}
	return nil, pgx.ErrNoRows
}

func (s *stubLedgerRepo) GetTransaction(_ context.Context, txID string) (*teg.Transaction, error) {
	if t, ok := s.txByID[txID]; ok {
		return t, nil
	}
	return nil, pgx.ErrNoRows
}

func (s *stubLedgerRepo) newTxID() string {
	s.nextTxNum++
	return "tx-" + string(rune('a'+s.nextTxNum))
}

func (s *stubLedgerRepo) ApplyTransfer(_ context.Context, senderDID, receiverDID string, amount, fee decimal.Decimal, txType teg.TxType, idempotencyKey, attachedMessage *string) (*teg.Transaction, error) {
	sender := s.ensure(senderDID)
	if sender.AccountStatus == teg.AccountSuspended {
		return nil, teg.ErrAccountSuspended
	}
	total := amount.Add(fee)
	if sender.Balance.LessThan(total) {
		return nil, teg.ErrInsufficientBalance
	}
	receiver := s.ensure(receiverDID)
	treasury := s.ensure(teg.TreasuryDID)

	sender.Balance = sender.Balance.Sub(total)
	receiver.Balance = receiver.Balance.Add(amount)
	if fee.IsPositive() && receiverDID != teg.TreasuryDID {
		treasury.Balance = treasury.Balance.Add(fee)
	}

	t := &teg.Transaction{
		TxID: s.newTxID(), IdempotencyKey: idempotencyKey, SenderDID: senderDID, ReceiverDID: receiverDID,
		Amount: amount, FeeAmount: fee, Type: txType, Status: teg.TxCompleted,
		Timestamp: time.Now().UTC(), AttachedMessage: attachedMessage,
	}
	s.txByID[t.TxID] = t
	if idempotencyKey != nil {
		s.txByIdemKey[*idempotencyKey] = t
	}
	return t, nil
}

func (s *stubLedgerRepo) ApplySystemCredit(_ context.Context, did string, delta decimal.Decimal, txType teg.TxType, attachedMessage *string) (*teg.Transaction, error) {
	p := s.ensure(did)
	newBalance := p.Balance.Add(delta)
	if newBalance.IsNegative() {
		return nil, teg.ErrInsufficientBalance
	}
	p.Balance = newBalance

	sender, receiver, amount := teg.TreasuryDID, did, delta
	if delta.IsNegative() {
		sender, receiver, amount = did, teg.TreasuryDID, delta.Neg()
	}
	t := &teg.Transaction{
		TxID: s.newTxID(), SenderDID: sender, ReceiverDID: receiver, Amount: amount,
		FeeAmount: decimal.Zero, Type: txType, Status: teg.TxCompleted,
		Timestamp: time.Now().UTC(), AttachedMessage: attachedMessage,
	}
	s.txByID[t.TxID] = t
	return t, nil
}

func (s *stubLedgerRepo) SetReputationSignal(_ context.Context, txID string, signal int) error {
	t, ok := s.txByID[txID]
	if !ok {
		return teg.ErrTransactionNotFound
	}
	if t.ReputationSignal != nil {
		return teg.ErrSignalAlreadySet
	}
	t.ReputationSignal = &signal
	p := s.ensure(t.ReceiverDID)
	p.ReputationScore += signal
	return nil
}

func (s *stubLedgerRepo) AdjustReputation(_ context.Context, did string, delta int) error {
	p := s.ensure(did)
	p.ReputationScore += delta
	return nil
}

func (s *stubLedgerRepo) SuspendAccount(_ context.Context, did string, status teg.AccountStatus) error {
	s.ensure(did).AccountStatus = status
	return nil
}

func (s *stubLedgerRepo) CreateStake(_ context.Context, did string, amount decimal.Decimal) (*teg.Stake, error) {
	p := s.ensure(did)
	if p.Balance.LessThan(amount) {
		return nil, teg.ErrInsufficientBalance
	}
	p.Balance = p.Balance.Sub(amount)
	p.StakedTotal = p.StakedTotal.Add(amount)
	st := &teg.Stake{StakeID: s.newTxID(), AgentDID: did, Amount: amount, StakedAt: time.Now().UTC(), Status: teg.StakeActive}
	s.stakes[st.StakeID] = st
	return st, nil
}

func (s *stubLedgerRepo) GetStake(_ context.Context, stakeID string) (*teg.Stake, error) {
	if st, ok := s.stakes[stakeID]; ok {
		return st, nil
	}
	return nil, pgx.ErrNoRows
}

func (s *stubLedgerRepo) RequestUnstake(_ context.Context, stakeID string, availableAt time.Time) error {
	st, ok := s.stakes[stakeID]
	if !ok || st.Status != teg.StakeActive {
		return teg.ErrStakeNotActive
	}
	st.Status = teg.StakeUnstaking
	st.UnstakeAvailableAt = &availableAt
	return nil
}

func (s *stubLedgerRepo) CreateDelegation(_ context.Context, stakeID, validatorDID string, amount decimal.Decimal, rewardSharePct int) (*teg.Delegation, error) {
	st, ok := s.stakes[stakeID]
	if !ok {
		return nil, teg.ErrStakeNotFound
	}
	if amount.GreaterThan(st.Amount) {
		return nil, teg.ErrDelegationExceedsStake
	}
	return &teg.Delegation{DelegationID: s.newTxID(), StakeID: stakeID, ValidatorDID: validatorDID, Amount: amount, RewardSharePct: rewardSharePct, Status: teg.DelegationActive}, nil
}

func (s *stubLedgerRepo) CreateDispute(_ context.Context, d *teg.Dispute) error {
	d.DisputeID = s.newTxID()
	d.Status = teg.DisputeFiled
	d.FiledAt = time.Now().UTC()
	s.disputes[d.DisputeID] = d
	return nil
}

func (s *stubLedgerRepo) GetDispute(_ context.Context, disputeID string) (*teg.Dispute, error) {
	if d, ok := s.disputes[disputeID]; ok {
		return d, nil
	}
	return nil, pgx.ErrNoRows
}

func (s *stubLedgerRepo) ResolveDispute(_ context.Context, disputeID string, status teg.DisputeStatus, notes string) error {
	d, ok := s.disputes[disputeID]
	if !ok {
		return teg.ErrDisputeNotFound
	}
	if d.Status != teg.DisputeFiled && d.Status != teg.DisputeUnderReview {
		return teg.ErrDisputeNotPending
	}
	d.Status = status
	d.ResolutionNotes = &notes
	return nil
}

func (s *stubLedgerRepo) CreateAuditorFlag(_ context.Context, did, reasonCode, notes string) (*teg.AuditorFlag, error) {
	return &teg.AuditorFlag{FlagID: s.newTxID(), AgentDID: did, ReasonCode: reasonCode, Notes: notes, CreatedAt: time.Now().UTC()}, nil
}

func newTestService(repo *stubLedgerRepo) *teg.Service {
	return teg.NewService(repo, teg.DefaultFeeConfig(), teg.DefaultStakeConfig(), teg.DefaultDisputeConfig(), nil, zap.NewNop())
}

func fund(repo *stubLedgerRepo, did string, amount decimal.Decimal) {
	repo.ensure(did).Balance = amount
}

var ctx = context.Background()

func TestTransfer_success(t *testing.T) {
	repo := newStubLedgerRepo()
	fund(repo, "did:cos:alice", decimal.NewFromInt(1000))
	svc := newTestService(repo)

	tx, err := svc.Transfer(ctx, teg.TransferRequest{SenderDID: "did:cos:alice", ReceiverDID: "did:cos:bob", Amount: decimal.NewFromInt(100)})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if !tx.FeeAmount.Equal(decimal.NewFromFloat(0.001)) {
		t.Errorf("expected fee 0.001, got %s", tx.FeeAmount)
	}
	alice, _ := svc.GetProfile(ctx, "did:cos:alice")
	if !alice.Balance.Equal(decimal.NewFromFloat(899.999)) {
		t.Errorf("alice balance: got %s, want 899.999", alice.Balance)
	}
	bob, _ := svc.GetProfile(ctx, "did:cos:bob")
	if !bob.Balance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("bob balance: got %s, want 100", bob.Balance)
	}
}

func TestTransfer_selfTransferRejected(t *testing.T) {
	repo := newStubLedgerRepo()
	svc := newTestService(repo)

	_, err := svc.Transfer(ctx, teg.TransferRequest{SenderDID: "did:cos:alice", ReceiverDID: "did:cos:alice", Amount: decimal.NewFromInt(10)})
	if !errors.Is(err, teg.ErrSelfTransfer) {
		t.Fatalf("expected ErrSelfTransfer, got %v", err)
	}
}

func TestTransfer_invalidAmountRejected(t *testing.T) {
	repo := newStubLedgerRepo()
	svc := newTestService(repo)

	_, err := svc.Transfer(ctx, teg.TransferRequest{SenderDID: "did:cos:alice", ReceiverDID: "did:cos:bob", Amount: decimal.Zero})
	if !errors.Is(err, teg.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestTransfer_suspendedSenderRejected(t *testing.T) {
	repo := newStubLedgerRepo()
	fund(repo, "did:cos:alice", decimal.NewFromInt(1000))
	repo.ensure("did:cos:alice").AccountStatus = teg.AccountSuspended
	svc := newTestService(repo)

	_, err := svc.Transfer(ctx, teg.TransferRequest{SenderDID: "did:cos:alice", ReceiverDID: "did:cos:bob", Amount: decimal.NewFromInt(10)})
	if !errors.Is(err, teg.ErrAccountSuspended) {
		t.Fatalf("expected ErrAccountSuspended, got %v", err)
	}
}

func TestTransfer_insufficientBalance(t *testing.T) {
	repo := newStubLedgerRepo()
	fund(repo, "did:cos:alice", decimal.NewFromInt(5))
	svc := newTestService(repo)

	_, err := svc.Transfer(ctx, teg.TransferRequest{SenderDID: "did:cos:alice", ReceiverDID: "did:cos:bob", Amount: decimal.NewFromInt(100)})
	if !errors.Is(err, teg.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestTransfer_idempotencyKeyShortCircuits(t *testing.T) {
	repo := newStubLedgerRepo()
	fund(repo, "did:cos:alice", decimal.NewFromInt(1000))
	svc := newTestService(repo)

	key := "req-123"
	first, err := svc.Transfer(ctx, teg.TransferRequest{SenderDID: "did:cos:alice", ReceiverDID: "did:cos:bob", Amount: decimal.NewFromInt(50), IdempotencyKey: &key})
	if err != nil {
		t.Fatalf("first transfer: %v", err)
	}
	second, err := svc.Transfer(ctx, teg.TransferRequest{SenderDID: "did:cos:alice", ReceiverDID: "did:cos:bob", Amount: decimal.NewFromInt(50), IdempotencyKey: &key})
	if err != nil {
		t.Fatalf("second transfer: %v", err)
	}
	if first.TxID != second.TxID {
		t.Errorf("expected idempotent replay to return the same tx, got %s vs %s", first.TxID, second.TxID)
	}
	alice, _ := svc.GetProfile(ctx, "did:cos:alice")
	if alice.Balance.LessThan(decimal.NewFromInt(900)) {
		t.Errorf("idempotency key replay should not double-charge, balance=%s", alice.Balance)
	}
}

func TestFeeConfig_minFeeFloorAndConfiguredMax(t *testing.T) {
	fees := teg.DefaultFeeConfig()

	tiny := fees.Fee(decimal.NewFromFloat(0.01))
	if !tiny.Equal(fees.MinFee) {
		t.Errorf("expected tiny transfer fee clamped to MinFee, got %s", tiny)
	}

	huge := fees.Fee(decimal.NewFromInt(1_000_000))
	if !huge.Equal(fees.MinFee) {
		t.Errorf("expected zero-FeePct default to leave huge transfer at MinFee, got %s", huge)
	}

	capped := teg.FeeConfig{MinFee: decimal.NewFromFloat(0.001), FeePct: decimal.NewFromFloat(0.005), MaxFee: decimal.NewFromInt(50)}
	if got := capped.Fee(decimal.NewFromInt(1_000_000)); !got.Equal(decimal.NewFromInt(50)) {
		t.Errorf("expected fee capped at configured MaxFee, got %s", got)
	}
}

func TestSetReputationSignal_onlySenderMaySignal(t *testing.T) {
	repo := newStubLedgerRepo()
	fund(repo, "did:cos:alice", decimal.NewFromInt(1000))
	svc := newTestService(repo)

	tx, err := svc.Transfer(ctx, teg.TransferRequest{SenderDID: "did:cos:alice", ReceiverDID: "did:cos:bob", Amount: decimal.NewFromInt(10)})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if err := svc.SetReputationSignal(ctx, tx.TxID, "did:cos:bob", 1); !errors.Is(err, teg.ErrSignalNotSender) {
		t.Fatalf("expected ErrSignalNotSender, got %v", err)
	}

	if err := svc.SetReputationSignal(ctx, tx.TxID, "did:cos:alice", 1); err != nil {
		t.Fatalf("sender signal: %v", err)
	}
	bob, _ := svc.GetProfile(ctx, "did:cos:bob")
	if bob.ReputationScore != 1 {
		t.Errorf("expected bob reputation 1, got %d", bob.ReputationScore)
	}
}

func TestSetReputationSignal_cannotSignalTwice(t *testing.T) {
	repo := newStubLedgerRepo()
	fund(repo, "did:cos:alice", decimal.NewFromInt(1000))
	svc := newTestService(repo)

	tx, _ := svc.Transfer(ctx, teg.TransferRequest{SenderDID: "did:cos:alice", ReceiverDID: "did:cos:bob", Amount: decimal.NewFromInt(10)})
	if err := svc.SetReputationSignal(ctx, tx.TxID, "did:cos:alice", 1); err != nil {
		t.Fatalf("first signal: %v", err)
	}
	if err := svc.SetReputationSignal(ctx, tx.TxID, "did:cos:alice", -1); !errors.Is(err, teg.ErrSignalAlreadySet) {
		t.Fatalf("expected ErrSignalAlreadySet, got %v", err)
	}
}

func TestStake_belowMinimumRejected(t *testing.T) {
	repo := newStubLedgerRepo()
	fund(repo, "did:cos:alice", decimal.NewFromInt(1000))
	svc := newTestService(repo)

	_, err := svc.Stake(ctx, "did:cos:alice", decimal.NewFromInt(10))
	if !errors.Is(err, teg.ErrBelowMinimumStake) {
		t.Fatalf("expected ErrBelowMinimumStake, got %v", err)
	}
}

func TestStake_locksBalance(t *testing.T) {
	repo := newStubLedgerRepo()
	fund(repo, "did:cos:alice", decimal.NewFromInt(1000))
	svc := newTestService(repo)

	st, err := svc.Stake(ctx, "did:cos:alice", decimal.NewFromInt(200))
	if err != nil {
		t.Fatalf("stake: %v", err)
	}
	if st.Status != teg.StakeActive {
		t.Errorf("expected active stake, got %s", st.Status)
	}
	alice, _ := svc.GetProfile(ctx, "did:cos:alice")
	if !alice.Balance.Equal(decimal.NewFromInt(800)) {
		t.Errorf("alice balance after stake: got %s, want 800", alice.Balance)
	}
	if !alice.StakedTotal.Equal(decimal.NewFromInt(200)) {
		t.Errorf("alice staked total: got %s, want 200", alice.StakedTotal)
	}
}

func TestUnstake_startsCooldown(t *testing.T) {
	repo := newStubLedgerRepo()
	fund(repo, "did:cos:alice", decimal.NewFromInt(1000))
	svc := newTestService(repo)

	st, _ := svc.Stake(ctx, "did:cos:alice", decimal.NewFromInt(200))
	before := time.Now().UTC()
	availableAt, err := svc.Unstake(ctx, st.StakeID)
	if err != nil {
		t.Fatalf("unstake: %v", err)
	}
	if !availableAt.After(before) {
		t.Errorf("expected cooldown to be in the future")
	}
}

func TestFileDispute_chargesFilingFeeAndEvidenceStake(t *testing.T) {
	repo := newStubLedgerRepo()
	fund(repo, "did:cos:alice", decimal.NewFromInt(1000))
	svc := newTestService(repo)

	d, err := svc.FileDispute(ctx, "did:cos:alice", "did:cos:bob", "nonperformance", "ipfs://evidence", nil)
	if err != nil {
		t.Fatalf("file dispute: %v", err)
	}
	if d.Status != teg.DisputeFiled {
		t.Errorf("expected filed status, got %s", d.Status)
	}
	alice, _ := svc.GetProfile(ctx, "did:cos:alice")
	// 10 filing fee + 50 evidence stake = 60
	if !alice.Balance.Equal(decimal.NewFromInt(940)) {
		t.Errorf("alice balance after filing: got %s, want 940", alice.Balance)
	}
}

func TestResolveDispute_resolvedClaimantCompensatesAndPenalizes(t *testing.T) {
	repo := newStubLedgerRepo()
	fund(repo, "did:cos:alice", decimal.NewFromInt(1000))
	fund(repo, "did:cos:bob", decimal.NewFromInt(1000))
	svc := newTestService(repo)

	d, _ := svc.FileDispute(ctx, "did:cos:alice", "did:cos:bob", "nonperformance", "ipfs://evidence", nil)

	resolved, err := svc.ResolveDispute(ctx, d.DisputeID, "did:cos:arbitrator", teg.DisputeResolvedClaimant, "defendant failed to deliver")
	if err != nil {
		t.Fatalf("resolve dispute: %v", err)
	}
	if resolved.Status != teg.DisputeResolvedClaimant {
		t.Errorf("expected resolved_claimant, got %s", resolved.Status)
	}

	bob, _ := svc.GetProfile(ctx, "did:cos:bob")
	if bob.ReputationScore != -1 {
		t.Errorf("expected defendant reputation -1, got %d", bob.ReputationScore)
	}
	arbitrator, _ := svc.GetProfile(ctx, "did:cos:arbitrator")
	if !arbitrator.Balance.Equal(decimal.NewFromInt(5)) {
		t.Errorf("expected arbitrator reward 5, got %s", arbitrator.Balance)
	}
}

func TestResolveDispute_invalidPenalizesClaimantReputation(t *testing.T) {
	repo := newStubLedgerRepo()
	fund(repo, "did:cos:alice", decimal.NewFromInt(1000))
	svc := newTestService(repo)

	d, _ := svc.FileDispute(ctx, "did:cos:alice", "did:cos:bob", "nonperformance", "ipfs://evidence", nil)
	_, err := svc.ResolveDispute(ctx, d.DisputeID, "did:cos:arbitrator", teg.DisputeInvalid, "no merit")
	if err != nil {
		t.Fatalf("resolve dispute: %v", err)
	}
	alice, _ := svc.GetProfile(ctx, "did:cos:alice")
	if alice.ReputationScore != -1 {
		t.Errorf("expected claimant reputation -1, got %d", alice.ReputationScore)
	}
}

func TestResolveDispute_notPendingRejected(t *testing.T) {
	repo := newStubLedgerRepo()
	fund(repo, "did:cos:alice", decimal.NewFromInt(1000))
	svc := newTestService(repo)

	d, _ := svc.FileDispute(ctx, "did:cos:alice", "did:cos:bob", "nonperformance", "ipfs://evidence", nil)
	if _, err := svc.ResolveDispute(ctx, d.DisputeID, "did:cos:arbitrator", teg.DisputeResolvedDefendant, "ok"); err != nil {
		t.Fatalf("first resolution: %v", err)
	}
	if _, err := svc.ResolveDispute(ctx, d.DisputeID, "did:cos:arbitrator", teg.DisputeResolvedClaimant, "again"); !errors.Is(err, teg.ErrDisputeNotPending) {
		t.Fatalf("expected ErrDisputeNotPending, got %v", err)
	}
}

func TestIssueAndBurn(t *testing.T) {
	repo := newStubLedgerRepo()
	svc := newTestService(repo)

	if _, err := svc.Issue(ctx, "did:cos:alice", decimal.NewFromInt(500), "genesis grant"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	alice, _ := svc.GetProfile(ctx, "did:cos:alice")
	if !alice.Balance.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("alice balance after issue: got %s, want 500", alice.Balance)
	}

	if _, err := svc.Burn(ctx, "did:cos:alice", decimal.NewFromInt(200), "penalty burn"); err != nil {
		t.Fatalf("burn: %v", err)
	}
	alice, _ = svc.GetProfile(ctx, "did:cos:alice")
	if !alice.Balance.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("alice balance after burn: got %s, want 300", alice.Balance)
	}
}

func TestPenalize_neverGoesNegative(t *testing.T) {
	repo := newStubLedgerRepo()
	fund(repo, "did:cos:alice", decimal.NewFromInt(10))
	svc := newTestService(repo)

	if _, err := svc.Penalize(ctx, "did:cos:alice", decimal.NewFromInt(100), "abuse"); err != nil {
		t.Fatalf("penalize: %v", err)
	}
	alice, _ := svc.GetProfile(ctx, "did:cos:alice")
	if !alice.Balance.Equal(decimal.Zero) {
		t.Errorf("expected balance floored at 0, got %s", alice.Balance)
	}
}
