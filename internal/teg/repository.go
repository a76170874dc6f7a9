package teg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository persists TEG profiles, transactions, stakes, delegations,
// disputes, and auditor flags to PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a Repository backed by the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetProfile fetches a profile by DID, creating it with a zero balance if it
// does not yet exist. Agents start with zero balance; the treasury and any
// genesis issuance grants are applied separately by the service layer.
func (r *Repository) GetProfile(ctx context.Context, did string) (*Profile, error) {
	p, err := r.scanProfile(ctx, r.pool, did)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if _, err := r.pool.Exec(ctx,
		`INSERT INTO teg_profiles (agent_did, balance, staked_total, reputation_score, account_status, updated_at)
		 VALUES ($1, 0, 0, 0, $2, now())
		 ON CONFLICT (agent_did) DO NOTHING`,
		did, AccountActive,
	); err != nil {
		return nil, fmt.Errorf("create profile %s: %w", did, err)
	}
	return r.scanProfile(ctx, r.pool, did)
}

func (r *Repository) scanProfile(ctx context.Context, q queryer, did string) (*Profile, error) {
	p := &Profile{}
	if err := q.QueryRow(ctx,
		`SELECT agent_did, balance, staked_total, reputation_score, account_status, updated_at
		 FROM teg_profiles WHERE agent_did = $1`, did,
	).Scan(&p.AgentDID, &p.Balance, &p.StakedTotal, &p.ReputationScore, &p.AccountStatus, &p.UpdatedAt); err != nil {
		return nil, fmt.Errorf("get profile %s: %w", did, err)
	}
	return p, nil
}

// queryer is satisfied by both *pgxpool.Pool and pgx.Tx, letting scan helpers
// run inside or outside a transaction.
type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgx.CommandTag, error)
}

// GetTransactionByIdempotencyKey returns the transaction previously recorded
// under the given idempotency key, if any.
func (r *Repository) GetTransactionByIdempotencyKey(ctx context.Context, key string) (*Transaction, error) {
	return r.scanTransaction(ctx, r.pool,
		`SELECT tx_id, idempotency_key, sender_did, receiver_did, amount, fee_amount, type, status, timestamp, attached_message, reputation_signal
		 FROM teg_transactions WHERE idempotency_key = $1`, key)
}

// GetTransaction fetches a single transaction by ID.
func (r *Repository) GetTransaction(ctx context.Context, txID string) (*Transaction, error) {
	return r.scanTransaction(ctx, r.pool,
		`SELECT tx_id, idempotency_key, sender_did, receiver_did, amount, fee_amount, type, status, timestamp, attached_message, reputation_signal
		 FROM teg_transactions WHERE tx_id = $1`, txID)
}

func (r *Repository) scanTransaction(ctx context.Context, q queryer, sql string, arg string) (*Transaction, error) {
	row := q.QueryRow(ctx, sql, arg)
	t := &Transaction{}
	if err := row.Scan(&t.TxID, &t.IdempotencyKey, &t.SenderDID, &t.ReceiverDID, &t.Amount, &t.FeeAmount,
		&t.Type, &t.Status, &t.Timestamp, &t.AttachedMessage, &t.ReputationSignal); err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

// ApplyTransfer atomically moves funds between two profiles, charges the fee
// to the treasury, and inserts the resulting transaction row, all within one
// serializable transaction.
//
// To avoid deadlocks between two concurrent transfers that touch the same
// pair of profiles in opposite order, row locks are always acquired in
// ascending DID order rather than sender-then-receiver order. This mirrors
// trustledger's use of a single global advisory lock, generalized here to a
// pair of row-level locks since TEG transfers between disjoint DID pairs
// must still run concurrently.
func (r *Repository) ApplyTransfer(ctx context.Context, senderDID, receiverDID string, amount, fee decimal.Decimal, txType TxType, idempotencyKey, attachedMessage *string) (*Transaction, error) {
	first, second := senderDID, receiverDID
	if second < first {
		first, second = second, first
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, fmt.Errorf("begin transfer tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := lockProfileRow(ctx, tx, first); err != nil {
		return nil, err
	}
	if err := lockProfileRow(ctx, tx, second); err != nil {
		return nil, err
	}

	sender, err := r.scanProfile(ctx, tx, senderDID)
	if err != nil {
		return nil, err
	}
	if sender.AccountStatus == AccountSuspended {
		return nil, ErrAccountSuspended
	}
	total := amount.Add(fee)
	if sender.Balance.LessThan(total) {
		return nil, ErrInsufficientBalance
	}

	if _, err := r.scanProfile(ctx, tx, receiverDID); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE teg_profiles SET balance = balance - $1, updated_at = now() WHERE agent_did = $2`,
		total, senderDID,
	); err != nil {
		return nil, fmt.Errorf("debit sender: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE teg_profiles SET balance = balance + $1, updated_at = now() WHERE agent_did = $2`,
		amount, receiverDID,
	); err != nil {
		return nil, fmt.Errorf("credit receiver: %w", err)
	}
	if fee.IsPositive() {
		if _, err := tx.Exec(ctx,
			`UPDATE teg_profiles SET balance = balance + $1, updated_at = now() WHERE agent_did = $2`,
			fee, TreasuryDID,
		); err != nil {
			return nil, fmt.Errorf("credit treasury fee: %w", err)
		}
	}

	t := &Transaction{
		TxID:            uuid.New().String(),
		IdempotencyKey:  idempotencyKey,
		SenderDID:       senderDID,
		ReceiverDID:     receiverDID,
		Amount:          amount,
		FeeAmount:       fee,
		Type:            txType,
		Status:          TxCompleted,
		Timestamp:       time.Now().UTC(),
		AttachedMessage: attachedMessage,
	}
	if err := r.insertTransaction(ctx, tx, t); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transfer tx: %w", err)
	}
	return t, nil
}

func lockProfileRow(ctx context.Context, tx pgx.Tx, did string) error {
	var dummy string
	if err := tx.QueryRow(ctx, `SELECT agent_did FROM teg_profiles WHERE agent_did = $1 FOR UPDATE`, did).Scan(&dummy); err != nil {
		return fmt.Errorf("lock profile %s: %w", did, err)
	}
	return nil
}

func (r *Repository) insertTransaction(ctx context.Context, tx pgx.Tx, t *Transaction) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO teg_transactions (tx_id, idempotency_key, sender_did, receiver_did, amount, fee_amount, type, status, timestamp, attached_message, reputation_signal)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.TxID, t.IdempotencyKey, t.SenderDID, t.ReceiverDID, t.Amount, t.FeeAmount,
		t.Type, t.Status, t.Timestamp, t.AttachedMessage, t.ReputationSignal,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// ApplySystemCredit mints, burns, rewards, or penalizes a single profile with
// no counterparty debit — used for issuance, burn, reward, and penalty.
func (r *Repository) ApplySystemCredit(ctx context.Context, did string, delta decimal.Decimal, txType TxType, attachedMessage *string) (*Transaction, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin system credit tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := lockProfileRow(ctx, tx, did); err != nil {
		return nil, err
	}
	profile, err := r.scanProfile(ctx, tx, did)
	if err != nil {
		return nil, err
	}
	newBalance := profile.Balance.Add(delta)
	if newBalance.IsNegative() {
		return nil, ErrInsufficientBalance
	}
	if _, err := tx.Exec(ctx,
		`UPDATE teg_profiles SET balance = $1, updated_at = now() WHERE agent_did = $2`,
		newBalance, did,
	); err != nil {
		return nil, fmt.Errorf("apply system credit: %w", err)
	}

	sender, receiver := TreasuryDID, did
	amount := delta
	if delta.IsNegative() {
		sender, receiver = did, TreasuryDID
		amount = delta.Neg()
	}
	t := &Transaction{
		TxID:            uuid.New().String(),
		SenderDID:       sender,
		ReceiverDID:     receiver,
		Amount:          amount,
		FeeAmount:       decimal.Zero,
		Type:            txType,
		Status:          TxCompleted,
		Timestamp:       time.Now().UTC(),
		AttachedMessage: attachedMessage,
	}
	if err := r.insertTransaction(ctx, tx, t); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit system credit tx: %w", err)
	}
	return t, nil
}

// SetReputationSignal stamps a completed transfer with the sender's signal
// and nudges the receiver's reputation score, clamped to [-1000, 1000].
func (r *Repository) SetReputationSignal(ctx context.Context, txID string, signal int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin signal tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	t, err := r.scanTransaction(ctx, tx, `SELECT tx_id, idempotency_key, sender_did, receiver_did, amount, fee_amount, type, status, timestamp, attached_message, reputation_signal FROM teg_transactions WHERE tx_id = $1 FOR UPDATE`, txID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTransactionNotFound
		}
		return err
	}
	if t.ReputationSignal != nil {
		return ErrSignalAlreadySet
	}
	if t.Status != TxCompleted || (t.Type != TxTransfer && t.Type != TxTransferToSystem) {
		return ErrSignalNotCompleted
	}

	if _, err := tx.Exec(ctx, `UPDATE teg_transactions SET reputation_signal = $1 WHERE tx_id = $2`, signal, txID); err != nil {
		return fmt.Errorf("stamp reputation signal: %w", err)
	}
	if err := lockProfileRow(ctx, tx, t.ReceiverDID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE teg_profiles
		 SET reputation_score = GREATEST(-1000, LEAST(1000, reputation_score + $1)), updated_at = now()
		 WHERE agent_did = $2`,
		signal, t.ReceiverDID,
	); err != nil {
		return fmt.Errorf("apply reputation signal: %w", err)
	}
	return tx.Commit(ctx)
}

// AdjustReputation nudges a profile's reputation score directly, clamped to
// [-1000, 1000]. Used by dispute resolution, which penalizes or compensates
// a specific DID independent of any single transaction's receiver.
func (r *Repository) AdjustReputation(ctx context.Context, did string, delta int) error {
	if _, err := r.pool.Exec(ctx,
		`UPDATE teg_profiles
		 SET reputation_score = GREATEST(-1000, LEAST(1000, reputation_score + $1)), updated_at = now()
		 WHERE agent_did = $2`,
		delta, did,
	); err != nil {
		return fmt.Errorf("adjust reputation for %s: %w", did, err)
	}
	return nil
}

// SuspendAccount flips a profile's account_status, used by admins acting on
// an auditor flag or dispute resolution.
func (r *Repository) SuspendAccount(ctx context.Context, did string, status AccountStatus) error {
	if _, err := r.pool.Exec(ctx,
		`UPDATE teg_profiles SET account_status = $1, updated_at = now() WHERE agent_did = $2`,
		status, did,
	); err != nil {
		return fmt.Errorf("set account status: %w", err)
	}
	return nil
}

// CreateStake locks funds from an agent's balance into a new active stake.
func (r *Repository) CreateStake(ctx context.Context, did string, amount decimal.Decimal) (*Stake, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin stake tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := lockProfileRow(ctx, tx, did); err != nil {
		return nil, err
	}
	profile, err := r.scanProfile(ctx, tx, did)
	if err != nil {
		return nil, err
	}
	if profile.Balance.LessThan(amount) {
		return nil, ErrInsufficientBalance
	}

	if _, err := tx.Exec(ctx,
		`UPDATE teg_profiles SET balance = balance - $1, staked_total = staked_total + $1, updated_at = now() WHERE agent_did = $2`,
		amount, did,
	); err != nil {
		return nil, fmt.Errorf("lock stake funds: %w", err)
	}

	s := &Stake{
		StakeID:  uuid.New().String(),
		AgentDID: did,
		Amount:   amount,
		StakedAt: time.Now().UTC(),
		Status:   StakeActive,
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO teg_stakes (stake_id, agent_did, amount, staked_at, status, unstake_available_at)
		 VALUES ($1, $2, $3, $4, $5, NULL)`,
		s.StakeID, s.AgentDID, s.Amount, s.StakedAt, s.Status,
	); err != nil {
		return nil, fmt.Errorf("insert stake: %w", err)
	}
	if err := r.insertTransaction(ctx, tx, &Transaction{
		TxID: uuid.New().String(), SenderDID: did, ReceiverDID: did, Amount: amount,
		FeeAmount: decimal.Zero, Type: TxStakeLock, Status: TxCompleted, Timestamp: s.StakedAt,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit stake tx: %w", err)
	}
	return s, nil
}

// GetStake fetches a stake by ID.
func (r *Repository) GetStake(ctx context.Context, stakeID string) (*Stake, error) {
	return r.scanStake(ctx, r.pool, stakeID)
}

func (r *Repository) scanStake(ctx context.Context, q queryer, stakeID string) (*Stake, error) {
	s := &Stake{}
	if err := q.QueryRow(ctx,
		`SELECT stake_id, agent_did, amount, staked_at, status, unstake_available_at
		 FROM teg_stakes WHERE stake_id = $1`, stakeID,
	).Scan(&s.StakeID, &s.AgentDID, &s.Amount, &s.StakedAt, &s.Status, &s.UnstakeAvailableAt); err != nil {
		return nil, fmt.Errorf("get stake %s: %w", stakeID, err)
	}
	return s, nil
}

// RequestUnstake transitions a stake to unstaking and records when its funds
// become available for release.
func (r *Repository) RequestUnstake(ctx context.Context, stakeID string, availableAt time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE teg_stakes SET status = $1, unstake_available_at = $2 WHERE stake_id = $3 AND status = $4`,
		StakeUnstaking, availableAt, stakeID, StakeActive,
	)
	if err != nil {
		return fmt.Errorf("request unstake: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStakeNotActive
	}
	return nil
}

// DueUnstakes returns stakes whose unstaking cooldown has elapsed and which
// have not yet been released. Used by the reaper's periodic sweep.
func (r *Repository) DueUnstakes(ctx context.Context, asOf time.Time) ([]*Stake, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT stake_id, agent_did, amount, staked_at, status, unstake_available_at
		 FROM teg_stakes WHERE status = $1 AND unstake_available_at <= $2`,
		StakeUnstaking, asOf,
	)
	if err != nil {
		return nil, fmt.Errorf("query due unstakes: %w", err)
	}
	defer rows.Close()

	var stakes []*Stake
	for rows.Next() {
		s := &Stake{}
		if err := rows.Scan(&s.StakeID, &s.AgentDID, &s.Amount, &s.StakedAt, &s.Status, &s.UnstakeAvailableAt); err != nil {
			return nil, fmt.Errorf("scan due unstake: %w", err)
		}
		stakes = append(stakes, s)
	}
	return stakes, rows.Err()
}

// ReleaseStake returns a stake's funds to the agent's liquid balance and
// marks it released.
func (r *Repository) ReleaseStake(ctx context.Context, stakeID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin release tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	s, err := r.scanStake(ctx, tx, stakeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrStakeNotFound
		}
		return err
	}
	if s.Status != StakeUnstaking {
		return ErrStakeNotActive
	}

	if err := lockProfileRow(ctx, tx, s.AgentDID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE teg_profiles SET balance = balance + $1, staked_total = staked_total - $1, updated_at = now() WHERE agent_did = $2`,
		s.Amount, s.AgentDID,
	); err != nil {
		return fmt.Errorf("release stake funds: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE teg_stakes SET status = $1 WHERE stake_id = $2`, StakeReleased, stakeID); err != nil {
		return fmt.Errorf("mark stake released: %w", err)
	}
	if err := r.insertTransaction(ctx, tx, &Transaction{
		TxID: uuid.New().String(), SenderDID: s.AgentDID, ReceiverDID: s.AgentDID, Amount: s.Amount,
		FeeAmount: decimal.Zero, Type: TxStakeRelease, Status: TxCompleted, Timestamp: time.Now().UTC(),
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CreateDelegation assigns part of an active stake's weight to a validator.
func (r *Repository) CreateDelegation(ctx context.Context, stakeID, validatorDID string, amount decimal.Decimal, rewardSharePct int) (*Delegation, error) {
	stake, err := r.GetStake(ctx, stakeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStakeNotFound
		}
		return nil, err
	}
	if stake.Status != StakeActive {
		return nil, ErrStakeNotActive
	}
	if amount.GreaterThan(stake.Amount) {
		return nil, ErrDelegationExceedsStake
	}

	d := &Delegation{
		DelegationID:   uuid.New().String(),
		StakeID:        stakeID,
		ValidatorDID:   validatorDID,
		Amount:         amount,
		RewardSharePct: rewardSharePct,
		Status:         DelegationActive,
	}
	if _, err := r.pool.Exec(ctx,
		`INSERT INTO teg_delegations (delegation_id, stake_id, validator_did, amount, reward_share_pct, status)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		d.DelegationID, d.StakeID, d.ValidatorDID, d.Amount, d.RewardSharePct, d.Status,
	); err != nil {
		return nil, fmt.Errorf("insert delegation: %w", err)
	}
	return d, nil
}

// CreateDispute files a dispute after the filing fee and evidence stake
// transactions have already been charged by the service layer.
func (r *Repository) CreateDispute(ctx context.Context, d *Dispute) error {
	d.DisputeID = uuid.New().String()
	d.Status = DisputeFiled
	d.FiledAt = time.Now().UTC()
	if _, err := r.pool.Exec(ctx,
		`INSERT INTO teg_disputes (dispute_id, claimant_did, defendant_did, related_tx_id, reason_code, evidence_pointer, status, filing_fee_tx_id, evidence_stake_tx_id, resolution_notes, filed_at, resolved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULL, $10, NULL)`,
		d.DisputeID, d.ClaimantDID, d.DefendantDID, d.RelatedTxID, d.ReasonCode, d.EvidencePointer,
		d.Status, d.FilingFeeTxID, d.EvidenceStakeTxID, d.FiledAt,
	); err != nil {
		return fmt.Errorf("insert dispute: %w", err)
	}
	return nil
}

// GetDispute fetches a dispute by ID.
func (r *Repository) GetDispute(ctx context.Context, disputeID string) (*Dispute, error) {
	d := &Dispute{}
	if err := r.pool.QueryRow(ctx,
		`SELECT dispute_id, claimant_did, defendant_did, related_tx_id, reason_code, evidence_pointer, status, filing_fee_tx_id, evidence_stake_tx_id, resolution_notes, filed_at, resolved_at
		 FROM teg_disputes WHERE dispute_id = $1`, disputeID,
	).Scan(&d.DisputeID, &d.ClaimantDID, &d.DefendantDID, &d.RelatedTxID, &d.ReasonCode, &d.EvidencePointer,
		&d.Status, &d.FilingFeeTxID, &d.EvidenceStakeTxID, &d.ResolutionNotes, &d.FiledAt, &d.ResolvedAt); err != nil {
		return nil, fmt.Errorf("get dispute %s: %w", disputeID, err)
	}
	return d, nil
}

// ResolveDispute transitions a dispute to a terminal status with resolution notes.
func (r *Repository) ResolveDispute(ctx context.Context, disputeID string, status DisputeStatus, notes string) error {
	now := time.Now().UTC()
	tag, err := r.pool.Exec(ctx,
		`UPDATE teg_disputes SET status = $1, resolution_notes = $2, resolved_at = $3
		 WHERE dispute_id = $4 AND status IN ($5, $6)`,
		status, notes, now, disputeID, DisputeFiled, DisputeUnderReview,
	)
	if err != nil {
		return fmt.Errorf("resolve dispute: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDisputeNotPending
	}
	return nil
}

// CreateAuditorFlag inserts an insert-only audit flag against an agent.
func (r *Repository) CreateAuditorFlag(ctx context.Context, did, reasonCode, notes string) (*AuditorFlag, error) {
	f := &AuditorFlag{
		FlagID:     uuid.New().String(),
		AgentDID:   did,
		ReasonCode: reasonCode,
		Notes:      notes,
		Actioned:   false,
		CreatedAt:  time.Now().UTC(),
	}
	if _, err := r.pool.Exec(ctx,
		`INSERT INTO teg_auditor_flags (flag_id, agent_did, reason_code, notes, actioned, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		f.FlagID, f.AgentDID, f.ReasonCode, f.Notes, f.Actioned, f.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("insert auditor flag: %w", err)
	}
	return f, nil
}

// MarkFlagActioned sets a flag's actioned bit once an admin has acted on it.
func (r *Repository) MarkFlagActioned(ctx context.Context, flagID string) error {
	if _, err := r.pool.Exec(ctx, `UPDATE teg_auditor_flags SET actioned = true WHERE flag_id = $1`, flagID); err != nil {
		return fmt.Errorf("mark flag actioned: %w", err)
	}
	return nil
}
