package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/agentvault/registry/internal/registry/model"
)

// ErrNotFound is returned when an agent, bootstrap token, or API key is not
// found in the database.
var ErrNotFound = errors.New("not found")

// ErrTokenConsumed is returned by RedeemBootstrapToken when the token has
// already been used.
var ErrTokenConsumed = errors.New("bootstrap token already consumed")

// ErrTokenExpired is returned by RedeemBootstrapToken when the token's TTL
// has elapsed.
var ErrTokenExpired = errors.New("bootstrap token expired")

// AgentRepository provides CRUD operations for agents, bootstrap tokens, and
// API keys against PostgreSQL.
type AgentRepository struct {
	db *pgxpool.Pool
}

// NewAgentRepository creates a new AgentRepository.
func NewAgentRepository(db *pgxpool.Pool) *AgentRepository {
	return &AgentRepository{db: db}
}

// Create inserts a new agent.
func (r *AgentRepository) Create(ctx context.Context, agent *model.Agent) error {
	return r.insert(ctx, r.db, agent)
}

// insert is shared between Create and RedeemBootstrapToken (which inserts
// within a transaction).
func (r *AgentRepository) insert(ctx context.Context, q queryer, agent *model.Agent) error {
	endpoints, err := json.Marshal(agent.Endpoints)
	if err != nil {
		return fmt.Errorf("marshal endpoints: %w", err)
	}
	caps, err := json.Marshal(agent.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	schemes, err := json.Marshal(agent.AuthSchemes)
	if err != nil {
		return fmt.Errorf("marshal auth_schemes: %w", err)
	}
	pricing, err := json.Marshal(agent.Pricing)
	if err != nil {
		return fmt.Errorf("marshal pricing: %w", err)
	}
	meta, err := json.Marshal(agent.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	agent.ID = uuid.New()
	now := time.Now().UTC()
	agent.CreatedAt = now
	agent.UpdatedAt = now
	if agent.Status == "" {
		agent.Status = model.AgentStatusActive
	}

	query := `
		INSERT INTO agents (
			id, did, name, agent_type, status, description, developer_id,
			endpoints, capabilities, auth_schemes, pricing, metadata,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`

	_, err = q.Exec(ctx, query,
		agent.ID, agent.DID, agent.Name, agent.AgentType, agent.Status,
		agent.Description, agent.DeveloperID, endpoints, caps, schemes,
		pricing, meta, agent.CreatedAt, agent.UpdatedAt,
	)
	return err
}

// GetByID retrieves an agent by its internal UUID.
func (r *AgentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Agent, error) {
	return r.scanOne(ctx, `SELECT * FROM agents WHERE id = $1`, id)
}

// GetByDID retrieves an agent by its DID.
func (r *AgentRepository) GetByDID(ctx context.Context, did string) (*model.Agent, error) {
	return r.scanOne(ctx, `SELECT * FROM agents WHERE did = $1`, did)
}

// List returns agents matching filter, newest first unless filter.Sort says
// otherwise, capped at 100 rows.
func (r *AgentRepository) List(ctx context.Context, filter model.ListAgentsFilter) ([]*model.Agent, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	order := "created_at DESC"
	switch filter.Sort {
	case "created_at":
		order = "created_at ASC"
	case "-created_at":
		order = "created_at DESC"
	case "name":
		order = "name ASC"
	case "-name":
		order = "name DESC"
	}

	var devFilter uuid.UUID
	devFilterSet := filter.DeveloperID != nil
	if devFilterSet {
		devFilter = *filter.DeveloperID
	}

	query := fmt.Sprintf(`
		SELECT * FROM agents
		WHERE ($1 = '' OR name ILIKE '%%' || $1 || '%%' OR description ILIKE '%%' || $1 || '%%')
		  AND ($2 = '' OR agent_type = $2)
		  AND ($3 = '' OR status = $3)
		  AND ($4 = false OR developer_id = $5)
		ORDER BY %s
		LIMIT $6 OFFSET $7`, order)

	rows, err := r.db.Query(ctx, query,
		filter.Search, filter.AgentType, string(filter.Status),
		devFilterSet, devFilter, limit, filter.Skip,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []*model.Agent
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// ListByDeveloperID returns every agent a developer owns, newest first.
func (r *AgentRepository) ListByDeveloperID(ctx context.Context, developerID uuid.UUID, limit, offset int) ([]*model.Agent, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	query := `SELECT * FROM agents WHERE developer_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.db.Query(ctx, query, developerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []*model.Agent
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// SearchByCapability returns active agents advertising the given capability.
func (r *AgentRepository) SearchByCapability(ctx context.Context, capability string, limit, offset int) ([]*model.Agent, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	query := `
		SELECT * FROM agents
		WHERE status = 'active' AND capabilities @> $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	capJSON, err := json.Marshal([]string{capability})
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, query, capJSON, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []*model.Agent
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// CountByDeveloper returns the number of agents a developer owns.
func (r *AgentRepository) CountByDeveloper(ctx context.Context, developerID uuid.UUID) (int, error) {
	var count int
	q := `SELECT COUNT(*) FROM agents WHERE developer_id = $1`
	if err := r.db.QueryRow(ctx, q, developerID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count by developer: %w", err)
	}
	return count, nil
}

// Update modifies an existing agent record in place.
func (r *AgentRepository) Update(ctx context.Context, agent *model.Agent) error {
	endpoints, err := json.Marshal(agent.Endpoints)
	if err != nil {
		return fmt.Errorf("marshal endpoints: %w", err)
	}
	caps, err := json.Marshal(agent.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	schemes, err := json.Marshal(agent.AuthSchemes)
	if err != nil {
		return fmt.Errorf("marshal auth_schemes: %w", err)
	}
	pricing, err := json.Marshal(agent.Pricing)
	if err != nil {
		return fmt.Errorf("marshal pricing: %w", err)
	}
	meta, err := json.Marshal(agent.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	agent.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE agents SET
			name = $2, agent_type = $3, status = $4, description = $5,
			endpoints = $6, capabilities = $7, auth_schemes = $8,
			pricing = $9, metadata = $10, updated_at = $11
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		agent.ID, agent.Name, agent.AgentType, agent.Status, agent.Description,
		endpoints, caps, schemes, pricing, meta, agent.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete permanently removes an agent record.
func (r *AgentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// queryer is satisfied by both *pgxpool.Pool and pgx.Tx, letting insert run
// either standalone or inside RedeemBootstrapToken's transaction.
type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (r *AgentRepository) scanOne(ctx context.Context, query string, args ...any) (*model.Agent, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return r.scan(rows)
}

// scan reads a single agent row, matching the column order of the agents
// table definition.
func (r *AgentRepository) scan(rows pgx.Rows) (*model.Agent, error) {
	var a model.Agent
	var endpointsRaw, capsRaw, schemesRaw, pricingRaw, metaRaw []byte

	err := rows.Scan(
		&a.ID, &a.DID, &a.Name, &a.AgentType, &a.Status, &a.Description,
		&a.DeveloperID, &endpointsRaw, &capsRaw, &schemesRaw, &pricingRaw,
		&metaRaw, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(endpointsRaw) > 0 {
		if err := json.Unmarshal(endpointsRaw, &a.Endpoints); err != nil {
			return nil, fmt.Errorf("unmarshal endpoints: %w", err)
		}
	}
	if len(capsRaw) > 0 {
		if err := json.Unmarshal(capsRaw, &a.Capabilities); err != nil {
			return nil, fmt.Errorf("unmarshal capabilities: %w", err)
		}
	}
	if len(schemesRaw) > 0 {
		if err := json.Unmarshal(schemesRaw, &a.AuthSchemes); err != nil {
			return nil, fmt.Errorf("unmarshal auth_schemes: %w", err)
		}
	}
	if len(pricingRaw) > 0 {
		if err := json.Unmarshal(pricingRaw, &a.Pricing); err != nil {
			return nil, fmt.Errorf("unmarshal pricing: %w", err)
		}
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &a.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &a, nil
}

// --- Bootstrap tokens ---

// hashToken derives the at-rest lookup hash for a bootstrap token value; the
// raw value itself is shown to the caller only once, at issuance.
func hashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// CreateBootstrapToken persists a newly issued token. tokenValue is the raw,
// high-entropy secret; only its hash is stored.
func (r *AgentRepository) CreateBootstrapToken(ctx context.Context, creatorDeveloperID uuid.UUID, tokenValue string, expiresAt time.Time) (*model.BootstrapToken, error) {
	tok := &model.BootstrapToken{
		TokenID:            uuid.New(),
		CreatorDeveloperID: creatorDeveloperID,
		ExpiresAt:          expiresAt,
		CreatedAt:          time.Now().UTC(),
	}
	query := `INSERT INTO bootstrap_tokens (id, token_hash, creator_developer_id, expires_at, created_at) VALUES ($1,$2,$3,$4,$5)`
	_, err := r.db.Exec(ctx, query, tok.TokenID, hashToken(tokenValue), tok.CreatorDeveloperID, tok.ExpiresAt, tok.CreatedAt)
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// CountRecentBootstrapTokens counts tokens a developer issued in the
// trailing window, for rate limiting (<=5/min).
func (r *AgentRepository) CountRecentBootstrapTokens(ctx context.Context, creatorDeveloperID uuid.UUID, since time.Time) (int, error) {
	var count int
	q := `SELECT COUNT(*) FROM bootstrap_tokens WHERE creator_developer_id = $1 AND created_at >= $2`
	if err := r.db.QueryRow(ctx, q, creatorDeveloperID, since).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// RedeemBootstrapToken atomically validates tokenValue, inserts the new
// agent it authorizes, and marks the token consumed — all in one
// transaction, so concurrent redemptions of the same token can succeed for
// at most one caller.
func (r *AgentRepository) RedeemBootstrapToken(ctx context.Context, tokenValue string, agent *model.Agent) (*model.Agent, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var tokenID, creatorDeveloperID uuid.UUID
	var expiresAt time.Time
	var consumedAt *time.Time
	q := `SELECT id, creator_developer_id, expires_at, consumed_at FROM bootstrap_tokens WHERE token_hash = $1 FOR UPDATE`
	if err := tx.QueryRow(ctx, q, hashToken(tokenValue)).Scan(&tokenID, &creatorDeveloperID, &expiresAt, &consumedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query bootstrap token: %w", err)
	}
	if consumedAt != nil {
		return nil, ErrTokenConsumed
	}
	if time.Now().After(expiresAt) {
		return nil, ErrTokenExpired
	}

	agent.DeveloperID = creatorDeveloperID
	if err := r.insert(ctx, tx, agent); err != nil {
		return nil, fmt.Errorf("insert agent: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx,
		`UPDATE bootstrap_tokens SET consumed_at = $2, consumed_by_agent_id = $3 WHERE id = $1`,
		tokenID, now, agent.ID,
	); err != nil {
		return nil, fmt.Errorf("mark token consumed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return agent, nil
}

// --- API keys ---

// CreateAPIKey persists a newly minted key. Only prefix and hash are stored;
// the raw secret is never written.
func (r *AgentRepository) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	key.KeyID = uuid.New()
	key.CreatedAt = time.Now().UTC()
	scopes, err := json.Marshal(key.Scopes)
	if err != nil {
		return fmt.Errorf("marshal scopes: %w", err)
	}
	query := `INSERT INTO api_keys (id, prefix, hash, developer_id, scopes, expires_at, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err = r.db.Exec(ctx, query, key.KeyID, key.Prefix, key.Hash, key.DeveloperID, scopes, key.ExpiresAt, key.CreatedAt)
	return err
}

// GetAPIKeyByPrefix looks up a key by its plaintext prefix, for the
// prefix-then-hash authentication flow.
func (r *AgentRepository) GetAPIKeyByPrefix(ctx context.Context, prefix string) (*model.APIKey, error) {
	query := `SELECT id, prefix, hash, developer_id, scopes, expires_at, revoked_at, created_at FROM api_keys WHERE prefix = $1`
	row := r.db.QueryRow(ctx, query, prefix)

	var k model.APIKey
	var scopesRaw []byte
	if err := row.Scan(&k.KeyID, &k.Prefix, &k.Hash, &k.DeveloperID, &scopesRaw, &k.ExpiresAt, &k.RevokedAt, &k.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(scopesRaw) > 0 {
		if err := json.Unmarshal(scopesRaw, &k.Scopes); err != nil {
			return nil, fmt.Errorf("unmarshal scopes: %w", err)
		}
	}
	return &k, nil
}

// RevokeAPIKey marks a key revoked so prefix+hash authentication stops
// accepting it.
func (r *AgentRepository) RevokeAPIKey(ctx context.Context, keyID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE api_keys SET revoked_at = $2 WHERE id = $1`, keyID, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
