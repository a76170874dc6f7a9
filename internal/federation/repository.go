package federation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a peer lookup finds no matching row.
var ErrNotFound = errors.New("federation peer not found")

// federationRepo is the repository interface consumed by FederationService.
// Defined here, not on the concrete type, so the service can be tested
// against an in-memory fake without a database.
type federationRepo interface {
	Create(ctx context.Context, p *FederationPeer) error
	List(ctx context.Context) ([]*FederationPeer, error)
	ListActive(ctx context.Context) ([]*FederationPeer, error)
	GetByID(ctx context.Context, peerID string) (*FederationPeer, error)
	UpdateHealth(ctx context.Context, peerID string, status HealthStatus, checkedAt time.Time) error
	SetAgentCount(ctx context.Context, peerID string, count int) error
}

// FederationRepository is the Postgres-backed implementation of federationRepo.
type FederationRepository struct {
	pool *pgxpool.Pool
}

// NewFederationRepository creates a FederationRepository.
func NewFederationRepository(pool *pgxpool.Pool) *FederationRepository {
	return &FederationRepository{pool: pool}
}

// Create inserts a new federation_peers row, assigning it a fresh peer ID.
func (r *FederationRepository) Create(ctx context.Context, p *FederationPeer) error {
	p.PeerID = uuid.New().String()
	p.HealthStatus = HealthUnknown
	const q = `
		INSERT INTO federation_peers (peer_id, name, registry_url, api_key_encrypted, is_active, health_status, agent_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, now())
		RETURNING created_at`
	if err := r.pool.QueryRow(ctx, q, p.PeerID, p.Name, p.RegistryURL, p.APIKeyEncrypted, p.IsActive, p.HealthStatus).Scan(&p.CreatedAt); err != nil {
		return fmt.Errorf("insert federation peer: %w", err)
	}
	return nil
}

// List returns every registered peer, active or not.
func (r *FederationRepository) List(ctx context.Context) ([]*FederationPeer, error) {
	return r.query(ctx, `
		SELECT peer_id, name, registry_url, api_key_encrypted, is_active, last_health_check, health_status, agent_count, created_at
		FROM federation_peers ORDER BY created_at`)
}

// ListActive returns only peers eligible for federated search and health probes.
func (r *FederationRepository) ListActive(ctx context.Context) ([]*FederationPeer, error) {
	return r.query(ctx, `
		SELECT peer_id, name, registry_url, api_key_encrypted, is_active, last_health_check, health_status, agent_count, created_at
		FROM federation_peers WHERE is_active = true ORDER BY created_at`)
}

func (r *FederationRepository) query(ctx context.Context, sql string, args ...any) ([]*FederationPeer, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query federation peers: %w", err)
	}
	defer rows.Close()

	var peers []*FederationPeer
	for rows.Next() {
		p := &FederationPeer{}
		if err := rows.Scan(&p.PeerID, &p.Name, &p.RegistryURL, &p.APIKeyEncrypted, &p.IsActive,
			&p.LastHealthCheck, &p.HealthStatus, &p.AgentCount, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan federation peer: %w", err)
		}
		peers = append(peers, p)
	}
	return peers, rows.Err()
}

// GetByID fetches a single peer by its ID.
func (r *FederationRepository) GetByID(ctx context.Context, peerID string) (*FederationPeer, error) {
	p := &FederationPeer{}
	err := r.pool.QueryRow(ctx, `
		SELECT peer_id, name, registry_url, api_key_encrypted, is_active, last_health_check, health_status, agent_count, created_at
		FROM federation_peers WHERE peer_id = $1`, peerID,
	).Scan(&p.PeerID, &p.Name, &p.RegistryURL, &p.APIKeyEncrypted, &p.IsActive,
		&p.LastHealthCheck, &p.HealthStatus, &p.AgentCount, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get federation peer: %w", err)
	}
	return p, nil
}

// UpdateHealth records the outcome of the most recent health probe.
func (r *FederationRepository) UpdateHealth(ctx context.Context, peerID string, status HealthStatus, checkedAt time.Time) error {
	if _, err := r.pool.Exec(ctx,
		`UPDATE federation_peers SET health_status = $1, last_health_check = $2 WHERE peer_id = $3`,
		status, checkedAt, peerID,
	); err != nil {
		return fmt.Errorf("update peer health: %w", err)
	}
	return nil
}

// SetAgentCount records a peer's most recently observed agent count.
func (r *FederationRepository) SetAgentCount(ctx context.Context, peerID string, count int) error {
	if _, err := r.pool.Exec(ctx, `UPDATE federation_peers SET agent_count = $1 WHERE peer_id = $2`, count, peerID); err != nil {
		return fmt.Errorf("update peer agent count: %w", err)
	}
	return nil
}
