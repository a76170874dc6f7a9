package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/agentvault/registry/internal/identity"
	"github.com/agentvault/registry/internal/registry/model"
	"github.com/agentvault/registry/internal/trustledger"
	"go.uber.org/zap"
)

// Errors surfaced by AgentService. Handlers map these to the uniform error
// envelope's error_code / HTTP status.
var (
	ErrNotOwner             = errors.New("agent: principal does not own this resource")
	ErrInvalidAgentCard     = errors.New("agent: card fails schema validation")
	ErrBootstrapRateLimited = errors.New("agent: bootstrap token rate limit exceeded")
)

// maxBootstrapTokensPerMinute enforces the per-creator-developer rate limit
// on bootstrap token issuance.
const maxBootstrapTokensPerMinute = 5

// agentRepo is the persistence interface for the agent service.
// *repository.AgentRepository satisfies this interface.
type agentRepo interface {
	Create(ctx context.Context, agent *model.Agent) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Agent, error)
	GetByDID(ctx context.Context, did string) (*model.Agent, error)
	List(ctx context.Context, filter model.ListAgentsFilter) ([]*model.Agent, error)
	ListByDeveloperID(ctx context.Context, developerID uuid.UUID, limit, offset int) ([]*model.Agent, error)
	SearchByCapability(ctx context.Context, capability string, limit, offset int) ([]*model.Agent, error)
	CountByDeveloper(ctx context.Context, developerID uuid.UUID) (int, error)
	Update(ctx context.Context, agent *model.Agent) error
	Delete(ctx context.Context, id uuid.UUID) error

	CreateBootstrapToken(ctx context.Context, creatorDeveloperID uuid.UUID, tokenValue string, expiresAt time.Time) (*model.BootstrapToken, error)
	CountRecentBootstrapTokens(ctx context.Context, creatorDeveloperID uuid.UUID, since time.Time) (int, error)
	RedeemBootstrapToken(ctx context.Context, tokenValue string, agent *model.Agent) (*model.Agent, error)

	CreateAPIKey(ctx context.Context, key *model.APIKey) error
	GetAPIKeyByPrefix(ctx context.Context, prefix string) (*model.APIKey, error)
	RevokeAPIKey(ctx context.Context, keyID uuid.UUID) error
}

// RemoteResolver resolves agents that are not found in the local registry by
// querying federated peer registries. *federation.FederationService satisfies
// this interface through an adapter the caller supplies.
type RemoteResolver interface {
	Resolve(ctx context.Context, did string) (*model.Agent, error)
}

// RedeemedCredentials is returned by RedeemBootstrapToken: the newly
// provisioned agent's DID plus an OAuth2-style client credential pair it can
// use to authenticate to the gateway going forward.
type RedeemedCredentials struct {
	DID          string `json:"did"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// AgentService contains the business logic for the registry catalog: agent
// CRUD, search, and bootstrap-token onboarding.
type AgentService struct {
	repo           agentRepo
	tokens         *identity.TokenIssuer // issues the agent's bearer client credential
	ledger         trustledger.Ledger    // nil = no audit ledger writes
	remoteResolver RemoteResolver        // nil = no cross-registry resolution
	logger         *zap.Logger
}

// NewAgentService creates a new AgentService. ledger and remoteResolver may
// each be nil to disable that feature.
func NewAgentService(repo agentRepo, tokens *identity.TokenIssuer, ledger trustledger.Ledger, logger *zap.Logger) *AgentService {
	return &AgentService{
		repo:   repo,
		tokens: tokens,
		ledger: ledger,
		logger: logger,
	}
}

// SetRemoteResolver wires a federation fallback for Get.
func (s *AgentService) SetRemoteResolver(r RemoteResolver) { s.remoteResolver = r }

// appendLedger records a non-fatal audit entry for an agent lifecycle event.
// Failures are logged but never fail the calling operation — the catalog's
// durability does not depend on the audit trail.
func (s *AgentService) appendLedger(ctx context.Context, did, action, actor string, payload any) {
	if s.ledger == nil {
		return
	}
	if _, err := s.ledger.Append(ctx, did, action, actor, payload); err != nil {
		s.logger.Warn("agent audit ledger append failed", zap.String("did", did), zap.String("action", action), zap.Error(err))
	}
}

// generateDID mints a new globally unique DID in this registry's namespace.
func generateDID() string {
	return "did:cos:" + uuid.NewString()
}

// validateAgentCard enforces the invariants the Data Model places on an
// Agent's card-shaped fields, independent of how it was created.
func validateAgentCard(endpoints, capabilities []string, schemes []model.AuthScheme) error {
	if len(endpoints) == 0 {
		return fmt.Errorf("%w: at least one endpoint is required", ErrInvalidAgentCard)
	}
	for _, e := range endpoints {
		if e == "" {
			return fmt.Errorf("%w: endpoint must not be empty", ErrInvalidAgentCard)
		}
	}
	if len(schemes) == 0 {
		return fmt.Errorf("%w: at least one auth scheme is required", ErrInvalidAgentCard)
	}
	seen := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		if seen[c] {
			return fmt.Errorf("%w: duplicate capability %q", ErrInvalidAgentCard, c)
		}
		seen[c] = true
	}
	return nil
}

// CreateAgent registers a new agent directly under an authenticated
// developer's ownership (as opposed to bootstrap-token onboarding).
func (s *AgentService) CreateAgent(ctx context.Context, developerID uuid.UUID, req model.CreateAgentRequest) (*model.Agent, error) {
	req.Normalize()
	if err := validateAgentCard(req.Endpoints, req.Capabilities, req.AuthSchemes); err != nil {
		return nil, err
	}

	agent := &model.Agent{
		DID:          generateDID(),
		Name:         req.Name,
		AgentType:    req.AgentType,
		Status:       model.AgentStatusActive,
		Description:  req.Description,
		DeveloperID:  developerID,
		Endpoints:    req.Endpoints,
		Capabilities: req.Capabilities,
		AuthSchemes:  req.AuthSchemes,
		Pricing:      req.Pricing,
		Metadata:     req.Metadata,
	}
	if err := s.repo.Create(ctx, agent); err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	s.appendLedger(ctx, agent.DID, "register", developerID.String(), agent)
	return agent, nil
}

// GetAgent retrieves an agent by its internal ID from the local registry; it
// does no federated resolution.
func (s *AgentService) GetAgent(ctx context.Context, id uuid.UUID) (*model.Agent, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByDID retrieves an agent by DID, consulting federated peers through
// RemoteResolver if it is not found locally.
func (s *AgentService) GetByDID(ctx context.Context, did string) (*model.Agent, error) {
	agent, err := s.repo.GetByDID(ctx, did)
	if err == nil {
		return agent, nil
	}
	if s.remoteResolver != nil {
		if remote, rerr := s.remoteResolver.Resolve(ctx, did); rerr == nil {
			return remote, nil
		}
	}
	return nil, err
}

// ListAgents returns agents matching filter.
func (s *AgentService) ListAgents(ctx context.Context, filter model.ListAgentsFilter) ([]*model.Agent, error) {
	return s.repo.List(ctx, filter)
}

// ListByDeveloperID returns every agent a developer owns.
func (s *AgentService) ListByDeveloperID(ctx context.Context, developerID uuid.UUID, limit, offset int) ([]*model.Agent, error) {
	return s.repo.ListByDeveloperID(ctx, developerID, limit, offset)
}

// SearchByCapability returns active agents advertising capability.
func (s *AgentService) SearchByCapability(ctx context.Context, capability string, limit, offset int) ([]*model.Agent, error) {
	return s.repo.SearchByCapability(ctx, capability, limit, offset)
}

// UpdateAgent applies a partial update, enforcing that only the owning
// developer (or an admin, checked by the caller) may perform it.
func (s *AgentService) UpdateAgent(ctx context.Context, id, callerDeveloperID uuid.UUID, isAdmin bool, req model.UpdateAgentRequest) (*model.Agent, error) {
	agent, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if agent.DeveloperID != callerDeveloperID && !isAdmin {
		return nil, ErrNotOwner
	}

	if req.Name != nil {
		agent.Name = *req.Name
	}
	if req.Description != nil {
		agent.Description = *req.Description
	}
	if req.Status != nil {
		agent.Status = *req.Status
	}
	if req.Endpoints != nil {
		agent.Endpoints = req.Endpoints
	}
	if req.Capabilities != nil {
		agent.Capabilities = dedupeCapabilities(req.Capabilities)
	}
	if req.AuthSchemes != nil {
		agent.AuthSchemes = req.AuthSchemes
	}
	if req.Pricing != nil {
		agent.Pricing = *req.Pricing
	}
	if req.Metadata != nil {
		agent.Metadata = req.Metadata
	}

	if err := validateAgentCard(agent.Endpoints, agent.Capabilities, agent.AuthSchemes); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, agent); err != nil {
		return nil, fmt.Errorf("update agent: %w", err)
	}
	s.appendLedger(ctx, agent.DID, "update", callerDeveloperID.String(), req)
	return agent, nil
}

// DeleteAgent removes an agent. Only the owner or an admin may do so.
func (s *AgentService) DeleteAgent(ctx context.Context, id, callerDeveloperID uuid.UUID, isAdmin bool) error {
	agent, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if agent.DeveloperID != callerDeveloperID && !isAdmin {
		return ErrNotOwner
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.appendLedger(ctx, agent.DID, "delete", callerDeveloperID.String(), nil)
	return nil
}

// generateTokenValue mints a high-entropy opaque value, used for bootstrap
// token values and for the client secret issued when a token is redeemed.
func generateTokenValue() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token value: %w", err)
	}
	return "bst_" + hex.EncodeToString(b), nil
}

// IssueBootstrapToken mints a single-use, short-lived token a developer
// presents to onboard exactly one new agent. Rate-limited to
// maxBootstrapTokensPerMinute per creator.
func (s *AgentService) IssueBootstrapToken(ctx context.Context, creatorDeveloperID uuid.UUID) (*model.BootstrapToken, string, error) {
	since := time.Now().Add(-time.Minute)
	count, err := s.repo.CountRecentBootstrapTokens(ctx, creatorDeveloperID, since)
	if err != nil {
		return nil, "", fmt.Errorf("count recent bootstrap tokens: %w", err)
	}
	if count >= maxBootstrapTokensPerMinute {
		return nil, "", ErrBootstrapRateLimited
	}

	value, err := generateTokenValue()
	if err != nil {
		return nil, "", err
	}
	expiresAt := time.Now().Add(model.MaxBootstrapTokenTTL)
	tok, err := s.repo.CreateBootstrapToken(ctx, creatorDeveloperID, value, expiresAt)
	if err != nil {
		return nil, "", fmt.Errorf("create bootstrap token: %w", err)
	}
	s.appendLedger(ctx, "", "bootstrap_token_issued", creatorDeveloperID.String(), map[string]any{"token_id": tok.TokenID, "expires_at": expiresAt})
	return tok, value, nil
}

// RedeemBootstrapToken validates tokenValue and atomically provisions a new
// agent owned by the token's creator, returning its DID and a fresh client
// credential pair. The token is consumed exactly once, even under
// concurrent redemption attempts (repository-layer transaction).
func (s *AgentService) RedeemBootstrapToken(ctx context.Context, tokenValue string, req model.RegisterAgentRequest) (*RedeemedCredentials, error) {
	if err := validateAgentCard(req.Endpoints, req.Capabilities, req.AuthSchemes); err != nil {
		return nil, err
	}

	agent := &model.Agent{
		DID:          generateDID(),
		Name:         req.Name,
		AgentType:    req.AgentType,
		Status:       model.AgentStatusActive,
		Description:  req.Description,
		Endpoints:    req.Endpoints,
		Capabilities: dedupeCapabilities(req.Capabilities),
		AuthSchemes:  req.AuthSchemes,
		Pricing:      req.Pricing,
		Metadata:     req.Metadata,
	}

	redeemed, err := s.repo.RedeemBootstrapToken(ctx, tokenValue, agent)
	if err != nil {
		return nil, err
	}
	s.appendLedger(ctx, redeemed.DID, "register_via_bootstrap", redeemed.DeveloperID.String(), redeemed)

	clientSecret, err := generateTokenValue()
	if err != nil {
		return nil, err
	}
	var bearer string
	if s.tokens != nil {
		bearer, err = s.tokens.Issue(redeemed.DID, []string{"agent"})
		if err != nil {
			return nil, fmt.Errorf("issue agent token: %w", err)
		}
	}
	return &RedeemedCredentials{
		DID:          redeemed.DID,
		ClientID:     redeemed.DID,
		ClientSecret: cmp(bearer, clientSecret),
	}, nil
}

// cmp returns a if non-empty, else b. Used so RedeemedCredentials.ClientSecret
// prefers a signed bearer token (when a TokenIssuer is configured) over the
// raw opaque secret.
func cmp(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// IssueAPIKey mints a new developer-scoped API key. The raw secret is
// returned once; only its prefix and hash are persisted.
func (s *AgentService) IssueAPIKey(ctx context.Context, developerID uuid.UUID, scopes []string, expiresAt *time.Time) (*model.APIKey, string, error) {
	material, err := identity.GenerateAPIKey()
	if err != nil {
		return nil, "", err
	}
	key := &model.APIKey{
		Prefix:      material.Prefix,
		Hash:        material.Hash,
		DeveloperID: developerID,
		Scopes:      scopes,
		ExpiresAt:   expiresAt,
	}
	if err := s.repo.CreateAPIKey(ctx, key); err != nil {
		return nil, "", fmt.Errorf("create api key: %w", err)
	}
	return key, material.RawSecret, nil
}

// AuthenticateAPIKey resolves a raw "prefix_secret" API key to the
// developer that owns it, rejecting expired or revoked keys.
func (s *AgentService) AuthenticateAPIKey(ctx context.Context, raw string) (*model.APIKey, error) {
	prefix, secret, ok := identity.SplitAPIKey(raw)
	if !ok {
		return nil, fmt.Errorf("malformed api key")
	}
	key, err := s.repo.GetAPIKeyByPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if !key.Active(time.Now()) {
		return nil, fmt.Errorf("api key is not active")
	}
	if !identity.VerifyAPIKeySecret(secret, key.Hash) {
		return nil, fmt.Errorf("api key secret mismatch")
	}
	return key, nil
}

// RevokeAPIKey revokes a key so it can no longer authenticate.
func (s *AgentService) RevokeAPIKey(ctx context.Context, keyID uuid.UUID) error {
	return s.repo.RevokeAPIKey(ctx, keyID)
}

func dedupeCapabilities(caps []string) []string {
	seen := make(map[string]bool, len(caps))
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
