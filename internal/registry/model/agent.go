package model

import (
	"time"

	"github.com/google/uuid"
)

// AgentStatus is the lifecycle state of a registered agent.
type AgentStatus string

const (
	AgentStatusActive     AgentStatus = "active"
	AgentStatusInactive   AgentStatus = "inactive"
	AgentStatusDeprecated AgentStatus = "deprecated"
)

// AuthSchemeKind is the discriminator for an AuthScheme entry.
type AuthSchemeKind string

const (
	AuthSchemeAPIKey AuthSchemeKind = "apiKey"
	AuthSchemeBearer AuthSchemeKind = "bearer"
	AuthSchemeOAuth2 AuthSchemeKind = "oauth2"
	AuthSchemeNone   AuthSchemeKind = "none"
)

// AuthScheme describes one way a caller authenticates to an agent's endpoints.
type AuthScheme struct {
	Scheme            AuthSchemeKind `json:"scheme"`
	ServiceIdentifier string         `json:"service_identifier,omitempty"`
	TokenURL          string         `json:"token_url,omitempty"`
	Scopes            []string       `json:"scopes,omitempty"`
}

// Pricing holds the structured pricing terms an agent publishes.
type Pricing struct {
	Model       string  `json:"model,omitempty"` // e.g. "free", "per_call", "per_token"
	UnitPriceAVT float64 `json:"unit_price_avt,omitempty"`
	Currency    string  `json:"currency,omitempty"`
}

// Metadata is extensible key-value data carried on an Agent.
type Metadata map[string]any

// Agent is the internal AgentCard entity: the registry's catalog record for
// one agent, keyed by a globally unique DID.
type Agent struct {
	ID           uuid.UUID    `json:"agent_id"     db:"id"`
	DID          string       `json:"did"           db:"did"`
	Name         string       `json:"name"          db:"name"`
	AgentType    string       `json:"agent_type"    db:"agent_type"`
	Status       AgentStatus  `json:"status"        db:"status"`
	Description  string       `json:"description"   db:"description"`
	DeveloperID  uuid.UUID    `json:"developer_id"  db:"developer_id"`
	Endpoints    []string     `json:"endpoints"     db:"endpoints"`
	Capabilities []string     `json:"capabilities"  db:"capabilities"`
	AuthSchemes  []AuthScheme `json:"auth_schemes"  db:"auth_schemes"`
	Pricing      Pricing      `json:"pricing"       db:"pricing"`
	Metadata     Metadata     `json:"metadata"      db:"metadata"`
	CreatedAt    time.Time    `json:"created_at"    db:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"    db:"updated_at"`
}

// HasCapability reports whether cap is present in the agent's capability set.
func (a *Agent) HasCapability(cap string) bool {
	for _, c := range a.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// dedupeCapabilities enforces the set semantics of Agent.Capabilities,
// preserving first-seen order.
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

// CreateAgentRequest is the payload for a direct (developer bearer token)
// agent creation, as opposed to bootstrap-token onboarding.
type CreateAgentRequest struct {
	Name         string       `json:"name"          binding:"required"`
	AgentType    string       `json:"agent_type"`
	Description  string       `json:"description"`
	Endpoints    []string     `json:"endpoints"     binding:"required,min=1,dive,url"`
	Capabilities []string     `json:"capabilities"`
	AuthSchemes  []AuthScheme `json:"auth_schemes"  binding:"required,min=1"`
	Pricing      Pricing      `json:"pricing"`
	Metadata     Metadata     `json:"metadata"`
}

// Normalize applies the set/order invariants a Create/Update request must
// satisfy before being persisted.
func (r *CreateAgentRequest) Normalize() {
	r.Capabilities = dedupeCapabilities(r.Capabilities)
}

// UpdateAgentRequest is the payload for updating an existing agent. Nil
// pointer-valued fields are left unchanged; present fields replace wholesale.
type UpdateAgentRequest struct {
	Name         *string       `json:"name,omitempty"`
	Description  *string       `json:"description,omitempty"`
	Status       *AgentStatus  `json:"status,omitempty"`
	Endpoints    []string      `json:"endpoints,omitempty"     binding:"omitempty,dive,url"`
	Capabilities []string      `json:"capabilities,omitempty"`
	AuthSchemes  []AuthScheme  `json:"auth_schemes,omitempty"`
	Pricing      *Pricing      `json:"pricing,omitempty"`
	Metadata     Metadata      `json:"metadata,omitempty"`
}

// ListAgentsFilter constrains ListAgents.
type ListAgentsFilter struct {
	Search      string
	AgentType   string
	Status      AgentStatus
	DeveloperID *uuid.UUID
	Sort        string // "created_at", "-created_at", "name", "-name"
	Skip        int
	Limit       int // capped at 100
}

// BootstrapToken is a single-use, short-lived credential a developer issues
// so that an unattended onboarding process can register one new agent.
type BootstrapToken struct {
	TokenID            uuid.UUID  `json:"token_id"             db:"id"`
	TokenValue         string     `json:"-"                    db:"token_hash"`
	CreatorDeveloperID uuid.UUID  `json:"creator_developer_id" db:"creator_developer_id"`
	ExpiresAt          time.Time  `json:"expires_at"           db:"expires_at"`
	ConsumedAt         *time.Time `json:"consumed_at,omitempty"          db:"consumed_at"`
	ConsumedByAgentID  *uuid.UUID `json:"consumed_by_agent_id,omitempty" db:"consumed_by_agent_id"`
	CreatedAt          time.Time  `json:"created_at"           db:"created_at"`
}

// Consumed reports whether the token has already been redeemed.
func (b *BootstrapToken) Consumed() bool { return b.ConsumedAt != nil }

// Expired reports whether the token's TTL has elapsed as of now.
func (b *BootstrapToken) Expired(now time.Time) bool { return now.After(b.ExpiresAt) }

// MaxBootstrapTokenTTL is the hard ceiling on BootstrapToken.ExpiresAt - CreatedAt.
const MaxBootstrapTokenTTL = 5 * time.Minute

// RegisterAgentRequest is the payload presented alongside a bootstrap token
// to redeem it into a new, fully-registered Agent.
type RegisterAgentRequest struct {
	Name         string       `json:"agent_name"    binding:"required"`
	AgentType    string       `json:"agent_type"`
	Description  string       `json:"description"`
	Endpoints    []string     `json:"endpoints"     binding:"required,min=1,dive,url"`
	Capabilities []string     `json:"capabilities"`
	AuthSchemes  []AuthScheme `json:"auth_schemes"  binding:"required,min=1"`
	Pricing      Pricing      `json:"pricing"`
	Metadata     Metadata     `json:"metadata"`
}

// APIKey is a developer-scoped, long-lived credential. Only Prefix and a
// freshly generated RawSecret (never Hash) ever leave the registry.
type APIKey struct {
	KeyID       uuid.UUID  `json:"key_id"               db:"id"`
	Prefix      string     `json:"prefix"               db:"prefix"`
	Hash        string     `json:"-"                    db:"hash"`
	DeveloperID uuid.UUID  `json:"developer_id"         db:"developer_id"`
	Scopes      []string   `json:"scopes"               db:"scopes"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	CreatedAt   time.Time  `json:"created_at"           db:"created_at"`
}

// Active reports whether the key may currently be used to authenticate.
func (k *APIKey) Active(now time.Time) bool {
	if k.RevokedAt != nil {
		return false
	}
	if k.ExpiresAt != nil && now.After(*k.ExpiresAt) {
		return false
	}
	return true
}
