package federation

import (
	"encoding/json"
	"time"
)

// HealthStatus is the last-observed reachability of a federation peer.
type HealthStatus string

const (
	HealthHealthy     HealthStatus = "healthy"
	HealthDegraded    HealthStatus = "degraded"
	HealthUnreachable HealthStatus = "unreachable"
	HealthUnknown     HealthStatus = "unknown"
)

// FederationPeer is a remote registry this node fans queries out to.
type FederationPeer struct {
	PeerID          string       `json:"peer_id"`
	Name            string       `json:"name"`
	RegistryURL     string       `json:"registry_url"`
	APIKeyEncrypted string       `json:"-"`
	IsActive        bool         `json:"is_active"`
	LastHealthCheck *time.Time   `json:"last_health_check,omitempty"`
	HealthStatus    HealthStatus `json:"health_status"`
	AgentCount      int          `json:"agent_count"`
	CreatedAt       time.Time    `json:"created_at"`
}

// CreatePeerRequest is the admin payload for registering a new peer.
type CreatePeerRequest struct {
	Name        string `json:"name"`
	RegistryURL string `json:"registry_url"`
	APIKey      string `json:"api_key"`
}

// SearchStats summarizes one federated query's fan-out.
type SearchStats struct {
	Queried               int `json:"queried"`
	Successful            int `json:"successful"`
	Failed                int `json:"failed"`
	TotalFederatedResults int `json:"total_federated_results"`
}

// PeerFailure records why a single peer's query did not contribute results.
type PeerFailure struct {
	PeerID string `json:"peer_id"`
	Name   string `json:"name"`
	Error  string `json:"error"`
}

// FederatedAgent is a peer's agent-card JSON, tagged with its origin so the
// caller can distinguish federated hits from local ones without losing any
// peer-specific fields this node doesn't know about.
type FederatedAgent struct {
	Fields             map[string]any `json:"-"`
	IsFederated        bool           `json:"is_federated"`
	OriginRegistryName string         `json:"origin_registry_name"`
	OriginRegistryURL  string         `json:"origin_registry_url"`
}

// MarshalJSON flattens Fields alongside the federation tag fields so callers
// see one JSON object per agent, the same shape a local agent-card has.
func (f FederatedAgent) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(f.Fields)+3)
	for k, v := range f.Fields {
		out[k] = v
	}
	out["is_federated"] = f.IsFederated
	out["origin_registry_name"] = f.OriginRegistryName
	out["origin_registry_url"] = f.OriginRegistryURL
	return json.Marshal(out)
}

// SearchResult is the response of a federated capability search.
type SearchResult struct {
	Agents []FederatedAgent `json:"agents"`
	Stats  SearchStats      `json:"stats"`
}
