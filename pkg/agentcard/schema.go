// Package agentcard defines the stable external JSON representation of an
// agent card: the document a registry returns from its discovery endpoints
// and that a remote client uses to learn how to reach and authenticate
// against an agent.
package agentcard

import (
	"encoding/json"
	"fmt"
)

// CurrentSchemaVersion is written by Encode when the caller doesn't set one.
const CurrentSchemaVersion = "1.0"

// AuthSchemeKind discriminates the Scheme field of an AuthScheme.
type AuthSchemeKind string

const (
	AuthAPIKey AuthSchemeKind = "apiKey"
	AuthBearer AuthSchemeKind = "bearer"
	AuthOAuth2 AuthSchemeKind = "oauth2"
	AuthNone   AuthSchemeKind = "none"
)

// AuthScheme describes one way a caller may authenticate to an agent.
// ServiceIdentifier names the credential store entry (or header name) a
// caller resolves to obtain the credential; TokenURL and Scopes apply only
// to the oauth2 scheme.
type AuthScheme struct {
	Scheme            AuthSchemeKind `json:"scheme"`
	ServiceIdentifier string         `json:"serviceIdentifier,omitempty"`
	TokenURL          string         `json:"tokenUrl,omitempty"`
	Scopes            []string       `json:"scopes,omitempty"`
}

// Capabilities advertises protocol-level features of the agent.
type Capabilities struct {
	A2AVersion string `json:"a2aVersion"`
}

// Provider identifies who publishes/operates the agent.
type Provider struct {
	Organization string `json:"organization,omitempty"`
	URL          string `json:"url,omitempty"`
}

// AgentCard is the stable external agent-card JSON document. Unknown fields
// encountered on decode are ignored, per the stability contract; round-trip
// encode(decode(x)) == x for every field this struct declares.
type AgentCard struct {
	SchemaVersion   string         `json:"schemaVersion"`
	HumanReadableID string         `json:"humanReadableId"`
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	URL             string         `json:"url"`
	Provider        Provider       `json:"provider"`
	Capabilities    Capabilities   `json:"capabilities"`
	AuthSchemes     []AuthScheme   `json:"authSchemes"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Decode parses an AgentCard from JSON bytes and validates required fields.
func Decode(data []byte) (*AgentCard, error) {
	var card AgentCard
	if err := json.Unmarshal(data, &card); err != nil {
		return nil, fmt.Errorf("decode agent card: %w", err)
	}
	if err := card.Validate(); err != nil {
		return nil, err
	}
	return &card, nil
}

// Encode serializes the card to its canonical JSON form, defaulting
// SchemaVersion when unset.
func (c *AgentCard) Encode() ([]byte, error) {
	out := *c
	if out.SchemaVersion == "" {
		out.SchemaVersion = CurrentSchemaVersion
	}
	return json.Marshal(out)
}

// Validate checks the required fields named by the external schema.
func (c *AgentCard) Validate() error {
	if c.SchemaVersion == "" {
		return fmt.Errorf("agent card: schemaVersion is required")
	}
	if c.HumanReadableID == "" {
		return fmt.Errorf("agent card: humanReadableId is required")
	}
	if c.Name == "" {
		return fmt.Errorf("agent card: name is required")
	}
	if c.Description == "" {
		return fmt.Errorf("agent card: description is required")
	}
	if c.URL == "" {
		return fmt.Errorf("agent card: url is required")
	}
	if c.Capabilities.A2AVersion == "" {
		return fmt.Errorf("agent card: capabilities.a2aVersion is required")
	}
	if len(c.AuthSchemes) == 0 {
		return fmt.Errorf("agent card: authSchemes must contain at least one entry")
	}
	for i, s := range c.AuthSchemes {
		switch s.Scheme {
		case AuthAPIKey, AuthBearer, AuthOAuth2, AuthNone:
		default:
			return fmt.Errorf("agent card: authSchemes[%d].scheme %q is not recognized", i, s.Scheme)
		}
		if s.Scheme == AuthOAuth2 && s.TokenURL == "" {
			return fmt.Errorf("agent card: authSchemes[%d].tokenUrl is required for oauth2", i)
		}
	}
	return nil
}
