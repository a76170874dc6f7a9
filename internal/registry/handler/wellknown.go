package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/agentvault/registry/internal/registry/model"
	"github.com/agentvault/registry/internal/registry/service"
	"github.com/agentvault/registry/pkg/agentcard"
	"go.uber.org/zap"
)

// WellKnownHandler serves the stable external agent-card JSON document for a
// single agent, by DID or agent_id.
type WellKnownHandler struct {
	svc       *service.AgentService
	publicURL string
	logger    *zap.Logger
}

// NewWellKnownHandler creates a new WellKnownHandler. publicURL is the
// registry's own externally reachable base URL, used as the card's Provider.
func NewWellKnownHandler(svc *service.AgentService, publicURL string, logger *zap.Logger) *WellKnownHandler {
	return &WellKnownHandler{svc: svc, publicURL: publicURL, logger: logger}
}

// ServeAgentCard handles GET /.well-known/agent-card.json?did=...&id=...
//
// Looks the agent up by DID (preferred) or by agent_id, and returns its
// external AgentCard representation. Responds 400 if neither identifier is
// present, 404 if the agent cannot be found.
func (h *WellKnownHandler) ServeAgentCard(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		agent *model.Agent
		err   error
	)
	switch {
	case c.Query("did") != "":
		agent, err = h.svc.GetByDID(ctx, c.Query("did"))
	case c.Query("id") != "":
		var id uuid.UUID
		id, err = uuid.Parse(c.Query("id"))
		if err == nil {
			agent, err = h.svc.GetAgent(ctx, id)
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error_code": "validation_error", "message": "did or id query parameter is required"})
		return
	}
	if err != nil || agent == nil {
		c.JSON(http.StatusNotFound, gin.H{"error_code": "not_found", "message": "agent not found"})
		return
	}

	card := toExternalCard(agent, h.publicURL)
	c.JSON(http.StatusOK, card)
}

// ServeAgentCardByID handles GET /agents/:id/agent.json, the per-agent
// well-known card path mounted alongside the catalog routes.
func (h *WellKnownHandler) ServeAgentCardByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": "validation_error", "message": "invalid agent id"})
		return
	}
	agent, err := h.svc.GetAgent(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error_code": "not_found", "message": "agent not found"})
		return
	}
	c.JSON(http.StatusOK, toExternalCard(agent, h.publicURL))
}

// toExternalCard translates the internal AgentCard entity into the stable
// external wire schema served to remote callers.
func toExternalCard(a *model.Agent, publicURL string) *agentcard.AgentCard {
	url := publicURL
	if len(a.Endpoints) > 0 {
		url = a.Endpoints[0]
	}

	schemes := make([]agentcard.AuthScheme, 0, len(a.AuthSchemes))
	for _, s := range a.AuthSchemes {
		schemes = append(schemes, agentcard.AuthScheme{
			Scheme:            agentcard.AuthSchemeKind(s.Scheme),
			ServiceIdentifier: s.ServiceIdentifier,
			TokenURL:          s.TokenURL,
			Scopes:            s.Scopes,
		})
	}

	return &agentcard.AgentCard{
		SchemaVersion:   agentcard.CurrentSchemaVersion,
		HumanReadableID: a.DID,
		Name:            a.Name,
		Description:     a.Description,
		URL:             url,
		Provider:        agentcard.Provider{URL: publicURL},
		Capabilities:    agentcard.Capabilities{A2AVersion: "1.0"},
		AuthSchemes:     schemes,
		Metadata:        a.Metadata,
	}
}
