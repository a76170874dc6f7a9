package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/agentvault/registry/internal/federation"
	"github.com/agentvault/registry/internal/identity"
	"github.com/agentvault/registry/internal/registry/model"
	"github.com/agentvault/registry/internal/registry/repository"
	"github.com/agentvault/registry/internal/registry/service"
	"go.uber.org/zap"
)

// AgentHandler serves the registry catalog's HTTP surface: agent CRUD,
// bootstrap-token onboarding, and federated discovery.
type AgentHandler struct {
	svc        *service.AgentService
	userTokens *identity.UserTokenIssuer      // developer/admin bearer tokens
	federation *federation.FederationService // nil = discovery never includes federated results
	logger     *zap.Logger
}

// NewAgentHandler creates a new AgentHandler.
func NewAgentHandler(svc *service.AgentService, userTokens *identity.UserTokenIssuer, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{svc: svc, userTokens: userTokens, logger: logger}
}

// SetFederation wires the federated-discovery fallback.
func (h *AgentHandler) SetFederation(f *federation.FederationService) { h.federation = f }

// Register mounts the catalog routes named in the route table: /agents,
// /agents/:id, /onboard/*, /discovery/agents.
func (h *AgentHandler) Register(rg *gin.RouterGroup) {
	agents := rg.Group("/agents", identity.RequireUserToken(h.userTokens))
	{
		agents.GET("", h.ListAgents)
		agents.POST("", h.CreateAgent)
		agents.GET("/:id", h.GetAgent)
		agents.PUT("/:id", h.UpdateAgent)
		agents.DELETE("/:id", h.DeleteAgent)
	}

	onboard := rg.Group("/onboard")
	{
		onboard.POST("/bootstrap/request-token", identity.RequireUserToken(h.userTokens), h.RequestBootstrapToken)
		onboard.POST("/register", h.RedeemBootstrapToken)
	}

	rg.GET("/discovery/agents", identity.RequireUserToken(h.userTokens), h.DiscoverAgents)
}

func devIDFromCtx(c *gin.Context) (uuid.UUID, bool) {
	claims := identity.UserClaimsFromCtx(c)
	if claims == nil {
		return uuid.UUID{}, false
	}
	id, err := uuid.Parse(claims.UserID)
	return id, err == nil
}

// CreateAgent handles POST /agents.
func (h *AgentHandler) CreateAgent(c *gin.Context) {
	devID, ok := devIDFromCtx(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error_code": "authentication_required", "message": "developer session required"})
		return
	}
	var req model.CreateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": "validation_error", "message": err.Error()})
		return
	}

	agent, err := h.svc.CreateAgent(c.Request.Context(), devID, req)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, agent)
}

// ListAgents handles GET /agents.
func (h *AgentHandler) ListAgents(c *gin.Context) {
	filter := model.ListAgentsFilter{
		Search:    c.Query("search"),
		AgentType: c.Query("agent_type"),
		Status:    model.AgentStatus(c.Query("status")),
		Sort:      c.Query("sort"),
	}
	filter.Skip, _ = strconv.Atoi(c.Query("skip"))
	filter.Limit, _ = strconv.Atoi(c.Query("limit"))

	agents, err := h.svc.ListAgents(c.Request.Context(), filter)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents})
}

// GetAgent handles GET /agents/:id.
func (h *AgentHandler) GetAgent(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": "validation_error", "message": "invalid agent id"})
		return
	}
	agent, err := h.svc.GetAgent(c.Request.Context(), id)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

// UpdateAgent handles PUT /agents/:id.
func (h *AgentHandler) UpdateAgent(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": "validation_error", "message": "invalid agent id"})
		return
	}
	devID, ok := devIDFromCtx(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error_code": "authentication_required", "message": "developer session required"})
		return
	}
	var req model.UpdateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": "validation_error", "message": err.Error()})
		return
	}
	claims := identity.UserClaimsFromCtx(c)
	isAdmin := claims != nil && claims.Role == "admin"

	agent, err := h.svc.UpdateAgent(c.Request.Context(), id, devID, isAdmin, req)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

// DeleteAgent handles DELETE /agents/:id.
func (h *AgentHandler) DeleteAgent(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": "validation_error", "message": "invalid agent id"})
		return
	}
	devID, ok := devIDFromCtx(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error_code": "authentication_required", "message": "developer session required"})
		return
	}
	claims := identity.UserClaimsFromCtx(c)
	isAdmin := claims != nil && claims.Role == "admin"

	if err := h.svc.DeleteAgent(c.Request.Context(), id, devID, isAdmin); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RequestBootstrapToken handles POST /onboard/bootstrap/request-token.
func (h *AgentHandler) RequestBootstrapToken(c *gin.Context) {
	devID, ok := devIDFromCtx(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error_code": "authentication_required", "message": "developer session required"})
		return
	}
	tok, value, err := h.svc.IssueBootstrapToken(c.Request.Context(), devID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"token_id":    tok.TokenID,
		"token_value": value,
		"expires_at":  tok.ExpiresAt,
	})
}

// RedeemBootstrapToken handles POST /onboard/register. The bootstrap token
// travels in the X-Bootstrap-Token header, single-use.
func (h *AgentHandler) RedeemBootstrapToken(c *gin.Context) {
	tokenValue := c.GetHeader("X-Bootstrap-Token")
	if tokenValue == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error_code": "auth_invalid_token", "message": "X-Bootstrap-Token header is required"})
		return
	}
	var req model.RegisterAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": "validation_error", "message": err.Error()})
		return
	}

	creds, err := h.svc.RedeemBootstrapToken(c.Request.Context(), tokenValue, req)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error_code": "token_invalid", "message": "bootstrap token not found"})
		case errors.Is(err, repository.ErrTokenConsumed):
			c.JSON(http.StatusConflict, gin.H{"error_code": "token_consumed", "message": "bootstrap token already redeemed"})
		case errors.Is(err, repository.ErrTokenExpired):
			c.JSON(http.StatusBadRequest, gin.H{"error_code": "token_expired", "message": "bootstrap token has expired"})
		default:
			h.respondServiceError(c, err)
		}
		return
	}
	c.JSON(http.StatusCreated, creds)
}

// DiscoverAgents handles GET /discovery/agents, optionally merging in
// federated results when include_federated=true and a federation searcher
// is configured.
func (h *AgentHandler) DiscoverAgents(c *gin.Context) {
	capability := c.Query("capability")
	var (
		local []*model.Agent
		err   error
	)
	if capability != "" {
		local, err = h.svc.SearchByCapability(c.Request.Context(), capability, 100, 0)
	} else {
		local, err = h.svc.ListAgents(c.Request.Context(), model.ListAgentsFilter{Status: model.AgentStatusActive})
	}
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	includeFederated := c.Query("include_federated") == "true"
	if !includeFederated || h.federation == nil {
		c.JSON(http.StatusOK, gin.H{"agents": local})
		return
	}

	localFields := make([]map[string]any, 0, len(local))
	for _, a := range local {
		localFields = append(localFields, map[string]any{
			"agent_id":     a.ID,
			"did":          a.DID,
			"name":         a.Name,
			"capabilities": a.Capabilities,
		})
	}

	result, err := h.federation.Search(c.Request.Context(), localFields, map[string]string{"capability": capability})
	if err != nil {
		h.logger.Warn("federated discovery failed, returning local results only", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"agents": local})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *AgentHandler) respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error_code": "not_found", "message": "agent not found"})
	case errors.Is(err, service.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error_code": "authorization_forbidden", "message": err.Error()})
	case errors.Is(err, service.ErrInvalidAgentCard):
		c.JSON(http.StatusBadRequest, gin.H{"error_code": "validation_error", "message": err.Error()})
	case errors.Is(err, service.ErrBootstrapRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error_code": "rate_limited", "message": err.Error()})
	default:
		h.logger.Error("agent handler error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error_code": "internal_error", "message": "internal error"})
	}
}
