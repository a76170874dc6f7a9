package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/agentvault/registry/internal/developers"
	"github.com/agentvault/registry/internal/identity"
	"github.com/agentvault/registry/internal/registry/model"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// developerPublicSvc is the subset of developers.Service used by UserHandler.
type developerPublicSvc interface {
	GetByUsername(ctx context.Context, username string) (*developers.Developer, error)
	GetPublicProfile(ctx context.Context, username string) (*developers.PublicProfile, error)
	UpdateProfile(ctx context.Context, developerID uuid.UUID, bio, avatarURL, websiteURL string) error
	GetByID(ctx context.Context, id uuid.UUID) (*developers.Developer, error)
}

// agentPublicSvc is the subset of service.AgentService used by UserHandler.
type agentPublicSvc interface {
	ListActiveByOwnerUserID(ctx context.Context, ownerUserID uuid.UUID, limit, offset int) ([]*model.Agent, error)
	CountActiveByOwnerUserID(ctx context.Context, ownerUserID uuid.UUID) (int, error)
}

// UserHandler handles HTTP requests for public developer profiles and profile edits.
type UserHandler struct {
	developers developerPublicSvc
	agents     agentPublicSvc
	userTokens *identity.UserTokenIssuer
	logger     *zap.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(developerSvc developerPublicSvc, agentSvc agentPublicSvc, logger *zap.Logger) *UserHandler {
	return &UserHandler{developers: developerSvc, agents: agentSvc, logger: logger}
}

// SetUserTokenIssuer configures the user JWT issuer for protected routes.
func (h *UserHandler) SetUserTokenIssuer(ut *identity.UserTokenIssuer) {
	h.userTokens = ut
}

// requireUserToken returns the RequireUserToken middleware when auth is configured,
// or a no-op middleware otherwise.
func (h *UserHandler) requireUserToken() gin.HandlerFunc {
	if h.userTokens == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return identity.RequireUserToken(h.userTokens)
}

// Register registers UserHandler routes on the given router group.
func (h *UserHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/users/:username", h.GetUserProfile)
	rg.GET("/users/:username/agents", h.ListUserAgents)
	rg.PATCH("/users/me/profile", h.requireUserToken(), h.UpdateMyProfile)
}

// GetUserProfile handles GET /users/:username — returns the public profile.
func (h *UserHandler) GetUserProfile(c *gin.Context) {
	username := c.Param("username")
	if username == "me" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "use /users/me/profile for authenticated profile access"})
		return
	}

	ctx := c.Request.Context()

	profile, err := h.developers.GetPublicProfile(ctx, username)
	if err != nil {
		if errors.Is(err, developers.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found or profile is private"})
			return
		}
		h.logger.Error("get public profile", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get profile"})
		return
	}

	// Enrich with agent stats (non-fatal if developer lookup fails).
	d, err := h.developers.GetByUsername(ctx, username)
	if err == nil {
		count, _ := h.agents.CountActiveByOwnerUserID(ctx, d.ID)
		profile.AgentCount = count
	}

	c.JSON(http.StatusOK, profile)
}

// ListUserAgents handles GET /users/:username/agents — lists a user's active agents.
func (h *UserHandler) ListUserAgents(c *gin.Context) {
	username := c.Param("username")

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	ctx := c.Request.Context()

	d, err := h.developers.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, developers.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		h.logger.Error("get user by username", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to look up user"})
		return
	}

	agents, err := h.agents.ListActiveByOwnerUserID(ctx, d.ID, limit, offset)
	if err != nil {
		h.logger.Error("list user agents", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list agents"})
		return
	}
	if agents == nil {
		agents = []*model.Agent{}
	}

	c.JSON(http.StatusOK, gin.H{"agents": agents, "count": len(agents)})
}

// updateProfileRequest is the body for PATCH /users/me/profile.
type updateProfileRequest struct {
	Bio        string `json:"bio"`
	AvatarURL  string `json:"avatar_url"`
	WebsiteURL string `json:"website_url"`
}

// UpdateMyProfile handles PATCH /users/me/profile — updates the authenticated user's profile.
func (h *UserHandler) UpdateMyProfile(c *gin.Context) {
	userClaims := identity.UserClaimsFromCtx(c)
	if userClaims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user authentication required"})
		return
	}

	uid, err := uuid.Parse(userClaims.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user ID in token"})
		return
	}

	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()

	if err := h.developers.UpdateProfile(ctx, uid, req.Bio, req.AvatarURL, req.WebsiteURL); err != nil {
		h.logger.Error("update profile", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update profile"})
		return
	}

	d, err := h.developers.GetByID(ctx, uid)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "updated"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"username":     d.Username,
		"display_name": d.DisplayName,
		"bio":          d.Bio,
		"avatar_url":   d.AvatarURL,
		"website_url":  d.WebsiteURL,
	})
}
