package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/agentvault/registry/internal/federation"
	"github.com/agentvault/registry/internal/identity"
	"go.uber.org/zap"
)

// federationSvc is the subset of federation.FederationService used by the handler.
type federationSvc interface {
	AddPeer(ctx context.Context, req *federation.CreatePeerRequest) (*federation.FederationPeer, error)
	ListPeers(ctx context.Context) ([]*federation.FederationPeer, error)
}

// healthSnapshotter exposes the federation health monitor's latest readings.
type healthSnapshotter interface {
	Snapshot() map[string]federation.HealthStatus
}

// FederationHandler exposes peer management and health status over HTTP.
type FederationHandler struct {
	svc        federationSvc
	monitor    healthSnapshotter
	userTokens *identity.UserTokenIssuer
	logger     *zap.Logger
}

// NewFederationHandler creates a FederationHandler.
func NewFederationHandler(svc federationSvc, monitor healthSnapshotter, userTokens *identity.UserTokenIssuer, logger *zap.Logger) *FederationHandler {
	return &FederationHandler{svc: svc, monitor: monitor, userTokens: userTokens, logger: logger}
}

// Register mounts the federation routes onto the API group. Both routes are
// admin-only: peer registration grants a trust relationship, and the health
// snapshot can reveal which partner registries are struggling.
func (h *FederationHandler) Register(rg *gin.RouterGroup) {
	fed := rg.Group("/federation")
	fed.Use(identity.RequireAdmin(h.userTokens))

	fed.GET("/peers", h.ListPeers)
	fed.POST("/peers", h.AddPeer)
	fed.GET("/health", h.HealthSnapshot)
}

// AddPeer handles POST /api/v1/federation/peers.
func (h *FederationHandler) AddPeer(c *gin.Context) {
	var req federation.CreatePeerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	peer, err := h.svc.AddPeer(c.Request.Context(), &req)
	if err != nil {
		h.logger.Error("add federation peer", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, peer)
}

// ListPeers handles GET /api/v1/federation/peers.
func (h *FederationHandler) ListPeers(c *gin.Context) {
	peers, err := h.svc.ListPeers(c.Request.Context())
	if err != nil {
		h.logger.Error("list federation peers", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list peers"})
		return
	}
	if peers == nil {
		peers = []*federation.FederationPeer{}
	}
	c.JSON(http.StatusOK, gin.H{"peers": peers})
}

// HealthSnapshot handles GET /api/v1/federation/health, returning the most
// recent probe result recorded for each peer.
func (h *FederationHandler) HealthSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"peers": h.monitor.Snapshot()})
}
