package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/agentvault/registry/internal/a2a"
	"github.com/agentvault/registry/internal/identity"
	"go.uber.org/zap"
)

// A2AHandler exposes the Task Engine's JSON-RPC 2.0 surface over HTTP: a
// single POST endpoint for tasks/send, tasks/get, and tasks/cancel, and a
// server-sent-events upgrade for tasks/subscribe.
type A2AHandler struct {
	engine     *a2a.Engine
	dispatcher *a2a.Dispatcher
	tokens     *identity.TokenIssuer
	logger     *zap.Logger
}

// NewA2AHandler creates a new A2AHandler.
func NewA2AHandler(engine *a2a.Engine, dispatcher *a2a.Dispatcher, tokens *identity.TokenIssuer, logger *zap.Logger) *A2AHandler {
	return &A2AHandler{engine: engine, dispatcher: dispatcher, tokens: tokens, logger: logger}
}

// Register mounts the single /a2a JSON-RPC endpoint.
func (h *A2AHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/a2a", identity.RequireToken(h.tokens), h.Handle)
}

// Handle dispatches one JSON-RPC 2.0 request. tasks/subscribe upgrades the
// response into an SSE stream, emitting one JSON-encoded a2a.Event per line
// until the task reaches a terminal state or the client disconnects.
func (h *A2AHandler) Handle(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"jsonrpc": "2.0", "error": gin.H{"code": a2a.CodeParseError, "message": "failed to read request body"}})
		return
	}

	claims := identity.ClaimsFromCtx(c)
	var ownerDID string
	if claims != nil {
		ownerDID = claims.AgentDID
	}

	if a2a.IsSubscribe(raw) {
		h.subscribe(c, raw)
		return
	}

	resp := h.dispatcher.Handle(raw, ownerDID)
	if resp.Error != nil {
		c.JSON(http.StatusOK, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// subscribe upgrades the connection to Server-Sent Events, forwarding every
// engine event for the requested task until it terminates or the client
// goes away.
func (h *A2AHandler) subscribe(c *gin.Context, raw []byte) {
	taskID, reqID, err := a2a.SubscribeTaskID(raw)
	if err != nil || taskID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"jsonrpc": "2.0", "id": reqID, "error": gin.H{"code": a2a.CodeInvalidParams, "message": "task_id is required"}})
		return
	}

	events, unsubscribe, err := h.engine.Subscribe(taskID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"jsonrpc": "2.0", "id": reqID, "error": gin.H{"code": a2a.CodeTaskNotFound, "message": err.Error()}})
		return
	}
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			payload, err := json.Marshal(event)
			if err != nil {
				h.logger.Warn("marshal a2a event", zap.Error(err))
				return true
			}
			c.SSEvent(string(event.Type), json.RawMessage(payload))
			return !(event.Type == a2a.EventStatusUpdate && event.State.Terminal())
		case <-c.Request.Context().Done():
			return false
		}
	})
}
