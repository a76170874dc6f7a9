package a2a

import (
	"encoding/json"
	"errors"

	"go.uber.org/zap"
)

// JSON-RPC 2.0 error codes used by the A2A envelope.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
	CodeApplication    = -32000
	CodeTaskNotFound   = -32001
)

// Request is an inbound JSON-RPC 2.0 message.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is an outbound JSON-RPC 2.0 message.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// subscribeMethod is the one method the HTTP gateway must route to a
// server-push stream rather than a single Response.
const subscribeMethod = "tasks/subscribe"

// IsSubscribe reports whether raw is a tasks/subscribe request, without
// fully dispatching it, so the gateway can choose between a normal response
// and upgrading the connection to a stream.
func IsSubscribe(raw []byte) bool {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return false
	}
	return req.Method == subscribeMethod
}

// Dispatcher routes JSON-RPC 2.0 requests to an Engine.
type Dispatcher struct {
	engine *Engine
	logger *zap.Logger
}

// NewDispatcher creates a Dispatcher backed by engine.
func NewDispatcher(engine *Engine, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{engine: engine, logger: logger}
}

// Handle dispatches every method except tasks/subscribe, which the gateway
// handles separately via SubscribeTaskID + Engine.Subscribe.
func (d *Dispatcher) Handle(raw []byte, ownerDID string) *Response {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(nil, CodeParseError, "parse error")
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		return errorResponse(req.ID, CodeInvalidRequest, "invalid request")
	}

	switch req.Method {
	case "tasks/send":
		return d.handleSend(req, ownerDID)
	case "tasks/get":
		return d.handleGet(req)
	case "tasks/cancel":
		return d.handleCancel(req)
	case subscribeMethod:
		return errorResponse(req.ID, CodeInvalidRequest, "tasks/subscribe must be called on a streaming connection")
	default:
		return errorResponse(req.ID, CodeMethodNotFound, "method not found: "+req.Method)
	}
}

// SubscribeTaskID extracts the task_id param from a tasks/subscribe request
// for the gateway's streaming path.
func SubscribeTaskID(raw []byte) (id string, reqID json.RawMessage, err error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return "", nil, err
	}
	var params struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return "", req.ID, err
	}
	return params.TaskID, req.ID, nil
}

func (d *Dispatcher) handleSend(req Request, ownerDID string) *Response {
	var params struct {
		TaskID  string  `json:"task_id"`
		Message Message `json:"message"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "invalid params")
	}
	if len(params.Message.Parts) == 0 {
		return errorResponse(req.ID, CodeInvalidParams, "message must contain at least one part")
	}

	taskID, err := d.engine.Send(params.TaskID, ownerDID, params.Message)
	if err != nil {
		return taskErrorResponse(req.ID, err)
	}
	return &Response{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{"task_id": taskID}}
}

func (d *Dispatcher) handleGet(req Request) *Response {
	var params struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.TaskID == "" {
		return errorResponse(req.ID, CodeInvalidParams, "invalid params")
	}

	task, err := d.engine.Get(params.TaskID)
	if err != nil {
		return taskErrorResponse(req.ID, err)
	}
	return &Response{JSONRPC: "2.0", ID: req.ID, Result: task}
}

func (d *Dispatcher) handleCancel(req Request) *Response {
	var params struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.TaskID == "" {
		return errorResponse(req.ID, CodeInvalidParams, "invalid params")
	}

	canceled, err := d.engine.Cancel(params.TaskID)
	if err != nil {
		return taskErrorResponse(req.ID, err)
	}
	return &Response{JSONRPC: "2.0", ID: req.ID, Result: canceled}
}

func taskErrorResponse(id json.RawMessage, err error) *Response {
	if errors.Is(err, ErrTaskNotFound) {
		return errorResponse(id, CodeTaskNotFound, "task not found")
	}
	return errorResponse(id, CodeApplication, err.Error())
}

func errorResponse(id json.RawMessage, code int, msg string) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: msg}}
}
