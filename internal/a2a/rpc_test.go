package a2a_test

import (
	"encoding/json"
	"testing"

	"github.com/agentvault/registry/internal/a2a"
	"go.uber.org/zap"
)

func TestDispatcher_sendGetCancel(t *testing.T) {
	eng := a2a.NewEngine(nil, zap.NewNop())
	d := a2a.NewDispatcher(eng, zap.NewNop())

	sendReq := `{"jsonrpc":"2.0","id":1,"method":"tasks/send","params":{"message":{"role":"user","parts":[{"kind":"text","content":"hi"}]}}}`
	resp := d.Handle([]byte(sendReq), "did:cos:owner")
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("unexpected result shape: %#v", resp.Result)
	}
	taskID, _ := result["task_id"].(string)
	if taskID == "" {
		t.Fatal("expected non-empty task_id")
	}

	getReq, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": 2, "method": "tasks/get",
		"params": map[string]any{"task_id": taskID},
	})
	resp = d.Handle(getReq, "did:cos:owner")
	if resp.Error != nil {
		t.Fatalf("tasks/get error: %+v", resp.Error)
	}

	cancelReq, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": 3, "method": "tasks/cancel",
		"params": map[string]any{"task_id": taskID},
	})
	resp = d.Handle(cancelReq, "did:cos:owner")
	if resp.Error != nil {
		t.Fatalf("tasks/cancel error: %+v", resp.Error)
	}
	if canceled, _ := resp.Result.(bool); !canceled {
		t.Fatalf("expected cancel to return true, got %v", resp.Result)
	}
}

func TestDispatcher_unknownMethod(t *testing.T) {
	eng := a2a.NewEngine(nil, zap.NewNop())
	d := a2a.NewDispatcher(eng, zap.NewNop())

	resp := d.Handle([]byte(`{"jsonrpc":"2.0","id":1,"method":"bogus"}`), "did:cos:owner")
	if resp.Error == nil || resp.Error.Code != a2a.CodeMethodNotFound {
		t.Fatalf("expected CodeMethodNotFound, got %+v", resp.Error)
	}
}

func TestDispatcher_taskNotFound(t *testing.T) {
	eng := a2a.NewEngine(nil, zap.NewNop())
	d := a2a.NewDispatcher(eng, zap.NewNop())

	req, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": "tasks/get",
		"params": map[string]any{"task_id": "nope"},
	})
	resp := d.Handle(req, "did:cos:owner")
	if resp.Error == nil || resp.Error.Code != a2a.CodeTaskNotFound {
		t.Fatalf("expected CodeTaskNotFound, got %+v", resp.Error)
	}
}

func TestDispatcher_parseError(t *testing.T) {
	eng := a2a.NewEngine(nil, zap.NewNop())
	d := a2a.NewDispatcher(eng, zap.NewNop())

	resp := d.Handle([]byte(`not json`), "did:cos:owner")
	if resp.Error == nil || resp.Error.Code != a2a.CodeParseError {
		t.Fatalf("expected CodeParseError, got %+v", resp.Error)
	}
}

func TestDispatcher_subscribeRejectedOnNonStreamingPath(t *testing.T) {
	eng := a2a.NewEngine(nil, zap.NewNop())
	d := a2a.NewDispatcher(eng, zap.NewNop())

	resp := d.Handle([]byte(`{"jsonrpc":"2.0","id":1,"method":"tasks/subscribe","params":{"task_id":"x"}}`), "did:cos:owner")
	if resp.Error == nil || resp.Error.Code != a2a.CodeInvalidRequest {
		t.Fatalf("expected CodeInvalidRequest, got %+v", resp.Error)
	}

	id, reqID, err := a2a.SubscribeTaskID([]byte(`{"jsonrpc":"2.0","id":1,"method":"tasks/subscribe","params":{"task_id":"x"}}`))
	if err != nil || id != "x" || string(reqID) != "1" {
		t.Fatalf("SubscribeTaskID: id=%q reqID=%s err=%v", id, reqID, err)
	}
}
