// Package a2a implements the Agent-to-Agent task engine: a per-task state
// machine with JSON-RPC 2.0 dispatch and multi-subscriber event fan-out over
// a server-push channel.
package a2a

import (
	"time"
)

// TaskState is a node in the task lifecycle state machine.
type TaskState string

const (
	StateSubmitted     TaskState = "SUBMITTED"
	StateWorking       TaskState = "WORKING"
	StateInputRequired TaskState = "INPUT_REQUIRED"
	StateCompleted     TaskState = "COMPLETED"
	StateFailed        TaskState = "FAILED"
	StateCanceled      TaskState = "CANCELED"
)

// Terminal reports whether s is an absorbing state.
func (s TaskState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCanceled:
		return true
	default:
		return false
	}
}

// transitions enumerates every edge the state machine allows. A transition
// outside this table is rejected: the task keeps its current state, the
// engine logs the attempt, and no error is returned to the caller.
var transitions = map[TaskState]map[TaskState]bool{
	StateSubmitted:     {StateWorking: true, StateCanceled: true},
	StateWorking:       {StateInputRequired: true, StateCompleted: true, StateFailed: true, StateCanceled: true},
	StateInputRequired: {StateWorking: true, StateCanceled: true},
}

func canTransition(from, to TaskState) bool {
	if from.Terminal() {
		return false
	}
	return transitions[from][to]
}

// PartKind discriminates the variant held by a Part.
type PartKind string

const (
	PartText PartKind = "text"
	PartFile PartKind = "file"
	PartData PartKind = "data"
)

// Part is one tagged chunk of a Message: TextPart{content}, FilePart{url,
// media_type?, filename?}, or DataPart{content, media_type}, selected by Kind.
type Part struct {
	Kind      PartKind       `json:"kind"`
	Content   string         `json:"content,omitempty"`    // TextPart
	URL       string         `json:"url,omitempty"`        // FilePart
	Filename  string         `json:"filename,omitempty"`   // FilePart
	Data      map[string]any `json:"data,omitempty"`       // DataPart
	MediaType string         `json:"media_type,omitempty"` // FilePart, DataPart
}

// Role identifies the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is one turn of a task's conversation.
type Message struct {
	Role     Role           `json:"role"`
	Parts    []Part         `json:"parts"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Artifact is an output produced by task processing.
type Artifact struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Content   string         `json:"content,omitempty"`
	URL       string         `json:"url,omitempty"`
	MediaType string         `json:"media_type,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Task is the full lifecycle record for one A2A task.
type Task struct {
	TaskID        string               `json:"task_id"`
	OwnerAgentDID string               `json:"owner_agent_did"`
	State         TaskState            `json:"state"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
	Messages      []Message            `json:"messages"`
	Artifacts     map[string]*Artifact `json:"artifacts"`
}

// EventKind discriminates the wire variant of an Event.
type EventKind string

const (
	EventStatusUpdate   EventKind = "status_update"
	EventMessage        EventKind = "message"
	EventArtifactUpdate EventKind = "artifact_update"
)

// Event is the tagged union pushed to task subscribers. Exactly one payload
// field is populated, selected by Type.
type Event struct {
	Type      EventKind `json:"type"`
	TaskID    string    `json:"task_id"`
	Timestamp time.Time `json:"timestamp"`

	State    TaskState `json:"state,omitempty"`
	Message  *Message  `json:"message,omitempty"`
	Artifact *Artifact `json:"artifact,omitempty"`
}
