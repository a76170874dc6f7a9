package a2a

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrTaskNotFound is returned by Get/Cancel/Subscribe for an unknown task_id.
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidStateTransition names a transition that does not appear in
	// the state machine's edge table. The engine does not return it:
	// transitionAndBroadcast logs such a transition and reports false.
	ErrInvalidStateTransition = errors.New("invalid state transition")
)

// Processor performs the actual work behind a task. It runs in its own
// goroutine once a task enters WORKING and must poll Canceled periodically,
// stopping all further Emit calls once it reports true. Complete or Fail
// must be called exactly once to drive the task to a terminal state, unless
// the task is canceled first.
type Processor interface {
	Process(ctx context.Context, handle *TaskHandle)
}

// TaskHandle is the restricted view of a running task exposed to a Processor.
type TaskHandle struct {
	TaskID string
	engine *Engine
	task   *runningTask
}

// Canceled reports whether the task has been canceled since Process started.
func (h *TaskHandle) Canceled() bool { return h.task.IsCanceled() }

// EmitMessage appends an agent message and broadcasts it to subscribers.
func (h *TaskHandle) EmitMessage(msg Message) {
	if h.task.IsCanceled() {
		return
	}
	h.task.appendMessage(msg)
	h.task.broadcast(Event{Type: EventMessage, TaskID: h.TaskID, Timestamp: time.Now().UTC(), Message: &msg})
}

// EmitArtifact records an artifact and broadcasts its creation/update.
func (h *TaskHandle) EmitArtifact(a Artifact) {
	if h.task.IsCanceled() {
		return
	}
	h.task.setArtifact(&a)
	h.task.broadcast(Event{Type: EventArtifactUpdate, TaskID: h.TaskID, Timestamp: time.Now().UTC(), Artifact: &a})
}

// RequireInput transitions the task to INPUT_REQUIRED, broadcasting a status
// event carrying an optional prompt message.
func (h *TaskHandle) RequireInput(prompt *Message) bool {
	return h.engine.transitionAndBroadcast(h.task, StateInputRequired, prompt)
}

// Resume transitions an INPUT_REQUIRED task back to WORKING.
func (h *TaskHandle) Resume() bool {
	return h.engine.transitionAndBroadcast(h.task, StateWorking, nil)
}

// Complete drives the task to COMPLETED, the terminal success state.
func (h *TaskHandle) Complete() {
	h.engine.transitionAndBroadcast(h.task, StateCompleted, nil)
}

// Fail drives the task to FAILED with an explanatory message.
func (h *TaskHandle) Fail(reason string) {
	var msg *Message
	if reason != "" {
		msg = &Message{Role: RoleAssistant, Parts: []Part{{Kind: PartText, Content: reason}}}
	}
	h.engine.transitionAndBroadcast(h.task, StateFailed, msg)
}

// Engine owns every live task and dispatches the A2A JSON-RPC methods.
type Engine struct {
	mu        sync.RWMutex
	tasks     map[string]*runningTask
	processor Processor
	logger    *zap.Logger
}

// NewEngine creates an Engine. processor may be nil, in which case
// tasks/send creates tasks that sit in WORKING until explicitly canceled —
// useful for tests and for agent types with no server-side processing step.
func NewEngine(processor Processor, logger *zap.Logger) *Engine {
	return &Engine{
		tasks:     make(map[string]*runningTask),
		processor: processor,
		logger:    logger,
	}
}

// Send implements tasks/send. A nil/empty taskID creates a new task owned by
// ownerDID, transitions it SUBMITTED -> WORKING, and — if a Processor is
// configured — starts background processing detached from the calling
// request. A non-empty taskID appends the message to an existing task.
func (e *Engine) Send(taskID, ownerDID string, msg Message) (string, error) {
	if taskID == "" {
		taskID = uuid.NewString()
		rt := newRunningTask(taskID, ownerDID)

		e.mu.Lock()
		e.tasks[taskID] = rt
		e.mu.Unlock()

		rt.appendMessage(msg)
		rt.broadcast(Event{Type: EventMessage, TaskID: taskID, Timestamp: time.Now().UTC(), Message: &msg})

		e.transitionAndBroadcast(rt, StateWorking, nil)

		if e.processor != nil {
			// Processing must outlive the request that created the task, so
			// it runs detached from ctx rather than inheriting its deadline.
			go e.run(context.Background(), rt)
		}
		return taskID, nil
	}

	rt, err := e.get(taskID)
	if err != nil {
		return "", err
	}
	rt.appendMessage(msg)
	rt.broadcast(Event{Type: EventMessage, TaskID: taskID, Timestamp: time.Now().UTC(), Message: &msg})
	return taskID, nil
}

func (e *Engine) run(ctx context.Context, rt *runningTask) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("a2a processor panicked", zap.Any("recover", r), zap.String("task_id", rt.snapshot.TaskID))
			e.transitionAndBroadcast(rt, StateFailed, &Message{Role: RoleAssistant, Parts: []Part{{Kind: PartText, Content: "internal processing error"}}})
		}
	}()
	e.processor.Process(ctx, &TaskHandle{TaskID: rt.snapshot.TaskID, engine: e, task: rt})
}

// Get implements tasks/get.
func (e *Engine) Get(taskID string) (Task, error) {
	rt, err := e.get(taskID)
	if err != nil {
		return Task{}, err
	}
	return rt.Snapshot(), nil
}

// Cancel implements tasks/cancel.
func (e *Engine) Cancel(taskID string) (bool, error) {
	rt, err := e.get(taskID)
	if err != nil {
		return false, err
	}
	if rt.state().Terminal() {
		return false, nil
	}
	return e.transitionAndBroadcast(rt, StateCanceled, nil), nil
}

// Subscribe implements tasks/subscribe. The returned channel delivers events
// until the task reaches a terminal state, at which point it is closed.
// Callers must call the returned cancel func on early disconnect so the
// subscriber is unregistered promptly.
func (e *Engine) Subscribe(taskID string) (<-chan Event, func(), error) {
	rt, err := e.get(taskID)
	if err != nil {
		return nil, nil, err
	}
	sub := rt.subscribe()
	cancel := func() { rt.unsubscribe(sub.id) }
	return sub.ch, cancel, nil
}

func (e *Engine) get(taskID string) (*runningTask, error) {
	e.mu.RLock()
	rt, ok := e.tasks[taskID]
	e.mu.RUnlock()
	if !ok {
		return nil, ErrTaskNotFound
	}
	return rt, nil
}

// transitionAndBroadcast performs a state transition and, if legal,
// broadcasts the resulting status event. It returns whether the transition
// took effect.
func (e *Engine) transitionAndBroadcast(rt *runningTask, to TaskState, msg *Message) bool {
	newState, ok := rt.transition(to)
	if !ok {
		e.logger.Warn("rejected illegal task state transition",
			zap.String("task_id", rt.snapshot.TaskID), zap.String("to", string(to)))
		return false
	}
	rt.broadcast(Event{
		Type:      EventStatusUpdate,
		TaskID:    rt.snapshot.TaskID,
		Timestamp: time.Now().UTC(),
		State:     newState,
		Message:   msg,
	})
	return true
}
