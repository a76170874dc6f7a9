package a2a

import (
	"sync"
	"time"
)

// subscriberQueueSize bounds each subscriber's event channel. A subscriber
// that falls this far behind is dropped per the fan-out contract.
const subscriberQueueSize = 64

// subscriber is one server-push listener attached to a task.
type subscriber struct {
	id int
	ch chan Event
}

// runningTask is the engine's live, mutable view of a Task: the snapshot
// plus its subscriber set and cancellation flag. The lock must never be held
// while sending on a subscriber channel — channel sends happen with the
// lock released so a blocked subscriber cannot stall the whole task.
type runningTask struct {
	mu sync.Mutex

	snapshot Task

	subscribers map[int]*subscriber
	nextSubID   int

	canceled bool
}

func newRunningTask(taskID, ownerDID string) *runningTask {
	now := time.Now().UTC()
	return &runningTask{
		snapshot: Task{
			TaskID:        taskID,
			OwnerAgentDID: ownerDID,
			State:         StateSubmitted,
			CreatedAt:     now,
			UpdatedAt:     now,
			Artifacts:     make(map[string]*Artifact),
		},
		subscribers: make(map[int]*subscriber),
	}
}

// Snapshot returns a copy of the task's current state for tasks/get.
func (t *runningTask) Snapshot() Task {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := t.snapshot
	out.Messages = append([]Message(nil), t.snapshot.Messages...)
	out.Artifacts = make(map[string]*Artifact, len(t.snapshot.Artifacts))
	for k, v := range t.snapshot.Artifacts {
		cp := *v
		out.Artifacts[k] = &cp
	}
	return out
}

func (t *runningTask) state() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot.State
}

// IsCanceled reports whether cancellation has been requested. Background
// processors poll this and must stop emitting events once it is true.
func (t *runningTask) IsCanceled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canceled
}

// appendMessage records a message on the task's history. It emits no event
// itself; callers broadcast the matching message event separately via the
// engine.
func (t *runningTask) appendMessage(msg Message) {
	t.mu.Lock()
	t.snapshot.Messages = append(t.snapshot.Messages, msg)
	t.snapshot.UpdatedAt = time.Now().UTC()
	t.mu.Unlock()
}

func (t *runningTask) setArtifact(a *Artifact) {
	t.mu.Lock()
	t.snapshot.Artifacts[a.ID] = a
	t.snapshot.UpdatedAt = time.Now().UTC()
	t.mu.Unlock()
}

// transition moves the task to the given state if the edge is legal,
// returning the updated state snapshot. ok is false on an illegal edge, in
// which case the task is left unchanged.
func (t *runningTask) transition(to TaskState) (TaskState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !canTransition(t.snapshot.State, to) {
		return t.snapshot.State, false
	}
	t.snapshot.State = to
	t.snapshot.UpdatedAt = time.Now().UTC()
	if to == StateCanceled {
		t.canceled = true
	}
	return to, true
}

// subscribe registers a new subscriber and primes it with a status event
// carrying the task's current state, all under one lock acquisition so the
// snapshot cannot change between the read and the registration.
func (t *runningTask) subscribe() *subscriber {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextSubID++
	sub := &subscriber{id: t.nextSubID, ch: make(chan Event, subscriberQueueSize)}

	sub.ch <- Event{
		Type:      EventStatusUpdate,
		TaskID:    t.snapshot.TaskID,
		Timestamp: time.Now().UTC(),
		State:     t.snapshot.State,
	}

	// A task already terminal will never broadcast again, so the priming
	// event above is also the final one: close immediately rather than
	// registering a subscriber no broadcast will ever reach.
	if t.snapshot.State.Terminal() {
		close(sub.ch)
		return sub
	}

	t.subscribers[sub.id] = sub
	return sub
}

// unsubscribe removes a subscriber, e.g. on client disconnect. Idempotent.
func (t *runningTask) unsubscribe(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subscribers, id)
}

// broadcast delivers ev to every current subscriber. A subscriber whose
// queue is full is dropped and sent a terminal FAILED event on its own
// stream only, then closed. If ev carries a terminal status, every
// subscriber (including ones just primed above) receives it and is then
// closed and unregistered.
func (t *runningTask) broadcast(ev Event) {
	t.mu.Lock()
	subs := make([]*subscriber, 0, len(t.subscribers))
	for _, s := range t.subscribers {
		subs = append(subs, s)
	}
	terminal := ev.Type == EventStatusUpdate && ev.State.Terminal()
	t.mu.Unlock()

	var drop []int
	for _, s := range subs {
		select {
		case s.ch <- ev:
		default:
			// Slow subscriber: its queue is full, so make room for a
			// terminal failure on its own stream — nothing else writes to
			// this channel once it's been selected for drop — then close.
			select {
			case <-s.ch:
			default:
			}
			select {
			case s.ch <- Event{
				Type:      EventStatusUpdate,
				TaskID:    ev.TaskID,
				Timestamp: time.Now().UTC(),
				State:     StateFailed,
			}:
			default:
			}
			close(s.ch)
			drop = append(drop, s.id)
			continue
		}
		if terminal {
			close(s.ch)
			drop = append(drop, s.id)
		}
	}

	if len(drop) > 0 {
		t.mu.Lock()
		for _, id := range drop {
			delete(t.subscribers, id)
		}
		t.mu.Unlock()
	}
}
