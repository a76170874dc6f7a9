package a2a_test

import (
	"context"
	"testing"
	"time"

	"github.com/agentvault/registry/internal/a2a"
	"go.uber.org/zap"
)

func textMessage(s string) a2a.Message {
	return a2a.Message{Role: a2a.RoleUser, Parts: []a2a.Part{{Kind: a2a.PartText, Content: s}}}
}

func drain(t *testing.T, ch <-chan a2a.Event, n int, timeout time.Duration) []a2a.Event {
	t.Helper()
	var out []a2a.Event
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for %d events, got %d: %+v", n, len(out), out)
		}
	}
	return out
}

func TestSend_createsTaskInWorkingState(t *testing.T) {
	eng := a2a.NewEngine(nil, zap.NewNop())

	taskID, err := eng.Send("", "did:cos:owner", textMessage("hello"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	task, err := eng.Get(taskID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if task.State != a2a.StateWorking {
		t.Fatalf("expected WORKING after send, got %s", task.State)
	}
	if len(task.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(task.Messages))
	}
}

func TestGet_unknownTask(t *testing.T) {
	eng := a2a.NewEngine(nil, zap.NewNop())
	if _, err := eng.Get("nope"); err != a2a.ErrTaskNotFound {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestCancel_idempotentFromNonTerminal(t *testing.T) {
	eng := a2a.NewEngine(nil, zap.NewNop())
	taskID, _ := eng.Send("", "did:cos:owner", textMessage("hi"))

	ok, err := eng.Cancel(taskID)
	if err != nil || !ok {
		t.Fatalf("expected first cancel to succeed, got ok=%v err=%v", ok, err)
	}
	ok, err = eng.Cancel(taskID)
	if err != nil || ok {
		t.Fatalf("expected second cancel to return false, got ok=%v err=%v", ok, err)
	}

	task, _ := eng.Get(taskID)
	if task.State != a2a.StateCanceled {
		t.Fatalf("expected CANCELED, got %s", task.State)
	}
}

func TestSubscribe_firstEventIsCurrentStatus(t *testing.T) {
	eng := a2a.NewEngine(nil, zap.NewNop())
	taskID, _ := eng.Send("", "did:cos:owner", textMessage("hi"))

	ch, cancel, err := eng.Subscribe(taskID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	events := drain(t, ch, 1, time.Second)
	if events[0].Type != a2a.EventStatusUpdate || events[0].State != a2a.StateWorking {
		t.Fatalf("expected initial WORKING status event, got %+v", events[0])
	}
}

// TestConcurrentSubscribers mirrors the documented scenario: S1 subscribes
// before any events are produced, S2 subscribes after the first event; S1
// sees every event plus its own priming event, S2 only sees its priming
// event plus whatever comes after.
func TestConcurrentSubscribers(t *testing.T) {
	eng := a2a.NewEngine(nil, zap.NewNop())
	taskID, _ := eng.Send("", "did:cos:owner", textMessage("hi"))

	ch1, cancel1, err := eng.Subscribe(taskID)
	if err != nil {
		t.Fatalf("Subscribe s1: %v", err)
	}
	defer cancel1()
	drain(t, ch1, 1, time.Second) // priming event

	if _, err := eng.Send(taskID, "did:cos:owner", textMessage("update")); err != nil {
		t.Fatalf("Send update: %v", err)
	}
	drain(t, ch1, 1, time.Second) // message event

	ch2, cancel2, err := eng.Subscribe(taskID)
	if err != nil {
		t.Fatalf("Subscribe s2: %v", err)
	}
	defer cancel2()
	s2Priming := drain(t, ch2, 1, time.Second)
	if s2Priming[0].Type != a2a.EventStatusUpdate || s2Priming[0].State != a2a.StateWorking {
		t.Fatalf("expected s2 priming event to carry current state, got %+v", s2Priming[0])
	}

	if ok, err := eng.Cancel(taskID); err != nil || !ok {
		t.Fatalf("Cancel: ok=%v err=%v", ok, err)
	}

	final1 := drain(t, ch1, 1, time.Second)
	final2 := drain(t, ch2, 1, time.Second)
	if final1[0].State != a2a.StateCanceled || final2[0].State != a2a.StateCanceled {
		t.Fatalf("expected both subscribers to observe the terminal CANCELED event")
	}

	if _, ok := <-ch1; ok {
		t.Fatal("expected s1 channel closed after terminal event")
	}
	if _, ok := <-ch2; ok {
		t.Fatal("expected s2 channel closed after terminal event")
	}
}

// stubProcessor exercises the Processor contract: it emits a message, checks
// for cancellation, and completes.
type stubProcessor struct {
	started chan struct{}
	release chan struct{}
}

func (p *stubProcessor) Process(ctx context.Context, h *a2a.TaskHandle) {
	close(p.started)
	<-p.release
	if h.Canceled() {
		return
	}
	h.EmitMessage(a2a.Message{Role: a2a.RoleAssistant, Parts: []a2a.Part{{Kind: a2a.PartText, Content: "done"}}})
	h.Complete()
}

func TestProcessor_completesTask(t *testing.T) {
	proc := &stubProcessor{started: make(chan struct{}), release: make(chan struct{})}
	eng := a2a.NewEngine(proc, zap.NewNop())

	taskID, _ := eng.Send("", "did:cos:owner", textMessage("go"))
	<-proc.started
	close(proc.release)

	deadline := time.Now().Add(time.Second)
	for {
		task, err := eng.Get(taskID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if task.State == a2a.StateCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task did not complete in time, last state %s", task.State)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestProcessor_stopsAfterCancel(t *testing.T) {
	proc := &stubProcessor{started: make(chan struct{}), release: make(chan struct{})}
	eng := a2a.NewEngine(proc, zap.NewNop())

	taskID, _ := eng.Send("", "did:cos:owner", textMessage("go"))
	<-proc.started

	if ok, err := eng.Cancel(taskID); err != nil || !ok {
		t.Fatalf("Cancel: ok=%v err=%v", ok, err)
	}
	close(proc.release)

	time.Sleep(10 * time.Millisecond)
	task, err := eng.Get(taskID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if task.State != a2a.StateCanceled {
		t.Fatalf("expected task to remain CANCELED, got %s", task.State)
	}
}

func TestSlowSubscriber_droppedWithTerminalFailedOnlyOnItsStream(t *testing.T) {
	eng := a2a.NewEngine(nil, zap.NewNop())
	taskID, _ := eng.Send("", "did:cos:owner", textMessage("hi"))

	slow, cancelSlow, err := eng.Subscribe(taskID)
	if err != nil {
		t.Fatalf("Subscribe slow: %v", err)
	}
	defer cancelSlow()
	fast, cancelFast, err := eng.Subscribe(taskID)
	if err != nil {
		t.Fatalf("Subscribe fast: %v", err)
	}
	defer cancelFast()

	drain(t, slow, 1, time.Second)
	drain(t, fast, 1, time.Second)

	// Flood past the bounded queue without draining "slow".
	for i := 0; i < 100; i++ {
		if _, err := eng.Send(taskID, "did:cos:owner", textMessage("spam")); err != nil {
			t.Fatalf("Send: %v", err)
		}
		<-fast // keep the fast subscriber drained so it never overflows
	}

	foundFailed := false
	for {
		select {
		case ev, ok := <-slow:
			if !ok {
				if !foundFailed {
					t.Fatal("slow subscriber channel closed without a terminal FAILED event")
				}
				goto doneSlow
			}
			if ev.Type == a2a.EventStatusUpdate && ev.State == a2a.StateFailed {
				foundFailed = true
			}
		case <-time.After(time.Second):
			goto doneSlow
		}
	}
doneSlow:
	if !foundFailed {
		t.Fatal("expected slow subscriber to receive a terminal FAILED event")
	}

	// The fast subscriber must be unaffected: it keeps receiving ordinary
	// message events, not a FAILED status.
	select {
	case ev := <-fast:
		if ev.Type == a2a.EventStatusUpdate && ev.State == a2a.StateFailed {
			t.Fatal("fast subscriber should not be affected by the slow one being dropped")
		}
	case <-time.After(50 * time.Millisecond):
	}
}
