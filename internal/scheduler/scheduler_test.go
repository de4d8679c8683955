package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/daviddao/helpdesk/internal/db"
	"github.com/daviddao/helpdesk/internal/types"
	"github.com/daviddao/helpdesk/internal/workflow"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestQueueOrdering(t *testing.T) {
	q := NewQueue()
	q.Schedule("c", t0.Add(3*time.Second))
	q.Schedule("a", t0.Add(1*time.Second))
	q.Schedule("b", t0.Add(2*time.Second))

	if next, ok := q.Next(); !ok || !next.Equal(t0.Add(time.Second)) {
		t.Errorf("expected earliest due time, got %v", next)
	}

	q.Schedule("c", t0)
	if q.Len() != 3 {
		t.Fatalf("expected rescheduling to keep one entry per thread, got %d", q.Len())
	}

	due := q.PopDue(t0.Add(1500 * time.Millisecond))
	if len(due) != 2 || due[0] != "c" || due[1] != "a" {
		t.Errorf("expected [c a], got %v", due)
	}
	if q.Len() != 1 {
		t.Errorf("expected one pending thread, got %d", q.Len())
	}

	if !q.Remove("b") || q.Remove("b") {
		t.Error("expected remove to succeed exactly once")
	}
	if _, ok := q.Next(); ok {
		t.Error("expected empty queue")
	}
	if due := q.PopDue(t0.Add(time.Hour)); len(due) != 0 {
		t.Errorf("expected nothing due, got %v", due)
	}
}

type fakeStepper struct {
	mu      sync.Mutex
	calls   map[string]int
	outcome func(threadID string) (workflow.Outcome, error)
}

func (f *fakeStepper) Step(ctx context.Context, threadID string) (workflow.Outcome, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[threadID]++
	f.mu.Unlock()
	return f.outcome(threadID)
}

type fakePoller struct {
	batches [][]string
}

func (f *fakePoller) Poll(ctx context.Context) ([]string, error) {
	if len(f.batches) == 0 {
		return nil, nil
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

func TestTickStepsDueAndReschedules(t *testing.T) {
	ctx := context.Background()
	later := t0.Add(time.Minute)
	steps := &fakeStepper{outcome: func(id string) (workflow.Outcome, error) {
		switch id {
		case "done":
			return workflow.Outcome{ThreadID: id, State: workflow.Done, Terminal: true}, nil
		case "flaky":
			return workflow.Outcome{ThreadID: id, State: workflow.Classifying}, errors.New("mailbox down")
		case "busy":
			return workflow.Outcome{ThreadID: id}, workflow.ErrBusy
		}
		return workflow.Outcome{ThreadID: id, State: workflow.AwaitingFields, Waiting: true, NextPollAt: &later}, nil
	}}
	poller := &fakePoller{batches: [][]string{{"done", "wait", "flaky", "busy"}}}
	r := New(steps, db.NewMemoryStore(), poller, Config{Interval: 10 * time.Second, Workers: 2, Now: func() time.Time { return t0 }}, nil)

	n, err := r.Tick(ctx)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 stepped conversations, got %d", n)
	}
	for _, id := range []string{"done", "wait", "flaky", "busy"} {
		if steps.calls[id] != 1 {
			t.Errorf("expected %s stepped once, got %d", id, steps.calls[id])
		}
	}
	if r.Queue().Len() != 3 {
		t.Fatalf("expected wait, flaky and busy rescheduled, got %d", r.Queue().Len())
	}
	if due := r.Queue().PopDue(t0.Add(10 * time.Second)); len(due) != 2 {
		t.Errorf("expected flaky and busy due after one interval, got %v", due)
	}
	if due := r.Queue().PopDue(later); len(due) != 1 || due[0] != "wait" {
		t.Errorf("expected wait due at its next poll, got %v", due)
	}

	if n, _ := r.Tick(ctx); n != 0 {
		t.Errorf("expected an idle tick, got %d", n)
	}
}

func TestTickKeepsThreadStillInFlight(t *testing.T) {
	ctx := context.Background()
	steps := &fakeStepper{outcome: func(id string) (workflow.Outcome, error) {
		return workflow.Outcome{ThreadID: id, State: workflow.Done, Terminal: true}, nil
	}}
	r := New(steps, db.NewMemoryStore(), nil, Config{Interval: 10 * time.Second, Now: func() time.Time { return t0 }}, nil)
	r.Queue().Schedule("slow", t0)

	// An earlier tick is still stepping this thread.
	if !r.claim("slow") {
		t.Fatal("expected to claim slow")
	}
	if n, _ := r.Tick(ctx); n != 0 {
		t.Errorf("expected nothing stepped while in flight, got %d", n)
	}
	if steps.calls["slow"] != 0 {
		t.Errorf("expected no step for a claimed thread, got %d", steps.calls["slow"])
	}
	if r.Queue().Len() != 1 {
		t.Fatalf("expected the claimed thread to stay queued, got %d", r.Queue().Len())
	}
	r.unclaim("slow")

	if due := r.Queue().PopDue(t0.Add(10 * time.Second)); len(due) != 1 || due[0] != "slow" {
		t.Fatalf("expected slow due after one interval, got %v", due)
	}
}

func TestLoadSchedulesActiveConversations(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	next := t0.Add(5 * time.Minute)
	for _, c := range []*types.Conversation{
		{ThreadID: "a", State: string(workflow.AwaitingFields), NextPollAt: &next},
		{ThreadID: "b", State: string(workflow.Classifying)},
		{ThreadID: "c", State: string(workflow.Done), Terminal: true},
	} {
		if err := store.SaveConversation(ctx, c); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	r := New(&fakeStepper{}, store, nil, Config{Now: func() time.Time { return t0 }}, nil)
	n, err := r.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if n != 2 || r.Queue().Len() != 2 {
		t.Fatalf("expected two active conversations, got %d", n)
	}
	if due := r.Queue().PopDue(t0); len(due) != 1 || due[0] != "b" {
		t.Errorf("expected b due now, got %v", due)
	}
	if due := r.Queue().PopDue(next); len(due) != 1 || due[0] != "a" {
		t.Errorf("expected a due at its next poll, got %v", due)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	steps := &fakeStepper{outcome: func(id string) (workflow.Outcome, error) {
		return workflow.Outcome{ThreadID: id, State: workflow.Done, Terminal: true}, nil
	}}
	r := New(steps, db.NewMemoryStore(), &fakePoller{batches: [][]string{{"t1"}}}, Config{Interval: time.Second}, nil)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		steps.mu.Lock()
		n := steps.calls["t1"]
		steps.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected the first tick to step t1")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("expected Run to return after cancel")
	}
}
