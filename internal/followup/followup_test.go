package followup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/daviddao/helpdesk/internal/db"
	"github.com/daviddao/helpdesk/internal/types"
)

// fakeMailbox keeps threads in memory. Sent replies are appended to their thread.
type fakeMailbox struct {
	mu      sync.Mutex
	threads map[string][]types.Message
	sent    []types.Outgoing
	n       int
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{threads: make(map[string][]types.Message)}
}

func (f *fakeMailbox) add(thread, from, body string) types.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	m := types.Message{
		ID: fmt.Sprintf("m%d", f.n), ThreadID: thread, MessageID: fmt.Sprintf("<m%d@mail>", f.n),
		From: from, Subject: "Help", Body: body, Date: time.Unix(int64(f.n), 0),
	}
	f.threads[thread] = append(f.threads[thread], m)
	return m
}

func (f *fakeMailbox) FetchThread(ctx context.Context, threadID string) ([]types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Message(nil), f.threads[threadID]...), nil
}

func (f *fakeMailbox) Send(ctx context.Context, out types.Outgoing) (types.MessageRef, error) {
	f.mu.Lock()
	f.sent = append(f.sent, out)
	f.mu.Unlock()
	if out.ThreadID == "" {
		return types.MessageRef{ID: "notice"}, nil
	}
	m := f.add(out.ThreadID, "desk@example.com", out.Body)
	return types.MessageRef{ID: m.ID, ThreadID: out.ThreadID}, nil
}

func TestCheckCapturesBaselineFirst(t *testing.T) {
	ctx := context.Background()
	mb := newFakeMailbox()
	mb.add("t1", "jane@example.com", "help")
	l := New(mb, db.NewMemoryStore(), "desk@example.com", nil)

	r, err := l.Check(ctx, "t1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !r.Baseline || r.New {
		t.Errorf("expected baseline capture, got %+v", r)
	}
	r, _ = l.Check(ctx, "t1")
	if r.New || r.Baseline {
		t.Errorf("expected idle poll, got %+v", r)
	}
}

func TestClarificationThenReply(t *testing.T) {
	ctx := context.Background()
	mb := newFakeMailbox()
	first := mb.add("t1", "Jane <jane@example.com>", "printer broken")
	store := db.NewMemoryStore()
	l := New(mb, store, "desk@example.com", nil)

	th := Thread{ID: "t1", To: "jane@example.com", Subject: "Help", InReplyTo: first.MessageID}
	ref, err := l.SendClarification(ctx, th, ConfirmSubcategory("Jane", []types.Candidate{{Label: "A"}, {Label: "B"}}, 3))
	if err != nil {
		t.Fatalf("SendClarification: %v", err)
	}
	if wm, _ := store.Watermark(ctx, "t1"); wm != ref.ID {
		t.Errorf("expected watermark at sent message %s, got %s", ref.ID, wm)
	}
	if got := mb.sent[0]; got.Subject != "Re: Help" || got.InReplyTo != "<m1@mail>" || got.ThreadID != "t1" {
		t.Errorf("unexpected outgoing %+v", got)
	}

	// Our own question does not count as a reply.
	if r, _ := l.Check(ctx, "t1"); r.New {
		t.Fatalf("expected no reply yet, got %+v", r)
	}

	mb.add("t1", "Jane <jane@example.com>", "It is B")
	r, err := l.Check(ctx, "t1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !r.New || r.Latest == nil || r.Latest.Body != "It is B" {
		t.Fatalf("expected reply 'It is B', got %+v", r)
	}
	if len(r.Messages) != 3 {
		t.Errorf("expected full thread of 3 messages, got %d", len(r.Messages))
	}

	// Repeated polls are idempotent.
	if r, _ := l.Check(ctx, "t1"); r.New {
		t.Error("expected the same reply not to be reported twice")
	}
}

func TestSendRequiresRecipient(t *testing.T) {
	l := New(newFakeMailbox(), db.NewMemoryStore(), "", nil)
	if _, err := l.SendClarification(context.Background(), Thread{ID: "t1"}, QuestionSet{}); err == nil {
		t.Error("expected error without recipient")
	}
	if _, err := l.Check(context.Background(), ""); err == nil {
		t.Error("expected error for empty thread id")
	}
}

func TestClarificationNotResent(t *testing.T) {
	ctx := context.Background()
	mb := newFakeMailbox()
	mb.add("t1", "Jane <jane@example.com>", "printer broken")
	store := db.NewMemoryStore()
	l := New(mb, store, "desk@example.com", nil)

	th := Thread{ID: "t1", To: "jane@example.com", Subject: "Help"}
	qs := RequestSubcategory("Jane", []string{"PRINTER", "NETWORK"})
	first, err := l.SendClarification(ctx, th, qs)
	if err != nil {
		t.Fatalf("SendClarification: %v", err)
	}
	// A retry of the same step, with nothing new on the thread.
	second, err := l.SendClarification(ctx, th, qs)
	if err != nil {
		t.Fatalf("SendClarification again: %v", err)
	}
	if len(mb.sent) != 1 || second.ID != first.ID {
		t.Fatalf("expected one email and the same ref, got %d sent, refs %s/%s", len(mb.sent), first.ID, second.ID)
	}

	// Once the requester has answered, the same question goes out again.
	mb.add("t1", "Jane <jane@example.com>", "not sure")
	if _, err := l.SendClarification(ctx, th, qs); err != nil {
		t.Fatalf("SendClarification after reply: %v", err)
	}
	if len(mb.sent) != 2 {
		t.Errorf("expected a second email after the reply, got %d", len(mb.sent))
	}
}

func TestReplySubject(t *testing.T) {
	tests := map[string]string{
		"":         "Re: your support request",
		"Printer":  "Re: Printer",
		"RE: x":    "RE: x",
		"re: lost": "re: lost",
	}
	for in, want := range tests {
		if got := replySubject(in); got != want {
			t.Errorf("replySubject(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStripQuoted(t *testing.T) {
	tests := []struct {
		name, body, want string
	}{
		{"plain", "I don't know, sorry.", "I don't know, sorry."},
		{"quoted lines", "HARDWARE\n> Which one: NETWORK, HARDWARE?\n>\n> Thanks", "HARDWARE"},
		{"attribution", "No idea.\n\nOn Mon, 2 Mar 2026 at 09:00, Support <desk@example.com> wrote:\nDoes this describe your situation: The whole site has no network?", "No idea."},
		{"french attribution", "Aucune idée\nLe lun. 2 mars 2026, Support a écrit :\nLa totalité du site", "Aucune idée"},
		{"outlook", "Just me\n-----Original Message-----\nFrom: Support", "Just me"},
		{"only quote", "> whole site", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripQuoted(tt.body); got != tt.want {
				t.Errorf("StripQuoted() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRequesterTextSkipsOwnMessages(t *testing.T) {
	l := New(newFakeMailbox(), db.NewMemoryStore(), "Desk@Example.com", nil)
	msgs := []types.Message{
		{ID: "m1", From: "Jane <jane@example.com>", Subject: "Help", Body: "my network is flaky"},
		{ID: "m2", From: "Support <desk@example.com>", Subject: "Re: Help", Body: "Does this describe your situation: The whole site has no network?"},
		{ID: "m3", From: "Jane <jane@example.com>", Subject: "Re: Help", Body: "no idea\n> Does this describe your situation: The whole site has no network?"},
	}
	text := l.RequesterText(msgs)
	if strings.Contains(text, "whole site") || strings.Contains(text, "desk@example.com") {
		t.Errorf("expected only the requester's own words, got %q", text)
	}
	if !strings.Contains(text, "my network is flaky") || !strings.Contains(text, "no idea") {
		t.Errorf("expected both requester messages, got %q", text)
	}
}

func TestAwaitReplyReturnsReply(t *testing.T) {
	mb := newFakeMailbox()
	base := mb.add("t1", "jane@example.com", "help")
	l := New(mb, db.NewMemoryStore(), "desk@example.com", nil)

	go func() {
		time.Sleep(30 * time.Millisecond)
		mb.add("t1", "jane@example.com", "more info")
	}()
	r, err := l.AwaitReply(context.Background(), "t1", base.ID, 5*time.Millisecond, 2*time.Second)
	if err != nil {
		t.Fatalf("AwaitReply: %v", err)
	}
	if r.Latest == nil || r.Latest.Body != "more info" {
		t.Errorf("unexpected reply %+v", r)
	}
}

func TestAwaitReplyTimeout(t *testing.T) {
	mb := newFakeMailbox()
	base := mb.add("t1", "jane@example.com", "help")
	l := New(mb, db.NewMemoryStore(), "", nil)

	_, err := l.AwaitReply(context.Background(), "t1", base.ID, 5*time.Millisecond, 30*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestAwaitReplyCancelled(t *testing.T) {
	mb := newFakeMailbox()
	mb.add("t1", "jane@example.com", "help")
	l := New(mb, db.NewMemoryStore(), "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.AwaitReply(ctx, "t1", "", time.Millisecond, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestMailNotifier(t *testing.T) {
	mb := newFakeMailbox()
	n := NewMailNotifier(mb, "boss@example.com", nil)
	c := &types.Conversation{
		ThreadID:   "t1",
		State:      "AwaitingSubcategoryInput",
		Requester:  types.Requester{Name: "Jane", Email: "jane@example.com"},
		Candidates: []types.Candidate{{Label: "A", Confidence: 0.6}, {Label: "B", Confidence: 0.55}},
		Messages:   []types.Message{{Subject: "Printer"}},
	}
	if err := n.Notify(context.Background(), c, types.Escalation{ID: "e1", ThreadID: "t1", Reason: "timeout"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(mb.sent) != 1 || mb.sent[0].To != "boss@example.com" || mb.sent[0].Subject != "[ESCALATED] Printer" {
		t.Fatalf("unexpected notification %+v", mb.sent)
	}
	if !strings.Contains(mb.sent[0].Body, "A (0.60)") {
		t.Errorf("expected candidates in body, got %q", mb.sent[0].Body)
	}

	quiet := NewMailNotifier(mb, "", nil)
	if err := quiet.Notify(context.Background(), c, types.Escalation{}); err != nil {
		t.Errorf("expected no error without supervisor, got %v", err)
	}
}

func TestQuestionSetRender(t *testing.T) {
	body := MissingFields("Jane", []string{"location", "bogus"}).Render()
	if !strings.HasPrefix(body, "Hello Jane,") || !strings.Contains(body, "1. Where are you located") {
		t.Errorf("unexpected body %q", body)
	}
	if strings.Contains(body, "2.") {
		t.Errorf("expected unknown fields to be skipped, got %q", body)
	}
}
