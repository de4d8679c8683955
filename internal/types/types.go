// Package types defines core data structures for helpdesk.
package types

import (
	"strings"
	"time"
)

// Message is one immutable email in a thread.
type Message struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	MessageID string    `json:"message_id,omitempty"`
	From      string    `json:"from"`
	To        string    `json:"to,omitempty"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body,omitempty"`
	Date      time.Time `json:"date"`
}

// Requester identifies the person who opened the thread.
type Requester struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Location string `json:"location"`
}

// Candidate is a subcategory label with the classifier's confidence.
type Candidate struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Category is the coarse classification of an inbound email.
type Category string

const (
	CategoryIncident       Category = "incident"
	CategoryServiceRequest Category = "service_request"
)

// Tier is the severity classification used by the rule engine.
type Tier string

const (
	TierCritical   Tier = "critical"
	TierElevated   Tier = "elevated"
	TierUnresolved Tier = ""
)

// ParseTier maps catalog and model spellings to a Tier.
func ParseTier(s string) Tier {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRITICAL", "CRITIQUE", "P1":
		return TierCritical
	case "ELEVATED", "ELEVEE", "ÉLEVÉE", "P2":
		return TierElevated
	default:
		return TierUnresolved
	}
}

// Rank orders tiers so that critical outranks elevated.
func (t Tier) Rank() int {
	switch t {
	case TierCritical:
		return 2
	case TierElevated:
		return 1
	default:
		return 0
	}
}

// Rule is one business rule from the catalog.
type Rule struct {
	Subcategory string `json:"subcategory" yaml:"subcategory"`
	Tier        Tier   `json:"tier" yaml:"tier"`
	Description string `json:"description" yaml:"description"`
	Team        string `json:"team" yaml:"team"`
}

// Status constants.
const (
	StatusStaged     = "staged"
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusOnHold     = "on_hold"
	StatusResolved   = "resolved"
	StatusClosed     = "closed"
)

// ValidStatuses is the set of statuses a final ticket may carry.
var ValidStatuses = []string{StatusOpen, StatusInProgress, StatusOnHold, StatusResolved, StatusClosed}

// IsValidStatus checks if a status string is valid for a final ticket.
func IsValidStatus(s string) bool {
	for _, v := range ValidStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Reason codes attached to ticket notes.
const (
	ReasonFieldsExtracted        = "fields_extracted"
	ReasonFieldsFallback         = "fields_fallback"
	ReasonSubcategoryConfident   = "subcategory_confident"
	ReasonSubcategorySingle      = "subcategory_single"
	ReasonSubcategoryConfirmed   = "subcategory_confirmed"
	ReasonSubcategoryDefaulted   = "subcategory_defaulted"
	ReasonSubcategoryFallback    = "subcategory_fallback"
	ReasonPriorityRuleMatched    = "priority_rule_matched"
	ReasonPriorityNoRulesDefault = "priority_no_rules_default"
	ReasonPriorityFallback       = "priority_fallback"
	ReasonEscalatedTimeout       = "escalated_timeout"
	ReasonEscalatedReentry       = "escalated_reentry_limit"
	ReasonFinalizedDirect        = "finalized_direct"
	ReasonOperatorNote           = "operator_note"
	ReasonStatusChanged          = "status_changed"
)

// Note is a machine-readable annotation on a ticket.
type Note struct {
	Reason string    `json:"reason"`
	Text   string    `json:"text,omitempty"`
	At     time.Time `json:"at"`
}

// Ticket is a staged or final support ticket.
type Ticket struct {
	ID                  string      `json:"ticket_id"`
	ThreadID            string      `json:"thread_id"`
	Sequence            int64       `json:"sequence"`
	IsTemporary         bool        `json:"is_temporary"`
	StageLabel          string      `json:"stage_label,omitempty"`
	Requester           Requester   `json:"requester"`
	Category            Category    `json:"category"`
	Description         string      `json:"description"`
	Candidates          []Candidate `json:"subcategory_candidates,omitempty"`
	ResolvedSubcategory string      `json:"resolved_subcategory,omitempty"`
	Priority            Tier        `json:"priority,omitempty"`
	ResponsibleTeam     string      `json:"responsible_team,omitempty"`
	Status              string      `json:"status"`
	CreatedAt           time.Time   `json:"created_at"`
	ResolvedAt          *time.Time  `json:"resolved_at,omitempty"`
	Notes               []Note      `json:"notes,omitempty"`
}

// Question kinds recorded while a conversation waits for a reply.
const (
	QuestionFields             = "fields"
	QuestionRequestSubcategory = "request_subcategory"
	QuestionConfirmSubcategory = "confirm_subcategory"
	QuestionPriority           = "priority"
)

// PendingQuestion is the clarification most recently sent on a thread.
type PendingQuestion struct {
	Kind      string   `json:"kind"`
	Questions []string `json:"questions,omitempty"`
	SentID    string   `json:"sent_id,omitempty"`
	// Answer is the body of the reply, set once the requester answered.
	Answer string `json:"answer,omitempty"`
}

// Answered reports whether the requester replied to the question.
func (p *PendingQuestion) Answered() bool {
	return p != nil && p.Answer != ""
}

// Conversation is the resumable state carried between workflow stages.
type Conversation struct {
	ThreadID            string           `json:"thread_id"`
	State               string           `json:"state"`
	Terminal            bool             `json:"terminal,omitempty"`
	Category            Category         `json:"category,omitempty"`
	Requester           Requester        `json:"requester"`
	Description         string           `json:"description,omitempty"`
	Candidates          []Candidate      `json:"subcategory_candidates,omitempty"`
	ResolvedSubcategory string           `json:"resolved_subcategory,omitempty"`
	Priority            Tier             `json:"priority,omitempty"`
	ResponsibleTeam     string           `json:"responsible_team,omitempty"`
	MatchedRule         string           `json:"matched_rule,omitempty"`
	StageStatus         string           `json:"stage_status,omitempty"`
	PendingQuestion     *PendingQuestion `json:"pending_question,omitempty"`
	WaitingSince        *time.Time       `json:"waiting_since,omitempty"`
	Deadline            *time.Time       `json:"deadline,omitempty"`
	NextPollAt          *time.Time       `json:"next_poll_at,omitempty"`
	Reentries           map[string]int   `json:"reentries,omitempty"`
	Attempts            int              `json:"attempts,omitempty"`
	Messages            []Message        `json:"messages,omitempty"`
	Notes               []Note           `json:"notes,omitempty"`
	TicketID            string           `json:"ticket_id,omitempty"`
	LastError           string           `json:"last_error,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// AddNote appends a reason-coded note.
func (c *Conversation) AddNote(reason, text string) {
	c.Notes = append(c.Notes, Note{Reason: reason, Text: text, At: time.Now().UTC()})
}

// LatestMessage returns the last message of the thread, or nil.
func (c *Conversation) LatestMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

// FirstMessage returns the message that opened the thread, or nil.
func (c *Conversation) FirstMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[0]
}

// ThreadText renders every message of the thread in order for the analyzer.
func (c *Conversation) ThreadText() string {
	return ThreadText(c.Messages)
}

// ThreadText renders messages as one document, oldest first.
func ThreadText(msgs []Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString("--- Message from ")
		b.WriteString(m.From)
		b.WriteString(" ---\nSubject: ")
		b.WriteString(m.Subject)
		b.WriteString("\n")
		b.WriteString(m.Body)
		b.WriteString("\n")
	}
	return b.String()
}

// ThreadSequence binds a thread to the sequence number used in all of its ticket ids.
type ThreadSequence struct {
	ThreadID   string    `json:"thread_id"`
	Sequence   int64     `json:"sequence"`
	AssignedAt time.Time `json:"assigned_at"`
}

// Escalation records that a thread went to the escalation path.
type Escalation struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// Outgoing is an email to send. A non-empty ThreadID sends it as a reply
// within that thread.
type Outgoing struct {
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	ThreadID  string `json:"thread_id,omitempty"`
	InReplyTo string `json:"in_reply_to,omitempty"`
}

// MessageRef identifies a message accepted by the mailbox provider.
type MessageRef struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
}

// ThreadSummary is a thread discovered by mailbox search.
type ThreadSummary struct {
	ID      string `json:"id"`
	Snippet string `json:"snippet,omitempty"`
}
