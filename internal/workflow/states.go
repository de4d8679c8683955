// Package workflow drives one conversation per email thread from the first
// message to a final ticket, suspending while the requester is asked for
// more information.
package workflow

// State is a node of the conversation state machine.
type State string

const (
	Classifying              State = "Classifying"
	ServiceRequestHandling   State = "ServiceRequestHandling"
	FieldExtracting          State = "FieldExtracting"
	AwaitingFields           State = "AwaitingFields"
	SubcategoryResolving     State = "SubcategoryResolving"
	AwaitingSubcategoryInput State = "AwaitingSubcategoryInput"
	PriorityResolving        State = "PriorityResolving"
	AwaitingPriorityInput    State = "AwaitingPriorityInput"
	TicketCreating           State = "TicketCreating"
	Done                     State = "Done"
	Failed                   State = "Failed"
	Escalated                State = "Escalated"
)

// Key is the transition key a stage returns.
type Key string

const (
	KeyServiceRequest      Key = "service_request"
	KeyIncident            Key = "incident"
	KeyFieldsMissing       Key = "fields_missing"
	KeyFieldsComplete      Key = "fields_complete"
	KeyNoReply             Key = "no_reply"
	KeyReply               Key = "reply"
	KeyTimeout             Key = "timeout"
	KeyRequestSubcategory  Key = "request_subcategory"
	KeyConfirmSubcategory  Key = "confirm_subcategory"
	KeySubcategoryResolved Key = "subcategory_resolved"
	KeyPriorityUnresolved  Key = "priority_unresolved"
	KeyPriorityResolved    Key = "priority_resolved"
	KeyCreated             Key = "created"
	KeyReentryLimit        Key = "reentry_limit"
	KeyFailed              Key = "failed"
)

// Transitions is the static transition table keyed by (state, key).
var Transitions = map[State]map[Key]State{
	Classifying: {
		KeyServiceRequest: ServiceRequestHandling,
		KeyIncident:       FieldExtracting,
	},
	FieldExtracting: {
		KeyFieldsMissing:  AwaitingFields,
		KeyFieldsComplete: SubcategoryResolving,
	},
	AwaitingFields: {
		KeyNoReply: AwaitingFields,
		KeyReply:   FieldExtracting,
		KeyTimeout: Escalated,
	},
	SubcategoryResolving: {
		KeyRequestSubcategory:  AwaitingSubcategoryInput,
		KeyConfirmSubcategory:  AwaitingSubcategoryInput,
		KeySubcategoryResolved: PriorityResolving,
	},
	AwaitingSubcategoryInput: {
		KeyNoReply: AwaitingSubcategoryInput,
		KeyReply:   SubcategoryResolving,
		KeyTimeout: Escalated,
	},
	PriorityResolving: {
		KeyPriorityUnresolved: AwaitingPriorityInput,
		KeyPriorityResolved:   TicketCreating,
	},
	AwaitingPriorityInput: {
		KeyNoReply: AwaitingPriorityInput,
		KeyReply:   PriorityResolving,
		KeyTimeout: Escalated,
	},
	TicketCreating: {
		KeyCreated: Done,
	},
}

func init() {
	for s, keys := range Transitions {
		keys[KeyReentryLimit] = Escalated
		keys[KeyFailed] = Failed
		Transitions[s] = keys
	}
}

// Next looks up the state reached from s with key k.
func Next(s State, k Key) (State, bool) {
	next, ok := Transitions[s][k]
	return next, ok
}

// Terminal reports whether s has no outgoing transitions.
func (s State) Terminal() bool {
	switch s {
	case ServiceRequestHandling, Done, Failed, Escalated:
		return true
	}
	return false
}

// Awaiting reports whether s is a suspension point waiting for a reply.
func (s State) Awaiting() bool {
	switch s {
	case AwaitingFields, AwaitingSubcategoryInput, AwaitingPriorityInput:
		return true
	}
	return false
}
