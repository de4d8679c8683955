package followup

import (
	"fmt"
	"strings"

	"github.com/daviddao/helpdesk/internal/types"
)

// QuestionSet is one clarification email.
type QuestionSet struct {
	Kind      string
	Greeting  string
	Intro     string
	Questions []string
}

// Render formats the email body.
func (q QuestionSet) Render() string {
	var b strings.Builder
	greeting := q.Greeting
	if greeting == "" {
		greeting = "Hello,"
	}
	b.WriteString(greeting)
	b.WriteString("\n\n")
	if q.Intro != "" {
		b.WriteString(q.Intro)
		b.WriteString("\n\n")
	}
	for i, question := range q.Questions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, question)
	}
	b.WriteString("\nPlease reply to this email. Thank you,\nThe support desk\n")
	return b.String()
}

func greet(name string) string {
	if name == "" {
		return "Hello,"
	}
	return fmt.Sprintf("Hello %s,", name)
}

var fieldQuestions = map[string]string{
	"name":        "What is your full name?",
	"email":       "What email address can we reach you at?",
	"location":    "Where are you located (site, building, office)?",
	"description": "Could you describe the problem you are facing?",
}

// MissingFields asks for the listed requester fields.
func MissingFields(name string, missing []string) QuestionSet {
	qs := QuestionSet{
		Kind:     types.QuestionFields,
		Greeting: greet(name),
		Intro:    "We received your request but need a few details before we can open a ticket:",
	}
	for _, f := range missing {
		if q, ok := fieldQuestions[f]; ok {
			qs.Questions = append(qs.Questions, q)
		}
	}
	return qs
}

// RequestSubcategory asks the requester to say what kind of problem it is.
func RequestSubcategory(name string, known []string) QuestionSet {
	q := "Which area does your problem concern?"
	if len(known) > 0 {
		q = fmt.Sprintf("Which area does your problem concern? For example: %s.", strings.Join(known, ", "))
	}
	return QuestionSet{
		Kind:      types.QuestionRequestSubcategory,
		Greeting:  greet(name),
		Intro:     "We could not tell which kind of problem you are reporting.",
		Questions: []string{q},
	}
}

// ConfirmSubcategory asks the requester to pick among close candidates.
func ConfirmSubcategory(name string, cands []types.Candidate, max int) QuestionSet {
	labels := make([]string, 0, len(cands))
	for i, c := range cands {
		if max > 0 && i >= max {
			break
		}
		labels = append(labels, c.Label)
	}
	return QuestionSet{
		Kind:      types.QuestionConfirmSubcategory,
		Greeting:  greet(name),
		Intro:     "Your request could match more than one area.",
		Questions: []string{fmt.Sprintf("Which of these best describes it: %s?", strings.Join(labels, ", "))},
	}
}

// Priority asks the rule questions that separate critical from elevated.
func Priority(name string, questions []string) QuestionSet {
	return QuestionSet{
		Kind:      types.QuestionPriority,
		Greeting:  greet(name),
		Intro:     "To prioritize your incident correctly, could you answer the following:",
		Questions: questions,
	}
}

// Acknowledgement is the reply sent for a service request.
func Acknowledgement(name, subject, ref string) string {
	return fmt.Sprintf("%s\n\nWe have received your request %q and registered it under reference %s.\n"+
		"A member of the support desk will get back to you.\n\nThe support desk\n",
		greet(name), subject, ref)
}
