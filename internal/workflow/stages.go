package workflow

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/daviddao/helpdesk/internal/analyzer"
	"github.com/daviddao/helpdesk/internal/config"
	"github.com/daviddao/helpdesk/internal/db"
	"github.com/daviddao/helpdesk/internal/followup"
	"github.com/daviddao/helpdesk/internal/lifecycle"
	"github.com/daviddao/helpdesk/internal/resolve"
	"github.com/daviddao/helpdesk/internal/types"
)

const reasonRequestAcknowledged = "service_request_acknowledged"

func (c *Controller) classify(ctx context.Context, conv *types.Conversation) (Key, error) {
	cat, err := c.an.Classify(ctx, c.loop.RequesterText(conv.Messages))
	switch {
	case errors.Is(err, analyzer.ErrMalformed):
		c.logger.Warn("Classification unreadable, treating as incident",
			zap.String("thread_id", conv.ThreadID), zap.Error(err))
		cat = types.CategoryIncident
	case err != nil:
		return "", err
	}
	conv.Category = cat
	if cat == types.CategoryServiceRequest {
		return KeyServiceRequest, nil
	}
	return KeyIncident, nil
}

func (c *Controller) extractFields(ctx context.Context, conv *types.Conversation) (Key, error) {
	conv.PendingQuestion = nil

	label := lifecycle.StageFields
	f, err := c.an.ExtractFields(ctx, c.loop.RequesterText(conv.Messages))
	switch {
	case errors.Is(err, analyzer.ErrMalformed):
		c.logger.Warn("Field extraction unreadable, using sender header",
			zap.String("thread_id", conv.ThreadID), zap.Error(err))
		f = fallbackFields(conv)
		label = lifecycle.Fallback(lifecycle.StageFields)
		conv.AddNote(types.ReasonFieldsFallback, "")
	case err != nil:
		return "", err
	default:
		conv.AddNote(types.ReasonFieldsExtracted, "")
	}
	mergeFields(conv, f)

	if _, err := c.tickets.StageTicket(ctx, conv.ThreadID, label, conv); err != nil {
		return "", err
	}
	missing := missingFields(conv)
	if len(missing) == 0 {
		return KeyFieldsComplete, nil
	}
	if err := c.ask(ctx, conv, followup.MissingFields(conv.Requester.Name, missing)); err != nil {
		return "", err
	}
	return KeyFieldsMissing, nil
}

func fallbackFields(conv *types.Conversation) analyzer.Fields {
	var f analyzer.Fields
	if first := conv.FirstMessage(); first != nil {
		r := analyzer.RequesterFromHeader(first.From)
		f.Name, f.Email = r.Name, r.Email
		f.Description = strings.TrimSpace(first.Body)
	}
	return f
}

func mergeFields(conv *types.Conversation, f analyzer.Fields) {
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&conv.Requester.Name, f.Name)
	set(&conv.Requester.Email, f.Email)
	set(&conv.Requester.Location, f.Location)
	set(&conv.Description, f.Description)
}

func missingFields(conv *types.Conversation) []string {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"name", conv.Requester.Name},
		{"email", conv.Requester.Email},
		{"location", conv.Requester.Location},
		{"description", conv.Description},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

func (c *Controller) resolveSubcategory(ctx context.Context, conv *types.Conversation) (Key, error) {
	pq := conv.PendingQuestion
	conv.PendingQuestion = nil

	if pq.Answered() && pq.Kind == types.QuestionConfirmSubcategory && len(conv.Candidates) > 0 {
		picked, err := c.an.SelectSubcategory(ctx, conv.Candidates, pq.Answer)
		if err != nil && !errors.Is(err, analyzer.ErrMalformed) {
			return "", err
		}
		label, reason := resolve.Confirm(conv.Candidates, picked)
		conv.ResolvedSubcategory = label
		conv.Candidates = keepLabel(conv.Candidates, label)
		conv.AddNote(reason, label)
		if _, err := c.tickets.StageTicket(ctx, conv.ThreadID, lifecycle.StageSubcategory, conv); err != nil {
			return "", err
		}
		return KeySubcategoryResolved, nil
	}

	label := lifecycle.StageSubcategory
	known := c.catalog.Subcategories()
	cands, err := c.an.ClassifySubcategories(ctx, c.loop.RequesterText(conv.Messages), known)
	switch {
	case errors.Is(err, analyzer.ErrMalformed):
		c.logger.Warn("Subcategory classification unreadable",
			zap.String("thread_id", conv.ThreadID), zap.Error(err))
		cands = nil
		label = lifecycle.Fallback(lifecycle.StageSubcategory)
		conv.AddNote(types.ReasonSubcategoryFallback, "")
	case err != nil:
		return "", err
	}

	d := resolve.Subcategory(cands, c.opts.ConfidenceGap)
	conv.Candidates = d.Candidates
	if d.Outcome == resolve.Resolved {
		conv.ResolvedSubcategory = d.Label
		conv.AddNote(d.Reason, d.Label)
	}
	if _, err := c.tickets.StageTicket(ctx, conv.ThreadID, label, conv); err != nil {
		return "", err
	}

	switch d.Outcome {
	case resolve.Resolved:
		return KeySubcategoryResolved, nil
	case resolve.ConfirmSubcategory:
		if err := c.ask(ctx, conv, followup.ConfirmSubcategory(conv.Requester.Name, d.Candidates, c.opts.MaxQuestions)); err != nil {
			return "", err
		}
		return KeyConfirmSubcategory, nil
	default:
		if err := c.ask(ctx, conv, followup.RequestSubcategory(conv.Requester.Name, known)); err != nil {
			return "", err
		}
		return KeyRequestSubcategory, nil
	}
}

func keepLabel(cands []types.Candidate, label string) []types.Candidate {
	for _, cand := range cands {
		if cand.Label == label {
			return []types.Candidate{cand}
		}
	}
	return nil
}

func (c *Controller) resolvePriority(ctx context.Context, conv *types.Conversation) (Key, error) {
	pq := conv.PendingQuestion
	conv.PendingQuestion = nil

	sub := conv.ResolvedSubcategory
	critical, elevated := c.catalog.Partition(sub)
	if len(critical)+len(elevated) == 0 {
		if c.opts.NoRules == config.NoRulesAsk && !pq.Answered() {
			qs := followup.Priority(conv.Requester.Name, []string{
				"How strongly does this problem affect your work, and is anyone else affected?",
			})
			if _, err := c.tickets.StageTicket(ctx, conv.ThreadID, lifecycle.StagePriority, conv); err != nil {
				return "", err
			}
			if err := c.ask(ctx, conv, qs); err != nil {
				return "", err
			}
			return KeyPriorityUnresolved, nil
		}
		c.logger.Info("No rules for subcategory, defaulting to elevated",
			zap.String("thread_id", conv.ThreadID), zap.String("subcategory", sub))
		conv.Priority = types.TierElevated
		conv.AddNote(types.ReasonPriorityNoRulesDefault, sub)
		if _, err := c.tickets.StageTicket(ctx, conv.ThreadID, lifecycle.StagePriority, conv); err != nil {
			return "", err
		}
		return KeyPriorityResolved, nil
	}

	text := c.loop.RequesterText(conv.Messages)
	var evals []analyzer.Evaluation
	calls, malformed := 0, 0
	for _, tier := range [][]types.Rule{critical, elevated} {
		if len(tier) == 0 {
			continue
		}
		calls++
		ev, err := c.an.EvaluatePriority(ctx, sub, tier, text)
		switch {
		case errors.Is(err, analyzer.ErrMalformed):
			malformed++
			c.logger.Warn("Rule evaluation unreadable",
				zap.String("thread_id", conv.ThreadID), zap.Error(err))
			continue
		case err != nil:
			return "", err
		}
		evals = append(evals, ev)
	}

	if malformed == calls {
		conv.Priority = types.TierElevated
		conv.AddNote(types.ReasonPriorityFallback, sub)
		if _, err := c.tickets.StageTicket(ctx, conv.ThreadID, lifecycle.Fallback(lifecycle.StagePriority), conv); err != nil {
			return "", err
		}
		return KeyPriorityResolved, nil
	}

	res := resolve.Priority(evals, c.opts.MinRuleConfidence)
	if res.Resolved() {
		conv.Priority = res.Tier
		conv.MatchedRule = res.MatchedRule
		conv.ResponsibleTeam = res.Team
		conv.AddNote(types.ReasonPriorityRuleMatched, res.MatchedRule)
		if _, err := c.tickets.StageTicket(ctx, conv.ThreadID, lifecycle.StagePriority, conv); err != nil {
			return "", err
		}
		return KeyPriorityResolved, nil
	}

	if _, err := c.tickets.StageTicket(ctx, conv.ThreadID, lifecycle.StagePriority, conv); err != nil {
		return "", err
	}
	questions := resolve.Questions(critical, elevated, c.opts.MaxQuestions)
	if err := c.ask(ctx, conv, followup.Priority(conv.Requester.Name, questions)); err != nil {
		return "", err
	}
	return KeyPriorityUnresolved, nil
}

func (c *Controller) createTicket(ctx context.Context, conv *types.Conversation) (Key, error) {
	t, err := c.tickets.Finalize(ctx, conv.ThreadID, conv)
	if err != nil {
		return "", err
	}
	conv.TicketID = t.ID
	return KeyCreated, nil
}

// await polls the thread once. A reply replaces the stored messages with
// the whole thread and records the answer for the stage that asked.
func (c *Controller) await(ctx context.Context, conv *types.Conversation) (Key, error) {
	now := c.now()
	if conv.Deadline == nil {
		d := now.Add(c.opts.AwaitTimeout)
		conv.Deadline = &d
	}

	r, err := c.loop.Check(ctx, conv.ThreadID)
	if err == nil && r.New {
		conv.Messages = r.Messages
		if conv.PendingQuestion == nil {
			conv.PendingQuestion = &types.PendingQuestion{}
		}
		answer := followup.StripQuoted(r.Latest.Body)
		if answer == "" {
			answer = r.Latest.Subject
		}
		if answer == "" {
			answer = r.Latest.ID
		}
		conv.PendingQuestion.Answer = answer
		conv.WaitingSince = nil
		conv.Deadline = nil
		return KeyReply, nil
	}
	if !now.Before(*conv.Deadline) {
		c.logger.Info("No reply before deadline",
			zap.String("thread_id", conv.ThreadID),
			zap.Time("deadline", *conv.Deadline))
		return KeyTimeout, nil
	}
	if err != nil {
		return "", err
	}
	return KeyNoReply, nil
}

// ask sends a clarification and arms the reply deadline.
func (c *Controller) ask(ctx context.Context, conv *types.Conversation, qs followup.QuestionSet) error {
	ref, err := c.loop.SendClarification(ctx, followup.ThreadOf(conv), qs)
	if err != nil {
		return err
	}
	now := c.now()
	deadline := now.Add(c.opts.AwaitTimeout)
	conv.PendingQuestion = &types.PendingQuestion{Kind: qs.Kind, Questions: qs.Questions, SentID: ref.ID}
	conv.WaitingSince = &now
	conv.Deadline = &deadline
	return nil
}

func (c *Controller) acknowledge(ctx context.Context, conv *types.Conversation) error {
	ref := "REQ-" + strings.ToUpper(uuid.NewString()[:8])
	subject := ""
	if first := conv.FirstMessage(); first != nil {
		subject = first.Subject
	}
	body := followup.Acknowledgement(conv.Requester.Name, subject, ref)
	if _, err := c.loop.Acknowledge(ctx, followup.ThreadOf(conv), body); err != nil {
		return err
	}
	conv.AddNote(reasonRequestAcknowledged, ref)
	return nil
}

// escalate raises the conversation to critical, stages it for a human and
// notifies the supervisor the first time the thread escalates.
func (c *Controller) escalate(ctx context.Context, conv *types.Conversation, reason string) error {
	if reason == "" {
		reason = types.ReasonEscalatedTimeout
	}
	stuckIn := conv.State
	conv.Priority = types.TierCritical
	conv.AddNote(reason, stuckIn)
	conv.PendingQuestion = nil
	conv.WaitingSince = nil
	conv.Deadline = nil

	t, err := c.tickets.StageTicket(ctx, conv.ThreadID, lifecycle.StageEscalated, conv)
	switch {
	case errors.Is(err, db.ErrFinalized):
	case err != nil:
		return err
	default:
		conv.TicketID = t.ID
	}

	e := types.Escalation{ID: uuid.NewString(), ThreadID: conv.ThreadID, Reason: reason, CreatedAt: c.now()}
	first, err := c.store.MarkEscalated(ctx, e)
	if err != nil {
		return err
	}
	c.logger.Warn("Conversation escalated",
		zap.String("thread_id", conv.ThreadID),
		zap.String("reason", reason),
		zap.String("state", stuckIn),
		zap.Bool("first", first))
	if !first || c.notifier == nil {
		return nil
	}
	if err := c.notifier.Notify(ctx, conv, e); err != nil {
		c.logger.Error("Failed to notify supervisor",
			zap.String("thread_id", conv.ThreadID), zap.Error(err))
	}
	return nil
}
