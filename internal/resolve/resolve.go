// Package resolve holds the pure decision policies of the workflow: the
// subcategory confidence gap and priority tier precedence.
package resolve

import (
	"fmt"
	"math"
	"strings"

	"github.com/daviddao/helpdesk/internal/analyzer"
	"github.com/daviddao/helpdesk/internal/types"
)

// Outcome of subcategory resolution.
type Outcome string

const (
	Resolved           Outcome = "resolved"
	RequestSubcategory Outcome = "request_subcategory"
	ConfirmSubcategory Outcome = "confirm_subcategory"
)

// Decision is the result of Subcategory.
type Decision struct {
	Outcome    Outcome
	Label      string
	Reason     string
	Gap        float64
	Candidates []types.Candidate
}

// Subcategory applies the confidence-gap policy. Candidates are sorted by
// confidence; when the top two differ by strictly more than gap the top one
// wins, otherwise the requester is asked to confirm. Candidates are never
// dropped from an ambiguous decision.
func Subcategory(cands []types.Candidate, gap float64) Decision {
	sorted := append([]types.Candidate(nil), cands...)
	analyzer.SortCandidates(sorted)

	switch len(sorted) {
	case 0:
		return Decision{Outcome: RequestSubcategory}
	case 1:
		return Decision{
			Outcome:    Resolved,
			Label:      sorted[0].Label,
			Reason:     types.ReasonSubcategorySingle,
			Candidates: sorted,
		}
	}

	d := round(sorted[0].Confidence - sorted[1].Confidence)
	if d > round(gap) {
		return Decision{
			Outcome:    Resolved,
			Label:      sorted[0].Label,
			Reason:     types.ReasonSubcategoryConfident,
			Gap:        d,
			Candidates: sorted[:1],
		}
	}
	return Decision{Outcome: ConfirmSubcategory, Gap: d, Candidates: sorted}
}

// round drops float noise so that 0.9-0.7 compares equal to 0.2.
func round(f float64) float64 {
	return math.Round(f*1e9) / 1e9
}

// Confirm picks the label chosen in a reply, defaulting to the highest
// confidence candidate when the reply did not decide.
func Confirm(cands []types.Candidate, picked string) (label, reason string) {
	for _, c := range cands {
		if picked != "" && strings.EqualFold(c.Label, picked) {
			return c.Label, types.ReasonSubcategoryConfirmed
		}
	}
	if len(cands) == 0 {
		return "", ""
	}
	sorted := append([]types.Candidate(nil), cands...)
	analyzer.SortCandidates(sorted)
	return sorted[0].Label, types.ReasonSubcategoryDefaulted
}

// PriorityResult is the outcome of Priority.
type PriorityResult struct {
	Tier        types.Tier
	MatchedRule string
	Team        string
	Confidence  float64
}

// Resolved reports whether a tier was determined.
func (p PriorityResult) Resolved() bool {
	return p.Tier != types.TierUnresolved
}

// Priority combines rule evaluations. Critical always outranks elevated,
// whatever the order of evaluations; within a tier the most confident
// evaluation wins. Evaluations below minConfidence are ignored.
func Priority(evals []analyzer.Evaluation, minConfidence float64) PriorityResult {
	var best PriorityResult
	for _, ev := range evals {
		if ev.Tier == types.TierUnresolved || ev.Confidence < minConfidence {
			continue
		}
		better := ev.Tier.Rank() > best.Tier.Rank() ||
			(ev.Tier == best.Tier && ev.Confidence > best.Confidence)
		if better {
			best = PriorityResult{Tier: ev.Tier, MatchedRule: ev.MatchedRule, Team: ev.Team, Confidence: ev.Confidence}
		}
	}
	return best
}

// Questions builds at most max clarification questions from the rules,
// alternating critical and elevated so that each pair separates the tiers.
func Questions(critical, elevated []types.Rule, max int) []string {
	var out []string
	seen := make(map[string]bool)
	push := func(r types.Rule) {
		desc := strings.TrimRight(strings.TrimSpace(r.Description), ".?!")
		if desc == "" || seen[desc] || len(out) >= max {
			return
		}
		seen[desc] = true
		out = append(out, fmt.Sprintf("Does this describe your situation: %s?", desc))
	}
	for i := 0; len(out) < max && (i < len(critical) || i < len(elevated)); i++ {
		if i < len(critical) {
			push(critical[i])
		}
		if i < len(elevated) {
			push(elevated[i])
		}
	}
	return out
}
