// Package analyzer wraps the text capabilities the workflow depends on:
// classification, field extraction, subcategory scoring and rule evaluation.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"strings"

	"github.com/daviddao/helpdesk/internal/rules"
	"github.com/daviddao/helpdesk/internal/types"
)

// ErrMalformed marks a response that could not be turned into structured
// data. Callers recover from it with a deterministic fallback.
var ErrMalformed = errors.New("malformed analyzer response")

// Fields is the structured output of field extraction.
type Fields struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Location    string `json:"location"`
	Description string `json:"description"`
}

// Evaluation is the verdict of one rule-evaluation call.
type Evaluation struct {
	Tier        types.Tier `json:"tier"`
	MatchedRule string     `json:"matched_rule"`
	Team        string     `json:"team"`
	Confidence  float64    `json:"confidence"`
}

// Analyzer is the set of text capabilities used by the workflow.
type Analyzer interface {
	Classify(ctx context.Context, text string) (types.Category, error)
	ExtractFields(ctx context.Context, text string) (Fields, error)
	// ClassifySubcategories scores text against the known labels. The
	// result is normalized: upper-cased, deduplicated, sorted by confidence.
	ClassifySubcategories(ctx context.Context, text string, labels []string) ([]types.Candidate, error)
	// EvaluatePriority checks text against one set of rules and reports the
	// tier of the best matching rule, or TierUnresolved.
	EvaluatePriority(ctx context.Context, subcategory string, rules []types.Rule, text string) (Evaluation, error)
	// SelectSubcategory picks one of the candidates from a reply, or ""
	// when the reply is not decisive.
	SelectSubcategory(ctx context.Context, candidates []types.Candidate, reply string) (string, error)
}

// ParseCategory maps model spellings to a Category.
func ParseCategory(s string) (types.Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "incident":
		return types.CategoryIncident, nil
	case "service_request", "service request", "request", "demande":
		return types.CategoryServiceRequest, nil
	}
	return "", fmt.Errorf("%w: category %q", ErrMalformed, s)
}

// NormalizeCandidates converts the loosely typed subcategory value returned
// by a classifier into candidates. It accepts a bare label, a list of
// labels, a list of {label, confidence} objects, or a label->confidence map.
// Bare labels get confidence 1. Labels are upper-cased, confidences clamped
// to [0,1], duplicates collapse to their highest confidence.
func NormalizeCandidates(raw any) []types.Candidate {
	best := make(map[string]float64)
	add := func(label string, conf float64) {
		label = rules.Normalize(label)
		if label == "" {
			return
		}
		conf = clamp(conf)
		if cur, ok := best[label]; !ok || conf > cur {
			best[label] = conf
		}
	}

	switch v := raw.(type) {
	case string:
		add(v, 1)
	case []string:
		for _, s := range v {
			add(s, 1)
		}
	case []any:
		for _, item := range v {
			switch it := item.(type) {
			case string:
				add(it, 1)
			case map[string]any:
				label, conf := candidateFromMap(it)
				add(label, conf)
			}
		}
	case []types.Candidate:
		for _, c := range v {
			add(c.Label, c.Confidence)
		}
	case map[string]any:
		if _, ok := v["label"]; ok {
			label, conf := candidateFromMap(v)
			add(label, conf)
			break
		}
		for label, c := range v {
			if f, ok := toFloat(c); ok {
				add(label, f)
			}
		}
	case map[string]float64:
		for label, c := range v {
			add(label, c)
		}
	}

	out := make([]types.Candidate, 0, len(best))
	for label, conf := range best {
		out = append(out, types.Candidate{Label: label, Confidence: conf})
	}
	SortCandidates(out)
	return out
}

// SortCandidates orders candidates by confidence, highest first, then label.
func SortCandidates(c []types.Candidate) {
	sort.SliceStable(c, func(i, j int) bool {
		if c[i].Confidence != c[j].Confidence {
			return c[i].Confidence > c[j].Confidence
		}
		return c[i].Label < c[j].Label
	})
}

func candidateFromMap(m map[string]any) (string, float64) {
	var label string
	for _, k := range []string{"label", "subcategory", "name"} {
		if s, ok := m[k].(string); ok {
			label = s
			break
		}
	}
	conf := 1.0
	for _, k := range []string{"confidence", "score", "probability"} {
		if f, ok := toFloat(m[k]); ok {
			conf = f
			break
		}
	}
	return label, conf
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func clamp(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// FilterKnown drops candidates whose label is not in labels. An empty
// label set keeps everything.
func FilterKnown(c []types.Candidate, labels []string) []types.Candidate {
	if len(labels) == 0 {
		return c
	}
	known := make(map[string]bool, len(labels))
	for _, l := range labels {
		known[rules.Normalize(l)] = true
	}
	out := c[:0:0]
	for _, cand := range c {
		if known[cand.Label] {
			out = append(out, cand)
		}
	}
	return out
}

// RequesterFromHeader derives a requester from a raw From header, used when
// field extraction fails. "Jane Doe <jane@x.org>" yields name Jane Doe.
func RequesterFromHeader(from string) types.Requester {
	if addr, err := mail.ParseAddress(from); err == nil {
		name := strings.TrimSpace(addr.Name)
		if name == "" {
			name = localPart(addr.Address)
		}
		return types.Requester{Name: name, Email: addr.Address}
	}
	from = strings.TrimSpace(from)
	if i := strings.Index(from, "<"); i >= 0 {
		email := strings.Trim(from[i:], "<> ")
		name := strings.Trim(strings.TrimSpace(from[:i]), `"`)
		if name == "" {
			name = localPart(email)
		}
		return types.Requester{Name: name, Email: email}
	}
	if strings.Contains(from, "@") {
		return types.Requester{Name: localPart(from), Email: from}
	}
	return types.Requester{Name: from}
}

func localPart(email string) string {
	if i := strings.Index(email, "@"); i > 0 {
		return email[:i]
	}
	return email
}
