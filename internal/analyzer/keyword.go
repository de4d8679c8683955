package analyzer

import (
	"context"
	"regexp"
	"strings"

	"github.com/daviddao/helpdesk/internal/rules"
	"github.com/daviddao/helpdesk/internal/types"
)

// Keyword is an offline Analyzer based on word overlap. It is used when no
// model is configured and as a deterministic stand-in during dry runs.
type Keyword struct {
	catalog *rules.Catalog
}

func NewKeyword(catalog *rules.Catalog) *Keyword {
	return &Keyword{catalog: catalog}
}

var requestWords = []string{
	"request", "demande", "please provide", "need access", "new account",
	"install", "order", "would like", "could you create",
}

var incidentWords = []string{
	"broken", "down", "error", "fail", "not working", "panne", "crash",
	"outage", "cannot", "can't", "unable", "bloqué", "issue",
}

func (k *Keyword) Classify(ctx context.Context, text string) (types.Category, error) {
	lower := strings.ToLower(text)
	req, inc := 0, 0
	for _, w := range requestWords {
		if strings.Contains(lower, w) {
			req++
		}
	}
	for _, w := range incidentWords {
		if strings.Contains(lower, w) {
			inc++
		}
	}
	if req > inc {
		return types.CategoryServiceRequest, nil
	}
	return types.CategoryIncident, nil
}

var (
	emailRe    = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	locationRe = regexp.MustCompile(`(?im)^\s*(?:location|site|office|building|localisation)\s*[:\-]\s*(.+)$`)
	nameRe     = regexp.MustCompile(`(?im)^\s*(?:name|nom)\s*[:\-]\s*(.+)$`)
	fromRe     = regexp.MustCompile(`--- Message from (.+?) ---`)
)

func (k *Keyword) ExtractFields(ctx context.Context, text string) (Fields, error) {
	var f Fields
	if m := fromRe.FindStringSubmatch(text); m != nil {
		r := RequesterFromHeader(m[1])
		f.Name, f.Email = r.Name, r.Email
	}
	if m := nameRe.FindAllStringSubmatch(text, -1); len(m) > 0 {
		f.Name = strings.TrimSpace(m[len(m)-1][1])
	}
	if f.Email == "" {
		f.Email = emailRe.FindString(text)
	}
	if m := locationRe.FindAllStringSubmatch(text, -1); len(m) > 0 {
		f.Location = strings.TrimSpace(m[len(m)-1][1])
	}
	f.Description = firstBody(text)
	return f, nil
}

// firstBody returns the body of the first message in a rendered thread.
func firstBody(text string) string {
	parts := strings.SplitN(text, "--- Message from ", 3)
	body := text
	if len(parts) >= 2 {
		body = parts[1]
		if i := strings.Index(body, "\n"); i >= 0 {
			body = body[i+1:]
		}
		if strings.HasPrefix(body, "Subject: ") {
			if i := strings.Index(body, "\n"); i >= 0 {
				body = body[i+1:]
			}
		}
	}
	return strings.TrimSpace(body)
}

func (k *Keyword) ClassifySubcategories(ctx context.Context, text string, labels []string) ([]types.Candidate, error) {
	words := tokenize(text)
	var out []types.Candidate
	for _, label := range labels {
		score := 0.0
		if words[strings.ToLower(label)] {
			score = 0.9
		} else if k.catalog != nil {
			score = overlap(words, k.catalog.For(label))
		}
		if score > 0 {
			out = append(out, types.Candidate{Label: rules.Normalize(label), Confidence: clamp(score)})
		}
	}
	SortCandidates(out)
	return out, nil
}

// overlap scores the best rule description by the share of its words found in text.
func overlap(words map[string]bool, rs []types.Rule) float64 {
	best := 0.0
	for _, r := range rs {
		rw := tokenize(r.Description)
		if len(rw) == 0 {
			continue
		}
		hit := 0
		for w := range rw {
			if words[w] {
				hit++
			}
		}
		if s := float64(hit) / float64(len(rw)); s > best {
			best = s
		}
	}
	return best
}

func (k *Keyword) EvaluatePriority(ctx context.Context, subcategory string, rs []types.Rule, text string) (Evaluation, error) {
	words := tokenize(text)
	var best Evaluation
	for _, r := range rs {
		s := overlap(words, []types.Rule{r})
		if s > best.Confidence {
			best = Evaluation{Tier: r.Tier, MatchedRule: r.Description, Team: r.Team, Confidence: s}
		}
	}
	return best, nil
}

func (k *Keyword) SelectSubcategory(ctx context.Context, candidates []types.Candidate, reply string) (string, error) {
	upper := strings.ToUpper(reply)
	picked := ""
	for _, c := range candidates {
		if strings.Contains(upper, c.Label) {
			if picked != "" {
				return "", nil
			}
			picked = c.Label
		}
	}
	return picked, nil
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "les": true, "des": true,
	"une": true, "pour": true, "est": true, "are": true, "not": true, "pas": true,
}

func tokenize(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r == '_' || r == '\'' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r > 127)
	}) {
		if len(w) > 2 && !stopWords[w] {
			out[w] = true
		}
	}
	return out
}
