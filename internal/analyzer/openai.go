package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/daviddao/helpdesk/internal/types"
)

// OpenAIConfig holds model settings for the OpenAI analyzer.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

// OpenAI implements Analyzer with chat completions in JSON mode.
type OpenAI struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

func NewOpenAI(cfg OpenAIConfig, logger *zap.Logger) *OpenAI {
	if logger == nil {
		logger = zap.NewNop()
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &OpenAI{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      logger,
	}
}

const systemPrompt = `You triage IT support emails for a help desk. Always answer with a single JSON object and nothing else.`

// complete sends one prompt and decodes the JSON answer into out.
func (a *OpenAI) complete(ctx context.Context, op, prompt string, out any) error {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:      a.maxTokens,
		Temperature:    float32(a.temperature),
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("%s: %w: no choices", op, ErrMalformed)
	}

	content := stripFences(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), out); err != nil {
		a.logger.Warn("Failed to parse model response",
			zap.String("op", op),
			zap.Error(err),
			zap.String("response", content))
		return fmt.Errorf("%s: %w: %v", op, ErrMalformed, err)
	}
	return nil
}

// stripFences removes a ```json fence some models wrap around output.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func (a *OpenAI) Classify(ctx context.Context, text string) (types.Category, error) {
	prompt := fmt.Sprintf(`Decide whether this email reports an incident (something is broken or degraded)
or is a service request (asking for access, equipment, information or a change).
Return {"category": "incident" | "service_request"}.

Email thread:
%s`, text)

	var out struct {
		Category string `json:"category"`
	}
	if err := a.complete(ctx, "classify", prompt, &out); err != nil {
		return "", err
	}
	return ParseCategory(out.Category)
}

func (a *OpenAI) ExtractFields(ctx context.Context, text string) (Fields, error) {
	prompt := fmt.Sprintf(`Extract the requester and the problem from this email thread.
Use the latest information when messages disagree. Leave a field empty when it is not stated.
Return {"name": "", "email": "", "location": "", "description": ""}.

Email thread:
%s`, text)

	var f Fields
	if err := a.complete(ctx, "extract fields", prompt, &f); err != nil {
		return Fields{}, err
	}
	f.Name = strings.TrimSpace(f.Name)
	f.Email = strings.TrimSpace(f.Email)
	f.Location = strings.TrimSpace(f.Location)
	f.Description = strings.TrimSpace(f.Description)
	return f, nil
}

func (a *OpenAI) ClassifySubcategories(ctx context.Context, text string, labels []string) ([]types.Candidate, error) {
	prompt := fmt.Sprintf(`Score how well this incident fits each subcategory below, from 0 to 1.
Only list subcategories with a plausible fit.
Subcategories: %s
Return {"subcategories": [{"label": "...", "confidence": 0.0}]}.

Email thread:
%s`, strings.Join(labels, ", "), text)

	var out struct {
		Subcategories any `json:"subcategories"`
	}
	if err := a.complete(ctx, "classify subcategories", prompt, &out); err != nil {
		return nil, err
	}
	return FilterKnown(NormalizeCandidates(out.Subcategories), labels), nil
}

func (a *OpenAI) EvaluatePriority(ctx context.Context, subcategory string, rs []types.Rule, text string) (Evaluation, error) {
	if len(rs) == 0 {
		return Evaluation{Tier: types.TierUnresolved}, nil
	}
	var b strings.Builder
	for i, r := range rs {
		fmt.Fprintf(&b, "%d. [%s] %s (team: %s)\n", i+1, r.Tier, r.Description, r.Team)
	}
	prompt := fmt.Sprintf(`The incident below belongs to subcategory %s. Decide which rule, if any, the
incident clearly satisfies. Do not guess: if no rule is clearly satisfied, answer with rule 0.
Rules:
%s
Return {"rule": <number or 0>, "confidence": 0.0}.

Email thread:
%s`, subcategory, b.String(), text)

	var out struct {
		Rule       int     `json:"rule"`
		Confidence float64 `json:"confidence"`
	}
	if err := a.complete(ctx, "evaluate priority", prompt, &out); err != nil {
		return Evaluation{}, err
	}
	if out.Rule < 0 || out.Rule > len(rs) {
		return Evaluation{}, fmt.Errorf("evaluate priority: %w: rule %d out of range", ErrMalformed, out.Rule)
	}
	if out.Rule == 0 {
		return Evaluation{Tier: types.TierUnresolved, Confidence: clamp(out.Confidence)}, nil
	}
	r := rs[out.Rule-1]
	return Evaluation{Tier: r.Tier, MatchedRule: r.Description, Team: r.Team, Confidence: clamp(out.Confidence)}, nil
}

func (a *OpenAI) SelectSubcategory(ctx context.Context, candidates []types.Candidate, reply string) (string, error) {
	labels := make([]string, len(candidates))
	for i, c := range candidates {
		labels[i] = c.Label
	}
	prompt := fmt.Sprintf(`We asked the requester to choose between these subcategories: %s.
Which one does their reply select? Answer with an empty label if the reply does not decide.
Return {"label": "..."}.

Reply:
%s`, strings.Join(labels, ", "), reply)

	var out struct {
		Label string `json:"label"`
	}
	if err := a.complete(ctx, "select subcategory", prompt, &out); err != nil {
		return "", err
	}
	picked := FilterKnown(NormalizeCandidates(out.Label), labels)
	if len(picked) == 0 {
		return "", nil
	}
	return picked[0].Label, nil
}
