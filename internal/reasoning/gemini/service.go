// Package gemini plays reasoning roles with the Gemini API.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/shpitdev/lead-engagement-pipeline/internal/lead"
	"github.com/shpitdev/lead-engagement-pipeline/internal/reasoning"
	"github.com/shpitdev/lead-engagement-pipeline/pkg/pipeline/core"
	"google.golang.org/genai"
)

type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string
}

type Service struct {
	client *genai.Client
	model  string
}

func New(ctx context.Context, cfg Config) (*Service, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("GEMINI_MODEL is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	return &Service{
		client: client,
		model:  strings.TrimSpace(cfg.Model),
	}, nil
}

var scoreSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"personal_info": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"name":                    {Type: genai.TypeString},
				"job_title":               {Type: genai.TypeString},
				"role_relevance":          {Type: genai.TypeInteger, Minimum: genai.Ptr(0.0), Maximum: genai.Ptr(float64(lead.MaxRoleRelevance))},
				"professional_background": {Type: genai.TypeString},
			},
			Required: []string{"name", "job_title", "role_relevance"},
		},
		"company_info": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"company_name":    {Type: genai.TypeString},
				"industry":        {Type: genai.TypeString},
				"company_size":    {Type: genai.TypeInteger, Minimum: genai.Ptr(0.0)},
				"revenue":         {Type: genai.TypeNumber, Nullable: genai.Ptr(true)},
				"market_presence": {Type: genai.TypeInteger, Minimum: genai.Ptr(0.0), Maximum: genai.Ptr(float64(lead.MaxMarketPresence))},
			},
			Required: []string{"company_name", "industry", "company_size", "market_presence"},
		},
		"lead_score": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"score":            {Type: genai.TypeInteger, Minimum: genai.Ptr(0.0), Maximum: genai.Ptr(float64(lead.MaxScore))},
				"scoring_criteria": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
				"validation_notes": {Type: genai.TypeString},
			},
			Required: []string{"score", "scoring_criteria"},
		},
	},
	Required: []string{"personal_info", "company_info", "lead_score"},
}

// Run implements reasoning.Service.
func (s *Service) Run(ctx context.Context, role reasoning.Role, task reasoning.Task) (reasoning.Result, error) {
	base := reasoning.Result{Model: s.model}
	if strings.TrimSpace(task.Description) == "" {
		return base, errors.New("empty task description")
	}

	resp, err := s.client.Models.GenerateContent(ctx, s.model, genai.Text(buildPrompt(task)), generateConfig(role, task))
	if err != nil {
		return base, classifyErr(err)
	}

	out := reasoning.Result{
		Text:  strings.TrimSpace(resp.Text()),
		Model: s.model,
		Usage: usageOf(resp),
	}
	if task.Format == reasoning.FormatLeadScore {
		raw := json.RawMessage(out.Text)
		if !json.Valid(raw) {
			return out, fmt.Errorf("gemini: task %s: response is not valid json", task.Key)
		}
		out.JSON = raw
	}
	return out, nil
}

func generateConfig(role reasoning.Role, task reasoning.Task) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction(role), genai.RoleUser),
		CandidateCount:    1,
	}
	if role.HasTool(reasoning.ToolWebSearch) {
		cfg.Tools = append(cfg.Tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
	}
	if role.HasTool(reasoning.ToolURLContext) {
		cfg.Tools = append(cfg.Tools, &genai.Tool{URLContext: &genai.URLContext{}})
	}
	if task.Format == reasoning.FormatLeadScore {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = scoreSchema
	}
	return cfg
}

func systemInstruction(role reasoning.Role) string {
	var b strings.Builder
	b.WriteString("You are " + role.Role + ".")
	if role.Goal != "" {
		b.WriteString("\nYour goal: " + role.Goal)
	}
	if role.Backstory != "" {
		b.WriteString("\n" + role.Backstory)
	}
	return b.String()
}

func buildPrompt(task reasoning.Task) string {
	var b strings.Builder
	b.WriteString(task.Description)
	if task.ExpectedOutput != "" {
		b.WriteString("\n\nExpected output: " + task.ExpectedOutput)
	}
	for i, c := range task.Context {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		fmt.Fprintf(&b, "\n\nContext from step %d:\n%s", i+1, c)
	}
	if task.Format == reasoning.FormatLeadScore {
		b.WriteString("\n\nReturn ONLY a single JSON object. If a number is unknown, use 0; if revenue is unknown, use null.")
	}
	return strings.TrimSpace(b.String())
}

func usageOf(resp *genai.GenerateContentResponse) lead.Usage {
	u := lead.Usage{SuccessfulRequests: 1}
	if resp == nil || resp.UsageMetadata == nil {
		return u
	}
	m := resp.UsageMetadata
	u.PromptTokens = int(m.PromptTokenCount)
	u.CompletionTokens = int(m.CandidatesTokenCount)
	u.TotalTokens = int(m.TotalTokenCount)
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}

// quotaRetries caps extra attempts on 429 responses regardless of MaxRetries.
const quotaRetries = 1

func classifyErr(err error) error {
	// Wrap transient failures so the worker pool will retry with backoff.
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 {
			// Quota errors rarely clear within the backoff window.
			return &core.LimitedTransientError{Err: err, ExtraRetries: quotaRetries}
		}
		if apiErr.Code/100 == 5 {
			return &core.TransientError{Err: err}
		}
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &core.TransientError{Err: err}
	}
	return err
}
