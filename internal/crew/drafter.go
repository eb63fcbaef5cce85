package crew

import (
	"context"
	"strings"

	"github.com/shpitdev/lead-engagement-pipeline/internal/lead"
	"github.com/shpitdev/lead-engagement-pipeline/internal/reasoning"
	"golang.org/x/text/unicode/norm"
)

// Drafter writes and then optimizes an outreach email for a scored lead.
type Drafter struct {
	crew
}

func NewDrafter(cfg reasoning.Config, service reasoning.Service) *Drafter {
	return &Drafter{crew{cfg: cfg, service: service}}
}

// Draft runs the drafting task and then the optimization task on its output.
// If the optimizer answers with empty text the first draft is kept.
func (d *Drafter) Draft(ctx context.Context, scored lead.ScoredLead) (lead.EmailDraft, error) {
	var usage lead.Usage
	name := firstNonBlank(scored.PersonalInfo.Name, scored.Lead.Name)
	company := firstNonBlank(scored.CompanyInfo.CompanyName, scored.Lead.Company)
	inputs := map[string]string{
		"personal_info": mustJSON(scored.PersonalInfo),
		"company_info":  mustJSON(scored.CompanyInfo),
		"lead_score":    mustJSON(scored.LeadScore),
		"name":          name,
		"company_name":  company,
		"use_case":      scored.Lead.UseCase,
	}

	draft, err := d.step(ctx, reasoning.TaskEmailDrafting, inputs, nil, &usage)
	if err != nil {
		return lead.EmailDraft{}, err
	}
	body := cleanBody(draft.Text)

	optimized, err := d.step(ctx, reasoning.TaskEmailOptimizing, inputs, []string{body}, &usage)
	if err != nil {
		return lead.EmailDraft{}, err
	}
	if b := cleanBody(optimized.Text); b != "" {
		body = b
	}

	return lead.EmailDraft{
		Index: scored.Index,
		Lead:  scored.Lead,
		Body:  body,
		Usage: usage,
	}, nil
}

// cleanBody normalizes drafted text to NFC with Unix line endings.
func cleanBody(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.TrimSpace(norm.NFC.String(s))
}

func firstNonBlank(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
