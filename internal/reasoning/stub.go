package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shpitdev/lead-engagement-pipeline/internal/lead"
)

// StubModel is the model name reported by Stub results.
const StubModel = "offline-stub"

// Stub answers every task deterministically without calling out, so the
// pipeline can be demoed and tested offline. Scores come from the lead's job
// title: decision makers land above the filter threshold, others below it.
type Stub struct{}

var seniorTitles = []string{"ceo", "cto", "cio", "coo", "founder", "chief", "vp", "vice president", "head", "director", "owner", "partner"}

func (Stub) Run(ctx context.Context, role Role, task Task) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	var l lead.Lead
	if raw := task.Inputs["lead_data"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &l); err != nil {
			return Result{}, fmt.Errorf("stub: decode lead_data: %w", err)
		}
	}

	var text string
	var structured json.RawMessage
	switch task.Format {
	case FormatLeadScore:
		b, err := json.Marshal(stubScore(l))
		if err != nil {
			return Result{}, err
		}
		structured = b
		text = string(b)
	default:
		text = stubText(role, task, l)
	}

	prompt := wordCount(task.Description) + wordCount(strings.Join(task.Context, " "))
	completion := wordCount(text)
	return Result{
		Text:  text,
		JSON:  structured,
		Model: StubModel,
		Usage: lead.Usage{
			PromptTokens:       prompt,
			CompletionTokens:   completion,
			TotalTokens:        prompt + completion,
			SuccessfulRequests: 1,
		},
	}, nil
}

func stubScore(l lead.Lead) lead.ScoredLead {
	title := strings.ToLower(l.JobTitle)
	relevance := 4
	for _, t := range seniorTitles {
		if strings.Contains(title, t) {
			relevance = 9
			break
		}
	}
	presence := 5
	if strings.TrimSpace(l.UseCase) != "" {
		presence = 6
	}
	score := relevance*7 + presence*3
	if score > lead.MaxScore {
		score = lead.MaxScore
	}
	criteria := []string{
		fmt.Sprintf("role relevance %d/10", relevance),
		fmt.Sprintf("market presence %d/10", presence),
	}
	if l.UseCase != "" {
		criteria = append(criteria, "stated use case: "+strings.TrimSpace(l.UseCase))
	}
	return lead.ScoredLead{
		PersonalInfo: lead.PersonalInfo{
			Name:                   l.Name,
			JobTitle:               l.JobTitle,
			RoleRelevance:          relevance,
			ProfessionalBackground: fmt.Sprintf("%s at %s", l.JobTitle, l.Company),
		},
		CompanyInfo: lead.CompanyInfo{
			CompanyName:    l.Company,
			Industry:       "Unknown",
			CompanySize:    0,
			MarketPresence: presence,
		},
		LeadScore: lead.LeadScore{
			Score:           score,
			ScoringCriteria: criteria,
			ValidationNotes: "offline heuristic score; no external research performed",
		},
	}
}

func stubText(role Role, task Task, l lead.Lead) string {
	switch task.Key {
	case TaskEmailDrafting:
		return fmt.Sprintf("Hi %s,\n\nI noticed your work at %s and thought our agents could help with %s. Would you be open to a short call next week?\n\nBest regards",
			firstNonEmpty(task.Inputs["name"], "there"),
			firstNonEmpty(task.Inputs["company_name"], "your company"),
			firstNonEmpty(task.Inputs["use_case"], "your current workflows"))
	case TaskEmailOptimizing:
		if len(task.Context) > 0 {
			return strings.TrimSpace(task.Context[len(task.Context)-1])
		}
		return ""
	default:
		subject := strings.TrimSpace(l.Name)
		if subject == "" {
			subject = "the lead"
		}
		return fmt.Sprintf("%s notes on %s (%s at %s).", role.Role, subject, l.JobTitle, l.Company)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
