package crew

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shpitdev/lead-engagement-pipeline/internal/lead"
	"github.com/shpitdev/lead-engagement-pipeline/internal/reasoning"
)

// Scorer researches a lead, assesses its fit and turns both into a validated score.
type Scorer struct {
	crew
}

func NewScorer(cfg reasoning.Config, service reasoning.Service) *Scorer {
	return &Scorer{crew{cfg: cfg, service: service}}
}

// Score runs the data collection, cultural fit and scoring tasks for l, in that
// order. The scoring task sees the two earlier answers as context.
func (s *Scorer) Score(ctx context.Context, l lead.Lead) (lead.ScoredLead, error) {
	var usage lead.Usage
	inputs := map[string]string{"lead_data": mustJSON(l)}

	research, err := s.step(ctx, reasoning.TaskLeadData, inputs, nil, &usage)
	if err != nil {
		return lead.ScoredLead{}, err
	}
	fit, err := s.step(ctx, reasoning.TaskCulturalFit, inputs, nil, &usage)
	if err != nil {
		return lead.ScoredLead{}, err
	}
	scored, err := s.step(ctx, reasoning.TaskScoring, inputs, []string{research.Text, fit.Text}, &usage)
	if err != nil {
		return lead.ScoredLead{}, err
	}

	raw := scored.JSON
	if len(raw) == 0 {
		raw = json.RawMessage(scored.Text)
	}
	out, err := ParseScore(raw)
	if err != nil {
		return lead.ScoredLead{}, err
	}
	out.Lead = l
	out.Usage = usage
	return out, nil
}

var requiredScoreKeys = []string{"personal_info", "company_info", "lead_score"}

// ParseScore decodes a structured scoring answer and validates it. Markdown code
// fences around the JSON are tolerated.
func ParseScore(raw []byte) (lead.ScoredLead, error) {
	raw = stripFences(raw)
	var present map[string]json.RawMessage
	if err := json.Unmarshal(raw, &present); err != nil {
		return lead.ScoredLead{}, &lead.ValidationError{Field: "lead_score", Reason: fmt.Sprintf("is not a JSON object: %v", err)}
	}
	for _, k := range requiredScoreKeys {
		v, ok := present[k]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return lead.ScoredLead{}, &lead.ValidationError{Field: k, Reason: "is required"}
		}
	}

	var out lead.ScoredLead
	if err := json.Unmarshal(raw, &out); err != nil {
		return lead.ScoredLead{}, &lead.ValidationError{Field: "lead_score", Reason: fmt.Sprintf("has the wrong shape: %v", err)}
	}
	// Identity fields come from the caller, never from the model.
	out.Index = 0
	out.Lead = lead.Lead{}
	out.Usage = lead.Usage{}
	if err := out.Validate(); err != nil {
		return lead.ScoredLead{}, err
	}
	return out, nil
}

func stripFences(raw []byte) []byte {
	s := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(s, "```") {
		return []byte(s)
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return []byte(strings.TrimSpace(s))
}
