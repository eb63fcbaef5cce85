package pipeline

import "github.com/shpitdev/lead-engagement-pipeline/internal/lead"

// ScoreThreshold is the minimum score a lead needs to get an email.
const ScoreThreshold = 60

// Filter returns the leads scoring at least threshold, in input order.
func Filter(scored []lead.ScoredLead, threshold int) []lead.ScoredLead {
	out := make([]lead.ScoredLead, 0, len(scored))
	for _, s := range scored {
		if s.LeadScore.Score >= threshold {
			out = append(out, s)
		}
	}
	return out
}
