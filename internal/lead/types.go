// Package lead holds the lead records that flow through the engagement
// pipeline and the validation rules every scored lead must satisfy.
package lead

import (
	"fmt"
	"strings"
)

const (
	MaxRoleRelevance  = 10
	MaxMarketPresence = 10
	MaxScore          = 100
)

// Lead is one raw input row. It is not modified after the reader creates it.
type Lead struct {
	Name     string `json:"name"`
	JobTitle string `json:"job_title"`
	Company  string `json:"company"`
	Email    string `json:"email"`
	UseCase  string `json:"use_case"`
}

// PersonalInfo describes the person behind a lead.
type PersonalInfo struct {
	Name                   string `json:"name"`
	JobTitle               string `json:"job_title"`
	RoleRelevance          int    `json:"role_relevance"`
	ProfessionalBackground string `json:"professional_background,omitempty"`
}

// CompanyInfo describes the lead's employer.
type CompanyInfo struct {
	CompanyName    string   `json:"company_name"`
	Industry       string   `json:"industry"`
	CompanySize    int      `json:"company_size"`
	Revenue        *float64 `json:"revenue,omitempty"`
	MarketPresence int      `json:"market_presence"`
}

// LeadScore is the final score and the criteria that produced it.
type LeadScore struct {
	Score           int      `json:"score"`
	ScoringCriteria []string `json:"scoring_criteria"`
	ValidationNotes string   `json:"validation_notes,omitempty"`
}

// Usage counts tokens spent by the reasoning service on one unit of work.
type Usage struct {
	PromptTokens       int `json:"prompt_tokens"`
	CompletionTokens   int `json:"completion_tokens"`
	TotalTokens        int `json:"total_tokens"`
	SuccessfulRequests int `json:"successful_requests"`
}

// Add returns the element-wise sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:       u.PromptTokens + other.PromptTokens,
		CompletionTokens:   u.CompletionTokens + other.CompletionTokens,
		TotalTokens:        u.TotalTokens + other.TotalTokens,
		SuccessfulRequests: u.SuccessfulRequests + other.SuccessfulRequests,
	}
}

// ScoredLead is the scoring result for one Lead. Index is the lead's row
// position in the input file.
type ScoredLead struct {
	Index        int          `json:"index"`
	Lead         Lead         `json:"lead"`
	PersonalInfo PersonalInfo `json:"personal_info"`
	CompanyInfo  CompanyInfo  `json:"company_info"`
	LeadScore    LeadScore    `json:"lead_score"`
	Usage        Usage        `json:"usage"`
}

// Validate enforces the numeric ranges of a scored lead.
func (s ScoredLead) Validate() error {
	if err := checkRange("personal_info.role_relevance", s.PersonalInfo.RoleRelevance, 0, MaxRoleRelevance); err != nil {
		return err
	}
	if err := checkRange("company_info.market_presence", s.CompanyInfo.MarketPresence, 0, MaxMarketPresence); err != nil {
		return err
	}
	if s.CompanyInfo.CompanySize < 0 {
		return &ValidationError{Field: "company_info.company_size", Reason: fmt.Sprintf("must not be negative (got %d)", s.CompanyInfo.CompanySize)}
	}
	if s.CompanyInfo.Revenue != nil && *s.CompanyInfo.Revenue < 0 {
		return &ValidationError{Field: "company_info.revenue", Reason: fmt.Sprintf("must not be negative (got %g)", *s.CompanyInfo.Revenue)}
	}
	if err := checkRange("lead_score.score", s.LeadScore.Score, 0, MaxScore); err != nil {
		return err
	}
	for i, c := range s.LeadScore.ScoringCriteria {
		if strings.TrimSpace(c) == "" {
			return &ValidationError{Field: fmt.Sprintf("lead_score.scoring_criteria[%d]", i), Reason: "must not be empty"}
		}
	}
	return nil
}

func checkRange(field string, v, lo, hi int) error {
	if v < lo || v > hi {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("must be in [%d, %d] (got %d)", lo, hi, v)}
	}
	return nil
}

// EmailDraft is the optimized outreach email for one retained lead.
type EmailDraft struct {
	Index int    `json:"index"`
	Lead  Lead   `json:"lead"`
	Body  string `json:"body"`
	Usage Usage  `json:"usage"`
}

// Target names the lead a draft is addressed to, e.g. "Jane Doe <jane@acme.com>".
func (d EmailDraft) Target() string {
	name := strings.TrimSpace(d.Lead.Name)
	email := strings.TrimSpace(d.Lead.Email)
	switch {
	case name == "":
		return email
	case email == "":
		return name
	default:
		return name + " <" + email + ">"
	}
}
