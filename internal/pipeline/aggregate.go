package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/shpitdev/lead-engagement-pipeline/internal/lead"
	"github.com/shpitdev/lead-engagement-pipeline/pkg/pipeline/redact"
)

// DefaultCostRate is the price in USD per million tokens.
const DefaultCostRate = 0.150

// EmailWidth is the column the email bodies are wrapped at.
const EmailWidth = 80

// Cost returns the price of tokens at rate USD per million tokens.
func Cost(tokens int, rate float64) float64 {
	return rate * float64(tokens) / 1_000_000
}

type Table struct {
	Title   string
	Columns []string
	Rows    [][]string
}

type EmailBlock struct {
	Title  string
	Target string
	Body   string
}

// CostLine is the spend for one scored lead. EmailUsage is zero when the lead
// was not drafted.
type CostLine struct {
	Index   int
	Name    string
	Company string

	ScoringUsage lead.Usage
	EmailUsage   lead.Usage
	ScoringCost  float64
	EmailCost    float64
}

func (c CostLine) Total() float64 {
	return c.ScoringCost + c.EmailCost
}

// Report is a run shaped for display.
type Report struct {
	RunID    string
	State    State
	Scores   []Table
	Filtered Table
	Emails   []EmailBlock
	Costs    []CostLine
	Failures []string
}

// TotalCost sums every cost line.
func (r Report) TotalCost() float64 {
	var total float64
	for _, c := range r.Costs {
		total += c.Total()
	}
	return total
}

var (
	scoreAttributes = []string{
		"Name",
		"Job Title",
		"Role Relevance",
		"Professional Background",
		"Company Name",
		"Industry",
		"Company Size",
		"Revenue",
		"Market Presence",
		"Lead Score",
		"Scoring Criteria",
		"Validation Notes",
	}
	filteredColumns = []string{
		"Name",
		"Job Title",
		"Role Relevance",
		"Professional Background",
		"Company Name",
		"Industry",
		"Lead Score",
		"Validation Notes",
	}
)

// ScoreAttributes returns the attribute names of a lead score table.
func ScoreAttributes() []string {
	return append([]string(nil), scoreAttributes...)
}

// FilteredColumns returns the column names of the filtered leads table.
func FilteredColumns() []string {
	return append([]string(nil), filteredColumns...)
}

// Aggregate shapes run into tables, email blocks and cost lines. rate <= 0
// uses DefaultCostRate. It never fails; an empty run yields an empty report.
func Aggregate(run *Run, rate float64) Report {
	if rate <= 0 {
		rate = DefaultCostRate
	}
	rep := Report{Filtered: Table{Title: "Filtered Leads", Columns: FilteredColumns()}}
	if run == nil {
		return rep
	}
	rep.RunID = run.ID
	rep.State = run.State

	scoredByIndex := make(map[int]lead.ScoredLead, len(run.Scored))
	for _, s := range run.Scored {
		scoredByIndex[s.Index] = s
		values := ScoreRow(s)
		rows := make([][]string, len(scoreAttributes))
		for i, attr := range scoreAttributes {
			rows[i] = []string{attr, values[i]}
		}
		rep.Scores = append(rep.Scores, Table{
			Title:   fmt.Sprintf("Lead Score - %s", displayName(s)),
			Columns: []string{"Attribute", "Value"},
			Rows:    rows,
		})
	}

	for _, s := range run.Filtered {
		rep.Filtered.Rows = append(rep.Filtered.Rows, FilteredRow(s))
	}

	draftByIndex := make(map[int]lead.EmailDraft, len(run.Emails))
	for _, d := range run.Emails {
		draftByIndex[d.Index] = d
		company := d.Lead.Company
		if s, ok := scoredByIndex[d.Index]; ok {
			company = firstNonBlank(s.CompanyInfo.CompanyName, company)
		}
		rep.Emails = append(rep.Emails, EmailBlock{
			Title:  "Generated Email - " + company,
			Target: d.Target(),
			Body:   WrapEmail(d.Body),
		})
	}

	// Every scored lead is priced, drafted or not; email usage joins by index.
	for _, s := range run.Scored {
		d := draftByIndex[s.Index]
		rep.Costs = append(rep.Costs, CostLine{
			Index:        s.Index,
			Name:         firstNonBlank(s.PersonalInfo.Name, s.Lead.Name),
			Company:      firstNonBlank(s.CompanyInfo.CompanyName, s.Lead.Company),
			ScoringUsage: s.Usage,
			EmailUsage:   d.Usage,
			ScoringCost:  Cost(s.Usage.TotalTokens, rate),
			EmailCost:    Cost(d.Usage.TotalTokens, rate),
		})
	}

	for _, f := range run.Failures {
		msg := "<nil>"
		if f.Err != nil {
			msg = redact.Error(f.Err)
		}
		rep.Failures = append(rep.Failures, fmt.Sprintf("%s: row %d (%s) after %d attempt(s): %s", f.Stage, f.Index+1, firstNonBlank(f.Lead.Name, f.Lead.Email, "unnamed"), f.Attempts, msg))
	}
	return rep
}

// ScoreRow returns a scored lead's values in ScoreAttributes order.
func ScoreRow(s lead.ScoredLead) []string {
	revenue := "N/A"
	if s.CompanyInfo.Revenue != nil {
		revenue = strconv.FormatFloat(*s.CompanyInfo.Revenue, 'f', -1, 64)
	}
	return []string{
		s.PersonalInfo.Name,
		s.PersonalInfo.JobTitle,
		strconv.Itoa(s.PersonalInfo.RoleRelevance),
		s.PersonalInfo.ProfessionalBackground,
		s.CompanyInfo.CompanyName,
		s.CompanyInfo.Industry,
		strconv.Itoa(s.CompanyInfo.CompanySize),
		revenue,
		strconv.Itoa(s.CompanyInfo.MarketPresence),
		strconv.Itoa(s.LeadScore.Score),
		strings.Join(s.LeadScore.ScoringCriteria, ", "),
		s.LeadScore.ValidationNotes,
	}
}

// FilteredRow returns a scored lead's values in FilteredColumns order.
func FilteredRow(s lead.ScoredLead) []string {
	return []string{
		s.PersonalInfo.Name,
		s.PersonalInfo.JobTitle,
		strconv.Itoa(s.PersonalInfo.RoleRelevance),
		s.PersonalInfo.ProfessionalBackground,
		s.CompanyInfo.CompanyName,
		s.CompanyInfo.Industry,
		strconv.Itoa(s.LeadScore.Score),
		s.LeadScore.ValidationNotes,
	}
}

// WrapEmail wraps body at EmailWidth columns, keeping its line breaks. Words
// longer than a line, such as URLs, are broken.
func WrapEmail(body string) string {
	return ansi.Wrap(strings.TrimSpace(body), EmailWidth, "")
}

func displayName(s lead.ScoredLead) string {
	return firstNonBlank(s.PersonalInfo.Name, s.Lead.Name, s.Lead.Email, "unnamed")
}

func firstNonBlank(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
