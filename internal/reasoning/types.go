// Package reasoning defines the contract between the lead pipeline and the
// external reasoning service that plays each role (data gathering, fit
// analysis, scoring, drafting, optimization).
package reasoning

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/shpitdev/lead-engagement-pipeline/internal/lead"
)

// OutputFormat selects what shape a task must answer in.
type OutputFormat string

const (
	FormatText      OutputFormat = "text"
	FormatLeadScore OutputFormat = "lead_score"
)

// Tool names a capability a role may use while answering.
type Tool string

const (
	ToolWebSearch  Tool = "web_search"
	ToolURLContext Tool = "url_context"
)

// Role configures who the service should act as.
type Role struct {
	Key       string `yaml:"-"`
	Role      string `yaml:"role"`
	Goal      string `yaml:"goal"`
	Backstory string `yaml:"backstory"`
	Tools     []Tool `yaml:"tools,omitempty"`
}

// HasTool reports whether the role is allowed to use t.
func (r Role) HasTool(t Tool) bool {
	for _, have := range r.Tools {
		if have == t {
			return true
		}
	}
	return false
}

// Task is one unit of work handed to a role.
type Task struct {
	Key            string       `yaml:"-"`
	Agent          string       `yaml:"agent"`
	Description    string       `yaml:"description"`
	ExpectedOutput string       `yaml:"expected_output"`
	Format         OutputFormat `yaml:"format,omitempty"`

	// Inputs are the variables interpolated into Description and ExpectedOutput.
	Inputs map[string]string `yaml:"-"`
	// Context holds the outputs of earlier tasks this task builds on.
	Context []string `yaml:"-"`
}

// Render returns a copy of t with {name} placeholders replaced from inputs.
// Unknown placeholders are left untouched.
func (t Task) Render(inputs map[string]string) Task {
	out := t
	out.Inputs = make(map[string]string, len(inputs))
	keys := make([]string, 0, len(inputs))
	for k, v := range inputs {
		out.Inputs[k] = v
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", inputs[k])
	}
	r := strings.NewReplacer(pairs...)
	out.Description = r.Replace(t.Description)
	out.ExpectedOutput = r.Replace(t.ExpectedOutput)
	out.Context = append([]string(nil), t.Context...)
	return out
}

// Result is what the service answered for one task.
type Result struct {
	// Text is the raw answer.
	Text string
	// JSON carries the structured answer when the task format is not FormatText.
	JSON  json.RawMessage
	Usage lead.Usage
	Model string
}

// Service runs one task as one role.
type Service interface {
	Run(ctx context.Context, role Role, task Task) (Result, error)
}

// ServiceFunc adapts a function to the Service interface.
type ServiceFunc func(ctx context.Context, role Role, task Task) (Result, error)

func (f ServiceFunc) Run(ctx context.Context, role Role, task Task) (Result, error) {
	return f(ctx, role, task)
}
