package reasoning_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shpitdev/lead-engagement-pipeline/internal/reasoning"
)

func TestDefaultConfig(t *testing.T) {
	cfg, err := reasoning.DefaultConfig()
	if err != nil {
		t.Fatalf("DefaultConfig: %v", err)
	}
	for _, key := range []string{
		reasoning.TaskLeadData,
		reasoning.TaskCulturalFit,
		reasoning.TaskScoring,
		reasoning.TaskEmailDrafting,
		reasoning.TaskEmailOptimizing,
	} {
		role, task, err := cfg.Step(key)
		if err != nil {
			t.Fatalf("Step(%s): %v", key, err)
		}
		if task.Key != key || role.Key != task.Agent || role.Role == "" {
			t.Fatalf("Step(%s) returned role=%#v task=%#v", key, role, task)
		}
	}

	role, task, _ := cfg.Step(reasoning.TaskScoring)
	if task.Format != reasoning.FormatLeadScore {
		t.Fatalf("scoring format=%q", task.Format)
	}
	if role.HasTool(reasoning.ToolWebSearch) {
		t.Fatalf("scoring role should not search")
	}
	role, _, _ = cfg.Step(reasoning.TaskLeadData)
	if !role.HasTool(reasoning.ToolWebSearch) || !role.HasTool(reasoning.ToolURLContext) {
		t.Fatalf("lead data role tools=%v", role.Tools)
	}
	_, task, _ = cfg.Step(reasoning.TaskEmailDrafting)
	if task.Format != reasoning.FormatText {
		t.Fatalf("drafting format=%q", task.Format)
	}
}

const minimalAgents = `
a:
  role: Researcher
`

func minimalTasks(scoringFormat string) string {
	var b strings.Builder
	for _, k := range []string{
		reasoning.TaskLeadData,
		reasoning.TaskCulturalFit,
		reasoning.TaskScoring,
		reasoning.TaskEmailDrafting,
		reasoning.TaskEmailOptimizing,
	} {
		b.WriteString(k + ":\n  agent: a\n  description: do " + k + "\n")
		if k == reasoning.TaskScoring && scoringFormat != "" {
			b.WriteString("  format: " + scoringFormat + "\n")
		}
	}
	return b.String()
}

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name    string
		agents  string
		tasks   string
		wantErr string
	}{
		{name: "minimal", agents: minimalAgents, tasks: minimalTasks("lead_score")},
		{name: "scoring must be structured", agents: minimalAgents, tasks: minimalTasks(""), wantErr: "must use format"},
		{name: "unknown format", agents: minimalAgents, tasks: minimalTasks("xml"), wantErr: "unknown format"},
		{name: "missing task", agents: minimalAgents, tasks: "email_drafting:\n  agent: a\n  description: x\n", wantErr: "missing"},
		{name: "unknown agent", agents: minimalAgents, tasks: strings.Replace(minimalTasks("lead_score"), "agent: a", "agent: b", 1), wantErr: "unknown agent"},
		{name: "role required", agents: "a:\n  goal: g\n", tasks: minimalTasks("lead_score"), wantErr: "role is required"},
		{name: "unknown field", agents: "a:\n  role: r\n  llm: gpt\n", tasks: minimalTasks("lead_score"), wantErr: "parse agents config"},
		{name: "empty description", agents: minimalAgents, tasks: strings.Replace(minimalTasks("lead_score"), "description: do "+reasoning.TaskLeadData, "description: \"  \"", 1), wantErr: "description is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reasoning.ParseConfig([]byte(tt.agents), []byte(tt.tasks))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("empty paths use defaults", func(t *testing.T) {
		cfg, err := reasoning.LoadConfig("", "")
		if err != nil {
			t.Fatalf("LoadConfig: %v", err)
		}
		if len(cfg.Agents) != 5 {
			t.Fatalf("agents=%d", len(cfg.Agents))
		}
	})

	t.Run("override agents file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "agents.yaml")
		agents := `
lead_data_agent: {role: R1}
cultural_fit_agent: {role: R2}
scoring_validation_agent: {role: R3}
email_content_specialist: {role: R4}
engagement_strategist: {role: Closer}
`
		if err := os.WriteFile(path, []byte(agents), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		cfg, err := reasoning.LoadConfig(path, "")
		if err != nil {
			t.Fatalf("LoadConfig: %v", err)
		}
		role, _, err := cfg.Step(reasoning.TaskEmailOptimizing)
		if err != nil || role.Role != "Closer" {
			t.Fatalf("role=%#v err=%v", role, err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := reasoning.LoadConfig("", filepath.Join(t.TempDir(), "missing.yaml"))
		if err == nil || !strings.Contains(err.Error(), "read tasks config") {
			t.Fatalf("expected read error, got %v", err)
		}
	})
}

func TestStepUnknownTask(t *testing.T) {
	cfg, err := reasoning.DefaultConfig()
	if err != nil {
		t.Fatalf("DefaultConfig: %v", err)
	}
	if _, _, err := cfg.Step("nope"); err == nil {
		t.Fatalf("expected error")
	}
}
