package reasoning

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Task keys the pipeline looks up. Roles are resolved through each task's agent.
const (
	TaskLeadData        = "lead_data_collection"
	TaskCulturalFit     = "cultural_fit_analysis"
	TaskScoring         = "lead_scoring_and_validation"
	TaskEmailDrafting   = "email_drafting"
	TaskEmailOptimizing = "engagement_optimization"
)

var requiredTasks = []string{
	TaskLeadData,
	TaskCulturalFit,
	TaskScoring,
	TaskEmailDrafting,
	TaskEmailOptimizing,
}

//go:embed config/agents.yaml
var defaultAgentsYAML []byte

//go:embed config/tasks.yaml
var defaultTasksYAML []byte

// Config is the set of roles and tasks the pipeline's crews are built from.
type Config struct {
	Agents map[string]Role
	Tasks  map[string]Task
}

// DefaultConfig returns the built-in roles and tasks.
func DefaultConfig() (Config, error) {
	return ParseConfig(defaultAgentsYAML, defaultTasksYAML)
}

// LoadConfig reads agents and tasks YAML files. An empty path falls back to the
// built-in definitions for that file.
func LoadConfig(agentsPath, tasksPath string) (Config, error) {
	agents := defaultAgentsYAML
	tasks := defaultTasksYAML
	if p := strings.TrimSpace(agentsPath); p != "" {
		b, err := os.ReadFile(p)
		if err != nil {
			return Config{}, fmt.Errorf("read agents config: %w", err)
		}
		agents = b
	}
	if p := strings.TrimSpace(tasksPath); p != "" {
		b, err := os.ReadFile(p)
		if err != nil {
			return Config{}, fmt.Errorf("read tasks config: %w", err)
		}
		tasks = b
	}
	return ParseConfig(agents, tasks)
}

// ParseConfig decodes agents and tasks YAML documents and checks that every task
// the pipeline needs exists and points at a defined role.
func ParseConfig(agentsYAML, tasksYAML []byte) (Config, error) {
	var agents map[string]Role
	if err := decodeStrict(agentsYAML, &agents); err != nil {
		return Config{}, fmt.Errorf("parse agents config: %w", err)
	}
	var tasks map[string]Task
	if err := decodeStrict(tasksYAML, &tasks); err != nil {
		return Config{}, fmt.Errorf("parse tasks config: %w", err)
	}

	cfg := Config{
		Agents: make(map[string]Role, len(agents)),
		Tasks:  make(map[string]Task, len(tasks)),
	}
	for k, r := range agents {
		r.Key = k
		r.Role = strings.TrimSpace(r.Role)
		r.Goal = strings.TrimSpace(r.Goal)
		r.Backstory = strings.TrimSpace(r.Backstory)
		if r.Role == "" {
			return Config{}, fmt.Errorf("agent %q: role is required", k)
		}
		cfg.Agents[k] = r
	}
	for k, t := range tasks {
		t.Key = k
		t.Agent = strings.TrimSpace(t.Agent)
		t.Description = strings.TrimSpace(t.Description)
		t.ExpectedOutput = strings.TrimSpace(t.ExpectedOutput)
		switch t.Format {
		case "":
			t.Format = FormatText
		case FormatText, FormatLeadScore:
		default:
			return Config{}, fmt.Errorf("task %q: unknown format %q", k, t.Format)
		}
		if t.Description == "" {
			return Config{}, fmt.Errorf("task %q: description is required", k)
		}
		if _, ok := cfg.Agents[t.Agent]; !ok {
			return Config{}, fmt.Errorf("task %q: unknown agent %q", k, t.Agent)
		}
		cfg.Tasks[k] = t
	}

	var missing []string
	for _, k := range requiredTasks {
		if _, ok := cfg.Tasks[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Config{}, fmt.Errorf("tasks config missing %s", strings.Join(missing, ", "))
	}
	if cfg.Tasks[TaskScoring].Format != FormatLeadScore {
		return Config{}, fmt.Errorf("task %q must use format %q", TaskScoring, FormatLeadScore)
	}
	return cfg, nil
}

// Step resolves a task and the role assigned to it.
func (c Config) Step(taskKey string) (Role, Task, error) {
	t, ok := c.Tasks[taskKey]
	if !ok {
		return Role{}, Task{}, fmt.Errorf("unknown task %q", taskKey)
	}
	r, ok := c.Agents[t.Agent]
	if !ok {
		return Role{}, Task{}, fmt.Errorf("task %q: unknown agent %q", taskKey, t.Agent)
	}
	return r, t, nil
}

func decodeStrict(b []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	return dec.Decode(out)
}
