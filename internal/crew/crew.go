// Package crew runs the multi-role call sequences that score a lead and draft
// its outreach email.
package crew

import (
	"context"
	"encoding/json"

	"github.com/shpitdev/lead-engagement-pipeline/internal/lead"
	"github.com/shpitdev/lead-engagement-pipeline/internal/reasoning"
)

// crew binds a role/task configuration to the service that plays the roles.
type crew struct {
	cfg     reasoning.Config
	service reasoning.Service
}

// step runs one configured task and sums its usage into total.
func (c crew) step(ctx context.Context, taskKey string, inputs map[string]string, prior []string, total *lead.Usage) (reasoning.Result, error) {
	role, task, err := c.cfg.Step(taskKey)
	if err != nil {
		return reasoning.Result{}, err
	}
	task = task.Render(inputs)
	task.Context = prior

	res, err := c.service.Run(ctx, role, task)
	if err != nil {
		return res, &CallError{Role: role.Key, Task: task.Key, Err: err}
	}
	*total = total.Add(res.Usage)
	return res, nil
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
