package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shpitdev/lead-engagement-pipeline/internal/reasoning"
	"github.com/shpitdev/lead-engagement-pipeline/pkg/pipeline/redact"
	"github.com/shpitdev/lead-engagement-pipeline/pkg/pipeline/worker"
)

// tracedService logs every reasoning request and response. Attempts are counted
// per role, task and input so retries show up in the log.
type tracedService struct {
	next           reasoning.Service
	logger         *log.Logger
	maxRetries     int
	requestTimeout time.Duration

	runID atomic.Pointer[string]

	mu       sync.Mutex
	attempts map[string]int
}

func newTracedService(next reasoning.Service, logger *log.Logger, maxRetries int, requestTimeout time.Duration) *tracedService {
	t := &tracedService{
		next:           next,
		logger:         logger,
		maxRetries:     maxRetries,
		requestTimeout: requestTimeout,
		attempts:       make(map[string]int),
	}
	t.setRun("")
	return t
}

// setRun starts a new run: the attempt counters are cleared.
func (t *tracedService) setRun(id string) {
	t.runID.Store(&id)
	t.mu.Lock()
	t.attempts = make(map[string]int)
	t.mu.Unlock()
}

func (t *tracedService) Run(ctx context.Context, role reasoning.Role, task reasoning.Task) (reasoning.Result, error) {
	runID := *t.runID.Load()
	attempt := t.nextAttempt(role, task)
	reqJSON, _ := json.Marshal(task.Inputs)

	deadlineIn := "none"
	if d, ok := ctx.Deadline(); ok {
		deadlineIn = time.Until(d).Round(time.Millisecond).String()
	}
	t.logger.Printf(
		"run=%s reasoning request: role=%q task=%s attempt=%d timeout=%s deadlineIn=%s contextSteps=%d inputs=%s",
		runID,
		role.Role,
		task.Key,
		attempt,
		t.requestTimeout,
		deadlineIn,
		len(task.Context),
		redact.Secrets(string(reqJSON)),
	)

	start := time.Now()
	out, err := t.next.Run(ctx, role, task)
	elapsed := time.Since(start).Round(time.Millisecond)

	if err != nil {
		maxRetries := maxRetryBudgetForErr(t.maxRetries, err)
		retryable := worker.IsTransient(err)
		willRetry := retryable && attempt <= maxRetries
		t.logger.Printf(
			"run=%s reasoning response: role=%q task=%s attempt=%d duration=%s status=error retryable=%t willRetry=%t maxExtraRetries=%d error=%q",
			runID,
			role.Role,
			task.Key,
			attempt,
			elapsed,
			retryable,
			willRetry,
			maxRetries,
			redact.Error(err),
		)
		return out, err
	}

	t.logger.Printf(
		"run=%s reasoning response: role=%q task=%s attempt=%d duration=%s status=ok model=%s promptTokens=%d completionTokens=%d totalTokens=%d chars=%d",
		runID,
		role.Role,
		task.Key,
		attempt,
		elapsed,
		out.Model,
		out.Usage.PromptTokens,
		out.Usage.CompletionTokens,
		out.Usage.TotalTokens,
		len(out.Text),
	)
	return out, nil
}

func (t *tracedService) nextAttempt(role reasoning.Role, task reasoning.Task) int {
	key := fmt.Sprintf("%s|%s|%s", role.Key, task.Key, task.Description)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts[key]++
	return t.attempts[key]
}

type retryCap interface {
	MaxExtraRetries() int
}

func maxRetryBudgetForErr(defaultMax int, err error) int {
	if defaultMax < 0 {
		defaultMax = 0
	}
	var capErr retryCap
	if errors.As(err, &capErr) {
		capMax := capErr.MaxExtraRetries()
		if capMax < 0 {
			capMax = 0
		}
		if capMax < defaultMax {
			return capMax
		}
	}
	return defaultMax
}
