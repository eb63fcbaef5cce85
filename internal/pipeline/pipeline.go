package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/shpitdev/lead-engagement-pipeline/internal/lead"
	"github.com/shpitdev/lead-engagement-pipeline/pkg/pipeline/core"
	"github.com/shpitdev/lead-engagement-pipeline/pkg/pipeline/worker"
)

type Scorer interface {
	Score(ctx context.Context, l lead.Lead) (lead.ScoredLead, error)
}

type Drafter interface {
	Draft(ctx context.Context, scored lead.ScoredLead) (lead.EmailDraft, error)
}

type Options struct {
	// Workers bounds per-stage fan-out. <=0 processes one lead at a time.
	Workers    int
	MaxRetries int
	// RequestTimeout bounds one scoring or drafting attempt. <=0 disables it.
	RequestTimeout time.Duration
	RateLimitRPS   float64

	// IsolateFailures records per-lead errors in Run.Failures and keeps going
	// instead of failing the run.
	IsolateFailures bool

	// OnEvent receives progress events. It is always called from the goroutine
	// running Execute.
	OnEvent func(Event)
}

func (o Options) workerOptions() worker.Options {
	policy := worker.FailurePolicyFailFast
	if o.IsolateFailures {
		policy = worker.FailurePolicyPartialOutput
	}
	return worker.Options{
		Workers:           o.Workers,
		MaxRetries:        o.MaxRetries,
		RequestTimeout:    o.RequestTimeout,
		RateLimitRPS:      o.RateLimitRPS,
		FailurePolicy:     policy,
		BackoffInitial:    200 * time.Millisecond,
		BackoffMax:        2 * time.Second,
		BackoffJitterFrac: 0.2,
	}
}

// Pipeline wires the lead source and the two crews together.
type Pipeline struct {
	Source  core.InputAdapter[lead.Lead]
	Scorer  Scorer
	Drafter Drafter
	Options Options
}

// Execute resets run and takes it through fetching, scoring, filtering and
// drafting. On error the run ends in StateFailed with Err set, and the error is
// returned. A run that is still executing is rejected with ErrRunInProgress.
func (p *Pipeline) Execute(ctx context.Context, run *Run) error {
	if run == nil {
		return fmt.Errorf("pipeline: nil run")
	}
	if run.State != StateIdle && !run.State.Terminal() {
		return ErrRunInProgress
	}
	run.reset()
	run.StartedAt = time.Now()

	err := p.execute(ctx, run)
	run.FinishedAt = time.Now()
	if err != nil {
		run.Err = err
		p.transition(run, StateFailed)
		return err
	}
	p.transition(run, StateDone)
	return nil
}

func (p *Pipeline) execute(ctx context.Context, run *Run) error {
	if p.Source == nil || p.Scorer == nil || p.Drafter == nil {
		return fmt.Errorf("pipeline: source, scorer and drafter are required")
	}
	opts := p.Options.workerOptions()

	p.transition(run, StateFetchingLeads)
	leads, err := p.Source.Load(ctx)
	if err != nil {
		return err
	}
	run.Leads = leads

	p.transition(run, StateScoring)
	scored, err := worker.ProcessAllWithCallback(ctx, leads,
		func(ctx context.Context, l lead.Lead) (lead.ScoredLead, error) {
			s, err := p.Scorer.Score(ctx, l)
			if err != nil {
				return s, err
			}
			if err := s.Validate(); err != nil {
				return s, fmt.Errorf("score %q: %w", l.Email, err)
			}
			return s, nil
		},
		func(res worker.Result[lead.Lead, lead.ScoredLead]) error {
			if res.Err != nil {
				p.fail(run, res.Index, len(leads), res.Input, res.Attempts, res.Err)
				return nil
			}
			p.emit(run, Event{Kind: EventLeadScored, Index: res.Index, Total: len(leads), Lead: res.Input, Score: res.Output.LeadScore.Score})
			return nil
		},
		opts,
	)
	if err != nil {
		return err
	}
	run.Scored = make([]lead.ScoredLead, 0, len(scored))
	for _, res := range scored {
		if res.Err != nil {
			run.Failures = append(run.Failures, Failure{Stage: StateScoring, Index: res.Index, Lead: res.Input, Attempts: res.Attempts, Err: res.Err})
			continue
		}
		s := res.Output
		s.Index = res.Index
		s.Lead = res.Input
		run.Scored = append(run.Scored, s)
	}

	p.transition(run, StateFiltering)
	run.Filtered = Filter(run.Scored, ScoreThreshold)

	p.transition(run, StateDrafting)
	drafts, err := worker.ProcessAllWithCallback(ctx, run.Filtered,
		func(ctx context.Context, s lead.ScoredLead) (lead.EmailDraft, error) {
			return p.Drafter.Draft(ctx, s)
		},
		func(res worker.Result[lead.ScoredLead, lead.EmailDraft]) error {
			if res.Err != nil {
				p.fail(run, res.Input.Index, len(run.Filtered), res.Input.Lead, res.Attempts, res.Err)
				return nil
			}
			p.emit(run, Event{Kind: EventEmailDrafted, Index: res.Input.Index, Total: len(run.Filtered), Lead: res.Input.Lead, Score: res.Input.LeadScore.Score})
			return nil
		},
		opts,
	)
	if err != nil {
		return err
	}
	run.Emails = make([]lead.EmailDraft, 0, len(drafts))
	for _, res := range drafts {
		if res.Err != nil {
			run.Failures = append(run.Failures, Failure{Stage: StateDrafting, Index: res.Input.Index, Lead: res.Input.Lead, Attempts: res.Attempts, Err: res.Err})
			continue
		}
		d := res.Output
		d.Index = res.Input.Index
		d.Lead = res.Input.Lead
		run.Emails = append(run.Emails, d)
	}
	return nil
}

func (p *Pipeline) fail(run *Run, index, total int, l lead.Lead, attempts int, err error) {
	p.emit(run, Event{Kind: EventLeadFailed, Index: index, Total: total, Lead: l, Attempts: attempts, Err: err})
}

func (p *Pipeline) transition(run *Run, s State) {
	run.State = s
	ev := Event{Kind: EventState}
	if s == StateFailed {
		ev.Err = run.Err
	}
	p.emit(run, ev)
}

func (p *Pipeline) emit(run *Run, ev Event) {
	if p.Options.OnEvent == nil {
		return
	}
	ev.RunID = run.ID
	ev.State = run.State
	ev.Time = time.Now()
	p.Options.OnEvent(ev)
}
