package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shpitdev/lead-engagement-pipeline/internal/crew"
	"github.com/shpitdev/lead-engagement-pipeline/internal/lead"
	"github.com/shpitdev/lead-engagement-pipeline/internal/pipeline"
	"github.com/shpitdev/lead-engagement-pipeline/internal/reasoning"
)

type sliceSource []lead.Lead

func (s sliceSource) Load(ctx context.Context) ([]lead.Lead, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]lead.Lead(nil), s...), nil
}

type errSource struct{ err error }

func (s errSource) Load(context.Context) ([]lead.Lead, error) { return nil, s.err }

// fixedScorer scores each lead by email with a preset value.
type fixedScorer struct {
	scores map[string]int
	errs   map[string]error
	calls  atomic.Int32
}

func (f *fixedScorer) Score(_ context.Context, l lead.Lead) (lead.ScoredLead, error) {
	f.calls.Add(1)
	if err := f.errs[l.Email]; err != nil {
		return lead.ScoredLead{}, err
	}
	return lead.ScoredLead{
		Lead:         l,
		PersonalInfo: lead.PersonalInfo{Name: l.Name, JobTitle: l.JobTitle, RoleRelevance: 8},
		CompanyInfo:  lead.CompanyInfo{CompanyName: l.Company, Industry: "Software", MarketPresence: 6},
		LeadScore:    lead.LeadScore{Score: f.scores[l.Email], ScoringCriteria: []string{"seniority"}},
		Usage:        lead.Usage{TotalTokens: 1000, SuccessfulRequests: 3},
	}, nil
}

type recordingDrafter struct {
	mu    sync.Mutex
	seen  []string
	errs  map[string]error
	calls atomic.Int32
}

func (d *recordingDrafter) Draft(_ context.Context, s lead.ScoredLead) (lead.EmailDraft, error) {
	d.calls.Add(1)
	d.mu.Lock()
	d.seen = append(d.seen, s.Lead.Email)
	d.mu.Unlock()
	if err := d.errs[s.Lead.Email]; err != nil {
		return lead.EmailDraft{}, err
	}
	return lead.EmailDraft{
		Index: s.Index,
		Lead:  s.Lead,
		Body:  "Hi " + s.Lead.Name,
		Usage: lead.Usage{TotalTokens: 500, SuccessfulRequests: 2},
	}, nil
}

var (
	jane = lead.Lead{Name: "Jane Doe", JobTitle: "VP Eng", Company: "Acme", Email: "jane@acme.com", UseCase: "automation"}
	sam  = lead.Lead{Name: "Sam Roe", JobTitle: "Engineer", Company: "Globex", Email: "sam@globex.test"}
	ana  = lead.Lead{Name: "Ana Lim", JobTitle: "CTO", Company: "Initech", Email: "ana@initech.test"}
)

func TestExecuteEndToEnd(t *testing.T) {
	tests := []struct {
		name         string
		score        int
		wantFiltered int
		wantDrafts   int32
	}{
		{name: "above threshold", score: 75, wantFiltered: 1, wantDrafts: 1},
		{name: "below threshold", score: 40, wantFiltered: 0, wantDrafts: 0},
		{name: "at threshold", score: 60, wantFiltered: 1, wantDrafts: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scorer := &fixedScorer{scores: map[string]int{jane.Email: tt.score}}
			drafter := &recordingDrafter{}
			p := &pipeline.Pipeline{Source: sliceSource{jane}, Scorer: scorer, Drafter: drafter}
			run := pipeline.NewRun()
			if err := p.Execute(context.Background(), run); err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if run.State != pipeline.StateDone || run.Err != nil {
				t.Fatalf("state=%s err=%v", run.State, run.Err)
			}
			if len(run.Scored) != 1 || run.Scored[0].LeadScore.Score != tt.score {
				t.Fatalf("scored=%#v", run.Scored)
			}
			if len(run.Filtered) != tt.wantFiltered {
				t.Fatalf("filtered=%d want %d", len(run.Filtered), tt.wantFiltered)
			}
			if got := drafter.calls.Load(); got != tt.wantDrafts {
				t.Fatalf("draft calls=%d want %d", got, tt.wantDrafts)
			}
			if len(run.Emails) != int(tt.wantDrafts) {
				t.Fatalf("emails=%d", len(run.Emails))
			}
			if run.ID == "" || run.StartedAt.IsZero() || run.FinishedAt.Before(run.StartedAt) {
				t.Fatalf("run bookkeeping not set: %#v", run)
			}
		})
	}
}

func TestExecuteDraftsOnlyFilteredLeadsInOrder(t *testing.T) {
	for _, workers := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			scorer := &fixedScorer{scores: map[string]int{jane.Email: 90, sam.Email: 20, ana.Email: 61}}
			drafter := &recordingDrafter{}
			p := &pipeline.Pipeline{
				Source:  sliceSource{jane, sam, ana},
				Scorer:  scorer,
				Drafter: drafter,
				Options: pipeline.Options{Workers: workers},
			}
			run := pipeline.NewRun()
			if err := p.Execute(context.Background(), run); err != nil {
				t.Fatalf("Execute: %v", err)
			}
			var scoredEmails, filteredIdx, emailIdx []string
			for _, s := range run.Scored {
				scoredEmails = append(scoredEmails, s.Lead.Email)
			}
			for _, s := range run.Filtered {
				filteredIdx = append(filteredIdx, fmt.Sprint(s.Index))
			}
			for _, d := range run.Emails {
				emailIdx = append(emailIdx, fmt.Sprint(d.Index))
			}
			if !slices.Equal(scoredEmails, []string{jane.Email, sam.Email, ana.Email}) {
				t.Fatalf("scored order=%v", scoredEmails)
			}
			if !slices.Equal(filteredIdx, []string{"0", "2"}) || !slices.Equal(emailIdx, []string{"0", "2"}) {
				t.Fatalf("filtered=%v emails=%v", filteredIdx, emailIdx)
			}
			drafter.mu.Lock()
			seen := append([]string(nil), drafter.seen...)
			drafter.mu.Unlock()
			slices.Sort(seen)
			if !slices.Equal(seen, []string{ana.Email, jane.Email}) {
				t.Fatalf("drafter saw %v", seen)
			}
		})
	}
}

func TestExecuteStates(t *testing.T) {
	var states []string
	var kinds []pipeline.EventKind
	p := &pipeline.Pipeline{
		Source:  sliceSource{jane, sam},
		Scorer:  &fixedScorer{scores: map[string]int{jane.Email: 75, sam.Email: 10}},
		Drafter: &recordingDrafter{},
		Options: pipeline.Options{OnEvent: func(ev pipeline.Event) {
			kinds = append(kinds, ev.Kind)
			if ev.Kind == pipeline.EventState {
				states = append(states, ev.State.String())
			}
		}},
	}
	run := pipeline.NewRun()
	if err := p.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := []string{"fetching-leads", "scoring", "filtering", "drafting", "done"}
	if !slices.Equal(states, want) {
		t.Fatalf("states=%v want %v", states, want)
	}
	var scored, drafted int
	for _, k := range kinds {
		switch k {
		case pipeline.EventLeadScored:
			scored++
		case pipeline.EventEmailDrafted:
			drafted++
		}
	}
	if scored != 2 || drafted != 1 {
		t.Fatalf("scored events=%d drafted events=%d", scored, drafted)
	}
}

func TestExecuteFailures(t *testing.T) {
	t.Run("missing input fails the run", func(t *testing.T) {
		p := &pipeline.Pipeline{Source: errSource{err: lead.ErrInputNotFound}, Scorer: &fixedScorer{}, Drafter: &recordingDrafter{}}
		run := pipeline.NewRun()
		err := p.Execute(context.Background(), run)
		if !errors.Is(err, lead.ErrInputNotFound) {
			t.Fatalf("expected ErrInputNotFound, got %v", err)
		}
		if run.State != pipeline.StateFailed || !errors.Is(run.Err, lead.ErrInputNotFound) {
			t.Fatalf("state=%s err=%v", run.State, run.Err)
		}
	})

	t.Run("scoring error aborts by default", func(t *testing.T) {
		boom := &crew.CallError{Role: "scoring_validation_agent", Task: reasoning.TaskScoring, Err: errors.New("boom")}
		drafter := &recordingDrafter{}
		p := &pipeline.Pipeline{
			Source:  sliceSource{jane, sam},
			Scorer:  &fixedScorer{scores: map[string]int{jane.Email: 90}, errs: map[string]error{sam.Email: boom}},
			Drafter: drafter,
		}
		run := pipeline.NewRun()
		err := p.Execute(context.Background(), run)
		var ce *crew.CallError
		if !errors.As(err, &ce) {
			t.Fatalf("expected CallError, got %v", err)
		}
		if run.State != pipeline.StateFailed || drafter.calls.Load() != 0 || len(run.Failures) != 0 {
			t.Fatalf("state=%s drafts=%d failures=%v", run.State, drafter.calls.Load(), run.Failures)
		}
	})

	t.Run("isolated failures keep going", func(t *testing.T) {
		p := &pipeline.Pipeline{
			Source:  sliceSource{jane, sam, ana},
			Scorer:  &fixedScorer{scores: map[string]int{jane.Email: 90, ana.Email: 80}, errs: map[string]error{sam.Email: errors.New("api_key=abc123 rejected")}},
			Drafter: &recordingDrafter{errs: map[string]error{ana.Email: errors.New("quota")}},
			Options: pipeline.Options{IsolateFailures: true},
		}
		run := pipeline.NewRun()
		if err := p.Execute(context.Background(), run); err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if run.State != pipeline.StateDone {
			t.Fatalf("state=%s", run.State)
		}
		if len(run.Scored) != 2 || len(run.Emails) != 1 || run.Emails[0].Lead != jane {
			t.Fatalf("scored=%d emails=%#v", len(run.Scored), run.Emails)
		}
		if len(run.Failures) != 2 {
			t.Fatalf("failures=%#v", run.Failures)
		}
		if run.Failures[0].Stage != pipeline.StateScoring || run.Failures[0].Index != 1 {
			t.Fatalf("first failure=%#v", run.Failures[0])
		}
		if run.Failures[1].Stage != pipeline.StateDrafting || run.Failures[1].Index != 2 {
			t.Fatalf("second failure=%#v", run.Failures[1])
		}
		if run.Failures[0].Attempts != 1 || run.Failures[1].Attempts != 1 {
			t.Fatalf("attempts=%d,%d", run.Failures[0].Attempts, run.Failures[1].Attempts)
		}
		rep := pipeline.Aggregate(run, 0)
		if len(rep.Failures) != 2 || strings.Contains(rep.Failures[0], "abc123") || !strings.Contains(rep.Failures[0], "after 1 attempt(s)") {
			t.Fatalf("report failures=%v", rep.Failures)
		}
	})

	t.Run("out of range score aborts by default", func(t *testing.T) {
		drafter := &recordingDrafter{}
		p := &pipeline.Pipeline{
			Source:  sliceSource{jane, sam},
			Scorer:  &fixedScorer{scores: map[string]int{jane.Email: 150, sam.Email: 70}},
			Drafter: drafter,
		}
		run := pipeline.NewRun()
		err := p.Execute(context.Background(), run)
		var ve *lead.ValidationError
		if !errors.As(err, &ve) || ve.Field != "lead_score.score" {
			t.Fatalf("expected ValidationError on lead_score.score, got %v", err)
		}
		if run.State != pipeline.StateFailed || drafter.calls.Load() != 0 {
			t.Fatalf("state=%s drafts=%d", run.State, drafter.calls.Load())
		}
	})

	t.Run("out of range score is isolated", func(t *testing.T) {
		drafter := &recordingDrafter{}
		p := &pipeline.Pipeline{
			Source:  sliceSource{jane, sam},
			Scorer:  &fixedScorer{scores: map[string]int{jane.Email: 150, sam.Email: 70}},
			Drafter: drafter,
			Options: pipeline.Options{IsolateFailures: true},
		}
		run := pipeline.NewRun()
		if err := p.Execute(context.Background(), run); err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if len(run.Scored) != 1 || run.Scored[0].Lead != sam || len(run.Filtered) != 1 {
			t.Fatalf("scored=%#v", run.Scored)
		}
		if len(run.Failures) != 1 || run.Failures[0].Stage != pipeline.StateScoring || run.Failures[0].Index != 0 {
			t.Fatalf("failures=%#v", run.Failures)
		}
		if !slices.Equal(drafter.seen, []string{sam.Email}) {
			t.Fatalf("drafted=%v", drafter.seen)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		p := &pipeline.Pipeline{Source: sliceSource{jane}, Scorer: &fixedScorer{}, Drafter: &recordingDrafter{}}
		run := pipeline.NewRun()
		if err := p.Execute(ctx, run); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if run.State != pipeline.StateFailed {
			t.Fatalf("state=%s", run.State)
		}
	})
}

func TestExecuteResetsAndRejectsInProgress(t *testing.T) {
	scorer := &fixedScorer{scores: map[string]int{jane.Email: 75}}
	p := &pipeline.Pipeline{Source: sliceSource{jane}, Scorer: scorer, Drafter: &recordingDrafter{}}
	run := pipeline.NewRun()
	if err := p.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	firstID := run.ID

	p.Source = sliceSource{}
	if err := p.Execute(context.Background(), run); err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if run.ID == firstID || len(run.Scored) != 0 || len(run.Emails) != 0 {
		t.Fatalf("run not reset: %#v", run)
	}

	run.State = pipeline.StateScoring
	if err := p.Execute(context.Background(), run); !errors.Is(err, pipeline.ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
	if run.State != pipeline.StateScoring {
		t.Fatalf("rejected run must not be touched, state=%s", run.State)
	}
}

func TestExecuteEmptyInput(t *testing.T) {
	p := &pipeline.Pipeline{Source: sliceSource{}, Scorer: &fixedScorer{}, Drafter: &recordingDrafter{}}
	run := pipeline.NewRun()
	if err := p.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	rep := pipeline.Aggregate(run, 0)
	if len(rep.Scores) != 0 || len(rep.Filtered.Rows) != 0 || len(rep.Emails) != 0 || len(rep.Costs) != 0 || rep.TotalCost() != 0 {
		t.Fatalf("expected empty report, got %#v", rep)
	}
}

func TestExecuteWithStubService(t *testing.T) {
	cfg, err := reasoning.DefaultConfig()
	if err != nil {
		t.Fatalf("DefaultConfig: %v", err)
	}
	p := &pipeline.Pipeline{
		Source:  sliceSource{jane, sam},
		Scorer:  crew.NewScorer(cfg, reasoning.Stub{}),
		Drafter: crew.NewDrafter(cfg, reasoning.Stub{}),
	}
	run := pipeline.NewRun()
	if err := p.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(run.Filtered) != 1 || run.Filtered[0].Lead != jane || len(run.Emails) != 1 {
		t.Fatalf("filtered=%#v emails=%d", run.Filtered, len(run.Emails))
	}
}
