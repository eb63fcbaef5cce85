// Package app wires the lead pipeline to its inputs, outputs and publishers.
package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/shpitdev/lead-engagement-pipeline/internal/crew"
	"github.com/shpitdev/lead-engagement-pipeline/internal/lead"
	"github.com/shpitdev/lead-engagement-pipeline/internal/pipeline"
	"github.com/shpitdev/lead-engagement-pipeline/internal/reasoning"
	"github.com/shpitdev/lead-engagement-pipeline/pkg/pipeline/core"
	"github.com/shpitdev/lead-engagement-pipeline/pkg/pipeline/redact"
)

// ScoreSink persists the scored leads of a run.
type ScoreSink interface {
	ForRun(runID string) core.OutputAdapter[lead.ScoredLead]
}

// DraftSink hands the drafted emails of a run to delivery.
type DraftSink interface {
	ForRun(runID string) core.OutputAdapter[lead.EmailDraft]
}

// ReportSink archives the report of a run and returns where it was stored.
type ReportSink interface {
	Put(ctx context.Context, run *pipeline.Run, rep pipeline.Report) (string, error)
}

// Runner executes pipeline runs against one reasoning backend. Publishers are
// optional and only called after a run succeeds.
type Runner struct {
	Service reasoning.Service
	Config  reasoning.Config
	Options pipeline.Options

	// CostRate is USD per million tokens. <=0 uses pipeline.DefaultCostRate.
	CostRate float64

	Scores  ScoreSink
	Drafts  DraftSink
	Reports ReportSink

	// Logger receives run logs. nil logs to stdout.
	Logger *log.Logger
}

func (r *Runner) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.New(os.Stdout, "", log.LstdFlags)
}

// Execute runs the pipeline over src into run and publishes the results. The
// returned report reflects run even when the pipeline failed.
func (r *Runner) Execute(ctx context.Context, run *pipeline.Run, src core.InputAdapter[lead.Lead]) (pipeline.Report, error) {
	if r.Service == nil {
		return pipeline.Report{}, fmt.Errorf("reasoning service is required")
	}
	logger := r.logger()
	traced := newTracedService(r.Service, logger, r.Options.MaxRetries, r.Options.RequestTimeout)

	opts := r.Options
	userOnEvent := opts.OnEvent
	opts.OnEvent = func(ev pipeline.Event) {
		if ev.Kind == pipeline.EventState && ev.State == pipeline.StateFetchingLeads {
			traced.setRun(ev.RunID)
		}
		logEvent(logger, ev)
		if userOnEvent != nil {
			userOnEvent(ev)
		}
	}

	p := &pipeline.Pipeline{
		Source:  src,
		Scorer:  crew.NewScorer(r.Config, traced),
		Drafter: crew.NewDrafter(r.Config, traced),
		Options: opts,
	}
	logger.Printf(
		"pipeline start: workers=%d maxRetries=%d timeout=%s rateLimitRPS=%g isolateFailures=%t",
		opts.Workers,
		opts.MaxRetries,
		opts.RequestTimeout,
		opts.RateLimitRPS,
		opts.IsolateFailures,
	)

	err := p.Execute(ctx, run)
	rep := pipeline.Aggregate(run, r.CostRate)
	if err != nil {
		logger.Printf("run=%s pipeline failed after %s: %s", run.ID, run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond), redact.Error(err))
		return rep, err
	}
	logger.Printf(
		"run=%s pipeline complete: leads=%d scored=%d filtered=%d emails=%d failures=%d cost=$%.4f duration=%s",
		run.ID,
		len(run.Leads),
		len(run.Scored),
		len(run.Filtered),
		len(run.Emails),
		len(run.Failures),
		rep.TotalCost(),
		run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond),
	)

	if err := r.publish(ctx, logger, run, rep); err != nil {
		return rep, err
	}
	return rep, nil
}

func (r *Runner) publish(ctx context.Context, logger *log.Logger, run *pipeline.Run, rep pipeline.Report) error {
	if r.Scores != nil {
		start := time.Now()
		if err := r.Scores.ForRun(run.ID).Store(ctx, run.Scored); err != nil {
			return fmt.Errorf("store lead scores: %w", err)
		}
		logger.Printf("run=%s stored %d lead scores in %s", run.ID, len(run.Scored), time.Since(start).Round(time.Millisecond))
	}
	if r.Drafts != nil {
		start := time.Now()
		if err := r.Drafts.ForRun(run.ID).Store(ctx, run.Emails); err != nil {
			return fmt.Errorf("publish email drafts: %w", err)
		}
		logger.Printf("run=%s published %d email drafts in %s", run.ID, len(run.Emails), time.Since(start).Round(time.Millisecond))
	}
	if r.Reports != nil {
		key, err := r.Reports.Put(ctx, run, rep)
		if err != nil {
			return fmt.Errorf("archive run report: %w", err)
		}
		logger.Printf("run=%s archived report at %s", run.ID, key)
	}
	return nil
}

func logEvent(logger *log.Logger, ev pipeline.Event) {
	switch ev.Kind {
	case pipeline.EventState:
		if ev.Err != nil {
			logger.Printf("run=%s state=%s error=%q", ev.RunID, ev.State, redact.Error(ev.Err))
			return
		}
		logger.Printf("run=%s state=%s", ev.RunID, ev.State)
	case pipeline.EventLeadScored:
		logger.Printf("run=%s lead scored: row=%d/%d name=%q company=%q score=%d", ev.RunID, ev.Index+1, ev.Total, ev.Lead.Name, ev.Lead.Company, ev.Score)
	case pipeline.EventEmailDrafted:
		logger.Printf("run=%s email drafted: row=%d name=%q company=%q", ev.RunID, ev.Index+1, ev.Lead.Name, ev.Lead.Company)
	case pipeline.EventLeadFailed:
		logger.Printf("run=%s lead failed: state=%s row=%d name=%q attempts=%d error=%q", ev.RunID, ev.State, ev.Index+1, ev.Lead.Name, ev.Attempts, redact.Error(ev.Err))
	}
}

// Output file names written by RunLocal.
const (
	ScoresFile   = "scores.csv"
	FilteredFile = "filtered.csv"
	EmailsFile   = "emails.csv"
)

// RunLocal reads leads from inputPath, runs the pipeline and writes the score,
// filtered and email CSVs into outputDir.
func (r *Runner) RunLocal(ctx context.Context, inputPath, outputDir string) (*pipeline.Run, pipeline.Report, error) {
	run := pipeline.NewRun()
	rep, err := r.Execute(ctx, run, lead.FileSource{Path: inputPath})
	if err != nil {
		return run, rep, err
	}
	if err := WriteOutputs(outputDir, run); err != nil {
		return run, rep, err
	}
	return run, rep, nil
}

// WriteOutputs writes the score, filtered and email CSVs of run into outputDir.
func WriteOutputs(outputDir string, run *pipeline.Run) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return err
	}
	writers := []struct {
		name  string
		write func(io.Writer) error
	}{
		{ScoresFile, func(w io.Writer) error { return pipeline.WriteScoresCSV(w, run.Scored) }},
		{FilteredFile, func(w io.Writer) error { return pipeline.WriteFilteredCSV(w, run.Filtered) }},
		{EmailsFile, func(w io.Writer) error { return pipeline.WriteEmailsCSV(w, run.Emails) }},
	}
	for _, out := range writers {
		if err := writeFile(filepath.Join(outputDir, out.name), out.write); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	if err := write(f); err != nil {
		return err
	}
	return f.Close()
}
