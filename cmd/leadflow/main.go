package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shpitdev/lead-engagement-pipeline/internal/app"
	"github.com/shpitdev/lead-engagement-pipeline/internal/archive"
	"github.com/shpitdev/lead-engagement-pipeline/internal/dashboard"
	"github.com/shpitdev/lead-engagement-pipeline/internal/lead"
	"github.com/shpitdev/lead-engagement-pipeline/internal/outbox"
	"github.com/shpitdev/lead-engagement-pipeline/internal/pipeline"
	"github.com/shpitdev/lead-engagement-pipeline/internal/reasoning"
	"github.com/shpitdev/lead-engagement-pipeline/internal/reasoning/gemini"
	"github.com/shpitdev/lead-engagement-pipeline/internal/store"
	"github.com/shpitdev/lead-engagement-pipeline/internal/version"
	"github.com/shpitdev/lead-engagement-pipeline/pkg/graceful"
	"github.com/shpitdev/lead-engagement-pipeline/pkg/pipeline/redact"
)

const (
	backendGemini = "gemini"
	backendStub   = "stub"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, assuming environment variables are set directly.")
	}
	ctx, cancel := graceful.Context(context.Background(), log.Default())
	code := runCommand(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

func runCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		usage(stderr)
		return 2
	}

	switch args[0] {
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	case "version", "--version":
		_, _ = fmt.Fprintln(stdout, version.Current)
		return 0
	case "run":
		return runHeadless(ctx, args[1:], stdout, stderr)
	case "dashboard":
		return runDashboard(ctx, args[1:], stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command: %s\n\n", args[0])
		usage(stderr)
		return 2
	}
}

// settings are the resolved flags shared by run and dashboard.
type settings struct {
	input      string
	outputDir  string
	backend    string
	agentsPath string
	tasksPath  string
	costRate   float64
	publish    bool
	options    pipeline.Options
	gemini     gemini.Config
}

func parseSettings(name string, args []string, stderr io.Writer) (settings, error) {
	pipeEnv, err := loadPipelineOptionsFromEnv()
	if err != nil {
		return settings{}, err
	}
	costRate, err := envFloat("COST_RATE", pipeline.DefaultCostRate)
	if err != nil {
		return settings{}, err
	}
	publish, err := envBool("PUBLISH")
	if err != nil {
		return settings{}, err
	}

	var s settings
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&s.input, "input", envString("LEADS_FILE", "leads.csv"), "Input CSV of leads: name, job_title, company, email, usecase (env: LEADS_FILE)")
	fs.StringVar(&s.outputDir, "output-dir", envString("OUTPUT_DIR", "out"), "Directory for scores.csv, filtered.csv and emails.csv (env: OUTPUT_DIR)")
	fs.StringVar(&s.backend, "backend", envString("BACKEND", backendGemini), "Reasoning backend: gemini or stub (env: BACKEND)")
	fs.StringVar(&s.agentsPath, "agents", strings.TrimSpace(os.Getenv("AGENTS_CONFIG")), "Agents YAML override (env: AGENTS_CONFIG)")
	fs.StringVar(&s.tasksPath, "tasks", strings.TrimSpace(os.Getenv("TASKS_CONFIG")), "Tasks YAML override (env: TASKS_CONFIG)")
	fs.IntVar(&s.options.Workers, "workers", pipeEnv.Workers, "Concurrent leads per stage (env: WORKERS)")
	fs.IntVar(&s.options.MaxRetries, "max-retries", pipeEnv.MaxRetries, "Max retries per lead for transient failures (env: MAX_RETRIES)")
	fs.DurationVar(&s.options.RequestTimeout, "request-timeout", pipeEnv.RequestTimeout, "Per-lead timeout, 0 disables (env: REQUEST_TIMEOUT)")
	fs.Float64Var(&s.options.RateLimitRPS, "rate-limit-rps", pipeEnv.RateLimitRPS, "Global request rate limit (RPS), 0 disables (env: RATE_LIMIT_RPS)")
	fs.BoolVar(&s.options.IsolateFailures, "isolate-failures", pipeEnv.IsolateFailures, "Record per-lead failures and keep going (env: ISOLATE_FAILURES)")
	fs.Float64Var(&s.costRate, "cost-rate", costRate, "USD per million tokens (env: COST_RATE)")
	fs.BoolVar(&s.publish, "publish", publish, "Publish results to the configured Postgres, Kafka and MinIO (env: PUBLISH)")
	fs.StringVar(&s.gemini.Model, "gemini-model", strings.TrimSpace(os.Getenv("GEMINI_MODEL")), "Gemini model name (env: GEMINI_MODEL)")
	fs.StringVar(&s.gemini.BaseURL, "gemini-base-url", strings.TrimSpace(os.Getenv("GEMINI_BASE_URL")), "Gemini API base URL override (env: GEMINI_BASE_URL)")
	if err := fs.Parse(args); err != nil {
		return settings{}, err
	}
	s.gemini.APIKey = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))

	if strings.TrimSpace(s.input) == "" {
		return settings{}, fmt.Errorf("--input is required")
	}
	switch s.backend {
	case backendGemini, backendStub:
	default:
		return settings{}, fmt.Errorf("unknown backend %q (want %s or %s)", s.backend, backendGemini, backendStub)
	}
	if s.options.Workers < 1 {
		return settings{}, fmt.Errorf("--workers must be >= 1")
	}
	if s.options.MaxRetries < 0 {
		return settings{}, fmt.Errorf("--max-retries must be >= 0")
	}
	return s, nil
}

// newRunner builds a runner from s. The returned close function releases
// publisher connections and is never nil.
func newRunner(ctx context.Context, s settings, logger *log.Logger) (*app.Runner, func(), error) {
	cfg, err := reasoning.LoadConfig(s.agentsPath, s.tasksPath)
	if err != nil {
		return nil, func() {}, fmt.Errorf("reasoning config: %w", err)
	}

	var svc reasoning.Service
	switch s.backend {
	case backendStub:
		svc = reasoning.Stub{}
	default:
		g, err := gemini.New(ctx, s.gemini)
		if err != nil {
			return nil, func() {}, fmt.Errorf("gemini config: %w", err)
		}
		svc = g
	}

	r := &app.Runner{
		Service:  svc,
		Config:   cfg,
		Options:  s.options,
		CostRate: s.costRate,
		Logger:   logger,
	}
	if !s.publish {
		return r, func() {}, nil
	}
	closeFn, err := attachPublishers(ctx, r, logger)
	if err != nil {
		return nil, func() {}, err
	}
	return r, closeFn, nil
}

// attachPublishers connects every publisher whose settings are present.
func attachPublishers(ctx context.Context, r *app.Runner, logger *log.Logger) (func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		st, closeDB, err := store.Open(ctx, dsn)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("open score store: %w", err)
		}
		closers = append(closers, closeDB)
		r.Scores = st
		logger.Printf("publishing lead scores to postgres")
	}

	if brokers := splitList(os.Getenv("KAFKA_BROKERS")); len(brokers) > 0 {
		w, err := outbox.NewKafkaWriter(brokers, envString("KAFKA_TOPIC", "lead-emails"))
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("kafka outbox: %w", err)
		}
		ob := outbox.New(w)
		closers = append(closers, func() {
			if err := ob.Close(); err != nil {
				logger.Printf("close kafka outbox: %s", redact.Error(err))
			}
		})
		r.Drafts = ob
		logger.Printf("publishing email drafts to kafka brokers=%s", strings.Join(brokers, ","))
	}

	if endpoint := strings.TrimSpace(os.Getenv("MINIO_ENDPOINT")); endpoint != "" {
		useSSL, err := envBool("MINIO_USE_SSL")
		if err != nil {
			closeAll()
			return nil, err
		}
		cfg := archive.Config{
			Endpoint:  endpoint,
			AccessKey: strings.TrimSpace(os.Getenv("MINIO_ACCESS_KEY")),
			SecretKey: strings.TrimSpace(os.Getenv("MINIO_SECRET_KEY")),
			UseSSL:    useSSL,
			Bucket:    envString("MINIO_BUCKET", "lead-runs"),
			Region:    strings.TrimSpace(os.Getenv("MINIO_REGION")),
		}
		client, err := archive.NewClient(cfg)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("minio archive: %w", err)
		}
		a := archive.New(client, cfg.Bucket, cfg.Region)
		if err := a.EnsureBucket(ctx); err != nil {
			closeAll()
			return nil, fmt.Errorf("minio archive: %w", err)
		}
		r.Reports = a
		logger.Printf("archiving run reports to bucket=%s", cfg.Bucket)
	}

	return closeAll, nil
}

func runHeadless(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	s, err := parseSettings("run", args, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			_, _ = fmt.Fprintf(stderr, "config error: %s\n", redact.Error(err))
		}
		return 2
	}
	logger := log.New(stderr, "", log.LstdFlags)
	r, closeFn, err := newRunner(ctx, s, logger)
	defer closeFn()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config error: %s\n", redact.Error(err))
		return 2
	}

	run, rep, err := r.RunLocal(ctx, s.input, s.outputDir)
	_ = app.WriteSummary(stdout, run, rep)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "run failed: %s\n", redact.Error(err))
		return 1
	}
	return 0
}

func runDashboard(ctx context.Context, args []string, stderr io.Writer) int {
	s, err := parseSettings("dashboard", args, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			_, _ = fmt.Fprintf(stderr, "config error: %s\n", redact.Error(err))
		}
		return 2
	}
	base, closeFn, err := newRunner(ctx, s, log.New(io.Discard, "", 0))
	defer closeFn()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config error: %s\n", redact.Error(err))
		return 2
	}

	if err := dashboard.Run(ctx, dashboardRunFunc(base, s)); err != nil {
		_, _ = fmt.Fprintf(stderr, "dashboard failed: %s\n", redact.Error(err))
		return 1
	}
	return 0
}

// dashboardRunFunc runs base against the configured input for each dashboard
// run, routing its logs and events into the dashboard.
func dashboardRunFunc(base *app.Runner, s settings) dashboard.RunFunc {
	return func(ctx context.Context, run *pipeline.Run, onEvent func(pipeline.Event), logs io.Writer) (pipeline.Report, error) {
		r := *base
		r.Logger = log.New(logs, "", log.Ltime)
		r.Options.OnEvent = onEvent
		rep, err := r.Execute(ctx, run, lead.FileSource{Path: s.input})
		if err != nil {
			return rep, err
		}
		if err := app.WriteOutputs(s.outputDir, run); err != nil {
			return rep, fmt.Errorf("write outputs: %w", err)
		}
		r.Logger.Printf("run=%s wrote outputs to %s", run.ID, s.outputDir)
		return rep, nil
	}
}

func usage(w io.Writer) {
	_, _ = fmt.Fprintf(w, `leadflow %s: score, filter and draft outreach for a list of leads

Usage:
  leadflow <command> [flags]

Commands:
  run        Run the pipeline once and print a summary
  dashboard  Open the terminal dashboard; press r to run
  version    Print the version

Examples:
  leadflow run --input leads.csv --output-dir out
  leadflow run --backend stub --input leads.csv
  leadflow dashboard --input leads.csv --workers 4

Environment (Gemini):
  GEMINI_API_KEY   Gemini API key (required for --backend gemini)
  GEMINI_MODEL     Gemini model name (required for --backend gemini)
  GEMINI_BASE_URL  Optional base URL override (proxies/testing)

Environment (publishers, used with --publish):
  DATABASE_URL                       Postgres DSN for lead scores
  KAFKA_BROKERS, KAFKA_TOPIC         Kafka outbox for email drafts
  MINIO_ENDPOINT, MINIO_ACCESS_KEY,
  MINIO_SECRET_KEY, MINIO_BUCKET,
  MINIO_REGION, MINIO_USE_SSL        Object storage for run reports

`, version.Current)
}

func loadPipelineOptionsFromEnv() (pipeline.Options, error) {
	workers, err := envInt("WORKERS", 1)
	if err != nil {
		return pipeline.Options{}, err
	}
	maxRetries, err := envInt("MAX_RETRIES", 0)
	if err != nil {
		return pipeline.Options{}, err
	}
	requestTimeout, err := envDuration("REQUEST_TIMEOUT", 0)
	if err != nil {
		return pipeline.Options{}, err
	}
	isolate, err := envBool("ISOLATE_FAILURES")
	if err != nil {
		return pipeline.Options{}, err
	}
	rateLimitRPS, err := envFloat("RATE_LIMIT_RPS", 0)
	if err != nil {
		return pipeline.Options{}, err
	}

	return pipeline.Options{
		Workers:         workers,
		MaxRetries:      maxRetries,
		RequestTimeout:  requestTimeout,
		RateLimitRPS:    rateLimitRPS,
		IsolateFailures: isolate,
	}, nil
}

func envString(varName, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(varName)); v != "" {
		return v
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envInt(varName string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envFloat(varName string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envDuration(varName string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envBool(varName string) (bool, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return false, nil
	}
	out, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}
