package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/shpitdev/lead-engagement-pipeline/internal/app"
	"github.com/shpitdev/lead-engagement-pipeline/internal/pipeline"
	"github.com/shpitdev/lead-engagement-pipeline/internal/version"
)

const leadsCSV = "name,job_title,company,email,usecase\n" +
	"Jane Doe,VP Engineering,Acme,jane@acme.com,support automation\n" +
	"Bob Roe,Engineer,Globex,bob@globex.test,\n"

// clearEnv isolates a test from settings in the developer's shell or .env.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"WORKERS", "MAX_RETRIES", "REQUEST_TIMEOUT", "RATE_LIMIT_RPS", "ISOLATE_FAILURES",
		"COST_RATE", "PUBLISH", "LEADS_FILE", "OUTPUT_DIR", "BACKEND", "AGENTS_CONFIG", "TASKS_CONFIG",
		"GEMINI_API_KEY", "GEMINI_MODEL", "GEMINI_BASE_URL",
	} {
		t.Setenv(k, "")
	}
}

func writeLeads(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "leads.csv")
	if err := os.WriteFile(path, []byte(leadsCSV), 0o644); err != nil {
		t.Fatalf("write leads: %v", err)
	}
	return path
}

func TestRunCommandUsage(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantCode   int
		wantStdout string
		wantStderr string
	}{
		{name: "no args", args: nil, wantCode: 2, wantStderr: "Usage:"},
		{name: "help", args: []string{"help"}, wantCode: 0, wantStdout: "leadflow <command>"},
		{name: "version", args: []string{"version"}, wantCode: 0, wantStdout: version.Current},
		{name: "unknown", args: []string{"bogus"}, wantCode: 2, wantStderr: "unknown command: bogus"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := runCommand(context.Background(), tt.args, &stdout, &stderr)
			if code != tt.wantCode {
				t.Fatalf("code=%d want %d (stderr=%s)", code, tt.wantCode, stderr.String())
			}
			if !strings.Contains(stdout.String(), tt.wantStdout) || !strings.Contains(stderr.String(), tt.wantStderr) {
				t.Fatalf("stdout=%q stderr=%q", stdout.String(), stderr.String())
			}
		})
	}
}

func TestRunWithStubBackend(t *testing.T) {
	clearEnv(t)
	outDir := filepath.Join(t.TempDir(), "out")

	var stdout, stderr bytes.Buffer
	code := runCommand(context.Background(), []string{"run", "--backend", "stub", "--input", writeLeads(t), "--output-dir", outDir, "--workers", "2"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("code=%d stderr=%s", code, stderr.String())
	}
	for _, name := range []string{app.ScoresFile, app.FilteredFile, app.EmailsFile} {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
	}
	out := stdout.String()
	if !strings.Contains(out, ": done") || !strings.Contains(out, "leads=2 scored=2 filtered=1 emails=1") {
		t.Fatalf("summary=%s", out)
	}
	if !strings.Contains(stderr.String(), "pipeline complete") {
		t.Fatalf("logs=%s", stderr.String())
	}
}

func TestRunConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		args    []string
		wantErr string
	}{
		{name: "bad env int", env: map[string]string{"WORKERS": "many"}, args: []string{"--backend", "stub"}, wantErr: `invalid WORKERS="many"`},
		{name: "bad env bool", env: map[string]string{"ISOLATE_FAILURES": "maybe"}, args: []string{"--backend", "stub"}, wantErr: "ISOLATE_FAILURES"},
		{name: "unknown backend", args: []string{"--backend", "oracle"}, wantErr: `unknown backend "oracle"`},
		{name: "zero workers", args: []string{"--backend", "stub", "--workers", "0"}, wantErr: "--workers must be >= 1"},
		{name: "negative retries", args: []string{"--backend", "stub", "--max-retries", "-1"}, wantErr: "--max-retries must be >= 0"},
		{name: "gemini without key", args: []string{"--backend", "gemini"}, wantErr: "GEMINI_API_KEY is required"},
		{name: "missing tasks override", args: []string{"--backend", "stub", "--tasks", "/nonexistent/tasks.yaml"}, wantErr: "read tasks config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			args := append([]string{"run", "--input", writeLeads(t), "--output-dir", t.TempDir()}, tt.args...)
			var stdout, stderr bytes.Buffer
			if code := runCommand(context.Background(), args, &stdout, &stderr); code != 2 {
				t.Fatalf("code=%d want 2 (stderr=%s)", code, stderr.String())
			}
			if !strings.Contains(stderr.String(), tt.wantErr) {
				t.Fatalf("stderr=%q want %q", stderr.String(), tt.wantErr)
			}
		})
	}
}

func TestRunMissingInputFails(t *testing.T) {
	clearEnv(t)
	var stdout, stderr bytes.Buffer
	code := runCommand(context.Background(), []string{"run", "--backend", "stub", "--input", filepath.Join(t.TempDir(), "nope.csv"), "--output-dir", t.TempDir()}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("code=%d want 1", code)
	}
	if !strings.Contains(stderr.String(), "run failed") || !strings.Contains(stdout.String(), ": failed") {
		t.Fatalf("stdout=%q stderr=%q", stdout.String(), stderr.String())
	}
}

func TestEnvDefaults(t *testing.T) {
	clearEnv(t)
	opts, err := loadPipelineOptionsFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Workers != 1 || opts.MaxRetries != 0 || opts.RequestTimeout != 0 || opts.RateLimitRPS != 0 || opts.IsolateFailures {
		t.Fatalf("unexpected defaults: %#v", opts)
	}

	t.Setenv("WORKERS", "4")
	t.Setenv("REQUEST_TIMEOUT", "45s")
	t.Setenv("ISOLATE_FAILURES", "true")
	opts, err = loadPipelineOptionsFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Workers != 4 || opts.RequestTimeout != 45*time.Second || !opts.IsolateFailures {
		t.Fatalf("unexpected options: %#v", opts)
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" a:9092, ,b:9092,")
	if !slices.Equal(got, []string{"a:9092", "b:9092"}) {
		t.Fatalf("got %v", got)
	}
	if got := splitList(""); got != nil {
		t.Fatalf("got %v", got)
	}
}

func TestDashboardRunFunc(t *testing.T) {
	clearEnv(t)
	s := settings{input: writeLeads(t), outputDir: filepath.Join(t.TempDir(), "out"), backend: backendStub, options: pipeline.Options{Workers: 1}}
	base, closeFn, err := newRunner(context.Background(), s, nil)
	defer closeFn()
	if err != nil {
		t.Fatalf("newRunner: %v", err)
	}

	var logs bytes.Buffer
	var states []pipeline.State
	run := pipeline.NewRun()
	rep, err := dashboardRunFunc(base, s)(context.Background(), run, func(ev pipeline.Event) {
		if ev.Kind == pipeline.EventState {
			states = append(states, ev.State)
		}
	}, &logs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(rep.Emails) != 1 || states[len(states)-1] != pipeline.StateDone {
		t.Fatalf("emails=%d states=%v", len(rep.Emails), states)
	}
	if base.Options.OnEvent != nil || base.Logger != nil {
		t.Fatalf("dashboard run must not mutate the base runner")
	}
	if !strings.Contains(logs.String(), "wrote outputs to") {
		t.Fatalf("logs=%s", logs.String())
	}
	if _, err := os.Stat(filepath.Join(s.outputDir, app.EmailsFile)); err != nil {
		t.Fatalf("missing emails file: %v", err)
	}
}
