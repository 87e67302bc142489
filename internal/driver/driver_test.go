package driver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loopforge/loopforge/internal/config"
	"github.com/loopforge/loopforge/internal/procrunner"
	"github.com/loopforge/loopforge/internal/research"
	"github.com/loopforge/loopforge/internal/state"
	"github.com/loopforge/loopforge/internal/supervisor"
	"github.com/loopforge/loopforge/internal/trace"
)

type fixture struct {
	cfg        *config.Config
	workDir    string
	procRunner *procrunner.MockProcessRunner
	cmdRunner  *procrunner.MockCommandRunner
	store      *state.Store
	sink       *trace.Sink
	driver     *Driver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Limits.MaxIterations = 5
	cfg.Limits.IterationTimeout = time.Second
	cfg.Limits.PerIterationCostCap = 1.0
	cfg.Limits.TotalCostCap = 10.0
	cfg.Stagnation.Window = 2
	cfg.Stagnation.LowTurnThreshold = 1
	cfg.Stagnation.MaxConsecutiveTimeouts = 2
	cfg.Retry.MaxAttempts = 0
	cfg.Limits.CooldownBase = time.Millisecond
	cfg.Limits.CooldownCap = 5 * time.Millisecond

	procRunner := procrunner.NewMockProcessRunner()
	cmdRunner := procrunner.NewMockCommandRunner()
	cmdRunner.SetResponse("claude", []string{"--version"}, []byte("1.0.0"))
	cmdRunner.SetError("python3", []string{cfg.Research.WorkerScript}, errNoResearch)

	store := state.NewStore(filepath.Join(dir, "state.json"))
	iter := 0
	sink, err := trace.NewSink(filepath.Join(dir, "trace.jsonl"), 0, func() int { return iter })
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	t.Cleanup(func() { _ = sink.Close() })

	sup := supervisor.New(func() procrunner.ProcessRunner {
		procRunner.Reset()
		return procRunner
	}, &cfg.Claude, nil)
	collector := &research.Collector{WorkDir: dir}
	researchClient := research.NewClient(&cfg.Research, &cfg.Retry, collector, cmdRunner, filepath.Join(dir, "research_result.md"), nil)

	d := New(cfg, dir, sup, store, researchClient, sink, cmdRunner, nil)

	return &fixture{cfg: cfg, workDir: dir, procRunner: procRunner, cmdRunner: cmdRunner, store: store, sink: sink, driver: d}
}

var errNoResearch = &mockErr{"no research configured"}

type mockErr struct{ msg string }

func (e *mockErr) Error() string { return e.msg }

func TestRun_CleanCompletionExitsZero(t *testing.T) {
	f := newFixture(t)
	f.procRunner.SetOutput(`{"type":"system","session_id":"s1"}
{"type":"assistant","message":{"content":[{"type":"text","text":"all done"}]}}
{"type":"result","session_id":"s1","num_turns":3,"total_cost_usd":0.01,"result":"PROJECT_COMPLETE"}
`)

	code := f.driver.Run(context.Background())
	if code != ExitCompleted {
		t.Fatalf("exit code = %d, want %d", code, ExitCompleted)
	}
	assertSummaryExitCode(t, f, ExitCompleted)
}

func TestRun_CostBudgetExceededExitsTwo(t *testing.T) {
	f := newFixture(t)
	f.cfg.Limits.PerIterationCostCap = 0.01
	f.procRunner.SetOutput(`{"type":"result","session_id":"s1","num_turns":2,"total_cost_usd":5.0,"result":"still working"}` + "\n")

	code := f.driver.Run(context.Background())
	if code != ExitCostBudget {
		t.Fatalf("exit code = %d, want %d", code, ExitCostBudget)
	}
}

func TestRun_ConsecutiveTimeoutsExhaustExitsThree(t *testing.T) {
	f := newFixture(t)
	f.procRunner.SetOutput("") // no result ever produced: every iteration times out

	code := f.driver.Run(context.Background())
	if code != ExitStagnationOrPreflight {
		t.Fatalf("exit code = %d, want %d", code, ExitStagnationOrPreflight)
	}
}

func TestRun_IterationBudgetExitsOne(t *testing.T) {
	f := newFixture(t)
	f.cfg.Limits.MaxIterations = 1
	f.cfg.Stagnation.Window = 0 // disable stagnation so the iteration cap is what fires
	f.procRunner.SetOutput(`{"type":"result","session_id":"s1","num_turns":2,"total_cost_usd":0.01,"result":"keep going"}` + "\n")

	code := f.driver.Run(context.Background())
	if code != ExitIterationBudget {
		t.Fatalf("exit code = %d, want %d", code, ExitIterationBudget)
	}
}

func TestRun_PreflightFailureExitsThree(t *testing.T) {
	f := newFixture(t)
	f.cmdRunner.SetError("claude", []string{"--version"}, &mockErr{"not found"})

	code := f.driver.Run(context.Background())
	if code != ExitStagnationOrPreflight {
		t.Fatalf("exit code = %d, want %d", code, ExitStagnationOrPreflight)
	}
}

func TestRun_SkipPreflightBypassesVersionCheck(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Limits.MaxIterations = 1

	procRunner := procrunner.NewMockProcessRunner()
	procRunner.SetOutput(`{"type":"result","result":"PROJECT_COMPLETE"}` + "\n")
	cmdRunner := procrunner.NewMockCommandRunner()

	store := state.NewStore(filepath.Join(dir, "state.json"))
	iter := 0
	sink, err := trace.NewSink(filepath.Join(dir, "trace.jsonl"), 0, func() int { return iter })
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	defer sink.Close()

	sup := supervisor.New(func() procrunner.ProcessRunner {
		procRunner.Reset()
		return procRunner
	}, &cfg.Claude, nil)
	researchClient := research.NewClient(&cfg.Research, &cfg.Retry, &research.Collector{WorkDir: dir}, cmdRunner, "", nil)
	d := New(cfg, dir, sup, store, researchClient, sink, cmdRunner, nil, WithSkipPreflight())

	code := d.Run(context.Background())
	if code != ExitCompleted {
		t.Fatalf("exit code = %d, want %d", code, ExitCompleted)
	}
	if len(cmdRunner.GetCalls()) != 0 {
		t.Errorf("expected no preflight call, got %v", cmdRunner.GetCalls())
	}
}

func assertSummaryExitCode(t *testing.T, f *fixture, want int) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.workDir, f.cfg.Paths.MetricsFile))
	if err != nil {
		t.Fatalf("read metrics summary: %v", err)
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("unmarshal metrics summary: %v", err)
	}
	if s.ExitCode != want {
		t.Errorf("summary exit code = %d, want %d", s.ExitCode, want)
	}
}
