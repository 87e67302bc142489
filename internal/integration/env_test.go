// Package integration exercises the extractor, driver, state store, and
// trace sink together against canned assistant-CLI transcripts, the way
// the end-to-end scenarios in the driver's testable-properties contract
// describe them.
package integration

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loopforge/loopforge/internal/config"
	"github.com/loopforge/loopforge/internal/driver"
	"github.com/loopforge/loopforge/internal/procrunner"
	"github.com/loopforge/loopforge/internal/research"
	"github.com/loopforge/loopforge/internal/state"
	"github.com/loopforge/loopforge/internal/supervisor"
	"github.com/loopforge/loopforge/internal/trace"
)

type env struct {
	t          *testing.T
	dir        string
	cfg        *config.Config
	procRunner *procrunner.MockProcessRunner
	cmdRunner  *procrunner.MockCommandRunner
	store      *state.Store
	tracePath  string
	driver     *driver.Driver
}

// newEnv wires a Driver against mocked process/command runners, the way
// cmd/loopforge wires a real one, so each scenario only has to script the
// assistant CLI's transcript.
func newEnv(t *testing.T, tweak func(*config.Config)) *env {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Limits.MaxIterations = 10
	cfg.Limits.IterationTimeout = 50 * time.Millisecond
	cfg.Limits.CooldownBase = time.Millisecond
	cfg.Limits.CooldownCap = 5 * time.Millisecond
	cfg.Stagnation.Window = 0
	cfg.Retry.MaxAttempts = 0
	if tweak != nil {
		tweak(cfg)
	}

	procRunner := procrunner.NewMockProcessRunner()
	cmdRunner := procrunner.NewMockCommandRunner()
	cmdRunner.SetResponse(cfg.Claude.Executable, []string{"--version"}, []byte("1.0.0"))
	cmdRunner.SetError(cfg.Research.Interpreter, []string{cfg.Research.WorkerScript}, fmt.Errorf("no research oracle configured"))

	store := state.NewStore(filepath.Join(dir, cfg.Paths.StateFile))

	tracePath := filepath.Join(dir, cfg.Paths.TraceFile)
	sink, err := trace.NewSink(tracePath, 0, func() int { return store.State().Iteration })
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	t.Cleanup(func() { _ = sink.Close() })

	sup := supervisor.New(func() procrunner.ProcessRunner {
		procRunner.Reset()
		return procRunner
	}, &cfg.Claude, nil)

	collector := &research.Collector{WorkDir: dir, CmdRunner: cmdRunner}
	researchClient := research.NewClient(&cfg.Research, &cfg.Retry, collector, cmdRunner, filepath.Join(dir, cfg.Paths.ResearchFile), nil)

	d := driver.New(cfg, dir, sup, store, researchClient, sink, cmdRunner, nil)

	return &env{t: t, dir: dir, cfg: cfg, procRunner: procRunner, cmdRunner: cmdRunner, store: store, tracePath: tracePath, driver: d}
}

func (e *env) traceEvents() []map[string]any {
	e.t.Helper()
	data, err := os.ReadFile(e.tracePath)
	if err != nil {
		e.t.Fatalf("read trace file: %v", err)
	}
	var events []map[string]any
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			e.t.Fatalf("unmarshal trace line %q: %v", line, err)
		}
		events = append(events, m)
	}
	return events
}

func (e *env) countEvents(eventType string) int {
	n := 0
	for _, ev := range e.traceEvents() {
		if ev["event"] == eventType {
			n++
		}
	}
	return n
}

func (e *env) metricsSummary() driver.Summary {
	e.t.Helper()
	data, err := os.ReadFile(filepath.Join(e.dir, e.cfg.Paths.MetricsFile))
	if err != nil {
		e.t.Fatalf("read metrics summary: %v", err)
	}
	var s driver.Summary
	if err := json.Unmarshal(data, &s); err != nil {
		e.t.Fatalf("unmarshal metrics summary: %v", err)
	}
	return s
}

func argsOf(call procrunner.CommandCall) string {
	return strings.Join(call.Args, " ")
}
