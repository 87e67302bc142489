package research

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/loopforge/loopforge/internal/config"
)

// sequenceRunner returns one scripted response per call, in order,
// repeating the last entry once exhausted.
type sequenceRunner struct {
	mu    sync.Mutex
	calls int
	resp  [][]byte
	errs  []error
}

func (r *sequenceRunner) Run(_ context.Context, _ string, _ ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.calls
	if i >= len(r.resp) {
		i = len(r.resp) - 1
	}
	r.calls++
	return r.resp[i], r.errs[i]
}

func (r *sequenceRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func testRetryConfig() *config.RetryConfig {
	return &config.RetryConfig{
		MaxAttempts:          2,
		BaseDelay:            time.Millisecond,
		MaxDelay:             5 * time.Millisecond,
		CircuitFailThreshold: 3,
		CircuitCooldown:      20 * time.Millisecond,
	}
}

func testResearchConfig() *config.ResearchConfig {
	return &config.ResearchConfig{
		Interpreter:    "python3",
		WorkerScript:   "research_worker.py",
		PerplexityMode: "balanced",
		Timeout:        time.Second,
	}
}

func TestQuery_SucceedsFirstTry(t *testing.T) {
	runner := &sequenceRunner{
		resp: [][]byte{[]byte(`{"synthesis":"do the thing"}`)},
		errs: []error{nil},
	}
	resultPath := filepath.Join(t.TempDir(), "research_result.md")
	c := NewClient(testResearchConfig(), testRetryConfig(), nil, runner, resultPath, nil)

	res := c.Query(context.Background(), "")
	if !res.Ok() {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Research.ResponseText != "do the thing" {
		t.Errorf("ResponseText = %q", res.Research.ResponseText)
	}
	if runner.callCount() != 1 {
		t.Errorf("calls = %d, want 1", runner.callCount())
	}
}

func TestQuery_RetriesParseErrorThenSucceeds(t *testing.T) {
	runner := &sequenceRunner{
		resp: [][]byte{[]byte("not json"), []byte(`{"synthesis":"recovered"}`)},
		errs: []error{nil, nil},
	}
	c := NewClient(testResearchConfig(), testRetryConfig(), nil, runner, "", nil)

	res := c.Query(context.Background(), "")
	if !res.Ok() {
		t.Fatalf("expected eventual success, got %+v", res)
	}
	if runner.callCount() != 2 {
		t.Errorf("calls = %d, want 2", runner.callCount())
	}
}

func TestQuery_NonRetryableFailsImmediately(t *testing.T) {
	runner := &sequenceRunner{
		resp: [][]byte{[]byte(`{"synthesis":"","error":"query rejected"}`)},
		errs: []error{nil},
	}
	retryCfg := testRetryConfig()
	c := NewClient(testResearchConfig(), retryCfg, nil, runner, "", nil)

	res := c.Query(context.Background(), "")
	if res.Ok() {
		t.Fatalf("expected failure, got success")
	}
	if res.Err != ErrWorker {
		t.Errorf("Err = %v, want %v", res.Err, ErrWorker)
	}
	if runner.callCount() != 1 {
		t.Errorf("calls = %d, want 1 (non-retryable kinds return immediately)", runner.callCount())
	}
}

func TestQuery_ExhaustsRetriesAndFails(t *testing.T) {
	runner := &sequenceRunner{
		resp: [][]byte{nil, nil, nil},
		errs: []error{errors.New("boom"), errors.New("boom"), errors.New("boom")},
	}
	c := NewClient(testResearchConfig(), testRetryConfig(), nil, runner, "", nil)

	res := c.Query(context.Background(), "")
	if res.Ok() {
		t.Fatalf("expected failure after exhausting retries")
	}
	if runner.callCount() != 3 {
		t.Errorf("calls = %d, want 3 (max_attempts+1)", runner.callCount())
	}
}

func TestQuery_CircuitOpensAfterThreshold(t *testing.T) {
	runner := &sequenceRunner{
		resp: [][]byte{nil, nil, nil},
		errs: []error{errors.New("boom"), errors.New("boom"), errors.New("boom")},
	}
	retryCfg := &config.RetryConfig{
		MaxAttempts:          0,
		BaseDelay:            time.Millisecond,
		MaxDelay:             time.Millisecond,
		CircuitFailThreshold: 2,
		CircuitCooldown:      time.Hour,
	}
	fixedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewClient(testResearchConfig(), retryCfg, nil, runner, "", func() time.Time { return fixedNow })

	c.Query(context.Background(), "")
	c.Query(context.Background(), "")

	res := c.Query(context.Background(), "")
	if res.Err != ErrCircuitOpen {
		t.Fatalf("Err = %v, want CIRCUIT_OPEN after %d consecutive failures", res.Err, retryCfg.CircuitFailThreshold)
	}
	if runner.callCount() != 2 {
		t.Errorf("calls = %d, want 2 (third call rejected by breaker)", runner.callCount())
	}
}

func TestQuery_SuccessPersistsResult(t *testing.T) {
	runner := &sequenceRunner{
		resp: [][]byte{[]byte(`{"synthesis":"persisted text"}`)},
		errs: []error{nil},
	}
	path := filepath.Join(t.TempDir(), "research_result.md")
	c := NewClient(testResearchConfig(), testRetryConfig(), nil, runner, path, nil)

	res := c.Query(context.Background(), "")
	if !res.Ok() {
		t.Fatalf("expected success, got %+v", res)
	}
	data := readFile(t, path)
	if data != "persisted text" {
		t.Errorf("persisted content = %q", data)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}
