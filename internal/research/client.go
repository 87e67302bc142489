package research

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/loopforge/loopforge/internal/config"
	"github.com/loopforge/loopforge/internal/procrunner"
)

// Client invokes the oracle worker, retrying transient failures and
// tripping a circuit breaker after repeated ones.
type Client struct {
	cfg       *config.ResearchConfig
	retry     *config.RetryConfig
	collector *Collector
	cmdRunner procrunner.CommandRunner
	resultPath string
	now       func() time.Time

	mu               sync.Mutex
	consecutiveFails int
	lastFailure      time.Time
}

// NewClient creates a Client. now defaults to time.Now when nil.
func NewClient(cfg *config.ResearchConfig, retry *config.RetryConfig, collector *Collector, cmdRunner procrunner.CommandRunner, resultPath string, now func() time.Time) *Client {
	if now == nil {
		now = time.Now
	}
	return &Client{
		cfg:        cfg,
		retry:      retry,
		collector:  collector,
		cmdRunner:  cmdRunner,
		resultPath: resultPath,
		now:        now,
	}
}

// Query runs the oracle worker with the assembled context plus optional
// caller-supplied extra context, applying the circuit breaker and retry
// policy. It never returns a Go error: failure is communicated through
// Result.Err.
func (c *Client) Query(ctx context.Context, extraContext string) Result {
	if c.circuitOpen() {
		return Result{Err: ErrCircuitOpen, Detail: "circuit breaker open"}
	}

	queryText := c.buildQuery(ctx, extraContext)

	maxAttempts := c.retry.MaxAttempts + 1
	var last Result
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(c.retry.BaseDelay, c.retry.MaxDelay, attempt)
			select {
			case <-ctx.Done():
				c.recordFailure()
				return Result{Err: ErrTimeout, Detail: "context cancelled during backoff"}
			case <-time.After(delay):
			}
		}

		last = c.invokeOnce(ctx, queryText)
		if last.Ok() {
			c.recordSuccess()
			return last
		}
		if !last.Err.IsRetryable() {
			c.recordFailure()
			return last
		}
	}

	c.recordFailure()
	return last
}

func (c *Client) buildQuery(ctx context.Context, extraContext string) string {
	var b strings.Builder
	if c.collector != nil {
		b.WriteString(c.collector.Collect(ctx))
	}
	if extraContext != "" {
		b.WriteString("## Additional context\n")
		b.WriteString(extraContext)
		b.WriteString("\n")
	}
	return b.String()
}

func (c *Client) invokeOnce(ctx context.Context, queryText string) Result {
	args := []string{c.cfg.WorkerScript, "--perplexity-mode", c.cfg.PerplexityMode}
	if c.cfg.Headful {
		args = append(args, "--headful")
	}
	args = append(args, queryText)

	timeout := c.cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := c.cmdRunner.Run(runCtx, c.cfg.Interpreter, args...)
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return Result{Err: ErrTimeout, Detail: err.Error()}
		}
		return Result{Err: ErrWorker, Detail: err.Error()}
	}

	var wo workerOutput
	if err := json.Unmarshal(out, &wo); err != nil {
		return Result{Err: ErrParse, Detail: err.Error()}
	}
	if wo.Error != "" {
		return Result{Err: ErrWorker, Detail: wo.Error}
	}
	if strings.TrimSpace(wo.Synthesis) == "" {
		return Result{Err: ErrWorker, Detail: "empty synthesis"}
	}

	preview := queryText
	if len(preview) > 200 {
		preview = preview[:200]
	}
	r := &Research{
		QueryPreview: preview,
		ResponseText: wo.Synthesis,
		Model:        c.cfg.PerplexityMode,
		GeneratedAt:  c.now().UTC(),
	}
	c.persist(r)
	return Result{Research: r}
}

func (c *Client) persist(r *Research) {
	if c.resultPath == "" {
		return
	}
	_ = os.WriteFile(c.resultPath, []byte(r.ResponseText), 0644)
}

func (c *Client) circuitOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.consecutiveFails < c.retry.CircuitFailThreshold {
		return false
	}
	if c.now().Sub(c.lastFailure) >= c.retry.CircuitCooldown {
		c.consecutiveFails = 0
		return false
	}
	return true
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveFails++
	c.lastFailure = c.now()
}

func (c *Client) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveFails = 0
}

// backoffDelay computes min(base*2^(attempt-1), cap) scaled by a uniform
// jitter in [0.5, 1.5).
func backoffDelay(base, maxDelay time.Duration, attempt int) time.Duration {
	raw := float64(base) * math.Pow(2, float64(attempt-1))
	if capped := float64(maxDelay); raw > capped {
		raw = capped
	}
	jitter := 0.5 + rand.Float64()
	d := time.Duration(raw * jitter)
	if d < 0 {
		d = 0
	}
	return d
}
