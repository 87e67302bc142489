// Package supervisor spawns the assistant CLI, drains its output streams
// without deadlocking, enforces a two-stage wall-clock timeout, and
// returns the parsed event summary for one invocation.
package supervisor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/loopforge/loopforge/internal/config"
	"github.com/loopforge/loopforge/internal/events"
	"github.com/loopforge/loopforge/internal/procrunner"
)

// SecondaryDeadlineSlack is added to the effective timeout to form the
// secondary force-kill deadline: if the first kill doesn't unblock
// readline within this extra window, kill again and return an empty
// parsed stream. Events read before that point are not returned.
const SecondaryDeadlineSlack = 30 * time.Second

// DefaultStderrCap bounds how much of the child's stderr is retained.
const DefaultStderrCap = 64 * 1024

// NewRunner produces one ProcessRunner per invocation. A ProcessRunner
// wraps a single child process and cannot be restarted once started, so
// the Supervisor asks for a fresh one on every Invoke call.
type NewRunner func() procrunner.ProcessRunner

// Supervisor invokes the assistant CLI.
type Supervisor struct {
	newRunner NewRunner
	cfg       *config.ClaudeConfig
	extractor *events.Extractor
	logger    *slog.Logger
}

// New creates a Supervisor. A nil logger falls back to slog.Default.
func New(newRunner NewRunner, cfg *config.ClaudeConfig, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		newRunner: newRunner,
		cfg:       cfg,
		extractor: events.NewExtractor(logger),
		logger:    logger,
	}
}

// Outcome is returned by Invoke alongside the parsed stream, carrying the
// information the driver needs that isn't itself part of the event
// summary: whether this invocation timed out, and the stderr tail.
type Outcome struct {
	Stream    *events.ParsedStream
	TimedOut  bool
	StderrTail string
}

// Invoke spawns the assistant CLI with prompt and flags as arguments,
// reads stdout through the Event Extractor, drains stderr concurrently,
// and enforces the timeout contract in the component design: a timer
// kills the whole process tree at effectiveTimeout; if that doesn't
// unblock stdout within SecondaryDeadlineSlack, a second kill is issued
// and an empty parsed stream is returned; events read before the second
// kill are not carried into it.
func (s *Supervisor) Invoke(ctx context.Context, prompt, resumeHandle string, effectiveTimeout time.Duration, effectiveMaxTurns int, model string) (*Outcome, error) {
	args := s.buildArgs(prompt, resumeHandle, effectiveMaxTurns, model)
	runner := s.newRunner()

	stdout, stderr, err := runner.Start(ctx, s.cfg.Executable, args...)
	if err != nil {
		return &Outcome{Stream: &events.ParsedStream{}}, fmt.Errorf("start assistant CLI: %w", err)
	}

	stderrBuf := newLimitedWriter(DefaultStderrCap)
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		_, _ = io.Copy(stderrBuf, stderr)
	}()

	type extractResult struct {
		stream *events.ParsedStream
		err    error
	}
	resultCh := make(chan extractResult, 1)
	go func() {
		stream, err := s.extractor.Extract(stdout)
		resultCh <- extractResult{stream, err}
	}()

	timedOut := false
	var stream *events.ParsedStream

	timer := time.NewTimer(effectiveTimeout)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		stream = res.stream
		// The child may not close stdout on its own (a known upstream
		// bug): kill it regardless once a result has been observed.
		_ = runner.Kill()
	case <-timer.C:
		timedOut = true
		s.logger.Warn("iteration timed out, killing process tree", "timeout", effectiveTimeout)
		_ = runner.Kill()

		secondary := time.NewTimer(SecondaryDeadlineSlack)
		defer secondary.Stop()
		select {
		case res := <-resultCh:
			stream = res.stream
		case <-secondary.C:
			s.logger.Error("secondary deadline exceeded, force-killing again")
			_ = runner.Kill()
			stream = &events.ParsedStream{}
		}
	}

	<-stderrDone
	_ = runner.Wait()

	return &Outcome{Stream: stream, TimedOut: timedOut, StderrTail: stderrBuf.String()}, nil
}

// buildArgs assembles the CLI invocation per the external-interfaces
// contract: prompt, streaming NDJSON output, verbosity, model, a
// max-turns value, optionally dangerous-permissions and resume flags.
func (s *Supervisor) buildArgs(prompt, resumeHandle string, maxTurns int, model string) []string {
	args := []string{
		"-p", prompt,
		"--output-format", "stream-json",
		"--verbose",
		"--model", model,
		"--max-turns", strconv.Itoa(maxTurns),
	}
	if s.cfg.DangerouslySkipPerms {
		args = append(args, "--dangerously-skip-permissions")
	}
	if resumeHandle != "" {
		args = append(args, "--resume", resumeHandle)
	}
	args = append(args, s.cfg.ExtraArgs...)
	return args
}

// CheckVersion runs the preflight readiness check: invoke the assistant
// executable with --version under a bounded timeout.
func (s *Supervisor) CheckVersion(ctx context.Context, timeout time.Duration, cmdRunner procrunner.CommandRunner) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := cmdRunner.Run(ctx, s.cfg.Executable, "--version")
	if err != nil {
		return fmt.Errorf("preflight check failed: %w", err)
	}
	return nil
}
