// Package driver implements the per-iteration state machine: invoke the
// assistant, account for the cycle, check rotation/budget/timeout/error/
// stagnation/completion in a fixed order, then pick the next prompt.
package driver

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/loopforge/loopforge/internal/config"
	"github.com/loopforge/loopforge/internal/events"
	"github.com/loopforge/loopforge/internal/policy"
	"github.com/loopforge/loopforge/internal/procrunner"
	"github.com/loopforge/loopforge/internal/research"
	"github.com/loopforge/loopforge/internal/state"
	"github.com/loopforge/loopforge/internal/supervisor"
	"github.com/loopforge/loopforge/internal/trace"
)

// Exit codes, per the CLI contract.
const (
	ExitCompleted             = 0
	ExitIterationBudget       = 1
	ExitCostBudget            = 2
	ExitStagnationOrPreflight = 3
)

// Driver runs the iteration loop for one workspace.
type Driver struct {
	cfg       *config.Config
	workDir   string
	sup       *supervisor.Supervisor
	store     *state.Store
	research  *research.Client
	trace     *trace.Sink
	cmdRunner procrunner.CommandRunner
	logger    *slog.Logger

	skipPreflight     bool
	noStagnationCheck bool
	dryRun            bool

	now func() time.Time

	// per-run transient state, never persisted (reset on every Run call)
	consecutiveTimeouts     int
	stagnationResetAttempted bool
	fallbackActive          bool
	originalModel           string
}

// Option configures a Driver.
type Option func(*Driver)

// WithSkipPreflight disables the pre-flight --version check.
func WithSkipPreflight() Option { return func(d *Driver) { d.skipPreflight = true } }

// WithNoStagnationCheck disables the policy-engine stagnation check
// (step 8); consecutive-timeout exhaustion (step 5) still applies.
func WithNoStagnationCheck() Option { return func(d *Driver) { d.noStagnationCheck = true } }

// WithDryRun makes Run validate configuration and pre-flight only,
// without invoking the assistant.
func WithDryRun() Option { return func(d *Driver) { d.dryRun = true } }

// New creates a Driver.
func New(cfg *config.Config, workDir string, sup *supervisor.Supervisor, store *state.Store, researchClient *research.Client, traceSink *trace.Sink, cmdRunner procrunner.CommandRunner, logger *slog.Logger, opts ...Option) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Driver{
		cfg:       cfg,
		workDir:   workDir,
		sup:       sup,
		store:     store,
		research:  researchClient,
		trace:     traceSink,
		cmdRunner: cmdRunner,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run executes the iteration loop to completion, budget exhaustion, or
// stagnation, returning the process exit code.
func (d *Driver) Run(ctx context.Context) int {
	d.consecutiveTimeouts = 0
	d.stagnationResetAttempted = false
	d.fallbackActive = false
	d.originalModel = ""

	if !d.skipPreflight {
		if err := d.preflight(ctx); err != nil {
			d.logger.Error("pre-flight check failed", "error", err, "recovery", "fix the assistant executable or re-run with --skip-preflight")
			d.emit(trace.PreflightFailed, map[string]any{"error": err.Error()})
			d.writeSummary(ExitStagnationOrPreflight)
			return ExitStagnationOrPreflight
		}
	}

	if err := d.store.Load(); err != nil {
		d.logger.Warn("failed to load prior state, starting fresh", "error", err)
	}

	currentModel := d.cfg.Claude.Model
	prompt, err := d.cfg.LoadPrompt()
	if err != nil {
		d.logger.Error("failed to load prompt template", "error", err)
		prompt = config.DefaultPrompt
	}

	if d.dryRun {
		d.logger.Info("dry run: configuration and pre-flight validated, not invoking the assistant", "model", currentModel, "max_iterations", d.cfg.Limits.MaxIterations)
		return ExitCompleted
	}

	d.emit(trace.LoopStart, map[string]any{"model": currentModel})

	for iteration := 1; ; iteration++ {
		if d.cfg.Limits.MaxIterations > 0 && iteration > d.cfg.Limits.MaxIterations {
			d.store.MarkFailed("iteration budget reached without completion", d.now().UTC())
			d.logger.Warn("iteration budget reached without completion", "recovery", "increase --max-iterations or inspect metrics_summary.json")
			d.writeSummary(ExitIterationBudget)
			return ExitIterationBudget
		}
		d.store.IncrementIteration()

		effTimeoutSec := policy.EffectiveTimeout(currentModel, d.cfg.Limits.IterationTimeout.Seconds(), d.cfg.Limits.ModelTimeoutMult)
		effMaxTurns := policy.EffectiveMaxTurns(currentModel, d.cfg.Limits.MaxTurns, d.cfg.Limits.ModelMaxTurns)
		resumeHandle := state.ValidateSessionHandle(d.store.State().LastSessionHandle)

		d.emit(trace.ClaudeInvoke, map[string]any{"model": currentModel, "resume": resumeHandle != ""})
		outcome, invokeErr := d.sup.Invoke(ctx, prompt, resumeHandle, secondsToDuration(effTimeoutSec), effMaxTurns, currentModel)
		if invokeErr != nil {
			d.logger.Error("failed to start assistant", "error", invokeErr)
		}
		stream := outcome.Stream
		turns := turnsOf(stream)
		d.emit(trace.ClaudeComplete, map[string]any{"turns": turns, "timed_out": outcome.TimedOut})

		cost, durationMs, isErr := 0.0, int64(0), false
		if stream.Result != nil {
			cost = stream.Result.TotalCostUSD
			durationMs = stream.Result.DurationMs
			isErr = stream.Result.IsError
		}

		sessionHandle := stream.SessionHandle
		if sessionHandle == "" {
			sessionHandle = resumeHandle
		}

		d.store.AddCycle(state.Cycle{
			PromptPreview: prompt,
			SessionHandle: sessionHandle,
			Model:         currentModel,
			CostUSD:       cost,
			DurationMs:    durationMs,
			Turns:         turns,
			IsError:       isErr,
			CompletedAt:   d.now().UTC(),
		}, stream.ModifiedFiles)
		if err := d.store.Save(); err != nil {
			d.logger.Warn("failed to persist state", "error", err)
		}

		// Step 3: session rotation.
		if rotate, reason := policy.ShouldRotateSession(sessionHandle, d.store, &d.cfg.Stagnation); rotate {
			d.emit(trace.SessionRotation, map[string]any{"reason": reason})
			d.store.ClearSession()
			continue
		}

		// Step 4: budget check.
		if result := d.store.CheckBudget(d.cfg.Limits.PerIterationCostCap, d.cfg.Limits.TotalCostCap); result != state.BudgetOK {
			d.emit(trace.BudgetExceeded, map[string]any{"kind": string(result)})
			d.store.MarkFailed(string(result), d.now().UTC())
			d.logger.Warn("cost budget exceeded", "kind", result, "recovery", "raise --max-budget or inspect metrics_summary.json")
			d.writeSummary(ExitCostBudget)
			return ExitCostBudget
		}

		// Step 5: timeout handling.
		if stream.Result == nil {
			d.consecutiveTimeouts++
			d.store.ClearSession()
			d.emit(trace.TimeoutDetected, map[string]any{
				"consecutive_timeouts": d.consecutiveTimeouts,
				"event_count":          len(stream.Events),
				"had_session_handle":   stream.SessionHandle != "",
			})

			if fallbackModel, ok := d.cfg.Fallback.Models[currentModel]; ok &&
				!d.fallbackActive &&
				d.consecutiveTimeouts >= d.cfg.Fallback.TimeoutsBeforeSwap {

				d.fallbackActive = true
				d.originalModel = currentModel
				currentModel = fallbackModel
				d.consecutiveTimeouts = 0
				d.emit(trace.ModelFallback, map[string]any{"from": d.originalModel, "to": currentModel})

				d.sleepCooldown(ctx, 1)
				prompt = d.initialPrompt()
				continue
			}

			maxTimeouts := policy.MaxTimeoutsFor(currentModel, d.cfg.Stagnation.MaxConsecutiveTimeouts, d.cfg.Stagnation.ModelMaxTimeouts)
			if d.consecutiveTimeouts >= maxTimeouts {
				d.emit(trace.StagnationExit, map[string]any{"reason": "consecutive timeout exhaustion"})
				d.store.MarkFailed("consecutive timeout exhaustion", d.now().UTC())
				d.logger.Warn("exiting after repeated timeouts", "recovery", "inspect metrics_summary.json and the assistant CLI's own logs")
				d.writeSummary(ExitStagnationOrPreflight)
				return ExitStagnationOrPreflight
			}

			d.emit(trace.TimeoutCooldown, map[string]any{"consecutive_timeouts": d.consecutiveTimeouts})
			d.sleepCooldown(ctx, d.consecutiveTimeouts)
			prompt = d.initialPrompt()
			continue
		}

		// Step 6: reset on success. An error result is distinct from a
		// timeout: it does not clear the consecutive-timeout counter.
		if !isErr {
			d.consecutiveTimeouts = 0
		}
		if d.fallbackActive && turns > d.cfg.Stagnation.LowTurnThreshold {
			d.emit(trace.ModelFallbackRevert, map[string]any{"to": d.originalModel})
			currentModel = d.originalModel
			d.fallbackActive = false
			d.originalModel = ""
		}

		// Step 7: assistant-reported error.
		if isErr {
			d.store.ClearSession()
			prompt = config.RecoveryPrompt()
			continue
		}

		// Step 8: stagnation check.
		if !d.noStagnationCheck {
			if kind := policy.CheckStagnation(d.store, &d.cfg.Stagnation); kind != policy.StagnationOK {
				if !d.stagnationResetAttempted {
					d.stagnationResetAttempted = true
					d.store.ClearSession()
					d.emit(trace.StagnationReset, map[string]any{"kind": string(kind)})
					prompt = d.initialPrompt()
					continue
				}
				d.emit(trace.StagnationExit, map[string]any{"kind": string(kind)})
				d.store.MarkFailed(string(kind), d.now().UTC())
				d.logger.Warn("exiting after stagnation", "kind", kind, "recovery", "edit the project description to unblock forward progress")
				d.writeSummary(ExitStagnationOrPreflight)
				return ExitStagnationOrPreflight
			}
		}

		// Step 9: completion detection.
		resultText := ""
		if stream.Result != nil {
			resultText = stream.Result.ResultText
		}
		if policy.DetectCompletion(resultText, stream.AssistantText, d.cfg.Completion.Markers) {
			d.emit(trace.CompletionDetected, nil)
			d.store.MarkComplete(d.now().UTC())
			d.writeSummary(ExitCompleted)
			return ExitCompleted
		}

		// Step 10: next prompt via the research client.
		d.emit(trace.ResearchStart, nil)
		result := d.research.Query(ctx, "")
		if result.Ok() {
			d.emit(trace.ResearchComplete, nil)
			prompt = config.RenderResearchPrompt(result.Research.ResponseText)
		} else {
			d.logger.Warn("research query failed, continuing with a generic prompt", "kind", result.Err, "detail", result.Detail)
			prompt = config.ContinuationPrompt()
		}
	}
}

func (d *Driver) initialPrompt() string {
	p, err := d.cfg.LoadPrompt()
	if err != nil {
		return config.DefaultPrompt
	}
	return p
}

func (d *Driver) sleepCooldown(ctx context.Context, count int) {
	seconds := policy.ComputeCooldown(count, d.cfg.Limits.CooldownBase.Seconds(), d.cfg.Limits.CooldownCap.Seconds())
	jittered := seconds * (0.5 + rand.Float64()) //nolint:gosec // jitter, not a security boundary
	select {
	case <-ctx.Done():
	case <-time.After(secondsToDuration(jittered)):
	}
}

func (d *Driver) emit(eventType trace.EventType, fields map[string]any) {
	if d.trace == nil {
		return
	}
	if err := d.trace.Emit(eventType, fields); err != nil {
		d.logger.Warn("failed to write trace event", "event", eventType, "error", err)
	}
}

// turnsOf derives the turn count: the result's own count when present,
// else the number of user events as an estimate (no result means the
// supervisor never saw one, typically because of a timeout).
func turnsOf(stream *events.ParsedStream) int {
	if stream.Result != nil {
		return stream.Result.NumTurns
	}
	return stream.UserEvents
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
