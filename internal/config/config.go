// Package config provides configuration types and defaults for loopforge.
package config

import "time"

// Config holds the driver's full policy configuration plus the ambient
// paths and external-collaborator settings needed to run a loop.
type Config struct {
	Limits     LimitsConfig     `json:"limits" mapstructure:"limits"`
	Stagnation StagnationConfig `json:"stagnation" mapstructure:"stagnation"`
	Retry      RetryConfig      `json:"retry" mapstructure:"retry"`
	Completion CompletionConfig `json:"completion" mapstructure:"completion"`
	Fallback   FallbackConfig   `json:"fallback" mapstructure:"fallback"`

	Paths    PathsConfig    `json:"paths" mapstructure:"paths"`
	Claude   ClaudeConfig   `json:"claude" mapstructure:"claude"`
	Research ResearchConfig `json:"research" mapstructure:"research"`

	LogRotation LogRotationConfig `json:"log_rotation" mapstructure:"log_rotation"`

	Prompt string `json:"prompt" mapstructure:"prompt"`
}

// LimitsConfig holds the hard ceilings on iteration count, time, and cost.
type LimitsConfig struct {
	MaxIterations       int                      `json:"max_iterations" mapstructure:"max_iterations"`
	IterationTimeout    time.Duration            `json:"iteration_timeout" mapstructure:"iteration_timeout"`
	PerIterationCostCap float64                  `json:"per_iteration_cost_cap" mapstructure:"per_iteration_cost_cap"`
	TotalCostCap        float64                  `json:"total_cost_cap" mapstructure:"total_cost_cap"`
	MaxTurns            int                      `json:"max_turns" mapstructure:"max_turns"`
	ModelMaxTurns       map[string]int           `json:"model_max_turns" mapstructure:"model_max_turns"`
	ModelTimeoutMult    map[string]float64       `json:"model_timeout_multiplier" mapstructure:"model_timeout_multiplier"`
	CooldownBase        time.Duration            `json:"cooldown_base" mapstructure:"cooldown_base"`
	CooldownCap         time.Duration            `json:"cooldown_cap" mapstructure:"cooldown_cap"`
	TraceRotationBytes  int64                    `json:"trace_rotation_bytes" mapstructure:"trace_rotation_bytes"`
}

// StagnationConfig holds the thresholds that detect lack of progress.
type StagnationConfig struct {
	Window                  int            `json:"window" mapstructure:"window"`
	LowTurnThreshold        int            `json:"low_turn_threshold" mapstructure:"low_turn_threshold"`
	MaxConsecutiveTimeouts  int            `json:"max_consecutive_timeouts" mapstructure:"max_consecutive_timeouts"`
	ModelMaxTimeouts        map[string]int `json:"model_max_timeouts" mapstructure:"model_max_timeouts"`
	SessionTurnCeiling      int            `json:"session_turn_ceiling" mapstructure:"session_turn_ceiling"`
	SessionCostCeiling      float64        `json:"session_cost_ceiling" mapstructure:"session_cost_ceiling"`
	ExhaustionWindow        int            `json:"context_exhaustion_window" mapstructure:"context_exhaustion_window"`
	ExhaustionTurnThreshold int            `json:"context_exhaustion_turn_threshold" mapstructure:"context_exhaustion_turn_threshold"`
}

// RetryConfig governs the research client's retry and circuit-breaker
// behaviour.
type RetryConfig struct {
	MaxAttempts           int           `json:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay             time.Duration `json:"base_delay" mapstructure:"base_delay"`
	MaxDelay              time.Duration `json:"max_delay" mapstructure:"max_delay"`
	CircuitFailThreshold  int           `json:"circuit_fail_threshold" mapstructure:"circuit_fail_threshold"`
	CircuitCooldown       time.Duration `json:"circuit_cooldown" mapstructure:"circuit_cooldown"`
}

// CompletionConfig holds the case-insensitive markers that signal the
// project is done, plus the optional gate-section bookkeeping.
type CompletionConfig struct {
	Markers       []string `json:"markers" mapstructure:"markers"`
	GateSection   string   `json:"gate_section" mapstructure:"gate_section"`
	MaxRejections int      `json:"max_rejections" mapstructure:"max_rejections"`
}

// FallbackConfig maps a primary model to the cheaper model substituted
// after repeated timeouts.
type FallbackConfig struct {
	Models             map[string]string `json:"models" mapstructure:"models"`
	TimeoutsBeforeSwap int               `json:"timeouts_before_swap" mapstructure:"timeouts_before_swap"`
}

// PathsConfig holds the workspace-relative paths the driver reads and
// writes under <workspace>/.workflow/.
type PathsConfig struct {
	StateDir        string `json:"state_dir" mapstructure:"state_dir"`
	StateFile       string `json:"state_file" mapstructure:"state_file"`
	TraceFile       string `json:"trace_file" mapstructure:"trace_file"`
	MetricsFile     string `json:"metrics_file" mapstructure:"metrics_file"`
	ResearchFile    string `json:"research_file" mapstructure:"research_file"`
	ProjectDescFile string `json:"project_desc_file" mapstructure:"project_desc_file"`
	MemoryFile      string `json:"memory_file" mapstructure:"memory_file"`
	LogFile         string `json:"log_file" mapstructure:"log_file"`
}

// ClaudeConfig holds the assistant CLI invocation settings.
type ClaudeConfig struct {
	Executable            string   `json:"executable" mapstructure:"executable"`
	Model                 string   `json:"model" mapstructure:"model"`
	DangerouslySkipPerms  bool     `json:"dangerously_skip_permissions" mapstructure:"dangerously_skip_permissions"`
	ExtraArgs             []string `json:"extra_args" mapstructure:"extra_args"`
}

// ResearchConfig holds the research oracle worker invocation settings.
type ResearchConfig struct {
	Interpreter    string `json:"interpreter" mapstructure:"interpreter"`
	WorkerScript   string `json:"worker_script" mapstructure:"worker_script"`
	PerplexityMode string `json:"perplexity_mode" mapstructure:"perplexity_mode"`
	Headful        bool   `json:"headful" mapstructure:"headful"`
	Timeout        time.Duration `json:"timeout" mapstructure:"timeout"`
}

// LogRotationConfig holds settings for the driver's own log file rotation
// (lumberjack-backed; see cmd/loopforge/logger.go).
type LogRotationConfig struct {
	MaxSizeMB  int  `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int  `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int  `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool `json:"compress" mapstructure:"compress"`
}

// DefaultPrompt is the prompt sent to the assistant on a fresh workspace.
const DefaultPrompt = `You are an autonomous iteration agent working in this repository.

Read the project description and any memory notes, then make concrete
forward progress: implement, test, and fix. When the project is fully
complete, say so clearly in your final message using the phrase
"PROJECT_COMPLETE" so the driver can stop the loop.`

// DefaultRecoveryPrompt is substituted after the assistant reports an error.
const DefaultRecoveryPrompt = `The previous attempt ended with an error. Review
what went wrong, fix it, and continue making progress on the project.`

// DefaultContinuationPrompt is substituted when the research client fails
// (including a circuit-open rejection) and no findings are available.
const DefaultContinuationPrompt = `Continue making forward progress on the
project. Review what's done so far and tackle the next logical step.`

// SmokeTestPrompt is the short, safe prompt substituted under --smoke-test.
const SmokeTestPrompt = `Report the current git status and list the top-level
files in this repository. Do not modify anything.`

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Limits: LimitsConfig{
			MaxIterations:       50,
			IterationTimeout:    10 * time.Minute,
			PerIterationCostCap: 5.0,
			TotalCostCap:        50.0,
			MaxTurns:            30,
			ModelMaxTurns:       map[string]int{},
			ModelTimeoutMult:    map[string]float64{},
			CooldownBase:        30 * time.Second,
			CooldownCap:         10 * time.Minute,
			TraceRotationBytes:  10 * 1024 * 1024,
		},
		Stagnation: StagnationConfig{
			Window:                  5,
			LowTurnThreshold:        2,
			MaxConsecutiveTimeouts:  3,
			ModelMaxTimeouts:        map[string]int{},
			SessionTurnCeiling:      80,
			SessionCostCeiling:      10.0,
			ExhaustionWindow:        3,
			ExhaustionTurnThreshold: 5,
		},
		Retry: RetryConfig{
			MaxAttempts:          3,
			BaseDelay:            2 * time.Second,
			MaxDelay:             30 * time.Second,
			CircuitFailThreshold: 5,
			CircuitCooldown:      5 * time.Minute,
		},
		Completion: CompletionConfig{
			Markers: []string{"PROJECT_COMPLETE"},
		},
		Fallback: FallbackConfig{
			Models:             map[string]string{},
			TimeoutsBeforeSwap: 2,
		},
		Paths: PathsConfig{
			StateDir:        ".workflow",
			StateFile:       ".workflow/state.json",
			TraceFile:       ".workflow/trace.jsonl",
			MetricsFile:     ".workflow/metrics_summary.json",
			ResearchFile:    ".workflow/research_result.md",
			ProjectDescFile: "PROJECT.md",
			MemoryFile:      ".workflow/memory.md",
			LogFile:         ".workflow/loopforge.log",
		},
		Claude: ClaudeConfig{
			Executable: "claude",
			Model:      "sonnet",
			ExtraArgs:  []string{},
		},
		Research: ResearchConfig{
			Interpreter:    "python3",
			WorkerScript:   "research_worker.py",
			PerplexityMode: "balanced",
			Timeout:        90 * time.Second,
		},
		LogRotation: LogRotationConfig{
			MaxSizeMB:  20,
			MaxBackups: 3,
			MaxAgeDays: 14,
			Compress:   true,
		},
		Prompt: DefaultPrompt,
	}
}

// ApplySmokeTest clamps the fields a --smoke-test run must bound, per the
// driver's CLI contract: one short iteration against a safe prompt.
func ApplySmokeTest(cfg *Config) {
	cfg.Limits.MaxIterations = 1
	cfg.Limits.IterationTimeout = 120 * time.Second
	cfg.Limits.PerIterationCostCap = 2.0
	cfg.Limits.MaxTurns = 10
	cfg.Prompt = SmokeTestPrompt
}
