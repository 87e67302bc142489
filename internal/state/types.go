// Package state persists the workflow's cycle history and aggregated
// metrics to a schema-versioned JSON file, atomically.
package state

import "time"

// CurrentSchemaVersion is the version written by Save. Load upgrades any
// older stored record to this version before returning it.
const CurrentSchemaVersion = 1

// PromptPreviewLen bounds how much of a submitted prompt a Cycle retains.
const PromptPreviewLen = 200

// MaxSessionHandleLen is the longest session handle ValidateSessionHandle
// accepts.
const MaxSessionHandleLen = 200

// Status values for WorkflowState.Status.
const (
	StatusIdle      = "idle"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Cycle is one completed iteration. Immutable after creation.
type Cycle struct {
	Sequence         int       `json:"sequence"`
	PromptPreview    string    `json:"prompt_preview"`
	SessionHandle    string    `json:"session_handle,omitempty"`
	Model            string    `json:"model,omitempty"`
	CostUSD          float64   `json:"cost_usd"`
	DurationMs       int64     `json:"duration_ms"`
	Turns            int       `json:"turns"`
	IsError          bool      `json:"is_error"`
	ErrorDescription string    `json:"error_description,omitempty"`
	CompletedAt      time.Time `json:"completed_at"`
}

// AggregatedMetrics holds the running sums over all cycles.
type AggregatedMetrics struct {
	TotalCostUSD    float64  `json:"total_cost_usd"`
	TotalDurationMs int64    `json:"total_duration_ms"`
	TotalTurns      int      `json:"total_turns"`
	TotalErrors     int      `json:"total_errors"`
	ModifiedFiles   []string `json:"modified_files"`
}

// WorkflowState is the full persisted record.
type WorkflowState struct {
	SchemaVersion     int               `json:"schema_version"`
	RunID             string            `json:"run_id"`
	Iteration         int               `json:"iteration"`
	Status            string            `json:"status"`
	Cycles            []Cycle           `json:"cycles"`
	Metrics           AggregatedMetrics `json:"metrics"`
	StartedAt         time.Time         `json:"started_at"`
	EndedAt           time.Time         `json:"ended_at,omitempty"`
	LastSessionHandle string            `json:"last_session_handle,omitempty"`
	FailureReason     string            `json:"failure_reason,omitempty"`
}

// BudgetResult is the outcome of CheckBudget.
type BudgetResult string

// BudgetResult values.
const (
	BudgetOK                    BudgetResult = "ok"
	IterationBudgetExceeded     BudgetResult = "ITERATION_BUDGET_EXCEEDED"
	TotalBudgetExceeded         BudgetResult = "TOTAL_BUDGET_EXCEEDED"
)

// ModelAnalytics summarizes the cycles run under one model name.
type ModelAnalytics struct {
	Model          string  `json:"model"`
	Count          int     `json:"count"`
	MeanTurns      float64 `json:"mean_turns"`
	MeanCostUSD    float64 `json:"mean_cost_usd"`
	MeanDurationMs float64 `json:"mean_duration_ms"`
	TimeoutCount   int     `json:"timeout_count"`
	TimeoutRate    float64 `json:"timeout_rate"`
	ErrorCount     int     `json:"error_count"`
	ErrorRate      float64 `json:"error_rate"`
}

func newEmptyState() *WorkflowState {
	return &WorkflowState{
		SchemaVersion: CurrentSchemaVersion,
		Status:        StatusIdle,
		Metrics:       AggregatedMetrics{ModifiedFiles: []string{}},
	}
}
