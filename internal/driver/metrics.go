package driver

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/loopforge/loopforge/internal/state"
	"github.com/loopforge/loopforge/internal/trace"
)

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Summary is written once at exit to metrics_summary.json.
type Summary struct {
	ExitCode        int                              `json:"exit_code"`
	Status          string                           `json:"status"`
	Iterations      int                               `json:"iterations"`
	TotalCostUSD    float64                          `json:"total_cost_usd"`
	TotalTurns      int                              `json:"total_turns"`
	ErrorCount      int                              `json:"error_count"`
	TotalDurationMs int64                            `json:"total_duration_ms"`
	ModelAnalytics  map[string]state.ModelAnalytics `json:"model_analytics"`
}

// writeSummary persists the final metrics_summary.json. A failure here is
// logged, not fatal: the exit code itself is the authoritative outcome.
func (d *Driver) writeSummary(exitCode int) {
	st := d.store.State()
	summary := Summary{
		ExitCode:        exitCode,
		Status:          st.Status,
		Iterations:      st.Iteration,
		TotalCostUSD:    st.Metrics.TotalCostUSD,
		TotalTurns:      st.Metrics.TotalTurns,
		ErrorCount:      st.Metrics.TotalErrors,
		TotalDurationMs: st.Metrics.TotalDurationMs,
		ModelAnalytics:  d.store.ComputeModelAnalytics(),
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		d.logger.Warn("failed to marshal metrics summary", "error", err)
		return
	}

	path := filepath.Join(d.workDir, d.cfg.Paths.MetricsFile)
	if err := writeFile(path, data); err != nil {
		d.logger.Warn("failed to write metrics summary", "error", err)
	}

	d.emit(trace.LoopEnd, map[string]any{"exit_code": exitCode, "status": st.Status})
}
