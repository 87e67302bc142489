// Package research invokes the external research oracle worker, wrapping
// it with retry and circuit-breaker protection so a flapping or slow
// oracle degrades the driver gracefully instead of blocking it.
package research

import "time"

// ErrorKind classifies a failed query. The retryable subset is
// {TIMEOUT, WORKER_ERROR, PARSE_ERROR}; everything else (including
// CIRCUIT_OPEN, which is never itself retried) is surfaced immediately.
type ErrorKind string

// The closed set of research error kinds.
const (
	ErrTimeout        ErrorKind = "TIMEOUT"
	ErrWorker         ErrorKind = "WORKER_ERROR"
	ErrParse          ErrorKind = "PARSE_ERROR"
	ErrScriptNotFound ErrorKind = "SCRIPT_NOT_FOUND"
	ErrQuery          ErrorKind = "QUERY_ERROR"
	ErrCircuitOpen    ErrorKind = "CIRCUIT_OPEN"
)

var retryableKinds = map[ErrorKind]bool{
	ErrTimeout: true,
	ErrWorker:  true,
	ErrParse:   true,
}

// IsRetryable reports whether a query returning this kind should be
// retried.
func (k ErrorKind) IsRetryable() bool {
	return retryableKinds[k]
}

// Research is the successful result of a query.
type Research struct {
	QueryPreview string    `json:"query_preview"`
	ResponseText string    `json:"response_text"`
	Model        string    `json:"model"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// Result is either a Research on success or an ErrorKind on failure.
// Exactly one of Research or Err is set.
type Result struct {
	Research *Research
	Err      ErrorKind
	Detail   string
}

// Ok reports whether the query succeeded.
func (r Result) Ok() bool {
	return r.Research != nil
}

// workerOutput is the JSON document the oracle worker writes to stdout.
type workerOutput struct {
	Synthesis       string `json:"synthesis"`
	Error           string `json:"error"`
	ExecutionTimeMs int    `json:"execution_time_ms"`
}
