// Package events parses the assistant CLI's NDJSON stream into a summary
// record the driver can act on.
package events

// modifyingTools are the tool names whose input carries a file_path that
// counts as a modified file.
var modifyingTools = map[string]bool{
	"Edit":      true,
	"Write":     true,
	"MultiEdit": true,
}

// RawEvent is the shape of one decoded NDJSON line. Fields absent from a
// given event type are left at their zero value.
type RawEvent struct {
	Type       string         `json:"type"`
	Subtype    string         `json:"subtype,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	Message    *RawMessage    `json:"message,omitempty"`

	NumTurns     int     `json:"num_turns,omitempty"`
	DurationMs   int64   `json:"duration_ms,omitempty"`
	TotalCostUSD float64 `json:"total_cost_usd,omitempty"`
	Result       string  `json:"result,omitempty"`
	IsError      bool    `json:"is_error,omitempty"`
	Model        string  `json:"model,omitempty"`
}

// RawMessage is the assistant message payload on an "assistant" event.
type RawMessage struct {
	Content []ContentBlock `json:"content,omitempty"`
}

// ContentBlock is one block of an assistant message's content list.
type ContentBlock struct {
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	Thinking string         `json:"thinking,omitempty"`
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name,omitempty"`
	Input    map[string]any `json:"input,omitempty"`
}

// Result is the terminal record carried by a "result" event.
type Result struct {
	SessionID    string
	TotalCostUSD float64
	DurationMs   int64
	NumTurns     int
	ResultText   string
	IsError      bool
}

// ParsedStream is the summary produced by Extract: everything the driver
// needs from one assistant invocation.
type ParsedStream struct {
	Events []RawEvent

	SessionHandle string
	Result        *Result

	AssistantText string
	ReasoningText string
	ToolNames     []string
	ModifiedFiles []string

	ParseErrors int
	UserEvents  int
}
