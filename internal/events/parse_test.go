package events

import (
	"strings"
	"testing"
)

func TestExtract_CleanCompletion(t *testing.T) {
	stream := strings.Join([]string{
		`{"type":"init","session_id":"s1"}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"done"}]}}`,
		`{"type":"result","session_id":"s1","total_cost_usd":0.05,"num_turns":2,"result":"PROJECT_COMPLETE","is_error":false}`,
	}, "\n")

	ps, err := NewExtractor(nil).Extract(strings.NewReader(stream))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if ps.SessionHandle != "s1" {
		t.Errorf("SessionHandle = %q, want s1", ps.SessionHandle)
	}
	if ps.Result == nil {
		t.Fatal("expected a terminal Result")
	}
	if ps.Result.TotalCostUSD != 0.05 || ps.Result.NumTurns != 2 {
		t.Errorf("Result = %+v", ps.Result)
	}
	if ps.AssistantText != "done" {
		t.Errorf("AssistantText = %q, want done", ps.AssistantText)
	}
}

func TestExtract_MalformedLineSkippedNotFatal(t *testing.T) {
	stream := strings.Join([]string{
		`not json`,
		`{"type":"result","session_id":"s1","num_turns":1,"result":"ok"}`,
	}, "\n")

	ps, err := NewExtractor(nil).Extract(strings.NewReader(stream))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if ps.ParseErrors != 1 {
		t.Errorf("ParseErrors = %d, want 1", ps.ParseErrors)
	}
	if ps.Result == nil {
		t.Fatal("expected result to still be parsed after a bad line")
	}
}

func TestExtract_BlankLinesSkipped(t *testing.T) {
	stream := "\n\n  \n" + `{"type":"result","num_turns":0,"result":""}` + "\n"

	ps, err := NewExtractor(nil).Extract(strings.NewReader(stream))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(ps.Events) != 1 {
		t.Errorf("Events = %d, want 1", len(ps.Events))
	}
}

func TestExtract_NoResultMeansTimeoutCandidate(t *testing.T) {
	stream := `{"type":"user"}` + "\n" + `{"type":"user"}` + "\n"

	ps, err := NewExtractor(nil).Extract(strings.NewReader(stream))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if ps.Result != nil {
		t.Error("expected no terminal result")
	}
	if ps.UserEvents != 2 {
		t.Errorf("UserEvents = %d, want 2", ps.UserEvents)
	}
}

func TestExtract_ToolUseTracksModifiedFiles(t *testing.T) {
	stream := strings.Join([]string{
		`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Edit","input":{"file_path":"a.go"}},{"type":"tool_use","name":"Read","input":{"file_path":"b.go"}},{"type":"tool_use","name":"Write","input":{"file_path":"a.go"}}]}}`,
		`{"type":"result","num_turns":1,"result":"ok"}`,
	}, "\n")

	ps, err := NewExtractor(nil).Extract(strings.NewReader(stream))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(ps.ModifiedFiles) != 1 || ps.ModifiedFiles[0] != "a.go" {
		t.Errorf("ModifiedFiles = %v, want [a.go] deduplicated", ps.ModifiedFiles)
	}
	if len(ps.ToolNames) != 3 {
		t.Errorf("ToolNames = %v, want 3 distinct tools", ps.ToolNames)
	}
}

func TestExtract_HaltsAfterResult(t *testing.T) {
	stream := strings.Join([]string{
		`{"type":"result","num_turns":1,"result":"PROJECT_COMPLETE"}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"ignored"}]}}`,
	}, "\n")

	ps, err := NewExtractor(nil).Extract(strings.NewReader(stream))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if ps.AssistantText != "" {
		t.Errorf("AssistantText = %q, want empty (extraction should halt at result)", ps.AssistantText)
	}
	if len(ps.Events) != 1 {
		t.Errorf("Events = %d, want 1", len(ps.Events))
	}
}
