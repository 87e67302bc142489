// Package trace appends structured observability events to a rotating
// NDJSON file. The event vocabulary is a closed set (extending it is
// allowed, narrowing it is not): external dashboards depend on it.
package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// EventType is one of the closed vocabulary of trace events.
type EventType string

// The closed trace event vocabulary.
const (
	LoopStart            EventType = "loop_start"
	ClaudeInvoke         EventType = "claude_invoke"
	ClaudeComplete       EventType = "claude_complete"
	CompletionDetected   EventType = "completion_detected"
	ResearchStart        EventType = "research_start"
	ResearchComplete     EventType = "research_complete"
	TimeoutDetected      EventType = "timeout_detected"
	TimeoutCooldown      EventType = "timeout_cooldown"
	ModelFallback        EventType = "model_fallback"
	ModelFallbackRevert  EventType = "model_fallback_revert"
	StagnationReset      EventType = "stagnation_reset"
	StagnationExit       EventType = "stagnation_exit"
	SessionRotation      EventType = "session_rotation"
	BudgetExceeded       EventType = "budget_exceeded"
	PreflightFailed      EventType = "preflight_failed"
	LoopEnd              EventType = "loop_end"
)

// Sink appends trace events to a fixed file, rotating to a ".1" sibling
// when the file exceeds the configured size.
type Sink struct {
	mu           sync.Mutex
	path         string
	rotateBytes  int64
	file         *os.File
	size         int64
	iterationRef func() int
}

// NewSink opens (creating if needed) the trace file at path. iterationRef
// is called at emit time to stamp each event with the current iteration
// number.
func NewSink(path string, rotateBytes int64, iterationRef func() int) (*Sink, error) {
	s := &Sink{path: path, rotateBytes: rotateBytes, iterationRef: iterationRef}
	if err := s.openAppend(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sink) openAppend() error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open trace file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat trace file: %w", err)
	}
	s.file = f
	s.size = info.Size()
	return nil
}

// Emit appends one JSON object with a UTC timestamp, event type, current
// iteration, and the supplied fields, as a single NDJSON line.
func (s *Sink) Emit(eventType EventType, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rotateBytes > 0 && s.size > s.rotateBytes {
		if err := s.rotateLocked(); err != nil {
			return err
		}
	}

	record := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"event":     string(eventType),
	}
	if s.iterationRef != nil {
		record["iteration"] = s.iterationRef()
	}
	for k, v := range fields {
		record[k] = v
	}

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal trace event: %w", err)
	}
	line = append(line, '\n')

	n, err := s.file.Write(line)
	if err != nil {
		return fmt.Errorf("write trace event: %w", err)
	}
	s.size += int64(n)
	return nil
}

// rotateLocked renames the current file to its ".1" sibling (replacing
// any prior one) and opens a fresh file. Caller holds s.mu.
func (s *Sink) rotateLocked() error {
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close trace file before rotation: %w", err)
	}
	if err := os.Rename(s.path, s.path+".1"); err != nil {
		return fmt.Errorf("rotate trace file: %w", err)
	}
	return s.openAppend()
}

// Close closes the underlying file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
