package events

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
)

// ScannerBufferSize is the buffer size used to scan NDJSON lines (1MB).
const ScannerBufferSize = 1024 * 1024

// Extractor parses an assistant CLI NDJSON stream into a ParsedStream.
type Extractor struct {
	logger *slog.Logger
}

// NewExtractor creates an Extractor. A nil logger falls back to slog.Default.
func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger}
}

// Extract reads r line by line until EOF or a terminal "result" event,
// per the contract in the component design: malformed lines are logged
// and skipped, never abort the stream; extraction halts as soon as a
// result event is observed and any further bytes are ignored.
func (x *Extractor) Extract(r io.Reader) (*ParsedStream, error) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, ScannerBufferSize)
	scanner.Buffer(buf, ScannerBufferSize)

	ps := &ParsedStream{}
	seenTools := map[string]bool{}
	seenFiles := map[string]bool{}

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var ev RawEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			ps.ParseErrors++
			x.logger.Warn("skipping malformed NDJSON line", "error", err)
			continue
		}

		ps.Events = append(ps.Events, ev)
		x.applyEvent(ps, &ev, seenTools, seenFiles)

		if ev.Type == "result" {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return ps, fmt.Errorf("scanning assistant stream: %w", err)
	}
	return ps, nil
}

func (x *Extractor) applyEvent(ps *ParsedStream, ev *RawEvent, seenTools, seenFiles map[string]bool) {
	switch ev.Type {
	case "init", "system":
		if ps.SessionHandle == "" && ev.SessionID != "" {
			ps.SessionHandle = ev.SessionID
		}
	case "user":
		ps.UserEvents++
	case "assistant", "content_block_start":
		if ev.Message == nil {
			return
		}
		for _, block := range ev.Message.Content {
			x.applyBlock(ps, &block, seenTools, seenFiles)
		}
	case "result":
		if ps.SessionHandle == "" && ev.SessionID != "" {
			ps.SessionHandle = ev.SessionID
		}
		ps.Result = &Result{
			SessionID:    ev.SessionID,
			TotalCostUSD: ev.TotalCostUSD,
			DurationMs:   ev.DurationMs,
			NumTurns:     ev.NumTurns,
			ResultText:   ev.Result,
			IsError:      ev.IsError,
		}
	}
}

func (x *Extractor) applyBlock(ps *ParsedStream, block *ContentBlock, seenTools, seenFiles map[string]bool) {
	switch block.Type {
	case "text":
		ps.AssistantText += block.Text
	case "thinking":
		ps.ReasoningText += block.Thinking
	case "tool_use":
		if block.Name != "" && !seenTools[block.Name] {
			seenTools[block.Name] = true
			ps.ToolNames = append(ps.ToolNames, block.Name)
		}
		if modifyingTools[block.Name] {
			if path, ok := block.Input["file_path"].(string); ok && path != "" {
				if !seenFiles[path] {
					seenFiles[path] = true
					ps.ModifiedFiles = append(ps.ModifiedFiles, path)
				}
			}
		}
	}
}
