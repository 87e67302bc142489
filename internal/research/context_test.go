package research

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCollector_OmitsAbsentFiles(t *testing.T) {
	dir := t.TempDir()
	c := &Collector{
		ProjectDescFile: filepath.Join(dir, "missing.md"),
		MemoryFile:      filepath.Join(dir, "also-missing.md"),
		WorkDir:         dir,
	}
	got := c.Collect(context.Background())
	if got != "" {
		t.Errorf("expected empty context when all inputs absent, got %q", got)
	}
}

func TestCollector_CapsLargeFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "PROJECT.md")
	huge := strings.Repeat("x", ContextCapBytes*2)
	if err := os.WriteFile(path, []byte(huge), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	c := &Collector{ProjectDescFile: path, WorkDir: dir}
	got := c.Collect(context.Background())
	if len(got) > ContextCapBytes+200 {
		t.Errorf("collected context not capped: %d bytes", len(got))
	}
}

func TestCollector_IncludesPresentFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memory.md")
	if err := os.WriteFile(path, []byte("remember the thing"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	c := &Collector{MemoryFile: path, WorkDir: dir}
	got := c.Collect(context.Background())
	if !strings.Contains(got, "remember the thing") {
		t.Errorf("expected memory contents in collected context, got %q", got)
	}
	if !strings.Contains(got, "Memory notes") {
		t.Errorf("expected section label, got %q", got)
	}
}
