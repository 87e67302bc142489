package research

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/loopforge/loopforge/internal/procrunner"
)

// ContextCapBytes bounds how much of each input file is included in the
// assembled query context.
const ContextCapBytes = 3 * 1024

// gitLogTimeout bounds the recent-history subprocess call.
const gitLogTimeout = 5 * time.Second

// Collector assembles the bounded session context sent to the oracle.
// Every input is best-effort: an absent file or failing command is
// simply omitted, never an error.
type Collector struct {
	ProjectDescFile string
	MemoryFile      string
	StateFile       string
	ResearchFile    string
	WorkDir         string
	CmdRunner       procrunner.CommandRunner
}

// Collect reads the fixed set of workspace inputs and renders them into
// one labeled text blob for the query prompt.
func (c *Collector) Collect(ctx context.Context) string {
	var b strings.Builder

	addSection(&b, "Project description", readCapped(c.ProjectDescFile))
	addSection(&b, "Memory notes", readCapped(c.MemoryFile))
	addSection(&b, "Previous state snapshot", readCapped(c.StateFile))
	addSection(&b, "Last research result", readCapped(c.ResearchFile))
	addSection(&b, "Recent version-control log", c.recentLog(ctx))

	return b.String()
}

func addSection(b *strings.Builder, label, content string) {
	if content == "" {
		return
	}
	b.WriteString("## ")
	b.WriteString(label)
	b.WriteString("\n")
	b.WriteString(content)
	b.WriteString("\n\n")
}

func readCapped(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	if len(data) > ContextCapBytes {
		data = data[:ContextCapBytes]
	}
	return strings.TrimSpace(string(data))
}

func (c *Collector) recentLog(ctx context.Context) string {
	if c.CmdRunner == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, gitLogTimeout)
	defer cancel()

	out, err := c.CmdRunner.Run(ctx, "git", "-C", c.WorkDir, "log", "--oneline", "-n", "10")
	if err != nil {
		return ""
	}
	text := strings.TrimSpace(string(out))
	if len(text) > ContextCapBytes {
		text = text[:ContextCapBytes]
	}
	return text
}
