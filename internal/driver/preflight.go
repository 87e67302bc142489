package driver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// preflightTimeout bounds the --version readiness check.
const preflightTimeout = 30 * time.Second

// preflight runs the checks the driver performs before the first
// iteration: the assistant executable must answer --version within the
// timeout; an absent project description file or missing version
// control is warned about but not fatal; the state directory is created
// if absent.
func (d *Driver) preflight(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Join(d.workDir, d.cfg.Paths.StateDir), 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	descPath := filepath.Join(d.workDir, d.cfg.Paths.ProjectDescFile)
	if _, err := os.Stat(descPath); err != nil {
		d.logger.Warn("workspace has no project description file", "path", descPath)
	}
	if _, err := os.Stat(filepath.Join(d.workDir, ".git")); err != nil {
		d.logger.Warn("workspace does not appear to be version-controlled", "path", d.workDir)
	}

	return d.sup.CheckVersion(ctx, preflightTimeout, d.cmdRunner)
}
