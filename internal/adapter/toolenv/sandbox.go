package toolenv

import (
	"context"
	"log/slog"
	"os/exec"
	"strings"

	"presenter-ai/internal/domain"
	"presenter-ai/internal/infra/config"
)

// reapStaleSandbox force-removes a leftover sandbox container from an earlier
// run of the same task. A missing container is the normal case and not an
// error; any other failure means the runtime is unusable and the run must not
// proceed.
func reapStaleSandbox(ctx context.Context, cfg config.SandboxConfig, container string, logger *slog.Logger) error {
	if !cfg.Enabled {
		return nil
	}

	cmd := exec.CommandContext(ctx, cfg.Runtime, "rm", "-f", container)
	out, err := cmd.CombinedOutput()
	if err == nil {
		logger.Info("stale sandbox removed", "container", container)
		return nil
	}
	if strings.Contains(string(out), "No such container") {
		return nil
	}
	return domain.NewDomainError("reapStaleSandbox", domain.ErrSandboxUnavailable,
		strings.TrimSpace(string(out)))
}

// sandboxContainerName derives the per-task container name used by the
// command execution provider.
func sandboxContainerName(taskID string) string {
	return "presenter-sandbox-" + taskID
}
