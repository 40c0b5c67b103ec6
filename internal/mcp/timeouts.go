package mcp

import (
	"context"
	"time"

	"mcpfleet/internal/config"
)

func withToolTimeout(ctx context.Context, cfg *config.Config, spec ToolSpec) (context.Context, context.CancelFunc) {
	timeout := toolTimeout(cfg, spec)
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// toolTimeout resolves, in order: per-tool config, the tool's own timeout,
// the configured default. The configured maximum caps all three.
func toolTimeout(cfg *config.Config, spec ToolSpec) time.Duration {
	if cfg == nil {
		return spec.Timeout
	}
	timeout := time.Duration(cfg.Timeouts.ToolDefaultSeconds) * time.Second
	if spec.Timeout > 0 {
		timeout = spec.Timeout
	}
	if override, ok := cfg.Timeouts.PerTool[spec.Name]; ok && override > 0 {
		timeout = time.Duration(override) * time.Second
	}
	limit := time.Duration(cfg.Timeouts.ToolMaxSeconds) * time.Second
	switch {
	case timeout < 0:
		return 0
	case limit > 0 && (timeout == 0 || timeout > limit):
		return limit
	}
	return timeout
}
