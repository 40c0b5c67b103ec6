package mcp

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mcpfleet/internal/audit"
	"mcpfleet/internal/compose"
	"mcpfleet/internal/config"
	"mcpfleet/internal/groups"
	"mcpfleet/internal/policy"
	"mcpfleet/internal/provision"
	"mcpfleet/internal/redact"
	"mcpfleet/internal/services"
	"mcpfleet/internal/toolregistry"
)

type ToolSafety string

const (
	SafetyReadOnly    ToolSafety = "read_only"
	SafetyWrite       ToolSafety = "write"
	SafetyRiskyWrite  ToolSafety = "risky_write"
	SafetyDestructive ToolSafety = "destructive"
)

type ToolHandler func(ctx context.Context, req ToolRequest) (ToolResult, error)

type ToolSpec struct {
	Name        string
	Description string
	ToolsetID   string
	InputSchema map[string]any
	Safety      ToolSafety
	Handler     ToolHandler
	// Timeout replaces the configured default; per-tool config and the
	// maximum still apply.
	Timeout time.Duration
}

type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Safety      ToolSafety     `json:"safety"`
	InputSchema map[string]any `json:"inputSchema"`
}

type ToolRequest struct {
	Arguments map[string]any
	User      policy.User
	Context   ToolContext
}

type ToolResult struct {
	Data     any
	Metadata ToolMetadata
}

// ToolMetadata names what a call touched. It feeds the audit log and the
// result _meta.
type ToolMetadata struct {
	Servers []string `json:"servers,omitempty"`
	Groups  []string `json:"groups,omitempty"`
}

// ToolContext carries the shared runtime into every handler.
type ToolContext struct {
	Config      *config.Config
	Logger      *zap.Logger
	Policy      *policy.Authorizer
	Redactor    *redact.Redactor
	Audit       *audit.Logger
	Compose     *compose.Store
	Fleet       *services.Registry
	Provisioner *provision.Saga
	Groups      *groups.Store
	Tools       toolregistry.Client
	Invoker     *ToolInvoker
	Registry    Registry
}

type ToolsetContext = ToolContext
