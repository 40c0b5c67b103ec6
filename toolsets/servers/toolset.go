package servers

import (
	"errors"
	"time"

	"mcpfleet/internal/mcp"
)

type Toolset struct {
	ctx mcp.ToolsetContext
}

func New() *Toolset {
	return &Toolset{}
}

func init() {
	mcp.MustRegisterToolset("servers", func() mcp.Toolset {
		return New()
	})
}

func (t *Toolset) ID() string {
	return "servers"
}

func (t *Toolset) Version() string {
	return "0.1.0"
}

func (t *Toolset) Init(ctx mcp.ToolsetContext) error {
	if ctx.Fleet == nil || ctx.Provisioner == nil {
		return errors.New("missing service registry")
	}
	t.ctx = ctx
	return nil
}

func (t *Toolset) Register(reg mcp.Registry) error {
	tools := []mcp.ToolSpec{
		{
			Name:        "servers.provision",
			Description: "Pull an image, add a compose entry, start the container and register it with the tool registry. Rolls back on failure.",
			ToolsetID:   t.ID(),
			InputSchema: schemaProvision(),
			Safety:      mcp.SafetyWrite,
			Handler:     t.handleProvision,
			Timeout:     t.provisionTimeout(),
		},
		{
			Name:        "servers.list",
			Description: "List registered tool servers with container status and tool counts.",
			ToolsetID:   t.ID(),
			InputSchema: schemaEmpty(),
			Safety:      mcp.SafetyReadOnly,
			Handler:     t.handleList,
		},
		{
			Name:        "servers.status",
			Description: "Show the container status, compose entry and registry descriptor of one server.",
			ToolsetID:   t.ID(),
			InputSchema: schemaName(),
			Safety:      mcp.SafetyReadOnly,
			Handler:     t.handleStatus,
		},
		{
			Name:        "servers.tools",
			Description: "List tools known to the tool registry, grouped by server.",
			ToolsetID:   t.ID(),
			InputSchema: schemaTools(),
			Safety:      mcp.SafetyReadOnly,
			Handler:     t.handleTools,
		},
		{
			Name:        "servers.compose_services",
			Description: "List services in the compose document and whether each is dynamically managed.",
			ToolsetID:   t.ID(),
			InputSchema: schemaEmpty(),
			Safety:      mcp.SafetyReadOnly,
			Handler:     t.handleComposeServices,
		},
		{
			Name:        "servers.secrets_status",
			Description: "Report whether a secret store is configured for provisioned environment values.",
			ToolsetID:   t.ID(),
			InputSchema: schemaEmpty(),
			Safety:      mcp.SafetyReadOnly,
			Handler:     t.handleSecretsStatus,
		},
		{
			Name:        "servers.restart",
			Description: "Restart a server container (requires confirm=true).",
			ToolsetID:   t.ID(),
			InputSchema: schemaConfirmName(),
			Safety:      mcp.SafetyRiskyWrite,
			Handler:     t.handleRestart,
		},
		{
			Name:        "servers.delete",
			Description: "Deregister a server, delete its descriptor, stop its container and remove its compose entry (requires confirm=true).",
			ToolsetID:   t.ID(),
			InputSchema: schemaConfirmName(),
			Safety:      mcp.SafetyDestructive,
			Handler:     t.handleDelete,
		},
	}
	for _, tool := range tools {
		if err := reg.Add(tool); err != nil {
			return err
		}
	}
	return nil
}

// provisionTimeout covers a full run: pull, start, readiness and the
// registry calls.
func (t *Toolset) provisionTimeout() time.Duration {
	cfg := t.ctx.Config
	if cfg == nil {
		return 0
	}
	registry := time.Duration(cfg.Registry.HTTPTimeoutSeconds) * time.Second
	return cfg.Timeouts.Pull() + cfg.Timeouts.Start() + cfg.Timeouts.Ready() + 2*registry
}
