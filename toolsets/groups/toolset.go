package groups

import (
	"errors"

	"mcpfleet/internal/mcp"
)

type Toolset struct {
	ctx mcp.ToolsetContext
}

func New() *Toolset {
	return &Toolset{}
}

func init() {
	mcp.MustRegisterToolset("groups", func() mcp.Toolset {
		return New()
	})
}

func (t *Toolset) ID() string {
	return "groups"
}

func (t *Toolset) Version() string {
	return "0.1.0"
}

func (t *Toolset) Init(ctx mcp.ToolsetContext) error {
	if ctx.Groups == nil {
		return errors.New("missing group store")
	}
	t.ctx = ctx
	return nil
}

func (t *Toolset) Register(reg mcp.Registry) error {
	tools := []mcp.ToolSpec{
		{
			Name:        "groups.list",
			Description: "List tool groups.",
			ToolsetID:   t.ID(),
			InputSchema: schemaEmpty(),
			Safety:      mcp.SafetyReadOnly,
			Handler:     t.handleList,
		},
		{
			Name:        "groups.get",
			Description: "Get a group's description, tools and registration state.",
			ToolsetID:   t.ID(),
			InputSchema: schemaGroup(true),
			Safety:      mcp.SafetyReadOnly,
			Handler:     t.handleGet,
		},
		{
			Name:        "groups.available_tools",
			Description: "List registry tools with their membership in a group (default group when omitted).",
			ToolsetID:   t.ID(),
			InputSchema: schemaGroup(false),
			Safety:      mcp.SafetyReadOnly,
			Handler:     t.handleAvailableTools,
		},
		{
			Name:        "groups.create",
			Description: "Create a group. Groups without tools are registered lazily on their first update.",
			ToolsetID:   t.ID(),
			InputSchema: schemaCreate(),
			Safety:      mcp.SafetyWrite,
			Handler:     t.handleCreate,
		},
		{
			Name:        "groups.update",
			Description: "Replace a group's tools. Unknown tool names leave the group unchanged.",
			ToolsetID:   t.ID(),
			InputSchema: schemaUpdate(),
			Safety:      mcp.SafetyWrite,
			Handler:     t.handleUpdate,
		},
		{
			Name:        "groups.delete",
			Description: "Delete a group and deregister it (requires confirm=true). The default group is protected.",
			ToolsetID:   t.ID(),
			InputSchema: schemaConfirmGroup(),
			Safety:      mcp.SafetyDestructive,
			Handler:     t.handleDelete,
		},
		{
			Name:        "groups.enable_tool",
			Description: "Add one tool to a group.",
			ToolsetID:   t.ID(),
			InputSchema: schemaMembership(),
			Safety:      mcp.SafetyWrite,
			Handler:     t.membershipHandler(actionEnable),
		},
		{
			Name:        "groups.disable_tool",
			Description: "Remove one tool from a group.",
			ToolsetID:   t.ID(),
			InputSchema: schemaMembership(),
			Safety:      mcp.SafetyWrite,
			Handler:     t.membershipHandler(actionDisable),
		},
		{
			Name:        "groups.toggle_tool",
			Description: "Flip one tool's membership in a group.",
			ToolsetID:   t.ID(),
			InputSchema: schemaMembership(),
			Safety:      mcp.SafetyWrite,
			Handler:     t.membershipHandler(actionToggle),
		},
		{
			Name:        "groups.presets_list",
			Description: "List saved tool presets.",
			ToolsetID:   t.ID(),
			InputSchema: schemaEmpty(),
			Safety:      mcp.SafetyReadOnly,
			Handler:     t.handlePresetList,
		},
		{
			Name:        "groups.preset_save",
			Description: "Save a tool selection as a preset, from explicit tools or from an existing group.",
			ToolsetID:   t.ID(),
			InputSchema: schemaPresetSave(),
			Safety:      mcp.SafetyWrite,
			Handler:     t.handlePresetSave,
		},
		{
			Name:        "groups.preset_load",
			Description: "Apply a preset to a group (default group when omitted).",
			ToolsetID:   t.ID(),
			InputSchema: schemaPresetLoad(),
			Safety:      mcp.SafetyRiskyWrite,
			Handler:     t.handlePresetLoad,
		},
		{
			Name:        "groups.preset_delete",
			Description: "Delete a saved preset (requires confirm=true).",
			ToolsetID:   t.ID(),
			InputSchema: schemaPresetDelete(),
			Safety:      mcp.SafetyDestructive,
			Handler:     t.handlePresetDelete,
		},
	}
	for _, tool := range tools {
		if err := reg.Add(tool); err != nil {
			return err
		}
	}
	return nil
}
