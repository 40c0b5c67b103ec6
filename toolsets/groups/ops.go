package groups

import (
	"context"
	"fmt"
	"strings"

	"mcpfleet/internal/failure"
	groupstore "mcpfleet/internal/groups"
	"mcpfleet/internal/mcp"
	"mcpfleet/internal/toolregistry"
)

const (
	actionEnable  = groupstore.ActionEnable
	actionDisable = groupstore.ActionDisable
	actionToggle  = groupstore.ActionToggle
)

type toolEntry struct {
	Name        string `json:"name"`
	Server      string `json:"server"`
	Description string `json:"description,omitempty"`
	InGroup     bool   `json:"inGroup"`
}

func (t *Toolset) handleList(ctx context.Context, req mcp.ToolRequest) (mcp.ToolResult, error) {
	names, err := t.ctx.Groups.List()
	if err != nil {
		return errorResult(err), err
	}
	return mcp.ToolResult{
		Data:     map[string]any{"groups": names, "count": len(names), "defaultGroup": t.ctx.Groups.DefaultGroup()},
		Metadata: mcp.ToolMetadata{Groups: names},
	}, nil
}

func (t *Toolset) handleGet(ctx context.Context, req mcp.ToolRequest) (mcp.ToolResult, error) {
	name := toString(req.Arguments["group"])
	if name == "" {
		err := failure.Validationf("group is required")
		return errorResult(err), err
	}
	result, err := t.ctx.Groups.Get(name)
	if err != nil {
		return errorResult(err), err
	}
	return mcp.ToolResult{Data: result, Metadata: groupMeta(result.Name)}, nil
}

func (t *Toolset) handleAvailableTools(ctx context.Context, req mcp.ToolRequest) (mcp.ToolResult, error) {
	name := t.groupOrDefault(req.Arguments)
	if t.ctx.Tools == nil {
		err := fmt.Errorf("tool registry not configured")
		return errorResult(err), err
	}
	members, err := t.ctx.Groups.Tools(name)
	if err != nil {
		return errorResult(err), err
	}
	tools, err := t.ctx.Tools.ListTools(ctx)
	if err != nil {
		return errorResult(err), err
	}
	inGroup := make(map[string]bool, len(members))
	for _, tool := range members {
		inGroup[tool] = true
	}
	entries := make([]toolEntry, 0, len(tools))
	for _, tool := range tools {
		server, _ := toolregistry.ServerOf(tool.Name)
		entries = append(entries, toolEntry{
			Name:        tool.Name,
			Server:      server,
			Description: tool.Description,
			InGroup:     inGroup[tool.Name],
		})
	}
	return mcp.ToolResult{
		Data:     map[string]any{"group": name, "tools": entries, "enabled": len(members), "total": len(entries)},
		Metadata: groupMeta(name),
	}, nil
}

func (t *Toolset) handleCreate(ctx context.Context, req mcp.ToolRequest) (mcp.ToolResult, error) {
	args := req.Arguments
	name := toString(args["group"])
	result, err := t.ctx.Groups.Create(ctx, name, toString(args["description"]), toStringSlice(args["tools"]))
	if err != nil {
		return mcp.ToolResult{Data: failureData(err, result), Metadata: groupMeta(name)}, err
	}
	return mcp.ToolResult{Data: withMessage(result, fmt.Sprintf("Group '%s' created", result.Name)), Metadata: groupMeta(result.Name)}, nil
}

func (t *Toolset) handleUpdate(ctx context.Context, req mcp.ToolRequest) (mcp.ToolResult, error) {
	args := req.Arguments
	name := toString(args["group"])
	result, err := t.ctx.Groups.Update(ctx, name, toStringSlice(args["tools"]))
	if err != nil {
		return mcp.ToolResult{Data: failureData(err, result), Metadata: groupMeta(name)}, err
	}
	return mcp.ToolResult{Data: withMessage(result, fmt.Sprintf("Group '%s' updated", result.Name)), Metadata: groupMeta(result.Name)}, nil
}

func (t *Toolset) handleDelete(ctx context.Context, req mcp.ToolRequest) (mcp.ToolResult, error) {
	args := req.Arguments
	if err := requireConfirm(args); err != nil {
		return errorResult(err), err
	}
	name := toString(args["group"])
	if err := t.ctx.Groups.Delete(ctx, name); err != nil {
		return errorResult(err), err
	}
	return mcp.ToolResult{
		Data:     map[string]any{"deleted": name, "message": fmt.Sprintf("Group '%s' deleted", name)},
		Metadata: groupMeta(name),
	}, nil
}

func (t *Toolset) membershipHandler(action groupstore.Action) mcp.ToolHandler {
	return func(ctx context.Context, req mcp.ToolRequest) (mcp.ToolResult, error) {
		name := t.groupOrDefault(req.Arguments)
		change, err := t.ctx.Groups.Modify(ctx, name, toString(req.Arguments["tool"]), action)
		if err != nil {
			return errorResult(err), err
		}
		return mcp.ToolResult{Data: change, Metadata: groupMeta(change.Group)}, nil
	}
}

func (t *Toolset) handlePresetList(ctx context.Context, req mcp.ToolRequest) (mcp.ToolResult, error) {
	names, err := t.ctx.Groups.ListPresets()
	if err != nil {
		return errorResult(err), err
	}
	return mcp.ToolResult{Data: map[string]any{"presets": names, "count": len(names)}}, nil
}

func (t *Toolset) handlePresetSave(ctx context.Context, req mcp.ToolRequest) (mcp.ToolResult, error) {
	args := req.Arguments
	name := toString(args["name"])
	tools := toStringSlice(args["tools"])
	var meta mcp.ToolMetadata
	if _, given := args["tools"]; !given {
		source := toString(args["group"])
		if source == "" {
			err := failure.Validationf("tools or group is required")
			return errorResult(err), err
		}
		members, err := t.ctx.Groups.Tools(source)
		if err != nil {
			return errorResult(err), err
		}
		tools = members
		meta = groupMeta(source)
	}
	safe, err := t.ctx.Groups.SavePreset(name, tools)
	if err != nil {
		return errorResult(err), err
	}
	return mcp.ToolResult{
		Data:     map[string]any{"preset": safe, "tools": tools, "message": fmt.Sprintf("Preset '%s' saved", safe)},
		Metadata: meta,
	}, nil
}

func (t *Toolset) handlePresetLoad(ctx context.Context, req mcp.ToolRequest) (mcp.ToolResult, error) {
	args := req.Arguments
	group := t.groupOrDefault(args)
	result, err := t.ctx.Groups.LoadPreset(ctx, toString(args["name"]), group)
	if err != nil {
		return mcp.ToolResult{Data: failureData(err, result), Metadata: groupMeta(group)}, err
	}
	return mcp.ToolResult{Data: withMessage(result, fmt.Sprintf("Preset applied to group '%s'", result.Name)), Metadata: groupMeta(result.Name)}, nil
}

func (t *Toolset) handlePresetDelete(ctx context.Context, req mcp.ToolRequest) (mcp.ToolResult, error) {
	args := req.Arguments
	if err := requireConfirm(args); err != nil {
		return errorResult(err), err
	}
	name := toString(args["name"])
	if err := t.ctx.Groups.DeletePreset(name); err != nil {
		return errorResult(err), err
	}
	return mcp.ToolResult{Data: map[string]any{"deleted": name}}, nil
}

func (t *Toolset) groupOrDefault(args map[string]any) string {
	if name := strings.TrimSpace(toString(args["group"])); name != "" {
		return name
	}
	return t.ctx.Groups.DefaultGroup()
}

func withMessage(result groupstore.Result, message string) map[string]any {
	data := map[string]any{
		"group":      result.Group,
		"registered": result.Registered,
		"message":    message,
	}
	if result.Note != "" {
		data["note"] = result.Note
	}
	return data
}

// failureData keeps the unknown tool names visible next to the error envelope.
func failureData(err error, result groupstore.Result) map[string]any {
	data := map[string]any{"error": err.Error()}
	if len(result.Unknown) > 0 {
		data["unknownTools"] = result.Unknown
	}
	return data
}

func groupMeta(name string) mcp.ToolMetadata {
	if name == "" {
		return mcp.ToolMetadata{}
	}
	return mcp.ToolMetadata{Groups: []string{name}}
}

func errorResult(err error) mcp.ToolResult {
	return mcp.ToolResult{Data: map[string]any{"error": err.Error()}}
}

func requireConfirm(args map[string]any) error {
	if val, ok := args["confirm"].(bool); ok && val {
		return nil
	}
	return failure.Validationf("confirmation required: set confirm=true to proceed")
}

func toString(val any) string {
	if val == nil {
		return ""
	}
	if s, ok := val.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", val)
}

func toStringSlice(val any) []string {
	if val == nil {
		return nil
	}
	if list, ok := val.([]string); ok {
		return list
	}
	if list, ok := val.([]any); ok {
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, toString(item))
		}
		return out
	}
	if s, ok := val.(string); ok {
		return []string{s}
	}
	return nil
}
