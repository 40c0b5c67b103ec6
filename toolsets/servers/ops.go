package servers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"mcpfleet/internal/failure"
	"mcpfleet/internal/mcp"
	"mcpfleet/internal/provision"
	"mcpfleet/internal/toolregistry"
)

// provisionResponse is the provisioning report plus the optional group step.
type provisionResponse struct {
	provision.Result
	Group        string   `json:"group,omitempty"`
	GroupTools   []string `json:"groupTools,omitempty"`
	GroupWarning string   `json:"groupWarning,omitempty"`
}

func (t *Toolset) handleProvision(ctx context.Context, req mcp.ToolRequest) (mcp.ToolResult, error) {
	args := req.Arguments
	request := provision.Request{
		Name:        toString(args["name"]),
		Image:       toString(args["image"]),
		Command:     toCommand(args["command"]),
		EnvVars:     toStringMap(args["env_vars"]),
		Description: toString(args["description"]),
	}
	if t.ctx.Logger != nil {
		env := request.EnvVars
		if t.ctx.Redactor != nil {
			env = t.ctx.Redactor.RedactEnv(env)
		}
		t.ctx.Logger.Info("provision requested",
			zap.String("server", request.Name),
			zap.String("image", request.Image),
			zap.Any("env", env),
			zap.String("user", req.User.ID))
	}
	result, err := t.ctx.Provisioner.Provision(ctx, request)
	resp := provisionResponse{Result: result}
	meta := mcp.ToolMetadata{}
	if result.Name != "" {
		meta.Servers = []string{result.Name}
	}
	if err == nil {
		if group := toString(args["group"]); group != "" {
			resp.Group = group
			resp.GroupTools, resp.GroupWarning = t.addToGroup(ctx, req, group, result.Name)
			meta.Groups = []string{group}
		}
	}
	return mcp.ToolResult{Data: resp, Metadata: meta}, err
}

// addToGroup merges the server's tools into group through groups.update so
// the caller's toolset permissions and the audit log cover the change. A
// failure here does not undo the provisioning.
func (t *Toolset) addToGroup(ctx context.Context, req mcp.ToolRequest, group, server string) ([]string, string) {
	tools, err := t.ctx.Tools.ListTools(ctx)
	if err != nil {
		return nil, fmt.Sprintf("could not list tools for group '%s': %v", group, err)
	}
	var added []string
	for _, tool := range toolregistry.GroupByServer(tools)[server] {
		added = append(added, tool.Name)
	}
	if len(added) == 0 {
		return nil, fmt.Sprintf("server '%s' exposes no tools yet; group '%s' unchanged", server, group)
	}
	if t.ctx.Groups == nil {
		return nil, "group store not configured"
	}
	current, err := t.ctx.Groups.Tools(group)
	if err != nil {
		return nil, err.Error()
	}
	merged := append(append([]string{}, current...), added...)
	if _, err := req.Context.CallTool(ctx, req.User, "groups.update", map[string]any{"group": group, "tools": merged}); err != nil {
		return nil, fmt.Sprintf("failed to add tools to group '%s': %v", group, err)
	}
	return added, ""
}

func (t *Toolset) handleList(ctx context.Context, req mcp.ToolRequest) (mcp.ToolResult, error) {
	servers, err := t.ctx.Fleet.ListServers(ctx)
	if err != nil {
		return errorResult(err), err
	}
	names := make([]string, 0, len(servers))
	for _, server := range servers {
		names = append(names, server.Name)
	}
	return mcp.ToolResult{
		Data:     map[string]any{"servers": servers, "count": len(servers)},
		Metadata: mcp.ToolMetadata{Servers: names},
	}, nil
}

func (t *Toolset) handleStatus(ctx context.Context, req mcp.ToolRequest) (mcp.ToolResult, error) {
	name, err := requireName(req.Arguments)
	if err != nil {
		return errorResult(err), err
	}
	status := t.ctx.Fleet.Status(ctx, name)
	data := map[string]any{
		"name":          name,
		"containerName": t.ctx.Fleet.ContainerName(name),
		"container":     status,
	}
	if t.ctx.Compose != nil {
		spec, ok, err := t.ctx.Compose.Service(name)
		if err != nil {
			return errorResult(err), err
		}
		data["inCompose"] = ok
		if ok {
			data["image"] = spec.Image
			data["envVars"] = spec.EnvVars
			data["volumes"] = spec.Volumes
			data["description"] = spec.Description()
		}
	}
	descriptor, ok, err := t.ctx.Fleet.ReadRegistryConfig(name)
	if err != nil {
		return errorResult(err), err
	}
	data["registered"] = ok
	if ok {
		data["serverCommand"] = descriptor.ServerCommand()
	}
	return mcp.ToolResult{Data: data, Metadata: mcp.ToolMetadata{Servers: []string{name}}}, nil
}

func (t *Toolset) handleTools(ctx context.Context, req mcp.ToolRequest) (mcp.ToolResult, error) {
	if t.ctx.Tools == nil {
		err := errors.New("tool registry not configured")
		return errorResult(err), err
	}
	tools, err := t.ctx.Tools.ListTools(ctx)
	if err != nil {
		return errorResult(err), err
	}
	byServer := toolregistry.GroupByServer(tools)
	if server := toString(req.Arguments["server"]); server != "" {
		list := byServer[server]
		return mcp.ToolResult{
			Data:     map[string]any{"server": server, "tools": list, "count": len(list)},
			Metadata: mcp.ToolMetadata{Servers: []string{server}},
		}, nil
	}
	servers := make([]string, 0, len(byServer))
	for server := range byServer {
		servers = append(servers, server)
	}
	sort.Strings(servers)
	return mcp.ToolResult{
		Data:     map[string]any{"servers": byServer, "count": len(tools)},
		Metadata: mcp.ToolMetadata{Servers: servers},
	}, nil
}

func (t *Toolset) handleComposeServices(ctx context.Context, req mcp.ToolRequest) (mcp.ToolResult, error) {
	if t.ctx.Compose == nil {
		err := errors.New("compose store not configured")
		return errorResult(err), err
	}
	entries, err := t.ctx.Compose.Services()
	if err != nil {
		return errorResult(err), err
	}
	return mcp.ToolResult{Data: map[string]any{"services": entries, "count": len(entries)}}, nil
}

func (t *Toolset) handleSecretsStatus(ctx context.Context, req mcp.ToolRequest) (mcp.ToolResult, error) {
	configured := t.ctx.Fleet.SecretsConfigured()
	return mcp.ToolResult{Data: map[string]any{"configured": configured}}, nil
}

func (t *Toolset) handleRestart(ctx context.Context, req mcp.ToolRequest) (mcp.ToolResult, error) {
	if err := requireConfirm(req.Arguments); err != nil {
		return errorResult(err), err
	}
	name, err := requireName(req.Arguments)
	if err != nil {
		return errorResult(err), err
	}
	meta := mcp.ToolMetadata{Servers: []string{name}}
	if err := t.ctx.Fleet.RestartService(ctx, name); err != nil {
		return mcp.ToolResult{Data: map[string]any{"error": err.Error()}, Metadata: meta}, err
	}
	status := t.ctx.Fleet.Status(ctx, name)
	return mcp.ToolResult{
		Data:     map[string]any{"restarted": name, "container": status},
		Metadata: meta,
	}, nil
}

func (t *Toolset) handleDelete(ctx context.Context, req mcp.ToolRequest) (mcp.ToolResult, error) {
	if err := requireConfirm(req.Arguments); err != nil {
		return errorResult(err), err
	}
	name, err := requireName(req.Arguments)
	if err != nil {
		return errorResult(err), err
	}
	meta := mcp.ToolMetadata{Servers: []string{name}}
	deleted, err := t.ctx.Fleet.DeleteServer(ctx, name)
	if err != nil {
		return mcp.ToolResult{Data: map[string]any{"error": err.Error()}, Metadata: meta}, err
	}
	if !deleted {
		err := failure.Validationf("server '%s' not found", name)
		return mcp.ToolResult{Data: map[string]any{"deleted": false}, Metadata: meta}, err
	}
	return mcp.ToolResult{
		Data:     map[string]any{"deleted": true, "message": fmt.Sprintf("Server '%s' deleted", name)},
		Metadata: meta,
	}, nil
}

func requireName(args map[string]any) (string, error) {
	raw := strings.TrimSpace(toString(args["name"]))
	if raw == "" {
		return "", failure.Validationf("name is required")
	}
	return provision.NormalizeName(raw)
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

// toCommand accepts a JSON array or a whitespace-separated string.
func toCommand(val any) []string {
	switch v := val.(type) {
	case nil:
		return nil
	case string:
		return strings.Fields(v)
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, toString(item))
		}
		return out
	default:
		return nil
	}
}

func toStringMap(val any) map[string]string {
	switch v := val.(type) {
	case map[string]string:
		return v
	case map[string]any:
		out := make(map[string]string, len(v))
		for key, item := range v {
			out[key] = toString(item)
		}
		return out
	default:
		return nil
	}
}
