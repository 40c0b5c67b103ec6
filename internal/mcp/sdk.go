package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sdkjsonrpc "github.com/modelcontextprotocol/go-sdk/jsonrpc"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"mcpfleet/internal/audit"
	"mcpfleet/internal/failure"
)

func RegisterSDKTools(server *sdkmcp.Server, reg *ToolRegistry, ctx ToolContext) ([]string, error) {
	if server == nil || reg == nil {
		return nil, fmt.Errorf("server and registry are required")
	}
	toolNames := reg.Names()
	for _, spec := range reg.Specs() {
		schema := spec.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		tool := &sdkmcp.Tool{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: schema,
			Annotations: annotationsFor(spec.Safety),
		}
		server.AddTool(tool, toolHandler(spec, ctx))
	}
	return toolNames, nil
}

func toolHandler(spec ToolSpec, ctx ToolContext) sdkmcp.ToolHandler {
	return func(callCtx context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
		args := map[string]any{}
		if req != nil && req.Params != nil && len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return nil, &sdkjsonrpc.Error{Code: sdkjsonrpc.CodeInvalidParams, Message: fmt.Sprintf("invalid arguments: %v", err)}
			}
		}

		apiKey := apiKeyFromRequest(req)
		user, err := ctx.Policy.Authenticate(apiKey)
		if err != nil {
			logAudit(ctx, spec, callRecord{UserID: "unknown", Err: err})
			return nil, &sdkjsonrpc.Error{Code: -32001, Message: err.Error()}
		}
		if err := ctx.Policy.AuthorizeTool(user, spec.ToolsetID, spec.Name); err != nil {
			logAudit(ctx, spec, callRecord{UserID: user.ID, Err: err})
			return nil, &sdkjsonrpc.Error{Code: -32002, Message: err.Error()}
		}

		execCtx, cancel := withToolTimeout(callCtx, ctx.Config, spec)
		started := time.Now()
		result, toolErr := spec.Handler(execCtx, ToolRequest{Arguments: args, User: user, Context: ctx})
		cancel()
		elapsed := time.Since(started)
		if toolErr != nil && ctx.Logger != nil {
			ctx.Logger.Warn("tool call failed",
				zap.String("tool", spec.Name),
				zap.String("step", string(failure.StepOf(toolErr))),
				zap.Duration("elapsed", elapsed),
				zap.Error(toolErr))
		}
		logAudit(ctx, spec, callRecord{UserID: user.ID, Meta: result.Metadata, Err: toolErr, Elapsed: elapsed})

		return buildCallToolResult(result, toolErr), nil
	}
}

func buildCallToolResult(result ToolResult, toolErr error) *sdkmcp.CallToolResult {
	res := &sdkmcp.CallToolResult{}
	if len(result.Metadata.Servers) > 0 || len(result.Metadata.Groups) > 0 {
		res.Meta = sdkmcp.Meta{
			"servers": result.Metadata.Servers,
			"groups":  result.Metadata.Groups,
		}
	}
	if toolErr != nil {
		res.IsError = true
		if step := failure.StepOf(toolErr); step != failure.StepNone {
			if res.Meta == nil {
				res.Meta = sdkmcp.Meta{}
			}
			res.Meta["failedStep"] = string(step)
		}
		res.StructuredContent = BuildErrorEnvelope(toolErr, result.Data)
		if res.Content == nil {
			res.Content = []sdkmcp.Content{&sdkmcp.TextContent{Text: toolErr.Error()}}
		}
		return res
	}

	if result.Data != nil {
		res.StructuredContent = result.Data
		if res.Content == nil {
			dataJSON, err := json.Marshal(result.Data)
			if err != nil {
				res.Content = []sdkmcp.Content{&sdkmcp.TextContent{Text: fmt.Sprintf("%v", result.Data)}}
			} else {
				res.Content = []sdkmcp.Content{&sdkmcp.TextContent{Text: string(dataJSON)}}
			}
		}
	} else if res.Content == nil {
		res.Content = []sdkmcp.Content{&sdkmcp.TextContent{Text: "{}"}}
	}
	return res
}

func apiKeyFromRequest(req *sdkmcp.CallToolRequest) string {
	if req == nil {
		return ""
	}
	if req.Params != nil {
		if value := apiKeyFromMeta(req.Params.Meta); value != "" {
			return value
		}
	}
	if req.Extra != nil && req.Extra.Header != nil {
		if value := strings.TrimSpace(req.Extra.Header.Get("X-Api-Key")); value != "" {
			return value
		}
		authHeader := strings.TrimSpace(req.Extra.Header.Get("Authorization"))
		if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
			return strings.TrimSpace(authHeader[len("bearer "):])
		}
	}
	return ""
}

func apiKeyFromMeta(meta map[string]any) string {
	if meta == nil {
		return ""
	}
	if value, ok := meta["apiKey"].(string); ok {
		return value
	}
	if auth, ok := meta["auth"].(map[string]any); ok {
		if value, ok := auth["apiKey"].(string); ok {
			return value
		}
	}
	return ""
}

// callRecord is what the audit log keeps of one tool call.
type callRecord struct {
	UserID  string
	Meta    ToolMetadata
	Err     error
	Elapsed time.Duration
}

func logAudit(ctx ToolContext, spec ToolSpec, call callRecord) {
	if ctx.Audit == nil {
		return
	}
	event := audit.Event{
		Timestamp: time.Now().UTC(),
		UserID:    call.UserID,
		Tool:      spec.Name,
		Toolset:   spec.ToolsetID,
		Servers:   call.Meta.Servers,
		Groups:    call.Meta.Groups,
		Outcome:   "success",
	}
	if call.Elapsed > 0 {
		event.Duration = call.Elapsed.Round(time.Millisecond).String()
	}
	if call.Err != nil {
		event.Outcome = "error"
		event.Error = call.Err.Error()
		if ctx.Redactor != nil {
			event.Error = ctx.Redactor.RedactString(event.Error)
		}
		event.Step = string(failure.StepOf(call.Err))
	}
	ctx.Audit.Log(event)
}

// annotationsFor maps tool safety onto the MCP client hints.
func annotationsFor(safety ToolSafety) *sdkmcp.ToolAnnotations {
	destructive := safety == SafetyDestructive || safety == SafetyRiskyWrite
	return &sdkmcp.ToolAnnotations{
		ReadOnlyHint:    safety == SafetyReadOnly,
		DestructiveHint: &destructive,
	}
}
