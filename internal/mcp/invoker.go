package mcp

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"mcpfleet/internal/failure"
	"mcpfleet/internal/policy"
)

var errNoInvoker = errors.New("tool invoker not available")

// ToolInvoker runs one registered tool on behalf of another, applying the
// same authorization, timeout and audit as an SDK call.
type ToolInvoker struct {
	reg *ToolRegistry
	ctx ToolContext
}

func NewToolInvoker(reg *ToolRegistry, ctx ToolContext) *ToolInvoker {
	return &ToolInvoker{reg: reg, ctx: ctx}
}

func (i *ToolInvoker) Call(ctx context.Context, user policy.User, toolName string, args map[string]any) (ToolResult, error) {
	if i == nil || i.reg == nil {
		return errorData(errNoInvoker), errNoInvoker
	}
	spec, ok := i.reg.Get(toolName)
	if !ok {
		err := failure.Validationf("tool '%s' is not enabled", toolName)
		return errorData(err), err
	}
	if i.ctx.Policy != nil {
		if err := i.ctx.Policy.AuthorizeTool(user, spec.ToolsetID, spec.Name); err != nil {
			logAudit(i.ctx, spec, callRecord{UserID: user.ID, Err: err})
			return errorData(err), err
		}
	}
	execCtx, cancel := withToolTimeout(ctx, i.ctx.Config, spec)
	defer cancel()
	started := time.Now()
	result, toolErr := spec.Handler(execCtx, ToolRequest{Arguments: args, User: user, Context: i.ctx})
	elapsed := time.Since(started)
	if i.ctx.Logger != nil {
		i.ctx.Logger.Debug("nested tool call", zap.String("tool", spec.Name), zap.Duration("elapsed", elapsed), zap.Error(toolErr))
	}
	logAudit(i.ctx, spec, callRecord{UserID: user.ID, Meta: result.Metadata, Err: toolErr, Elapsed: elapsed})
	return result, toolErr
}

// CallTool runs toolName through the context's invoker.
func (t ToolContext) CallTool(ctx context.Context, user policy.User, toolName string, args map[string]any) (ToolResult, error) {
	if t.Invoker == nil {
		return errorData(errNoInvoker), errNoInvoker
	}
	return t.Invoker.Call(ctx, user, toolName, args)
}

func errorData(err error) ToolResult {
	return ToolResult{Data: map[string]any{"error": err.Error()}}
}
