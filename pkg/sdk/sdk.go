package sdk

import (
	"mcpfleet/internal/failure"
	"mcpfleet/internal/groups"
	"mcpfleet/internal/mcp"
	"mcpfleet/internal/policy"
	"mcpfleet/internal/provision"
	"mcpfleet/internal/redact"
	"mcpfleet/internal/services"
	"mcpfleet/internal/toolregistry"
)

// Core toolset interfaces and types.
type Toolset = mcp.Toolset

type ToolsetContext = mcp.ToolsetContext

type ToolSpec = mcp.ToolSpec

type ToolHandler = mcp.ToolHandler

type ToolSafety = mcp.ToolSafety

type ToolRequest = mcp.ToolRequest

type ToolResult = mcp.ToolResult

type ToolMetadata = mcp.ToolMetadata

type Registry = mcp.Registry

const (
	SafetyReadOnly    = mcp.SafetyReadOnly
	SafetyWrite       = mcp.SafetyWrite
	SafetyRiskyWrite  = mcp.SafetyRiskyWrite
	SafetyDestructive = mcp.SafetyDestructive
)

// Toolset registration for plugin discovery.
func RegisterToolset(id string, factory mcp.ToolsetFactory) error {
	return mcp.RegisterToolset(id, factory)
}

func MustRegisterToolset(id string, factory mcp.ToolsetFactory) {
	mcp.MustRegisterToolset(id, factory)
}

func RegisteredToolsets() []string {
	return mcp.RegisteredToolsets()
}

type ToolInvoker = mcp.ToolInvoker

// Fleet components reachable from ToolsetContext.
type Fleet = services.Registry

type Provisioner = provision.Saga

type ProvisionRequest = provision.Request

type ProvisionResult = provision.Result

type GroupStore = groups.Store

type ToolClient = toolregistry.Client

type RegistryTool = toolregistry.Tool

type Redactor = redact.Redactor

// NormalizeServerName returns the lowercase slug used for compose services
// and containers.
func NormalizeServerName(name string) (string, error) {
	return provision.NormalizeName(name)
}

func SanitizeGroupName(name string) (string, error) {
	return groups.SanitizeName(name)
}

// ServerOf returns the server part of a "<server>__<tool>" name.
func ServerOf(toolName string) (string, bool) {
	return toolregistry.ServerOf(toolName)
}

// Error classification.
type FailureKind = failure.Kind

type Step = failure.Step

const (
	KindValidation   = failure.KindValidation
	KindCompose      = failure.KindCompose
	KindProvisioning = failure.KindProvisioning
	KindEngine       = failure.KindEngine
)

func Validationf(format string, args ...any) error {
	return failure.Validationf(format, args...)
}

func StepOf(err error) Step {
	return failure.StepOf(err)
}

// Policy helpers.
type User = policy.User
