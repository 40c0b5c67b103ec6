package toolregistry

import (
	"context"
	"strings"
)

// Tool is one entry of the registry's tool listing. Name is "<server>__<tool>".
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// Client is the tool registry as seen by this system. Server and group
// descriptors are addressed by name; the implementation knows where the
// registry sees them on disk.
type Client interface {
	ListTools(ctx context.Context) ([]Tool, error)
	RegisterServer(ctx context.Context, name string) error
	DeregisterServer(ctx context.Context, name string) error
	CreateGroup(ctx context.Context, name string) error
	UpdateGroup(ctx context.Context, name string) error
	DeleteGroup(ctx context.Context, name string) error
	ListServers(ctx context.Context) (string, error)
}

const separator = "__"

// ServerOf splits a tool name on its first "__".
func ServerOf(toolName string) (string, bool) {
	server, _, ok := strings.Cut(toolName, separator)
	if !ok || server == "" {
		return "", false
	}
	return server, true
}

// CountTools counts tools attributed to server.
func CountTools(tools []Tool, server string) int {
	prefix := server + separator
	count := 0
	for _, tool := range tools {
		if strings.HasPrefix(tool.Name, prefix) {
			count++
		}
	}
	return count
}

// GroupByServer buckets tools by server, preserving listing order.
func GroupByServer(tools []Tool) map[string][]Tool {
	out := map[string][]Tool{}
	for _, tool := range tools {
		server, ok := ServerOf(tool.Name)
		if !ok {
			server = "unknown"
		}
		out[server] = append(out[server], tool)
	}
	return out
}

// Validation is the outcome of checking tool names against the registry.
// Checked is false when the registry was unreachable or listed no tools;
// validation is then skipped rather than failed.
type Validation struct {
	Checked bool
	Unknown []string
	Err     error
}

func (v Validation) OK() bool {
	return len(v.Unknown) == 0
}

func ValidateTools(ctx context.Context, client Client, names []string) Validation {
	if client == nil || len(names) == 0 {
		return Validation{}
	}
	tools, err := client.ListTools(ctx)
	if err != nil {
		return Validation{Err: err}
	}
	if len(tools) == 0 {
		return Validation{}
	}
	known := make(map[string]struct{}, len(tools))
	for _, tool := range tools {
		known[tool.Name] = struct{}{}
	}
	result := Validation{Checked: true}
	for _, name := range names {
		if _, ok := known[name]; !ok {
			result.Unknown = append(result.Unknown, name)
		}
	}
	return result
}
