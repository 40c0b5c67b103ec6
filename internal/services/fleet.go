package services

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"mcpfleet/internal/compose"
	"mcpfleet/internal/failure"
	"mcpfleet/internal/toolregistry"
)

// Server is one registered tool server as seen from its descriptor.
type Server struct {
	Name          string `json:"name"`
	ContainerName string `json:"containerName"`
	Description   string `json:"description,omitempty"`
	Running       bool   `json:"running"`
	Status        string `json:"status"`
	ToolCount     int    `json:"toolCount"`
}

// ListServers enumerates descriptors. Tool counts are zero when the registry
// is unreachable.
func (r *Registry) ListServers(ctx context.Context) ([]Server, error) {
	entries, err := os.ReadDir(r.opts.ConfigsDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, failure.Compose("list registry configs", err)
	}
	var tools []toolregistry.Tool
	if r.tools != nil {
		if tools, err = r.tools.ListTools(ctx); err != nil {
			r.log.Warn("tool listing unavailable", zap.Error(err))
		}
	}
	servers := []Server{}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		fileName := strings.TrimSuffix(entry.Name(), ".json")
		cfg, _, err := r.ReadRegistryConfig(fileName)
		if err != nil {
			r.log.Warn("skipping unreadable registry config", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		name := cfg.Name
		if name == "" {
			name = fileName
		}
		status := r.Status(ctx, name)
		servers = append(servers, Server{
			Name:          name,
			ContainerName: compose.ContainerName(name),
			Description:   cfg.Description,
			Running:       status.Running,
			Status:        status.Raw,
			ToolCount:     toolregistry.CountTools(tools, name),
		})
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].Name < servers[j].Name })
	return servers, nil
}

// DeleteServer deregisters, deletes the descriptor, stops the container and
// removes the compose entry. The first and third steps are best-effort.
// It reports false when no compose entry existed.
func (r *Registry) DeleteServer(ctx context.Context, name string) (bool, error) {
	release := r.locks.Acquire(ServerLockKey(name))
	defer release()

	if r.tools != nil {
		if err := r.tools.DeregisterServer(ctx, name); err != nil {
			r.log.Info("deregister failed, continuing", zap.String("server", name), zap.Error(err))
		}
	}
	if _, err := r.DeleteRegistryConfig(name); err != nil {
		return false, err
	}
	r.StopService(ctx, name).Log(r.log, "container teardown failed", zap.String("server", name))
	return r.RemoveService(name)
}

// ServerLockKey is the advisory lock key serializing work on one server.
func ServerLockKey(name string) string {
	return "server/" + name
}
