package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"mcpfleet/internal/failure"
)

// RegistryConfig is the tool registry's on-disk descriptor for one server.
type RegistryConfig struct {
	Name        string   `json:"name"`
	Transport   string   `json:"transport"`
	Description string   `json:"description"`
	Command     string   `json:"command"`
	Args        []string `json:"args"`
}

// NewRegistryConfig wraps command in an engine exec against containerName.
// An empty command runs the image's "stdio" entrypoint argument.
func NewRegistryConfig(name, containerName string, command []string, description string) RegistryConfig {
	if description == "" {
		description = defaultDescription(name)
	}
	if len(command) == 0 {
		command = []string{"stdio"}
	}
	args := append([]string{"exec", "-i", containerName}, command...)
	return RegistryConfig{
		Name:        name,
		Transport:   "stdio",
		Description: description,
		Command:     "docker",
		Args:        args,
	}
}

// ServerCommand is the command the descriptor runs inside the container.
func (c RegistryConfig) ServerCommand() []string {
	if len(c.Args) <= 3 {
		return nil
	}
	return append([]string(nil), c.Args[3:]...)
}

func (r *Registry) configPath(name string) string {
	return filepath.Join(r.opts.ConfigsDir, name+".json")
}

// WriteRegistryConfig fails when a descriptor for cfg.Name already exists.
func (r *Registry) WriteRegistryConfig(cfg RegistryConfig) (string, error) {
	if err := os.MkdirAll(r.opts.ConfigsDir, 0o755); err != nil {
		return "", failure.Compose("create configs dir", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", failure.Compose("encode registry config", err)
	}
	path := r.configPath(cfg.Name)
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", failure.Composef("config file already exists: %s", path)
		}
		return "", failure.Compose("create registry config", err)
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return "", failure.Compose("write registry config", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(path)
		return "", failure.Compose("close registry config", err)
	}
	return path, nil
}

// DeleteRegistryConfig reports whether a descriptor was removed.
func (r *Registry) DeleteRegistryConfig(name string) (bool, error) {
	err := os.Remove(r.configPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, failure.Compose(fmt.Sprintf("delete registry config %s", name), err)
	}
	return true, nil
}

func (r *Registry) ReadRegistryConfig(name string) (RegistryConfig, bool, error) {
	data, err := os.ReadFile(r.configPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return RegistryConfig{}, false, nil
	}
	if err != nil {
		return RegistryConfig{}, false, failure.Compose("read registry config", err)
	}
	var cfg RegistryConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RegistryConfig{}, false, failure.Compose(fmt.Sprintf("decode registry config %s", name), err)
	}
	return cfg, true, nil
}
