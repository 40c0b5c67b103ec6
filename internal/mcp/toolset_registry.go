package mcp

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"sync"
)

// Toolset contributes a family of tools named "<id>.<tool>". Init receives
// the shared runtime once per build; Register adds the tool specs.
type Toolset interface {
	ID() string
	Version() string
	Init(ctx ToolsetContext) error
	Register(reg Registry) error
}

type ToolsetFactory func() Toolset

var toolsetIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

type toolsetCatalog struct {
	mu        sync.RWMutex
	factories map[string]ToolsetFactory
}

var catalog = toolsetCatalog{factories: map[string]ToolsetFactory{}}

// RegisterToolset makes a toolset selectable by id from config and flags.
func RegisterToolset(id string, factory ToolsetFactory) error {
	if id == "" {
		return fmt.Errorf("toolset id required")
	}
	if !toolsetIDPattern.MatchString(id) {
		return fmt.Errorf("invalid toolset id %q", id)
	}
	if factory == nil {
		return fmt.Errorf("toolset %s: factory required", id)
	}
	catalog.mu.Lock()
	defer catalog.mu.Unlock()
	if _, exists := catalog.factories[id]; exists {
		return fmt.Errorf("toolset %s already registered", id)
	}
	catalog.factories[id] = factory
	return nil
}

func MustRegisterToolset(id string, factory ToolsetFactory) {
	if err := RegisterToolset(id, factory); err != nil {
		panic(err)
	}
}

func ToolsetFactoryFor(id string) (ToolsetFactory, bool) {
	catalog.mu.RLock()
	defer catalog.mu.RUnlock()
	factory, ok := catalog.factories[id]
	return factory, ok
}

func RegisteredToolsets() []string {
	catalog.mu.RLock()
	defer catalog.mu.RUnlock()
	return slices.Sorted(maps.Keys(catalog.factories))
}
