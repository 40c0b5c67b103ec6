package mcp

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"mcpfleet/internal/config"
)

type Registry interface {
	Add(spec ToolSpec) error
	List() []ToolInfo
	Get(name string) (ToolSpec, bool)
}

// ToolRegistry holds the tools exposed for one runtime build. Specs the
// safety mode excludes are recorded as hidden rather than rejected.
type ToolRegistry struct {
	cfg    *config.Config
	tools  map[string]ToolSpec
	hidden []string
}

func NewRegistry(cfg *config.Config) *ToolRegistry {
	return &ToolRegistry{cfg: cfg, tools: map[string]ToolSpec{}}
}

func (r *ToolRegistry) Add(spec ToolSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("tool name required")
	}
	if spec.ToolsetID != "" && !strings.HasPrefix(spec.Name, spec.ToolsetID+".") {
		return fmt.Errorf("tool %s must be prefixed with %s.", spec.Name, spec.ToolsetID)
	}
	if _, exists := r.tools[spec.Name]; exists || slices.Contains(r.hidden, spec.Name) {
		return fmt.Errorf("tool %s already registered", spec.Name)
	}
	if !r.allowedBySafety(spec) {
		r.hidden = append(r.hidden, spec.Name)
		return nil
	}
	r.tools[spec.Name] = spec
	return nil
}

func (r *ToolRegistry) List() []ToolInfo {
	infos := make([]ToolInfo, 0, len(r.tools))
	for _, spec := range r.Specs() {
		infos = append(infos, ToolInfo{Name: spec.Name, Description: spec.Description, Safety: spec.Safety, InputSchema: spec.InputSchema})
	}
	return infos
}

func (r *ToolRegistry) Get(name string) (ToolSpec, bool) {
	spec, ok := r.tools[name]
	return spec, ok
}

func (r *ToolRegistry) Specs() []ToolSpec {
	specs := make([]ToolSpec, 0, len(r.tools))
	for _, name := range r.Names() {
		specs = append(specs, r.tools[name])
	}
	return specs
}

func (r *ToolRegistry) Names() []string {
	return slices.Sorted(maps.Keys(r.tools))
}

// Hidden lists tools dropped by read-only or disable-destructive mode.
func (r *ToolRegistry) Hidden() []string {
	return slices.Sorted(slices.Values(r.hidden))
}

func (r *ToolRegistry) allowedBySafety(spec ToolSpec) bool {
	if r.cfg == nil {
		return true
	}
	if r.cfg.ReadOnly {
		return spec.Safety == SafetyReadOnly
	}
	if r.cfg.DisableDestructive && (spec.Safety == SafetyDestructive || spec.Safety == SafetyRiskyWrite) {
		return slices.Contains(r.cfg.Safety.AllowDestructiveTools, spec.Name)
	}
	return true
}
