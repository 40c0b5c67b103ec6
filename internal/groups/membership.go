package groups

import (
	"context"
	"fmt"
	"slices"

	"mcpfleet/internal/failure"
)

type Action string

const (
	ActionEnable  Action = "enable"
	ActionDisable Action = "disable"
	ActionToggle  Action = "toggle"
)

// Change is the outcome of flipping one tool's membership.
type Change struct {
	Group   string   `json:"group"`
	Tool    string   `json:"tool"`
	Tools   []string `json:"tools"`
	Enabled bool     `json:"enabled"`
	Changed bool     `json:"changed"`
	Message string   `json:"message"`
}

func (s *Store) Enable(ctx context.Context, group, tool string) (Change, error) {
	return s.Modify(ctx, group, tool, ActionEnable)
}

func (s *Store) Disable(ctx context.Context, group, tool string) (Change, error) {
	return s.Modify(ctx, group, tool, ActionDisable)
}

func (s *Store) Toggle(ctx context.Context, group, tool string) (Change, error) {
	return s.Modify(ctx, group, tool, ActionToggle)
}

// Modify applies action to one tool and runs any resulting membership
// through the full update protocol. Enabling a present tool or disabling an
// absent one writes nothing.
func (s *Store) Modify(ctx context.Context, group, tool string, action Action) (Change, error) {
	if tool == "" {
		return Change{}, failure.Validationf("tool name required")
	}
	safe, err := SanitizeName(group)
	if err != nil {
		return Change{}, err
	}
	release := s.locks.Acquire(s.path(safe))
	defer release()

	current, ok, err := s.read(safe)
	if err != nil {
		return Change{}, err
	}
	if !ok {
		return Change{}, failure.Validationf("group '%s' not found", safe)
	}
	tools := slices.Clone(current.IncludedTools)
	present := slices.Contains(tools, tool)

	var enable bool
	switch action {
	case ActionEnable:
		enable = true
	case ActionDisable:
		enable = false
	case ActionToggle:
		enable = !present
	default:
		return Change{}, failure.Validationf("unknown action: %s", action)
	}

	change := Change{Group: safe, Tool: tool, Enabled: enable, Tools: tools}
	if enable == present {
		state := "disabled"
		if enable {
			state = "enabled"
		}
		change.Message = fmt.Sprintf("Tool '%s' already %s", tool, state)
		return change, nil
	}
	if enable {
		tools = append(tools, tool)
	} else {
		tools = slices.DeleteFunc(tools, func(t string) bool { return t == tool })
	}
	res, err := s.updateLocked(ctx, safe, tools)
	if err != nil {
		return Change{}, err
	}
	change.Tools = res.IncludedTools
	change.Changed = true
	if enable {
		change.Message = fmt.Sprintf("Tool '%s' enabled", tool)
	} else {
		change.Message = fmt.Sprintf("Tool '%s' disabled", tool)
	}
	return change, nil
}
