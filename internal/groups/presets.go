package groups

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mcpfleet/internal/failure"
)

// Preset is a saved tool selection that can be applied to any group.
type Preset struct {
	Name  string   `json:"name"`
	Tools []string `json:"tools"`
}

func (s *Store) presetsDir() string {
	return filepath.Join(s.opts.Dir, presetsDirName)
}

func presetFileName(name string) (string, error) {
	safe := strings.TrimSpace(strings.Map(func(r rune) rune {
		if isNameRune(r) {
			return r
		}
		return -1
	}, name))
	if safe == "" {
		return "", failure.Validationf("invalid preset name %q", name)
	}
	return safe, nil
}

func (s *Store) ListPresets() ([]string, error) {
	entries, err := os.ReadDir(s.presetsDir())
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list presets: %w", err)
	}
	names := []string{}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}

// SavePreset stores tools under a sanitized file name and returns that name.
func (s *Store) SavePreset(name string, tools []string) (string, error) {
	safe, err := presetFileName(name)
	if err != nil {
		return "", err
	}
	preset := Preset{Name: name, Tools: dedupe(tools)}
	if err := writeJSON(s.presetsDir(), filepath.Join(s.presetsDir(), safe+".json"), preset); err != nil {
		return "", err
	}
	return safe, nil
}

func (s *Store) GetPreset(name string) (Preset, error) {
	safe, err := presetFileName(name)
	if err != nil {
		return Preset{}, err
	}
	data, err := os.ReadFile(filepath.Join(s.presetsDir(), safe+".json"))
	if errors.Is(err, os.ErrNotExist) {
		return Preset{}, failure.Validationf("preset '%s' not found", safe)
	}
	if err != nil {
		return Preset{}, fmt.Errorf("read preset: %w", err)
	}
	var preset Preset
	if err := json.Unmarshal(data, &preset); err != nil {
		return Preset{}, failure.Validationf("preset '%s' is not valid JSON: %v", safe, err)
	}
	return preset, nil
}

// LoadPreset applies a preset to group, or to the default group when group is empty.
func (s *Store) LoadPreset(ctx context.Context, name, group string) (Result, error) {
	preset, err := s.GetPreset(name)
	if err != nil {
		return Result{}, err
	}
	if group == "" {
		group = s.opts.DefaultGroup
	}
	return s.Update(ctx, group, preset.Tools)
}

func (s *Store) DeletePreset(name string) error {
	safe, err := presetFileName(name)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(s.presetsDir(), safe+".json"))
	if errors.Is(err, os.ErrNotExist) {
		return failure.Validationf("preset '%s' not found", safe)
	}
	return err
}
