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

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"

	"mcpfleet/internal/failure"
	"mcpfleet/internal/lock"
	"mcpfleet/internal/logging"
	"mcpfleet/internal/toolregistry"
)

const (
	maxNameLength  = 64
	lazyNote       = "Group will be registered with the tool registry when tools are added"
	presetsDirName = "presets"
	stateDirName   = ".state"
)

// Group is the persisted group file.
type Group struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	IncludedTools []string `json:"included_tools"`
}

// Result reports a group together with its registry state.
type Result struct {
	Group
	Registered bool     `json:"registered"`
	Note       string   `json:"note,omitempty"`
	Unknown    []string `json:"unknown,omitempty"`
}

type Options struct {
	Dir          string
	DefaultGroup string
}

type Store struct {
	opts   Options
	tools  toolregistry.Client
	locks  *lock.Locker
	log    *zap.Logger
	schema *jsonschema.Schema
}

func NewStore(opts Options, tools toolregistry.Client, locks *lock.Locker, log *zap.Logger) (*Store, error) {
	if opts.Dir == "" {
		return nil, errors.New("groups dir required")
	}
	if locks == nil {
		locks = lock.New()
	}
	schema, err := compileGroupSchema()
	if err != nil {
		return nil, err
	}
	return &Store{opts: opts, tools: tools, locks: locks, log: logging.OrNop(log), schema: schema}, nil
}

func (s *Store) DefaultGroup() string {
	return s.opts.DefaultGroup
}

// SanitizeName keeps letters, digits, '-' and '_' after rejecting path
// traversal sequences outright.
func SanitizeName(name string) (string, error) {
	if name == "" {
		return "", failure.Validationf("group name cannot be empty")
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return "", failure.Validationf("invalid group name: path traversal not allowed")
	}
	safe := strings.TrimSpace(strings.Map(func(r rune) rune {
		if isNameRune(r) {
			return r
		}
		return -1
	}, name))
	if safe == "" {
		return "", failure.Validationf("group name must contain alphanumeric characters")
	}
	if len(safe) > maxNameLength {
		return "", failure.Validationf("group name too long (max %d characters)", maxNameLength)
	}
	return safe, nil
}

func isNameRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_'
}

func (s *Store) path(name string) string {
	return filepath.Join(s.opts.Dir, name+".json")
}

// List returns group names, excluding the presets directory.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.opts.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
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

// Get reads a group together with its recorded registry state. Groups
// without a state record fall back to membership: only non-empty groups are
// ever registered.
func (s *Store) Get(name string) (Result, error) {
	safe, err := SanitizeName(name)
	if err != nil {
		return Result{}, err
	}
	group, ok, err := s.read(safe)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, failure.Validationf("group '%s' not found", safe)
	}
	registered, known, err := s.readState(safe)
	if err != nil {
		return Result{}, err
	}
	if !known {
		registered = len(group.IncludedTools) > 0
	}
	return Result{Group: group, Registered: registered}, nil
}

func (s *Store) Tools(name string) ([]string, error) {
	res, err := s.Get(name)
	if err != nil {
		return nil, err
	}
	return res.IncludedTools, nil
}

// Create writes the group file and registers it only when tools is
// non-empty. A failed registration removes the file again.
func (s *Store) Create(ctx context.Context, name, description string, tools []string) (Result, error) {
	safe, err := SanitizeName(name)
	if err != nil {
		return Result{}, err
	}
	release := s.locks.Acquire(s.path(safe))
	defer release()

	if _, ok, err := s.read(safe); err != nil {
		return Result{}, err
	} else if ok {
		return Result{}, failure.Validationf("group '%s' already exists", safe)
	}
	tools = dedupe(tools)
	if unknown := s.validate(ctx, tools); len(unknown) > 0 {
		return Result{Unknown: unknown}, failure.Validationf("invalid tool names: %s", strings.Join(unknown, ", "))
	}
	if description == "" {
		description = fmt.Sprintf("Tools for %s project", safe)
	}
	group := Group{Name: safe, Description: description, IncludedTools: tools}
	if err := s.write(group); err != nil {
		return Result{}, err
	}
	if len(tools) == 0 {
		s.log.Info("group created without registration", zap.String("group", safe))
		return Result{Group: group, Note: lazyNote}, s.writeState(safe, false)
	}
	if err := s.tools.CreateGroup(ctx, safe); err != nil {
		if rmErr := os.Remove(s.path(safe)); rmErr != nil {
			s.log.Warn("failed to roll back group file", zap.String("group", safe), zap.Error(rmErr))
		}
		return Result{}, failure.Provisioning(failure.StepToolRegistryRegistered, failure.ReasonRegistrationFailed,
			"failed to register group with tool registry", err)
	}
	return Result{Group: group, Registered: true}, s.writeState(safe, true)
}

// Delete deregisters best-effort then removes the file. The default group
// cannot be deleted.
func (s *Store) Delete(ctx context.Context, name string) error {
	safe, err := SanitizeName(name)
	if err != nil {
		return err
	}
	if safe == s.opts.DefaultGroup {
		return failure.Validationf("cannot delete the default group '%s'", safe)
	}
	release := s.locks.Acquire(s.path(safe))
	defer release()

	if _, err := os.Stat(s.path(safe)); errors.Is(err, os.ErrNotExist) {
		return failure.Validationf("group '%s' not found", safe)
	}
	if err := s.tools.DeleteGroup(ctx, safe); err != nil {
		s.log.Info("group deregistration failed, continuing", zap.String("group", safe), zap.Error(err))
	}
	if err := os.Remove(s.path(safe)); err != nil {
		return fmt.Errorf("delete group file: %w", err)
	}
	if err := os.Remove(s.statePath(safe)); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("failed to remove group state", zap.String("group", safe), zap.Error(err))
	}
	return nil
}

// Update replaces the membership of a group. Unknown tool names abort before
// the file is touched. After the write, UPDATE is tried first; CREATE is the
// fallback for never-registered groups and only runs for non-empty lists.
func (s *Store) Update(ctx context.Context, name string, tools []string) (Result, error) {
	safe, err := SanitizeName(name)
	if err != nil {
		return Result{}, err
	}
	release := s.locks.Acquire(s.path(safe))
	defer release()
	return s.updateLocked(ctx, safe, dedupe(tools))
}

func (s *Store) updateLocked(ctx context.Context, name string, tools []string) (Result, error) {
	existing, ok, err := s.read(name)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, failure.Validationf("group '%s' not found", name)
	}
	if unknown := s.validate(ctx, tools); len(unknown) > 0 {
		return Result{Group: existing, Unknown: unknown},
			failure.Validationf("invalid tool names (group NOT modified): %s", strings.Join(unknown, ", "))
	}
	description := existing.Description
	if description == "" {
		description = fmt.Sprintf("Tools for %s", name)
	}
	group := Group{Name: name, Description: description, IncludedTools: tools}
	if err := s.write(group); err != nil {
		return Result{}, err
	}

	updateErr := s.tools.UpdateGroup(ctx, name)
	if updateErr == nil {
		return Result{Group: group, Registered: true}, s.writeState(name, true)
	}
	if len(tools) == 0 {
		s.log.Info("update of empty group not accepted by registry", zap.String("group", name), zap.Error(updateErr))
		return Result{Group: group, Note: lazyNote}, s.recordUnaccepted(name)
	}
	if err := s.tools.CreateGroup(ctx, name); err != nil {
		if stateErr := s.recordUnaccepted(name); stateErr != nil {
			s.log.Warn("failed to record group state", zap.String("group", name), zap.Error(stateErr))
		}
		return Result{Group: group}, failure.Provisioning(failure.StepToolRegistryRegistered, failure.ReasonRegistrationFailed,
			"failed to update/create group", errors.Join(updateErr, err))
	}
	s.log.Info("group registered lazily", zap.String("group", name))
	return Result{Group: group, Registered: true}, s.writeState(name, true)
}

// groupState records whether the tool registry accepted a group. It lives
// beside the group file so the registry's own file format stays untouched.
type groupState struct {
	Registered bool `json:"registered"`
}

func (s *Store) statePath(name string) string {
	return filepath.Join(s.opts.Dir, stateDirName, name+".json")
}

func (s *Store) readState(name string) (registered, known bool, err error) {
	data, err := os.ReadFile(s.statePath(name))
	if errors.Is(err, os.ErrNotExist) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("read group state %s: %w", name, err)
	}
	var state groupState
	if err := json.Unmarshal(data, &state); err != nil {
		s.log.Warn("ignoring unreadable group state", zap.String("group", name), zap.Error(err))
		return false, false, nil
	}
	return state.Registered, true, nil
}

// recordUnaccepted keeps an existing state record, since a rejected update
// leaves the registry's copy of the group in place, and otherwise records the
// group as unregistered.
func (s *Store) recordUnaccepted(name string) error {
	_, known, err := s.readState(name)
	if err != nil || known {
		return err
	}
	return s.writeState(name, false)
}

func (s *Store) writeState(name string, registered bool) error {
	return writeJSON(filepath.Join(s.opts.Dir, stateDirName), s.statePath(name), groupState{Registered: registered})
}

func (s *Store) validate(ctx context.Context, tools []string) []string {
	result := toolregistry.ValidateTools(ctx, s.tools, tools)
	if result.Err != nil {
		s.log.Warn("tool validation skipped", zap.Error(result.Err))
	}
	return result.Unknown
}

func (s *Store) read(name string) (Group, bool, error) {
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return Group{}, false, nil
	}
	if err != nil {
		return Group{}, false, fmt.Errorf("read group %s: %w", name, err)
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Group{}, false, failure.Validationf("group '%s' is not valid JSON: %v", name, err)
	}
	if err := s.schema.Validate(raw); err != nil {
		return Group{}, false, failure.Validationf("group '%s' is invalid: %s", name, strings.TrimSpace(err.Error()))
	}
	var group Group
	if err := json.Unmarshal(data, &group); err != nil {
		return Group{}, false, fmt.Errorf("decode group %s: %w", name, err)
	}
	if group.IncludedTools == nil {
		group.IncludedTools = []string{}
	}
	return group, true, nil
}

func (s *Store) write(group Group) error {
	if group.IncludedTools == nil {
		group.IncludedTools = []string{}
	}
	return writeJSON(s.opts.Dir, s.path(group.Name), group)
}

// writeJSON writes v to path through a temp file and rename.
func writeJSON(dir, path string, v any) (err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()
	if err = os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

func dedupe(tools []string) []string {
	out := make([]string, 0, len(tools))
	seen := make(map[string]struct{}, len(tools))
	for _, tool := range tools {
		tool = strings.TrimSpace(tool)
		if tool == "" {
			continue
		}
		if _, ok := seen[tool]; ok {
			continue
		}
		seen[tool] = struct{}{}
		out = append(out, tool)
	}
	return out
}

const groupSchema = `{
  "type": "object",
  "required": ["name", "included_tools"],
  "properties": {
    "name": {"type": "string", "pattern": "^[A-Za-z0-9_-]{1,64}$"},
    "description": {"type": "string"},
    "included_tools": {"type": "array", "items": {"type": "string", "minLength": 1}}
  }
}`

func compileGroupSchema() (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal([]byte(groupSchema), &doc); err != nil {
		return nil, fmt.Errorf("group schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("group.json", doc); err != nil {
		return nil, fmt.Errorf("group schema: %w", err)
	}
	schema, err := c.Compile("group.json")
	if err != nil {
		return nil, fmt.Errorf("group schema: %w", err)
	}
	return schema, nil
}
