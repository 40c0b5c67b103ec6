package compose

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
	sigsyaml "sigs.k8s.io/yaml"

	"mcpfleet/internal/failure"
	"mcpfleet/internal/lock"
	"mcpfleet/internal/logging"
)

const backupStamp = "20060102_150405.000000"

type Options struct {
	Path        string
	BackupDir   string
	BackupKeep  int
	TriggerFile string
}

// Store owns the compose document on disk. All writes go through Mutate.
type Store struct {
	opts   Options
	locks  *lock.Locker
	log    *zap.Logger
	schema *jsonschema.Schema
	now    func() time.Time
}

// Entry summarizes one service for listings.
type Entry struct {
	Name          string `json:"name"`
	ContainerName string `json:"containerName"`
	Image         string `json:"image"`
	Dynamic       bool   `json:"dynamic"`
	Description   string `json:"description,omitempty"`
}

// errUnchanged lets a mutation short-circuit without backup or write.
var errUnchanged = errors.New("compose document unchanged")

func NewStore(opts Options, locks *lock.Locker, log *zap.Logger) (*Store, error) {
	if opts.Path == "" {
		return nil, errors.New("compose path required")
	}
	if opts.BackupDir == "" {
		opts.BackupDir = filepath.Join(filepath.Dir(opts.Path), "backups")
	}
	if opts.BackupKeep <= 0 {
		opts.BackupKeep = 10
	}
	if locks == nil {
		locks = lock.New()
	}
	schema, err := compileServiceSchema()
	if err != nil {
		return nil, err
	}
	return &Store{opts: opts, locks: locks, log: logging.OrNop(log), schema: schema, now: time.Now}, nil
}

func (s *Store) Path() string {
	return s.opts.Path
}

// HostManaged reports whether a reload trigger hands container creation to
// the host's compose run.
func (s *Store) HostManaged() bool {
	return s.opts.TriggerFile != ""
}

func (s *Store) Load() (*Document, error) {
	data, err := os.ReadFile(s.opts.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, failure.Composef("compose file not found: %s", s.opts.Path)
		}
		return nil, failure.Compose("read compose file", err)
	}
	return Parse(data)
}

// Mutate runs fn on a freshly loaded document under the document lock, then
// backs up the current file, writes a temp file, re-parses it and renames it
// into place. Nothing on disk changes unless every step before the rename succeeds.
func (s *Store) Mutate(fn func(*Document) error) error {
	release := s.locks.Acquire(s.opts.Path)
	defer release()
	return s.mutateLocked(fn)
}

func (s *Store) mutateLocked(fn func(*Document) error) error {
	doc, err := s.Load()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	backup, err := s.backup()
	if err != nil {
		return err
	}
	if err := s.writeAtomic(doc.Bytes()); err != nil {
		return err
	}
	s.log.Debug("compose document updated", zap.String("path", s.opts.Path), zap.String("backup", backup))
	s.triggerReload()
	return nil
}

// AddService registers name as <name>-mcp. An existing entry is a ComposeError
// and leaves the file untouched.
func (s *Store) AddService(name string, spec ServiceSpec) (string, error) {
	key := ContainerName(name)
	if spec.ContainerName == "" {
		spec.ContainerName = key
	}
	if spec.ContainerName != key {
		return "", failure.Validationf("container_name must be %q, got %q", key, spec.ContainerName)
	}
	if err := s.validateSpec(key, spec); err != nil {
		return "", err
	}
	err := s.Mutate(func(doc *Document) error {
		return doc.AddService(key, spec)
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

// RemoveService reports false, without backup or write, when name is absent.
func (s *Store) RemoveService(name string) (bool, error) {
	key := ContainerName(name)
	removed := false
	err := s.Mutate(func(doc *Document) error {
		ok, err := doc.RemoveService(key)
		if err != nil {
			return err
		}
		if !ok {
			return errUnchanged
		}
		removed = true
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return removed, nil
}

func (s *Store) Service(name string) (ServiceSpec, bool, error) {
	doc, err := s.Load()
	if err != nil {
		return ServiceSpec{}, false, err
	}
	return doc.Service(ContainerName(name))
}

func (s *Store) Services() ([]Entry, error) {
	doc, err := s.Load()
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, key := range doc.ServiceNames() {
		spec, _, err := doc.Service(key)
		if err != nil {
			s.log.Warn("skipping undecodable service", zap.String("service", key), zap.Error(err))
			continue
		}
		out = append(out, Entry{
			Name:          LogicalName(key),
			ContainerName: spec.ContainerName,
			Image:         spec.Image,
			Dynamic:       spec.Dynamic(),
			Description:   spec.Description(),
		})
	}
	return out, nil
}

// Backups lists backup files, oldest first.
func (s *Store) Backups() ([]string, error) {
	pattern := filepath.Join(s.opts.BackupDir, filepath.Base(s.opts.Path)+".*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, failure.Compose("list backups", err)
	}
	sort.Strings(matches)
	return matches, nil
}

func (s *Store) backup() (string, error) {
	if err := os.MkdirAll(s.opts.BackupDir, 0o755); err != nil {
		return "", failure.Compose("create backup dir", err)
	}
	data, err := os.ReadFile(s.opts.Path)
	if err != nil {
		return "", failure.Compose("read compose file for backup", err)
	}
	base := filepath.Join(s.opts.BackupDir, filepath.Base(s.opts.Path)+"."+s.now().Format(backupStamp))
	path := base
	for i := 1; fileExists(path); i++ {
		path = fmt.Sprintf("%s_%02d", base, i)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", failure.Compose("write backup", err)
	}
	backups, err := s.Backups()
	if err != nil {
		return path, err
	}
	if extra := len(backups) - s.opts.BackupKeep; extra > 0 {
		for _, old := range backups[:extra] {
			if err := os.Remove(old); err != nil && !errors.Is(err, os.ErrNotExist) {
				s.log.Warn("failed to prune backup", zap.String("backup", old), zap.Error(err))
			}
		}
	}
	return path, nil
}

func (s *Store) writeAtomic(data []byte) (err error) {
	tmp := s.opts.Path + ".tmp"
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()
	mode := os.FileMode(0o644)
	if info, statErr := os.Stat(s.opts.Path); statErr == nil {
		mode = info.Mode().Perm()
	}
	if err = os.WriteFile(tmp, data, mode); err != nil {
		return failure.Compose("write temp compose file", err)
	}
	written, err := os.ReadFile(tmp)
	if err != nil {
		return failure.Compose("read back temp compose file", err)
	}
	if _, err = Parse(written); err != nil {
		return failure.Compose("validate temp compose file", err)
	}
	if err = os.Rename(tmp, s.opts.Path); err != nil {
		return failure.Compose("replace compose file", err)
	}
	return nil
}

func (s *Store) triggerReload() {
	if s.opts.TriggerFile == "" {
		return
	}
	line := fmt.Sprintf("reload requested at %s\n", s.now().Format(time.RFC3339))
	if err := os.WriteFile(s.opts.TriggerFile, []byte(line), 0o644); err != nil {
		s.log.Warn("failed to write reload trigger", zap.String("path", s.opts.TriggerFile), zap.Error(err))
	}
}

func (s *Store) validateSpec(key string, spec ServiceSpec) error {
	data, err := yaml.Marshal(toEntry(spec))
	if err != nil {
		return failure.Compose("encode service", err)
	}
	asJSON, err := sigsyaml.YAMLToJSON(data)
	if err != nil {
		return failure.Compose("convert service to json", err)
	}
	var value any
	if err := json.Unmarshal(asJSON, &value); err != nil {
		return failure.Compose("decode service json", err)
	}
	if err := s.schema.Validate(value); err != nil {
		return failure.Validationf("service %q is invalid: %s", key, strings.TrimSpace(err.Error()))
	}
	return nil
}

const serviceSchema = `{
  "type": "object",
  "required": ["image", "container_name", "labels"],
  "properties": {
    "image": {"type": "string", "minLength": 1},
    "container_name": {"type": "string", "pattern": "^[a-z0-9][a-z0-9-]*-mcp$"},
    "command": {"type": "array", "items": {"type": "string"}},
    "environment": {"type": "array", "items": {"type": "string", "pattern": "^[A-Za-z_][A-Za-z0-9_]*=\\$\\{[A-Za-z_][A-Za-z0-9_]*\\}$"}},
    "volumes": {"type": "array", "items": {"type": "string", "pattern": "^[^:]+:[^:]+(:(ro|rw))?$"}},
    "networks": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "labels": {
      "type": "object",
      "required": ["emcp.dynamic"],
      "additionalProperties": {"type": "string"}
    }
  }
}`

func compileServiceSchema() (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal([]byte(serviceSchema), &doc); err != nil {
		return nil, fmt.Errorf("service schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("service.json", doc); err != nil {
		return nil, fmt.Errorf("service schema: %w", err)
	}
	schema, err := c.Compile("service.json")
	if err != nil {
		return nil, fmt.Errorf("service schema: %w", err)
	}
	return schema, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
