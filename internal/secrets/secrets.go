package secrets

import (
	"context"
	"os"
	"strings"
	"sync"
)

// Store keeps tool-server secrets outside the compose document.
type Store interface {
	Configured() bool
	Put(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, bool, error)
}

// Env keeps values in memory and falls back to process environment
// variables named prefix+key.
type Env struct {
	prefix string
	lookup func(string) (string, bool)

	mu     sync.RWMutex
	values map[string]string
}

func NewEnv(prefix string) *Env {
	return &Env{prefix: prefix, lookup: os.LookupEnv, values: map[string]string{}}
}

func (e *Env) Configured() bool {
	return e != nil
}

func (e *Env) Put(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errEmptyKey
	}
	e.mu.Lock()
	e.values[key] = value
	e.mu.Unlock()
	return nil
}

func (e *Env) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	e.mu.RLock()
	value, ok := e.values[key]
	e.mu.RUnlock()
	if ok {
		return value, true, nil
	}
	value, ok = e.lookup(e.prefix + key)
	return value, ok, nil
}

// None is the store used when no secret backend is configured.
type None struct{}

func (None) Configured() bool { return false }

func (None) Put(context.Context, string, string) error { return errNotConfigured }

func (None) Get(context.Context, string) (string, bool, error) { return "", false, nil }
