package engine

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by engines when the named container or image is absent.
var ErrNotFound = errors.New("not found")

// ContainerSpec is a fully resolved container definition: Env carries
// KEY=VALUE pairs, not references.
type ContainerSpec struct {
	Name          string
	Image         string
	Command       []string
	Env           []string
	Volumes       []string
	Labels        map[string]string
	Network       string
	RestartPolicy string
	OpenStdin     bool
	TTY           bool
}

type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Output prefers stderr, then stdout, for error reporting.
func (r ExecResult) Output() string {
	if r.Stderr != "" {
		return r.Stderr
	}
	return r.Stdout
}

// Engine is the runtime control plane. Implementations: Docker (Engine API
// socket) and Memory (deterministic, in-process).
type Engine interface {
	PullImage(ctx context.Context, ref string) error
	ImageExists(ctx context.Context, ref string) (bool, error)
	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)
	StartContainer(ctx context.Context, name string) error
	StopContainer(ctx context.Context, name string, grace time.Duration) error
	RemoveContainer(ctx context.Context, name string) error
	RestartContainer(ctx context.Context, name string, grace time.Duration) error
	// InspectStatus returns the raw state string ("running", "exited", ...) or ErrNotFound.
	InspectStatus(ctx context.Context, name string) (string, error)
	Exec(ctx context.Context, name string, cmd []string) (ExecResult, error)
	// Attach starts cmd inside the container and returns its stdin/stdout stream.
	Attach(ctx context.Context, name string, cmd []string) (io.ReadWriteCloser, error)
}
