package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Engine with scriptable behaviour.
type Memory struct {
	mu         sync.Mutex
	local      map[string]bool
	remote     map[string]bool
	pullErr    error
	startErr   map[string]error
	runState   map[string]string
	containers map[string]*memContainer
	execFn     func(name string, cmd []string) (ExecResult, error)
	attachFn   func(ctx context.Context, name string, cmd []string) (io.ReadWriteCloser, error)
	calls      []string
}

type memContainer struct {
	spec   ContainerSpec
	status string
}

func NewMemory() *Memory {
	return &Memory{
		local:      map[string]bool{},
		remote:     map[string]bool{},
		startErr:   map[string]error{},
		runState:   map[string]string{},
		containers: map[string]*memContainer{},
	}
}

// AddRemoteImage makes ref pullable.
func (m *Memory) AddRemoteImage(ref string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remote[ref] = true
}

// AddLocalImage makes ref present without a pull.
func (m *Memory) AddLocalImage(ref string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.local[ref] = true
}

// FailPulls makes every pull return err, regardless of remote images.
func (m *Memory) FailPulls(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pullErr = err
}

func (m *Memory) FailStart(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr[name] = err
}

// SetRunState sets the status a container reports once started. Default "running".
func (m *Memory) SetRunState(name, state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runState[name] = state
}

// Seed places an existing container with the given status.
func (m *Memory) Seed(spec ContainerSpec, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.containers[spec.Name] = &memContainer{spec: spec, status: status}
}

func (m *Memory) HandleExec(fn func(name string, cmd []string) (ExecResult, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.execFn = fn
}

func (m *Memory) HandleAttach(fn func(ctx context.Context, name string, cmd []string) (io.ReadWriteCloser, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attachFn = fn
}

// Container returns a copy of the named container's spec and status.
func (m *Memory) Container(name string) (ContainerSpec, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[name]
	if !ok {
		return ContainerSpec{}, "", false
	}
	return c.spec, c.status, true
}

func (m *Memory) ContainerNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.containers))
	for name := range m.containers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Calls returns the recorded operations as "op name" strings.
func (m *Memory) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *Memory) record(op, arg string) {
	m.calls = append(m.calls, op+" "+arg)
}

func (m *Memory) PullImage(ctx context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("pull", ref)
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.pullErr != nil {
		return m.pullErr
	}
	if !m.remote[ref] {
		return fmt.Errorf("pull access denied for %s", ref)
	}
	m.local[ref] = true
	return nil
}

func (m *Memory) ImageExists(_ context.Context, ref string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.local[ref], nil
}

func (m *Memory) CreateContainer(_ context.Context, spec ContainerSpec) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("create", spec.Name)
	if _, ok := m.containers[spec.Name]; ok {
		return "", fmt.Errorf("container name %q is already in use", spec.Name)
	}
	if !m.local[spec.Image] {
		return "", fmt.Errorf("%w: no such image %s", ErrNotFound, spec.Image)
	}
	m.containers[spec.Name] = &memContainer{spec: spec, status: "created"}
	return "mem-" + spec.Name, nil
}

func (m *Memory) StartContainer(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("start", name)
	c, ok := m.containers[name]
	if !ok {
		return fmt.Errorf("%w: container %s", ErrNotFound, name)
	}
	if err := m.startErr[name]; err != nil {
		return err
	}
	c.status = m.stateAfterStart(name)
	return nil
}

func (m *Memory) stateAfterStart(name string) string {
	if state, ok := m.runState[name]; ok {
		return state
	}
	return "running"
}

func (m *Memory) StopContainer(_ context.Context, name string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("stop", name)
	c, ok := m.containers[name]
	if !ok {
		return fmt.Errorf("%w: container %s", ErrNotFound, name)
	}
	c.status = "exited"
	return nil
}

func (m *Memory) RemoveContainer(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("remove", name)
	if _, ok := m.containers[name]; !ok {
		return fmt.Errorf("%w: container %s", ErrNotFound, name)
	}
	delete(m.containers, name)
	return nil
}

func (m *Memory) RestartContainer(_ context.Context, name string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("restart", name)
	c, ok := m.containers[name]
	if !ok {
		return fmt.Errorf("%w: container %s", ErrNotFound, name)
	}
	c.status = m.stateAfterStart(name)
	return nil
}

func (m *Memory) InspectStatus(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[name]
	if !ok {
		return "", fmt.Errorf("%w: container %s", ErrNotFound, name)
	}
	return c.status, nil
}

func (m *Memory) Exec(_ context.Context, name string, cmd []string) (ExecResult, error) {
	m.mu.Lock()
	m.record("exec", name+" "+strings.Join(cmd, " "))
	fn := m.execFn
	_, exists := m.containers[name]
	m.mu.Unlock()
	if fn != nil {
		return fn(name, cmd)
	}
	if !exists {
		return ExecResult{}, fmt.Errorf("%w: container %s", ErrNotFound, name)
	}
	return ExecResult{}, nil
}

func (m *Memory) Attach(ctx context.Context, name string, cmd []string) (io.ReadWriteCloser, error) {
	m.mu.Lock()
	m.record("attach", name)
	fn := m.attachFn
	m.mu.Unlock()
	if fn == nil {
		return nil, errors.New("attach not supported")
	}
	return fn(ctx, name, cmd)
}

var _ Engine = (*Memory)(nil)
