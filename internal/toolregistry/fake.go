package toolregistry

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Fake is an in-memory registry for tests.
type Fake struct {
	mu      sync.Mutex
	tools   []Tool
	servers map[string]bool
	groups  map[string]bool
	listErr error
	fail    map[string]error
	calls   []string
}

func NewFake(toolNames ...string) *Fake {
	f := &Fake{servers: map[string]bool{}, groups: map[string]bool{}, fail: map[string]error{}}
	f.SetTools(toolNames...)
	return f
}

func (f *Fake) SetTools(names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tools = nil
	for _, name := range names {
		f.tools = append(f.tools, Tool{Name: name, Enabled: true})
	}
}

// FailList makes ListTools return err, as an unreachable registry would.
func (f *Fake) FailList(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

// FailOn makes the named operation ("register", "deregister", "create_group",
// "update_group", "delete_group") return err.
func (f *Fake) FailOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = err
}

// MarkGroupRegistered seeds a group as already known to the registry.
func (f *Fake) MarkGroupRegistered(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups[name] = true
}

func (f *Fake) HasGroup(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.groups[name]
}

func (f *Fake) HasServer(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.servers[name]
}

func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *Fake) ListTools(context.Context) ([]Tool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]Tool(nil), f.tools...), nil
}

func (f *Fake) RegisterServer(_ context.Context, name string) error {
	return f.apply("register", name, func() error {
		f.servers[name] = true
		return nil
	})
}

func (f *Fake) DeregisterServer(_ context.Context, name string) error {
	return f.apply("deregister", name, func() error {
		if !f.servers[name] {
			return fmt.Errorf("server %s not found", name)
		}
		delete(f.servers, name)
		return nil
	})
}

func (f *Fake) CreateGroup(_ context.Context, name string) error {
	return f.apply("create_group", name, func() error {
		if f.groups[name] {
			return fmt.Errorf("group %s already exists", name)
		}
		f.groups[name] = true
		return nil
	})
}

func (f *Fake) UpdateGroup(_ context.Context, name string) error {
	return f.apply("update_group", name, func() error {
		if !f.groups[name] {
			return fmt.Errorf("group %s not found", name)
		}
		return nil
	})
}

func (f *Fake) DeleteGroup(_ context.Context, name string) error {
	return f.apply("delete_group", name, func() error {
		if !f.groups[name] {
			return fmt.Errorf("group %s not found", name)
		}
		delete(f.groups, name)
		return nil
	})
}

func (f *Fake) ListServers(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.servers))
	for name := range f.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	out := ""
	for _, name := range names {
		out += name + "\n"
	}
	return out, nil
}

func (f *Fake) apply(op, name string, fn func() error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op+" "+name)
	if err := f.fail[op]; err != nil {
		return err
	}
	return fn()
}

var _ Client = (*Fake)(nil)
