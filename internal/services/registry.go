package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"mcpfleet/internal/compose"
	"mcpfleet/internal/engine"
	"mcpfleet/internal/failure"
	"mcpfleet/internal/lock"
	"mcpfleet/internal/logging"
	"mcpfleet/internal/secrets"
	"mcpfleet/internal/toolregistry"
)

const defaultRestartPolicy = "unless-stopped"

type Options struct {
	ConfigsDir   string
	Network      string
	StartTimeout time.Duration
	StartPoll    time.Duration
	StopGrace    time.Duration
}

type Deps struct {
	Compose *compose.Store
	Engine  engine.Engine
	Secrets secrets.Store
	Tools   toolregistry.Client
	Locks   *lock.Locker
	Logger  *zap.Logger
}

// Registry pairs compose entries and registry descriptors with the
// containers that realize them.
type Registry struct {
	opts      Options
	compose   *compose.Store
	eng       engine.Engine
	secrets   secrets.Store
	tools     toolregistry.Client
	locks     *lock.Locker
	log       *zap.Logger
	lookupEnv func(string) (string, bool)
}

// Definition is the desired state of a tool server before it is rendered
// into a compose entry.
type Definition struct {
	Name        string
	Image       string
	Command     []string
	EnvVars     []string
	Volumes     []string
	Description string
}

func New(opts Options, deps Deps) *Registry {
	if opts.Network == "" {
		opts.Network = "emcp-network"
	}
	if deps.Secrets == nil {
		deps.Secrets = secrets.None{}
	}
	if deps.Locks == nil {
		deps.Locks = lock.New()
	}
	return &Registry{
		opts:      opts,
		compose:   deps.Compose,
		eng:       deps.Engine,
		secrets:   deps.Secrets,
		tools:     deps.Tools,
		locks:     deps.Locks,
		log:       logging.OrNop(deps.Logger),
		lookupEnv: os.LookupEnv,
	}
}

// Locks exposes the shared advisory locks so callers can serialize work per server.
func (r *Registry) Locks() *lock.Locker {
	return r.locks
}

// SecretsConfigured reports whether provisioned env values go to a secret store.
func (r *Registry) SecretsConfigured() bool {
	return r.secrets.Configured()
}

func (r *Registry) Engine() engine.Engine {
	return r.eng
}

func (r *Registry) ContainerName(name string) string {
	return compose.ContainerName(name)
}

func (r *Registry) AddService(def Definition) (string, error) {
	description := def.Description
	if description == "" {
		description = defaultDescription(def.Name)
	}
	spec := compose.ServiceSpec{
		Image:     def.Image,
		Command:   def.Command,
		EnvVars:   def.EnvVars,
		Volumes:   def.Volumes,
		Networks:  []string{r.opts.Network},
		Restart:   defaultRestartPolicy,
		StdinOpen: true,
		TTY:       true,
		Labels: map[string]string{
			compose.DynamicLabel:     "true",
			compose.DescriptionLabel: description,
		},
	}
	return r.compose.AddService(def.Name, spec)
}

func (r *Registry) RemoveService(name string) (bool, error) {
	return r.compose.RemoveService(name)
}

// StartService realizes the compose entry for name. Referenced variables are
// resolved from env, then the secret store, then the process environment.
// When the compose document is host managed, the host's compose run creates
// the container and StartService only waits for it.
func (r *Registry) StartService(ctx context.Context, name string, env map[string]string) (engine.Status, error) {
	spec, ok, err := r.compose.Service(name)
	if err != nil {
		return engine.Status{}, err
	}
	if !ok {
		return engine.Status{}, failure.Validationf("service %q not found in compose document", name)
	}
	if r.compose.HostManaged() {
		r.log.Info("waiting for host compose to start container", zap.String("container", spec.ContainerName))
		return engine.WaitRunning(ctx, r.eng, spec.ContainerName, r.opts.StartTimeout, r.opts.StartPoll)
	}
	network := r.opts.Network
	if len(spec.Networks) > 0 {
		network = spec.Networks[0]
	}
	cspec := engine.ContainerSpec{
		Name:          spec.ContainerName,
		Image:         spec.Image,
		Command:       spec.Command,
		Env:           r.resolveEnv(ctx, spec.EnvVars, env),
		Volumes:       spec.Volumes,
		Labels:        spec.Labels,
		Network:       network,
		RestartPolicy: spec.Restart,
		OpenStdin:     spec.StdinOpen,
		TTY:           spec.TTY,
	}
	return engine.StartContainer(ctx, r.eng, cspec, r.opts.StartTimeout, r.opts.StartPoll)
}

func (r *Registry) resolveEnv(ctx context.Context, names []string, supplied map[string]string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if value, ok := supplied[name]; ok {
			out = append(out, name+"="+value)
			continue
		}
		value, ok, err := r.secrets.Get(ctx, name)
		if err != nil {
			r.log.Warn("secret lookup failed", zap.String("var", name), zap.Error(err))
		}
		if !ok {
			value, ok = r.lookupEnv(name)
		}
		if !ok {
			r.log.Warn("environment variable not set, defaulting to blank", zap.String("var", name))
		}
		out = append(out, name+"="+value)
	}
	return out
}

func (r *Registry) StopService(ctx context.Context, name string) engine.Outcome {
	return engine.StopContainer(ctx, r.eng, compose.ContainerName(name), r.opts.StopGrace)
}

func (r *Registry) RestartService(ctx context.Context, name string) error {
	grace := r.opts.StopGrace
	if grace <= 0 {
		grace = engine.DefaultStopGrace
	}
	err := r.eng.RestartContainer(ctx, compose.ContainerName(name), grace)
	if errors.Is(err, engine.ErrNotFound) {
		return failure.Validationf("server %q has no container", name)
	}
	if err != nil {
		return failure.Engine(fmt.Sprintf("restart %s", compose.ContainerName(name)), err)
	}
	return nil
}

func (r *Registry) Status(ctx context.Context, name string) engine.Status {
	return engine.Probe(ctx, r.eng, compose.ContainerName(name))
}

func defaultDescription(name string) string {
	return "Dynamic MCP server: " + name
}
