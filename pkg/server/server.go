package server

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"mcpfleet/internal/audit"
	"mcpfleet/internal/cache"
	"mcpfleet/internal/compose"
	"mcpfleet/internal/config"
	"mcpfleet/internal/engine"
	"mcpfleet/internal/groups"
	"mcpfleet/internal/lock"
	"mcpfleet/internal/logging"
	fleetmcp "mcpfleet/internal/mcp"
	"mcpfleet/internal/policy"
	"mcpfleet/internal/provision"
	"mcpfleet/internal/pullauth"
	"mcpfleet/internal/redact"
	"mcpfleet/internal/secrets"
	"mcpfleet/internal/services"
	"mcpfleet/internal/toolregistry"
)

const configEnv = "MCPFLEET_CONFIG"

type Options struct {
	ConfigPath         string
	ConfigDir          string
	Toolsets           []string
	ReadOnly           bool
	DisableDestructive bool
	LogLevel           string
	ComposePath        string
	GroupsDir          string
	RegistryURL        string
	Version            string
	Stderr             io.Writer
	// Transport defaults to stdio.
	Transport sdkmcp.Transport
	// Engine defaults to the Docker engine from config.
	Engine engine.Engine
	Logger *zap.Logger
}

// runtimeDeps are built once per process and survive config reloads.
type runtimeDeps struct {
	engine engine.Engine
	audit  io.Writer
	logger *zap.Logger
	locks  *lock.Locker
}

func Run(ctx context.Context, opts Options) error {
	errOut := opts.Stderr
	if errOut == nil {
		errOut = os.Stderr
	}
	configPath := opts.ConfigPath
	if configPath == "" {
		if env := os.Getenv(configEnv); env != "" {
			configPath = env
		}
	}
	overrides := overridesFrom(opts)

	cfg, err := config.Load(configPath, opts.ConfigDir, overrides)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		if logger, err = logging.New(cfg.LogLevel); err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
	}

	deps := runtimeDeps{engine: opts.Engine, audit: errOut, logger: logger, locks: lock.New()}
	if deps.engine == nil {
		docker, err := engine.NewDocker(cfg.Engine.Host, cfg.Engine.APIVersion)
		if err != nil {
			return fmt.Errorf("engine init failed: %w", err)
		}
		defer docker.Close()
		if cfg.Engine.ECRAuth {
			provider, err := pullauth.NewECR(ctx, cfg.Engine.ECRRegion, logger)
			if err != nil {
				return fmt.Errorf("ecr auth init failed: %w", err)
			}
			docker.SetPullAuth(provider.RegistryAuth)
		}
		deps.engine = docker
	}
	if cfg.Audit.Path != "" {
		file, err := os.OpenFile(cfg.Audit.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		defer file.Close()
		deps.audit = file
	}

	toolCtx, reg, err := buildRuntime(cfg, deps)
	if err != nil {
		return fmt.Errorf("init failed: %w", err)
	}
	server := sdkmcp.NewServer(&sdkmcp.Implementation{Name: "mcpfleet", Version: opts.Version}, nil)
	toolNames, err := fleetmcp.RegisterSDKTools(server, reg, toolCtx)
	if err != nil {
		return fmt.Errorf("tool registration failed: %w", err)
	}
	logger.Info("mcp server ready", zap.Strings("toolsets", cfg.Toolsets), zap.Int("tools", len(toolNames)), zap.Strings("hidden", reg.Hidden()), zap.Bool("read_only", cfg.ReadOnly))

	reloadCh := make(chan os.Signal, 1)
	notifyReload(reloadCh)
	defer stopReload(reloadCh)
	go func() {
		for range reloadCh {
			cfg, err := config.Load(configPath, opts.ConfigDir, overrides)
			if err != nil {
				fmt.Fprintf(errOut, "config reload failed: %v\n", err)
				continue
			}
			toolCtx, reg, err := buildRuntime(cfg, deps)
			if err != nil {
				fmt.Fprintf(errOut, "reload init failed: %v\n", err)
				continue
			}
			if len(toolNames) > 0 {
				server.RemoveTools(toolNames...)
			}
			toolNames, err = fleetmcp.RegisterSDKTools(server, reg, toolCtx)
			if err != nil {
				fmt.Fprintf(errOut, "tool registration failed: %v\n", err)
				continue
			}
			logger.Info("configuration reloaded", zap.Int("tools", len(toolNames)))
		}
	}()

	transport := opts.Transport
	if transport == nil {
		transport = &sdkmcp.StdioTransport{}
	}
	if err := server.Run(ctx, transport); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func overridesFrom(opts Options) config.Overrides {
	overrides := config.Overrides{}
	if len(opts.Toolsets) > 0 {
		overrides.Toolsets = &opts.Toolsets
	}
	if opts.ReadOnly {
		overrides.ReadOnly = &opts.ReadOnly
	}
	if opts.DisableDestructive {
		overrides.DisableDestructive = &opts.DisableDestructive
	}
	if opts.LogLevel != "" {
		overrides.LogLevel = &opts.LogLevel
	}
	if opts.ComposePath != "" {
		overrides.ComposePath = &opts.ComposePath
	}
	if opts.GroupsDir != "" {
		overrides.GroupsDir = &opts.GroupsDir
	}
	if opts.RegistryURL != "" {
		overrides.RegistryURL = &opts.RegistryURL
	}
	return overrides
}

func buildRuntime(cfg config.Config, deps runtimeDeps) (fleetmcp.ToolContext, *fleetmcp.ToolRegistry, error) {
	log := logging.OrNop(deps.logger)
	locks := deps.locks
	if locks == nil {
		locks = lock.New()
	}

	composeStore, err := compose.NewStore(compose.Options{
		Path:        cfg.Compose.Path,
		BackupDir:   cfg.Compose.BackupDir,
		BackupKeep:  cfg.Compose.BackupKeep,
		TriggerFile: cfg.Compose.TriggerFile,
	}, locks, log.Named("compose"))
	if err != nil {
		return fleetmcp.ToolContext{}, nil, err
	}
	tools := toolregistry.NewRemote(toolregistry.Options{
		APIURL:       cfg.Registry.APIURL,
		Container:    cfg.Registry.Container,
		Binary:       cfg.Registry.Binary,
		ConfigsMount: cfg.Paths.RegistryConfigsMount,
		GroupsMount:  cfg.Paths.RegistryGroupsMount,
		CacheTTL:     time.Duration(cfg.Registry.CacheTTLSeconds) * time.Second,
		HTTPTimeout:  time.Duration(cfg.Registry.HTTPTimeoutSeconds) * time.Second,
	}, deps.engine, cache.NewStore[[]toolregistry.Tool](), log.Named("toolregistry"))

	var secretStore secrets.Store = secrets.None{}
	if cfg.Secrets.EnvPrefix != "" {
		secretStore = secrets.NewEnv(cfg.Secrets.EnvPrefix)
	}

	fleet := services.New(services.Options{
		ConfigsDir:   cfg.Paths.ConfigsDir,
		Network:      cfg.Network,
		StartTimeout: cfg.Timeouts.Start(),
		StartPoll:    cfg.Timeouts.StartPoll(),
		StopGrace:    cfg.Timeouts.Stop(),
	}, services.Deps{
		Compose: composeStore,
		Engine:  deps.engine,
		Secrets: secretStore,
		Tools:   tools,
		Locks:   locks,
		Logger:  log.Named("services"),
	})
	saga := provision.New(provision.Options{
		PullTimeout:  cfg.Timeouts.Pull(),
		ReadyProbe:   cfg.Provision.ReadyProbe,
		ProbeCommand: cfg.Provision.ProbeCommand,
		ReadyTimeout: cfg.Timeouts.Ready(),
		ReadyPoll:    cfg.Timeouts.ReadyPoll(),
	}, fleet, tools, secretStore, log.Named("provision"))
	groupStore, err := groups.NewStore(groups.Options{
		Dir:          cfg.Paths.GroupsDir,
		DefaultGroup: cfg.DefaultGroup,
	}, tools, locks, log.Named("groups"))
	if err != nil {
		return fleetmcp.ToolContext{}, nil, err
	}

	reg := fleetmcp.NewRegistry(&cfg)
	toolCtx := fleetmcp.ToolContext{
		Config:      &cfg,
		Logger:      log,
		Policy:      policy.NewAuthorizer(cfg.Auth.APIKeys...),
		Redactor:    redact.New(),
		Audit:       audit.NewLogger(deps.audit),
		Compose:     composeStore,
		Fleet:       fleet,
		Provisioner: saga,
		Groups:      groupStore,
		Tools:       tools,
		Registry:    reg,
	}
	toolCtx.Invoker = fleetmcp.NewToolInvoker(reg, toolCtx)
	toolsetCtx := fleetmcp.ToolsetContext(toolCtx)

	for _, id := range cfg.Toolsets {
		factory, ok := fleetmcp.ToolsetFactoryFor(id)
		if !ok {
			return fleetmcp.ToolContext{}, nil, fmt.Errorf("unknown toolset: %s", id)
		}
		toolset := factory()
		if err := toolset.Init(toolsetCtx); err != nil {
			return fleetmcp.ToolContext{}, nil, err
		}
		if err := toolset.Register(reg); err != nil {
			return fleetmcp.ToolContext{}, nil, err
		}
	}

	return toolCtx, reg, nil
}
