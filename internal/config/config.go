package config

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	LogLevel           string          `toml:"log_level"`
	ReadOnly           bool            `toml:"read_only"`
	DisableDestructive bool            `toml:"disable_destructive"`
	Toolsets           []string        `toml:"toolsets"`
	Network            string          `toml:"network"`
	DefaultGroup       string          `toml:"default_group"`
	Compose            ComposeConfig   `toml:"compose"`
	Paths              PathsConfig     `toml:"paths"`
	Registry           RegistryConfig  `toml:"registry"`
	Engine             EngineConfig    `toml:"engine"`
	Timeouts           TimeoutConfig   `toml:"timeouts"`
	Provision          ProvisionConfig `toml:"provision"`
	Secrets            SecretsConfig   `toml:"secrets"`
	Audit              AuditConfig     `toml:"audit"`
	Safety             SafetyConfig    `toml:"safety"`
	Auth               AuthConfig      `toml:"auth"`
}

type ComposeConfig struct {
	Path        string `toml:"path"`
	BackupDir   string `toml:"backup_dir"`
	BackupKeep  int    `toml:"backup_keep"`
	TriggerFile string `toml:"trigger_file"`
}

type PathsConfig struct {
	ConfigsDir string `toml:"configs_dir"`
	GroupsDir  string `toml:"groups_dir"`
	// Mount points of ConfigsDir and GroupsDir inside the registry container.
	RegistryConfigsMount string `toml:"registry_configs_mount"`
	RegistryGroupsMount  string `toml:"registry_groups_mount"`
}

type RegistryConfig struct {
	APIURL             string `toml:"api_url"`
	Container          string `toml:"container"`
	Binary             string `toml:"binary"`
	CacheTTLSeconds    int    `toml:"cache_ttl_seconds"`
	HTTPTimeoutSeconds int    `toml:"http_timeout_seconds"`
}

type EngineConfig struct {
	Host       string `toml:"host"`
	APIVersion string `toml:"api_version"`
	// ECRAuth fetches pull credentials for ECR-hosted images.
	ECRAuth   bool   `toml:"ecr_auth"`
	ECRRegion string `toml:"ecr_region"`
}

type TimeoutConfig struct {
	PullSeconds      int `toml:"pull_seconds"`
	StartSeconds     int `toml:"start_seconds"`
	StartPollSeconds int `toml:"start_poll_seconds"`
	ReadySeconds     int `toml:"ready_seconds"`
	ReadyPollSeconds int `toml:"ready_poll_seconds"`
	StopSeconds      int `toml:"stop_seconds"`
	// Tool call deadlines. PerTool overrides ToolDefaultSeconds; ToolMaxSeconds caps both.
	ToolDefaultSeconds int            `toml:"tool_default_seconds"`
	ToolMaxSeconds     int            `toml:"tool_max_seconds"`
	PerTool            map[string]int `toml:"per_tool"`
}

type ProvisionConfig struct {
	ReadyProbe   bool     `toml:"ready_probe"`
	ProbeCommand []string `toml:"probe_command"`
}

type SecretsConfig struct {
	EnvPrefix string `toml:"env_prefix"`
}

type AuditConfig struct {
	Path string `toml:"path"`
}

type SafetyConfig struct {
	// AllowDestructiveTools re-enables the named destructive tools when
	// DisableDestructive is set.
	AllowDestructiveTools []string `toml:"allow_destructive_tools"`
}

type AuthConfig struct {
	APIKeys []APIKeyConfig `toml:"api_keys"`
}

// APIKeyConfig restricts a caller to a set of toolsets. An empty Toolsets
// list grants every enabled toolset.
type APIKeyConfig struct {
	Key      string   `toml:"key"`
	UserID   string   `toml:"user_id"`
	Toolsets []string `toml:"toolsets"`
}

type Overrides struct {
	LogLevel           *string
	ReadOnly           *bool
	DisableDestructive *bool
	Toolsets           *[]string
	ComposePath        *string
	ConfigsDir         *string
	GroupsDir          *string
	RegistryURL        *string
}

func DefaultConfig() Config {
	return Config{
		LogLevel:     "info",
		Toolsets:     []string{"servers", "groups"},
		Network:      "emcp-network",
		DefaultGroup: "emcp-global",
		Compose: ComposeConfig{
			Path:       "/emcp/docker-compose.yaml",
			BackupDir:  "/emcp/backups",
			BackupKeep: 10,
		},
		Paths: PathsConfig{
			ConfigsDir:           "/configs",
			GroupsDir:            "/groups",
			RegistryConfigsMount: "/configs",
			RegistryGroupsMount:  "/groups",
		},
		Registry: RegistryConfig{
			APIURL:             "http://emcp-server:8080",
			Container:          "emcp-server",
			Binary:             "/mcpjungle",
			CacheTTLSeconds:    5,
			HTTPTimeoutSeconds: 10,
		},
		Timeouts: TimeoutConfig{
			PullSeconds:        600,
			StartSeconds:       60,
			StartPollSeconds:   2,
			ReadySeconds:       90,
			ReadyPollSeconds:   3,
			StopSeconds:        10,
			ToolDefaultSeconds: 120,
			ToolMaxSeconds:     900,
		},
	}
}

func Load(path string, dir string, overrides Overrides) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		fileCfg, err := readFile(path)
		if err != nil {
			return cfg, err
		}
		merge(&cfg, fileCfg)
	}

	if dir != "" {
		files, err := dropInFiles(dir)
		if err != nil {
			return cfg, err
		}
		for _, file := range files {
			fileCfg, err := readFile(file)
			if err != nil {
				return cfg, err
			}
			merge(&cfg, fileCfg)
		}
	}

	applyOverrides(&cfg, overrides)
	return cfg, nil
}

func (t TimeoutConfig) Pull() time.Duration      { return seconds(t.PullSeconds) }
func (t TimeoutConfig) Start() time.Duration     { return seconds(t.StartSeconds) }
func (t TimeoutConfig) StartPoll() time.Duration { return seconds(t.StartPollSeconds) }
func (t TimeoutConfig) Ready() time.Duration     { return seconds(t.ReadySeconds) }
func (t TimeoutConfig) ReadyPoll() time.Duration { return seconds(t.ReadyPollSeconds) }
func (t TimeoutConfig) Stop() time.Duration      { return seconds(t.StopSeconds) }

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

func readFile(path string) (Config, error) {
	var cfg Config
	if _, err := os.Stat(path); err != nil {
		return cfg, err
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func dropInFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func merge(dst *Config, src Config) {
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.ReadOnly {
		dst.ReadOnly = src.ReadOnly
	}
	if src.DisableDestructive {
		dst.DisableDestructive = src.DisableDestructive
	}
	if len(src.Toolsets) > 0 {
		dst.Toolsets = append([]string{}, src.Toolsets...)
	}
	if src.Network != "" {
		dst.Network = src.Network
	}
	if src.DefaultGroup != "" {
		dst.DefaultGroup = src.DefaultGroup
	}
	mergeString(&dst.Compose.Path, src.Compose.Path)
	mergeString(&dst.Compose.BackupDir, src.Compose.BackupDir)
	mergeString(&dst.Compose.TriggerFile, src.Compose.TriggerFile)
	mergeInt(&dst.Compose.BackupKeep, src.Compose.BackupKeep)

	mergeString(&dst.Paths.ConfigsDir, src.Paths.ConfigsDir)
	mergeString(&dst.Paths.GroupsDir, src.Paths.GroupsDir)
	mergeString(&dst.Paths.RegistryConfigsMount, src.Paths.RegistryConfigsMount)
	mergeString(&dst.Paths.RegistryGroupsMount, src.Paths.RegistryGroupsMount)

	mergeString(&dst.Registry.APIURL, src.Registry.APIURL)
	mergeString(&dst.Registry.Container, src.Registry.Container)
	mergeString(&dst.Registry.Binary, src.Registry.Binary)
	mergeInt(&dst.Registry.CacheTTLSeconds, src.Registry.CacheTTLSeconds)
	mergeInt(&dst.Registry.HTTPTimeoutSeconds, src.Registry.HTTPTimeoutSeconds)

	mergeString(&dst.Engine.Host, src.Engine.Host)
	mergeString(&dst.Engine.APIVersion, src.Engine.APIVersion)
	if src.Engine.ECRAuth {
		dst.Engine.ECRAuth = true
	}
	mergeString(&dst.Engine.ECRRegion, src.Engine.ECRRegion)

	mergeInt(&dst.Timeouts.PullSeconds, src.Timeouts.PullSeconds)
	mergeInt(&dst.Timeouts.StartSeconds, src.Timeouts.StartSeconds)
	mergeInt(&dst.Timeouts.StartPollSeconds, src.Timeouts.StartPollSeconds)
	mergeInt(&dst.Timeouts.ReadySeconds, src.Timeouts.ReadySeconds)
	mergeInt(&dst.Timeouts.ReadyPollSeconds, src.Timeouts.ReadyPollSeconds)
	mergeInt(&dst.Timeouts.StopSeconds, src.Timeouts.StopSeconds)
	mergeInt(&dst.Timeouts.ToolDefaultSeconds, src.Timeouts.ToolDefaultSeconds)
	mergeInt(&dst.Timeouts.ToolMaxSeconds, src.Timeouts.ToolMaxSeconds)
	for tool, secs := range src.Timeouts.PerTool {
		if dst.Timeouts.PerTool == nil {
			dst.Timeouts.PerTool = map[string]int{}
		}
		dst.Timeouts.PerTool[tool] = secs
	}

	if src.Provision.ReadyProbe {
		dst.Provision.ReadyProbe = src.Provision.ReadyProbe
	}
	if len(src.Provision.ProbeCommand) > 0 {
		dst.Provision.ProbeCommand = append([]string{}, src.Provision.ProbeCommand...)
	}
	mergeString(&dst.Secrets.EnvPrefix, src.Secrets.EnvPrefix)
	mergeString(&dst.Audit.Path, src.Audit.Path)
	if len(src.Safety.AllowDestructiveTools) > 0 {
		dst.Safety.AllowDestructiveTools = append([]string{}, src.Safety.AllowDestructiveTools...)
	}
	if len(src.Auth.APIKeys) > 0 {
		dst.Auth.APIKeys = append([]APIKeyConfig{}, src.Auth.APIKeys...)
	}
}

func mergeString(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

func mergeInt(dst *int, src int) {
	if src > 0 {
		*dst = src
	}
}

func applyOverrides(cfg *Config, overrides Overrides) {
	if overrides.LogLevel != nil {
		cfg.LogLevel = *overrides.LogLevel
	}
	if overrides.ReadOnly != nil {
		cfg.ReadOnly = *overrides.ReadOnly
	}
	if overrides.DisableDestructive != nil {
		cfg.DisableDestructive = *overrides.DisableDestructive
	}
	if overrides.Toolsets != nil {
		cfg.Toolsets = append([]string{}, (*overrides.Toolsets)...)
	}
	if overrides.ComposePath != nil {
		cfg.Compose.Path = *overrides.ComposePath
	}
	if overrides.ConfigsDir != nil {
		cfg.Paths.ConfigsDir = *overrides.ConfigsDir
	}
	if overrides.GroupsDir != nil {
		cfg.Paths.GroupsDir = *overrides.GroupsDir
	}
	if overrides.RegistryURL != nil {
		cfg.Registry.APIURL = *overrides.RegistryURL
	}
}
