package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithOverridesAndDropIns(t *testing.T) {
	dir := t.TempDir()
	mainCfg := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(mainCfg, []byte(`
log_level = "debug"
network = "tools-net"

[compose]
path = "/srv/emcp/docker-compose.yaml"
backup_keep = 5
`), 0600); err != nil {
		t.Fatalf("write main config: %v", err)
	}

	dropInDir := filepath.Join(dir, "dropins")
	if err := os.MkdirAll(dropInDir, 0700); err != nil {
		t.Fatalf("mkdir dropins: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dropInDir, "10-base.toml"), []byte(`
read_only = true
log_level = "info"
`), 0600); err != nil {
		t.Fatalf("write dropin: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dropInDir, "20-override.toml"), []byte(`
log_level = "warn"

[registry]
api_url = "http://registry:9090"
`), 0600); err != nil {
		t.Fatalf("write dropin: %v", err)
	}

	groups := "/tmp/groups"
	cfg, err := Load(mainCfg, dropInDir, Overrides{GroupsDir: &groups})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.ReadOnly {
		t.Fatalf("expected read_only from drop-in")
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("expected drop-in override log_level, got %q", cfg.LogLevel)
	}
	if cfg.Network != "tools-net" {
		t.Fatalf("unexpected network %q", cfg.Network)
	}
	if cfg.Compose.Path != "/srv/emcp/docker-compose.yaml" || cfg.Compose.BackupKeep != 5 {
		t.Fatalf("unexpected compose config: %#v", cfg.Compose)
	}
	if cfg.Compose.BackupDir != "/emcp/backups" {
		t.Fatalf("expected default backup dir to survive merge, got %q", cfg.Compose.BackupDir)
	}
	if cfg.Registry.APIURL != "http://registry:9090" || cfg.Registry.Container != "emcp-server" {
		t.Fatalf("unexpected registry config: %#v", cfg.Registry)
	}
	if cfg.Paths.GroupsDir != groups {
		t.Fatalf("expected override groups dir, got %q", cfg.Paths.GroupsDir)
	}
}

func TestLoadTimeoutsAndProvision(t *testing.T) {
	dir := t.TempDir()
	mainCfg := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(mainCfg, []byte(`
[timeouts]
start_seconds = 30
ready_poll_seconds = 1

[provision]
ready_probe = true
probe_command = ["node", "server.js"]

[engine]
ecr_auth = true
ecr_region = "eu-west-1"
`), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(mainCfg, "", Overrides{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Timeouts.Start() != 30*time.Second || cfg.Timeouts.ReadyPoll() != time.Second {
		t.Fatalf("unexpected timeouts: %#v", cfg.Timeouts)
	}
	if cfg.Timeouts.Pull() != 600*time.Second || cfg.Timeouts.StartPoll() != 2*time.Second {
		t.Fatalf("expected default pull/poll timeouts, got %#v", cfg.Timeouts)
	}
	if !cfg.Provision.ReadyProbe || len(cfg.Provision.ProbeCommand) != 2 {
		t.Fatalf("unexpected provision config: %#v", cfg.Provision)
	}
	if !cfg.Engine.ECRAuth || cfg.Engine.ECRRegion != "eu-west-1" {
		t.Fatalf("unexpected engine config: %#v", cfg.Engine)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.DefaultGroup != "emcp-global" || cfg.Compose.BackupKeep != 10 {
		t.Fatalf("unexpected defaults: %#v", cfg)
	}
	if cfg.Timeouts.Ready() != 90*time.Second || cfg.Timeouts.Stop() != 10*time.Second {
		t.Fatalf("unexpected default timeouts: %#v", cfg.Timeouts)
	}
}

func TestDropInFilesMissingDir(t *testing.T) {
	files, err := dropInFiles(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("dropInFiles: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("expected no files, got %#v", files)
	}
}

func TestReadFileMissing(t *testing.T) {
	_, err := readFile(filepath.Join(t.TempDir(), "missing.toml"))
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestReadFileInvalidTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(path, []byte("invalid = ["), 0600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	_, err := readFile(path)
	if err == nil {
		t.Fatalf("expected error for invalid toml")
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := DefaultConfig()
	level := "warn"
	readOnly := true
	compose := "/tmp/compose.yaml"
	configs := "/tmp/configs"
	url := "http://localhost:8080"
	applyOverrides(&cfg, Overrides{
		LogLevel:    &level,
		ReadOnly:    &readOnly,
		ComposePath: &compose,
		ConfigsDir:  &configs,
		RegistryURL: &url,
	})
	if cfg.LogLevel != level || !cfg.ReadOnly || cfg.Compose.Path != compose {
		t.Fatalf("unexpected overrides applied: %#v", cfg)
	}
	if cfg.Paths.ConfigsDir != configs || cfg.Registry.APIURL != url {
		t.Fatalf("unexpected path overrides: %#v", cfg.Paths)
	}
}

func TestToolTimeoutsAndSafetyMerge(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(`
toolsets = ["servers"]
disable_destructive = true

[timeouts]
tool_default_seconds = 30

[timeouts.per_tool]
"servers.provision" = 600

[safety]
allow_destructive_tools = ["groups.delete"]

[[auth.api_keys]]
key = "secret"
user_id = "ops"
toolsets = ["groups"]
`), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path, "", Overrides{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Toolsets) != 1 || cfg.Toolsets[0] != "servers" || !cfg.DisableDestructive {
		t.Fatalf("unexpected toolsets/safety: %#v", cfg)
	}
	if cfg.Timeouts.ToolDefaultSeconds != 30 || cfg.Timeouts.ToolMaxSeconds != 900 {
		t.Fatalf("unexpected tool timeouts: %#v", cfg.Timeouts)
	}
	if cfg.Timeouts.PerTool["servers.provision"] != 600 {
		t.Fatalf("expected per-tool timeout, got %#v", cfg.Timeouts.PerTool)
	}
	if len(cfg.Safety.AllowDestructiveTools) != 1 || len(cfg.Auth.APIKeys) != 1 || cfg.Auth.APIKeys[0].UserID != "ops" {
		t.Fatalf("unexpected safety/auth: %#v %#v", cfg.Safety, cfg.Auth)
	}

	toolsets := []string{"groups"}
	enabled := false
	cfg, err = Load(path, "", Overrides{Toolsets: &toolsets, DisableDestructive: &enabled})
	if err != nil {
		t.Fatalf("load with overrides: %v", err)
	}
	if cfg.Toolsets[0] != "groups" || cfg.DisableDestructive {
		t.Fatalf("expected overrides applied: %#v", cfg)
	}
}
