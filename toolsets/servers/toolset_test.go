package servers

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mcpfleet/internal/compose"
	"mcpfleet/internal/config"
	"mcpfleet/internal/engine"
	"mcpfleet/internal/failure"
	"mcpfleet/internal/groups"
	"mcpfleet/internal/mcp"
	"mcpfleet/internal/policy"
	"mcpfleet/internal/provision"
	"mcpfleet/internal/redact"
	"mcpfleet/internal/secrets"
	"mcpfleet/internal/services"
	"mcpfleet/internal/toolregistry"
)

type fixture struct {
	toolset *Toolset
	eng     *engine.Memory
	tools   *toolregistry.Fake
	compose *compose.Store
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "docker-compose.yaml")
	if err := os.WriteFile(path, []byte("services:\n  emcp-server:\n    image: mcpjungle/mcpjungle\n"), 0o644); err != nil {
		t.Fatalf("write compose: %v", err)
	}
	store, err := compose.NewStore(compose.Options{Path: path}, nil, nil)
	if err != nil {
		t.Fatalf("compose store: %v", err)
	}
	eng := engine.NewMemory()
	eng.AddRemoteImage("busybox:latest")
	fake := toolregistry.NewFake("demo__echo", "demo__ping", "other__x")
	fleet := services.New(services.Options{
		ConfigsDir:   filepath.Join(dir, "configs"),
		StartTimeout: 100 * time.Millisecond,
		StartPoll:    10 * time.Millisecond,
	}, services.Deps{Compose: store, Engine: eng, Tools: fake})
	saga := provision.New(provision.Options{PullTimeout: time.Second}, fleet, fake, nil, nil)
	toolset := New()
	err = toolset.Init(mcp.ToolsetContext{
		Compose:     store,
		Fleet:       fleet,
		Provisioner: saga,
		Tools:       fake,
		Redactor:    redact.New(),
	})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	return fixture{toolset: toolset, eng: eng, tools: fake, compose: store}
}

func call(t *testing.T, handler mcp.ToolHandler, args map[string]any) (mcp.ToolResult, error) {
	t.Helper()
	return handler(context.Background(), mcp.ToolRequest{Arguments: args, User: policy.User{ID: "local"}})
}

func TestToolsetInitAndRegister(t *testing.T) {
	toolset := New()
	if err := toolset.Init(mcp.ToolsetContext{}); err == nil {
		t.Fatalf("expected error for missing service registry")
	}
	f := newFixture(t)
	cfg := config.DefaultConfig()
	reg := mcp.NewRegistry(&cfg)
	if err := f.toolset.Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	for _, name := range []string{"servers.provision", "servers.list", "servers.delete", "servers.restart", "servers.secrets_status"} {
		if _, ok := reg.Get(name); !ok {
			t.Fatalf("expected %s to be registered", name)
		}
	}

	cfg.ReadOnly = true
	readOnly := mcp.NewRegistry(&cfg)
	if err := f.toolset.Register(readOnly); err != nil {
		t.Fatalf("register read-only: %v", err)
	}
	if _, ok := readOnly.Get("servers.provision"); ok {
		t.Fatalf("expected provision filtered in read-only mode")
	}
	if _, ok := readOnly.Get("servers.list"); !ok {
		t.Fatalf("expected list kept in read-only mode")
	}
}

func TestProvisionListStatusDelete(t *testing.T) {
	f := newFixture(t)
	result, err := call(t, f.toolset.handleProvision, map[string]any{
		"name":     "Demo",
		"image":    "busybox:latest",
		"command":  []any{"sleep", "60"},
		"env_vars": map[string]any{"API_TOKEN": "secret-value"},
	})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	res, ok := result.Data.(provisionResponse)
	if !ok || !res.Success || res.Name != "demo" {
		t.Fatalf("unexpected provision result: %#v", result.Data)
	}
	if len(result.Metadata.Servers) != 1 || result.Metadata.Servers[0] != "demo" {
		t.Fatalf("unexpected metadata: %#v", result.Metadata)
	}
	if _, status, ok := f.eng.Container("demo-mcp"); !ok || status != "running" {
		t.Fatalf("expected running container, status=%q ok=%v", status, ok)
	}

	listed, err := call(t, f.toolset.handleList, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	servers := listed.Data.(map[string]any)["servers"].([]services.Server)
	if len(servers) != 1 || servers[0].Name != "demo" || servers[0].ToolCount != 2 || !servers[0].Running {
		t.Fatalf("unexpected servers: %#v", servers)
	}

	status, err := call(t, f.toolset.handleStatus, map[string]any{"name": "demo"})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	data := status.Data.(map[string]any)
	if data["inCompose"] != true || data["registered"] != true || data["image"] != "busybox:latest" {
		t.Fatalf("unexpected status: %#v", data)
	}

	if _, err := call(t, f.toolset.handleDelete, map[string]any{"name": "demo"}); !failure.IsKind(err, failure.KindValidation) {
		t.Fatalf("expected confirmation error, got %v", err)
	}
	deleted, err := call(t, f.toolset.handleDelete, map[string]any{"name": "demo", "confirm": true})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted.Data.(map[string]any)["deleted"] != true {
		t.Fatalf("unexpected delete result: %#v", deleted.Data)
	}
	if _, _, ok := f.eng.Container("demo-mcp"); ok {
		t.Fatalf("expected container removed")
	}
	if _, ok, _ := f.compose.Service("demo"); ok {
		t.Fatalf("expected compose entry removed")
	}
	if _, err := call(t, f.toolset.handleDelete, map[string]any{"name": "demo", "confirm": true}); !failure.IsKind(err, failure.KindValidation) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestProvisionFailureReturnsResult(t *testing.T) {
	f := newFixture(t)
	result, err := call(t, f.toolset.handleProvision, map[string]any{"name": "demo", "image": "missing:latest"})
	if failure.StepOf(err) != failure.StepImagePulled {
		t.Fatalf("expected image step failure, got %v", err)
	}
	res := result.Data.(provisionResponse)
	if res.Success || res.FailedStep != failure.StepImagePulled {
		t.Fatalf("unexpected result: %#v", res)
	}
}

func TestProvisionAddsToolsToGroup(t *testing.T) {
	f := newFixture(t)
	store, err := groups.NewStore(groups.Options{Dir: t.TempDir(), DefaultGroup: "emcp-global"}, f.tools, nil, nil)
	if err != nil {
		t.Fatalf("group store: %v", err)
	}
	if _, err := store.Create(context.Background(), "proj", "", []string{"other__x"}); err != nil {
		t.Fatalf("create group: %v", err)
	}
	f.toolset.ctx.Groups = store

	reg := mcp.NewRegistry(nil)
	var updated []string
	_ = reg.Add(mcp.ToolSpec{
		Name:      "groups.update",
		ToolsetID: "groups",
		Handler: func(ctx context.Context, req mcp.ToolRequest) (mcp.ToolResult, error) {
			res, err := store.Update(ctx, req.Arguments["group"].(string), req.Arguments["tools"].([]string))
			updated = res.IncludedTools
			return mcp.ToolResult{Data: res}, err
		},
	})
	toolCtx := mcp.ToolContext{Groups: store}
	toolCtx.Invoker = mcp.NewToolInvoker(reg, toolCtx)

	result, err := f.toolset.handleProvision(context.Background(), mcp.ToolRequest{
		Arguments: map[string]any{"name": "demo", "image": "busybox:latest", "group": "proj"},
		User:      policy.User{ID: "local"},
		Context:   toolCtx,
	})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	res := result.Data.(provisionResponse)
	if res.GroupWarning != "" || strings.Join(res.GroupTools, ",") != "demo__echo,demo__ping" {
		t.Fatalf("unexpected group step: %#v", res)
	}
	if strings.Join(updated, ",") != "other__x,demo__echo,demo__ping" {
		t.Fatalf("unexpected group membership %v", updated)
	}
	if len(result.Metadata.Groups) != 1 || result.Metadata.Groups[0] != "proj" {
		t.Fatalf("unexpected metadata %#v", result.Metadata)
	}
}

func TestProvisionGroupFailureIsWarning(t *testing.T) {
	f := newFixture(t)
	result, err := call(t, f.toolset.handleProvision, map[string]any{"name": "demo", "image": "busybox:latest", "group": "proj"})
	if err != nil {
		t.Fatalf("provision should succeed without a group store: %v", err)
	}
	res := result.Data.(provisionResponse)
	if !res.Success || res.GroupWarning == "" || len(res.GroupTools) != 0 {
		t.Fatalf("expected warning only, got %#v", res)
	}
}

func TestProvisionTimeoutFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	toolset := &Toolset{ctx: mcp.ToolsetContext{Config: &cfg}}
	if got := toolset.provisionTimeout(); got != (600+60+90+20)*time.Second {
		t.Fatalf("unexpected provision timeout %s", got)
	}
	if (&Toolset{}).provisionTimeout() != 0 {
		t.Fatalf("expected zero without config")
	}
}

func TestRestart(t *testing.T) {
	f := newFixture(t)
	if _, err := call(t, f.toolset.handleRestart, map[string]any{"name": "ghost", "confirm": true}); !failure.IsKind(err, failure.KindValidation) {
		t.Fatalf("expected validation error for missing container, got %v", err)
	}
	f.eng.Seed(engine.ContainerSpec{Name: "demo-mcp", Image: "busybox:latest"}, "exited")
	result, err := call(t, f.toolset.handleRestart, map[string]any{"name": "demo", "confirm": true})
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	status := result.Data.(map[string]any)["container"].(engine.Status)
	if !status.Running {
		t.Fatalf("expected running after restart: %#v", status)
	}
}

func TestToolsAndComposeServices(t *testing.T) {
	f := newFixture(t)
	result, err := call(t, f.toolset.handleTools, map[string]any{"server": "demo"})
	if err != nil {
		t.Fatalf("tools: %v", err)
	}
	if result.Data.(map[string]any)["count"] != 2 {
		t.Fatalf("unexpected tools result: %#v", result.Data)
	}
	all, err := call(t, f.toolset.handleTools, nil)
	if err != nil {
		t.Fatalf("all tools: %v", err)
	}
	if all.Data.(map[string]any)["count"] != 3 || strings.Join(all.Metadata.Servers, ",") != "demo,other" {
		t.Fatalf("unexpected all-tools result: %#v %#v", all.Data, all.Metadata)
	}

	entries, err := call(t, f.toolset.handleComposeServices, nil)
	if err != nil {
		t.Fatalf("compose services: %v", err)
	}
	if entries.Data.(map[string]any)["count"] != 1 {
		t.Fatalf("unexpected services: %#v", entries.Data)
	}
}

func TestSecretsStatus(t *testing.T) {
	f := newFixture(t)
	result, err := call(t, f.toolset.handleSecretsStatus, nil)
	if err != nil {
		t.Fatalf("secrets status: %v", err)
	}
	if result.Data.(map[string]any)["configured"] != false {
		t.Fatalf("expected no secret store, got %#v", result.Data)
	}

	f.toolset.ctx.Fleet = services.New(services.Options{ConfigsDir: t.TempDir()}, services.Deps{
		Compose: f.compose,
		Engine:  f.eng,
		Secrets: secrets.NewEnv("MCP_"),
		Tools:   f.tools,
	})
	result, err = call(t, f.toolset.handleSecretsStatus, nil)
	if err != nil || result.Data.(map[string]any)["configured"] != true {
		t.Fatalf("expected configured secret store, got %#v %v", result.Data, err)
	}
}

func TestArgumentHelpers(t *testing.T) {
	if got := toCommand("node  server.js"); len(got) != 2 || got[1] != "server.js" {
		t.Fatalf("unexpected command split: %#v", got)
	}
	if got := toCommand([]any{"a", 1}); len(got) != 2 || got[1] != "1" {
		t.Fatalf("unexpected command list: %#v", got)
	}
	if got := toStringMap(map[string]any{"A": 1}); got["A"] != "1" {
		t.Fatalf("unexpected map: %#v", got)
	}
	if toStringMap("x") != nil {
		t.Fatalf("expected nil for non-map")
	}
	if _, err := requireName(map[string]any{}); err == nil {
		t.Fatalf("expected error for missing name")
	}
	if name, err := requireName(map[string]any{"name": " My_Server "}); err != nil || name != "myserver" {
		t.Fatalf("unexpected normalized name %q err=%v", name, err)
	}
}
