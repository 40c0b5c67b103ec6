package mcp

import (
	"reflect"
	"testing"

	"mcpfleet/internal/config"
)

func TestRegistrySafetyReadOnly(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ReadOnly = true
	reg := NewRegistry(&cfg)
	if err := reg.Add(ToolSpec{Name: "servers.delete", ToolsetID: "servers", Safety: SafetyDestructive}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := reg.Get("servers.delete"); ok {
		t.Fatalf("expected destructive tool to be filtered in read-only mode")
	}
	if !reflect.DeepEqual(reg.Hidden(), []string{"servers.delete"}) {
		t.Fatalf("expected hidden tool recorded, got %v", reg.Hidden())
	}
}

func TestRegistrySafetyAllowlist(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DisableDestructive = true
	cfg.Safety.AllowDestructiveTools = []string{"servers.delete"}
	reg := NewRegistry(&cfg)
	if err := reg.Add(ToolSpec{Name: "servers.delete", Safety: SafetyDestructive}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := reg.Get("servers.delete"); !ok {
		t.Fatalf("expected allowlisted tool to be registered")
	}
}

func TestRegistrySafetyDisableDestructive(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DisableDestructive = true
	reg := NewRegistry(&cfg)
	if err := reg.Add(ToolSpec{Name: "servers.delete", Safety: SafetyDestructive}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := reg.Get("servers.delete"); ok {
		t.Fatalf("expected destructive tool to be filtered when not allowlisted")
	}
	if err := reg.Add(ToolSpec{Name: "servers.restart", Safety: SafetyRiskyWrite}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := reg.Get("servers.restart"); ok {
		t.Fatalf("expected risky tool to be filtered when not allowlisted")
	}
	if err := reg.Add(ToolSpec{Name: "servers.provision", Safety: SafetyWrite}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := reg.Get("servers.provision"); !ok {
		t.Fatalf("expected plain write tool kept")
	}
}

func TestRegistryAddValidation(t *testing.T) {
	cfg := config.DefaultConfig()
	reg := NewRegistry(&cfg)
	if err := reg.Add(ToolSpec{}); err == nil {
		t.Fatalf("expected error for missing tool name")
	}
	if err := reg.Add(ToolSpec{Name: "list", ToolsetID: "groups"}); err == nil {
		t.Fatalf("expected error for tool outside its toolset prefix")
	}
	if err := reg.Add(ToolSpec{Name: "groups.list", ToolsetID: "groups"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := reg.Add(ToolSpec{Name: "groups.list", ToolsetID: "groups"}); err == nil {
		t.Fatalf("expected duplicate tool rejected")
	}
}

func TestRegistryListAndNames(t *testing.T) {
	cfg := config.DefaultConfig()
	reg := NewRegistry(&cfg)
	_ = reg.Add(ToolSpec{Name: "b", Safety: SafetyReadOnly})
	_ = reg.Add(ToolSpec{Name: "a", Safety: SafetyWrite})
	list := reg.List()
	if len(list) != 2 || list[0].Name != "a" || list[1].Name != "b" {
		t.Fatalf("unexpected list: %#v", list)
	}
	if list[0].Safety != SafetyWrite {
		t.Fatalf("expected safety in tool info, got %q", list[0].Safety)
	}
	names := reg.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("unexpected names: %#v", names)
	}
}

func TestRegistrySpecsSorted(t *testing.T) {
	reg := NewRegistry(nil)
	_ = reg.Add(ToolSpec{Name: "b", Safety: SafetyReadOnly})
	_ = reg.Add(ToolSpec{Name: "a", Safety: SafetyDestructive})
	specs := reg.Specs()
	if len(specs) != 2 || specs[0].Name != "a" {
		t.Fatalf("unexpected specs: %#v", specs)
	}
	if len(reg.Hidden()) != 0 {
		t.Fatalf("expected nothing hidden with nil config")
	}
}
