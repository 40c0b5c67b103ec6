package toolregistry

import (
	"context"
	"errors"
	"testing"
)

func TestServerOf(t *testing.T) {
	server, ok := ServerOf("github__create_issue__v2")
	if !ok || server != "github" {
		t.Fatalf("unexpected split %q %v", server, ok)
	}
	if _, ok := ServerOf("plain"); ok {
		t.Fatalf("expected no server for plain name")
	}
	if _, ok := ServerOf("__x"); ok {
		t.Fatalf("expected no server for empty prefix")
	}
}

func TestCountAndGroup(t *testing.T) {
	tools := []Tool{{Name: "a__x"}, {Name: "a__y"}, {Name: "ab__z"}, {Name: "loose"}}
	if got := CountTools(tools, "a"); got != 2 {
		t.Fatalf("expected 2 tools for a, got %d", got)
	}
	grouped := GroupByServer(tools)
	if len(grouped["a"]) != 2 || len(grouped["ab"]) != 1 || len(grouped["unknown"]) != 1 {
		t.Fatalf("unexpected grouping %#v", grouped)
	}
}

func TestValidateTools(t *testing.T) {
	ctx := context.Background()
	fake := NewFake("a__x", "b__y")
	result := ValidateTools(ctx, fake, []string{"a__x", "nope__z"})
	if !result.Checked || result.OK() || len(result.Unknown) != 1 || result.Unknown[0] != "nope__z" {
		t.Fatalf("unexpected validation %#v", result)
	}

	fake.FailList(errors.New("connection refused"))
	result = ValidateTools(ctx, fake, []string{"nope__z"})
	if result.Checked || !result.OK() || result.Err == nil {
		t.Fatalf("expected skipped validation, got %#v", result)
	}

	empty := NewFake()
	if result := ValidateTools(ctx, empty, []string{"nope__z"}); result.Checked || !result.OK() {
		t.Fatalf("expected skipped validation for empty registry, got %#v", result)
	}
}
