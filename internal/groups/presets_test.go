package groups

import (
	"context"
	"reflect"
	"testing"
)

func TestPresetLifecycle(t *testing.T) {
	store, fake := newTestStore(t, "a__x", "b__y")
	ctx := context.Background()
	if _, err := store.Create(ctx, "emcp-global", "", nil); err != nil {
		t.Fatalf("create default: %v", err)
	}
	name, err := store.SavePreset("Daily Work!", []string{"a__x", "b__y", "a__x"})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if name != "DailyWork" {
		t.Fatalf("unexpected preset file name %q", name)
	}
	names, err := store.ListPresets()
	if err != nil || !reflect.DeepEqual(names, []string{"DailyWork"}) {
		t.Fatalf("unexpected presets %v %v", names, err)
	}
	if groups, _ := store.List(); !reflect.DeepEqual(groups, []string{"emcp-global"}) {
		t.Fatalf("presets must not show up as groups: %v", groups)
	}
	preset, err := store.GetPreset("DailyWork")
	if err != nil || preset.Name != "Daily Work!" || !reflect.DeepEqual(preset.Tools, []string{"a__x", "b__y"}) {
		t.Fatalf("unexpected preset %#v %v", preset, err)
	}

	res, err := store.LoadPreset(ctx, "DailyWork", "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if res.Name != "emcp-global" || !res.Registered || !fake.HasGroup("emcp-global") {
		t.Fatalf("expected preset applied to default group, got %#v", res)
	}

	if err := store.DeletePreset("DailyWork"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.DeletePreset("DailyWork"); err == nil {
		t.Fatalf("expected not found on second delete")
	}
	if _, err := store.LoadPreset(ctx, "DailyWork", ""); err == nil {
		t.Fatalf("expected not found on load")
	}
}
