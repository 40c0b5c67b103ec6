package groups

func schemaEmpty() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func toolsProperty() map[string]any {
	return map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": "string"},
		"description": "Fully qualified tool names (<server>__<tool>).",
	}
}

func schemaGroup(required bool) map[string]any {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"group": map[string]any{"type": "string"},
		},
	}
	if required {
		schema["required"] = []string{"group"}
	}
	return schema
}

func schemaCreate() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"group":       map[string]any{"type": "string"},
			"description": map[string]any{"type": "string"},
			"tools":       toolsProperty(),
		},
		"required": []string{"group"},
	}
}

func schemaUpdate() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"group": map[string]any{"type": "string"},
			"tools": toolsProperty(),
		},
		"required": []string{"group", "tools"},
	}
}

func schemaConfirmGroup() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"group":   map[string]any{"type": "string"},
			"confirm": map[string]any{"type": "boolean"},
		},
		"required": []string{"group", "confirm"},
	}
}

func schemaMembership() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"group": map[string]any{"type": "string"},
			"tool":  map[string]any{"type": "string"},
		},
		"required": []string{"tool"},
	}
}

func schemaPresetSave() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":  map[string]any{"type": "string"},
			"tools": toolsProperty(),
			"group": map[string]any{"type": "string", "description": "Copy the tools of this group when tools is omitted."},
		},
		"required": []string{"name"},
	}
}

func schemaPresetLoad() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":  map[string]any{"type": "string"},
			"group": map[string]any{"type": "string"},
		},
		"required": []string{"name"},
	}
}

func schemaPresetDelete() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":    map[string]any{"type": "string"},
			"confirm": map[string]any{"type": "boolean"},
		},
		"required": []string{"name", "confirm"},
	}
}
