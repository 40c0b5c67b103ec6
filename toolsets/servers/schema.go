package servers

func schemaEmpty() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func schemaProvision() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":  map[string]any{"type": "string", "description": "Logical server name; normalized to lowercase letters, digits and '-'."},
			"image": map[string]any{"type": "string"},
			"command": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"env_vars": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"description": map[string]any{"type": "string"},
			"group":       map[string]any{"type": "string", "description": "Existing group to add the new server's tools to."},
		},
		"required": []string{"name", "image"},
	}
}

func schemaName() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
		},
		"required": []string{"name"},
	}
}

func schemaConfirmName() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":    map[string]any{"type": "string"},
			"confirm": map[string]any{"type": "boolean"},
		},
		"required": []string{"name", "confirm"},
	}
}

func schemaTools() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"server": map[string]any{"type": "string"},
		},
	}
}
