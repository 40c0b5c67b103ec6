package redact

import (
	"regexp"
	"strings"
)

const placeholder = "[REDACTED]"

var (
	// Token-ish sequences (API keys, JWT fragments, etc.).
	tokenPattern = regexp.MustCompile(`(?i)([a-z0-9_\-]{20,}|eyJ[a-zA-Z0-9_\-]+\.[a-zA-Z0-9_\-]+\.[a-zA-Z0-9_\-]+)`)

	sensitiveKeyParts = []string{"token", "secret", "password", "passwd", "api_key", "apikey", "credential", "private_key"}
)

type Redactor struct{}

func New() *Redactor {
	return &Redactor{}
}

func (r *Redactor) RedactString(input string) string {
	return tokenPattern.ReplaceAllString(input, placeholder)
}

// RedactMap redacts string values by pattern, and fully replaces values whose
// key names a credential.
func (r *Redactor) RedactMap(input map[string]any) map[string]any {
	output := map[string]any{}
	for k, v := range input {
		if s, ok := v.(string); ok && s != "" && SensitiveKey(k) {
			output[k] = placeholder
			continue
		}
		output[k] = r.RedactValue(v)
	}
	return output
}

func (r *Redactor) RedactValue(input any) any {
	switch v := input.(type) {
	case string:
		return r.RedactString(v)
	case map[string]any:
		return r.RedactMap(v)
	case map[string]string:
		return r.RedactEnv(v)
	case []any:
		redacted := make([]any, 0, len(v))
		for _, item := range v {
			redacted = append(redacted, r.RedactValue(item))
		}
		return redacted
	default:
		return input
	}
}

// RedactEnv hides every non-empty environment value. Names stay visible.
func (r *Redactor) RedactEnv(env map[string]string) map[string]string {
	if env == nil {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		if v == "" {
			out[k] = ""
			continue
		}
		out[k] = placeholder
	}
	return out
}

func SensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}
