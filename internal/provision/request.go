package provision

import (
	"sort"
	"strings"

	"mcpfleet/internal/failure"
)

const maxNameLength = 50

// Request asks for a new tool server. EnvVars values are never written to
// the compose document; only their names are referenced there.
type Request struct {
	Name        string            `json:"name"`
	Image       string            `json:"image"`
	Command     []string          `json:"command,omitempty"`
	EnvVars     map[string]string `json:"env_vars,omitempty"`
	Description string            `json:"description,omitempty"`
}

// NormalizeName lowercases name and keeps ASCII letters, digits and '-',
// trimming leading and trailing '-'.
func NormalizeName(name string) (string, error) {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return "", failure.Validationf("invalid server name %q", name)
	}
	if len(slug) > maxNameLength {
		return "", failure.Validationf("server name %q exceeds %d characters", slug, maxNameLength)
	}
	return slug, nil
}

var devicePaths = map[string]struct{}{
	"/dev/null":   {},
	"/dev/stdin":  {},
	"/dev/stdout": {},
	"/dev/stderr": {},
}

// PromoteHostPaths mounts every absolute-path argument read-write at the
// same path inside the container.
func PromoteHostPaths(command []string) []string {
	var volumes []string
	seen := map[string]struct{}{}
	for _, arg := range command {
		if !strings.HasPrefix(arg, "/") || strings.HasPrefix(arg, "//") {
			continue
		}
		if _, ok := devicePaths[arg]; ok {
			continue
		}
		if _, ok := seen[arg]; ok {
			continue
		}
		seen[arg] = struct{}{}
		volumes = append(volumes, arg+":"+arg+":rw")
	}
	return volumes
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
