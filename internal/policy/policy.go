package policy

import (
	"errors"
	"fmt"

	"mcpfleet/internal/config"
)

var ErrUnknownKey = errors.New("unknown api key")

type User struct {
	ID              string
	AllowedToolsets []string
	AllowedTools    []string
}

// Authorizer maps API keys to users. With no keys configured every caller is
// the unrestricted local user.
type Authorizer struct {
	keys map[string]User
}

func NewAuthorizer(keys ...config.APIKeyConfig) *Authorizer {
	a := &Authorizer{keys: map[string]User{}}
	for _, key := range keys {
		if key.Key == "" {
			continue
		}
		id := key.UserID
		if id == "" {
			id = "api-key"
		}
		a.keys[key.Key] = User{ID: id, AllowedToolsets: append([]string{}, key.Toolsets...)}
	}
	return a
}

func (a *Authorizer) Authenticate(apiKey string) (User, error) {
	if a == nil || len(a.keys) == 0 {
		return User{ID: "local"}, nil
	}
	user, ok := a.keys[apiKey]
	if !ok {
		return User{}, ErrUnknownKey
	}
	return user, nil
}

func (a *Authorizer) AuthorizeTool(user User, toolsetID, toolName string) error {
	if len(user.AllowedToolsets) > 0 && !contains(user.AllowedToolsets, toolsetID) {
		return fmt.Errorf("toolset %s not allowed for %s", toolsetID, user.ID)
	}
	if len(user.AllowedTools) > 0 && !contains(user.AllowedTools, toolName) {
		return fmt.Errorf("tool %s not allowed for %s", toolName, user.ID)
	}
	return nil
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
