package secrets

import "errors"

var (
	errEmptyKey      = errors.New("secret key is required")
	errNotConfigured = errors.New("secret store not configured")
)
