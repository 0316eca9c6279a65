package secrets

import "context"

// Provider resolves secret values referenced by rule definitions, e.g. API
// tokens rendered into an endpoint header.
type Provider interface {
	// GetSecret returns the value and true when key exists. A non-nil error
	// means the lookup itself failed.
	GetSecret(ctx context.Context, key string) (string, bool, error)
}
