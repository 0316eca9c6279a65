package secrets

import (
	"context"
	"os"
	"strings"

	rfsecrets "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/secrets"
)

// DefaultEnvPrefix namespaces secrets read from the environment, so a rule
// asking for "bureau_token" reads RULEFLOW_SECRET_BUREAU_TOKEN.
const DefaultEnvPrefix = "RULEFLOW_SECRET_"

// EnvProvider resolves secrets from environment variables.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider uses DefaultEnvPrefix.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{prefix: DefaultEnvPrefix}
}

// NewEnvProviderWithPrefix uses prefix verbatim; an empty prefix reads keys
// as-is.
func NewEnvProviderWithPrefix(prefix string) *EnvProvider {
	return &EnvProvider{prefix: prefix}
}

func (p *EnvProvider) GetSecret(_ context.Context, key string) (string, bool, error) {
	name := key
	if p.prefix != "" {
		name = p.prefix + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))
	}
	value, found := os.LookupEnv(name)
	return value, found, nil
}

var _ rfsecrets.Provider = (*EnvProvider)(nil)
