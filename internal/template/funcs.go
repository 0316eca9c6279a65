package template

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"text/template"
	"time"

	"github.com/gxo-labs/ruleflow/internal/secrets"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/events"
	rfsecrets "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/secrets"
)

const secretLookupTimeout = 10 * time.Second

// FuncMap returns the functions available to rule templates: env, secret,
// json and urlquery. secret fails when provider is nil.
func FuncMap(ctx context.Context, provider rfsecrets.Provider, bus events.Bus, tracker *secrets.SecretTracker) template.FuncMap {
	return template.FuncMap{
		"env":      os.Getenv,
		"secret":   secretFunc(ctx, provider, bus, tracker),
		"json":     toJSON,
		"urlquery": url.QueryEscape,
	}
}

func secretFunc(ctx context.Context, provider rfsecrets.Provider, bus events.Bus, tracker *secrets.SecretTracker) func(string) (string, error) {
	return func(key string) (string, error) {
		if provider == nil {
			return "", fmt.Errorf("no secrets provider configured for secret '%s'", key)
		}
		lookupCtx, cancel := context.WithTimeout(ctx, secretLookupTimeout)
		defer cancel()

		value, found, err := provider.GetSecret(lookupCtx, key)
		if err != nil {
			return "", fmt.Errorf("failed to retrieve secret '%s': %w", key, err)
		}
		if !found {
			return "", fmt.Errorf("secret '%s' not found", key)
		}
		if bus != nil {
			bus.Emit(events.Event{
				Type:      events.SecretAccessed,
				Timestamp: time.Now(),
				Payload:   map[string]interface{}{"secret_key": key},
			})
		}
		if tracker != nil {
			tracker.Add(value)
		}
		return value, nil
	}
}

func toJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
