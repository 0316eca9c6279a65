package secrets

import (
	"strings"
	"sync"
)

// SecretTracker remembers the raw secret values resolved during one rule
// execution so they can be scrubbed from errors and outcome values.
type SecretTracker struct {
	mu              sync.RWMutex
	resolvedSecrets map[string]struct{}
}

func NewSecretTracker() *SecretTracker {
	return &SecretTracker{resolvedSecrets: make(map[string]struct{})}
}

// Add records a resolved value. Empty strings are ignored.
func (t *SecretTracker) Add(secretValue string) {
	if secretValue == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resolvedSecrets[secretValue] = struct{}{}
}

func (t *SecretTracker) IsTracked(value string) bool {
	if value == "" {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, found := t.resolvedSecrets[value]
	return found
}

// ContainsTrackedSecret reports whether any tracked value occurs in input.
func (t *SecretTracker) ContainsTrackedSecret(input string) bool {
	if input == "" {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	for secret := range t.resolvedSecrets {
		if strings.Contains(input, secret) {
			return true
		}
	}
	return false
}

// Scrub replaces every tracked value inside input with mask.
func (t *SecretTracker) Scrub(input, mask string) string {
	if input == "" {
		return input
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	for secret := range t.resolvedSecrets {
		input = strings.ReplaceAll(input, secret, mask)
	}
	return input
}
