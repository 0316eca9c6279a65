package template

import (
	"errors"
	"strings"

	"github.com/gxo-labs/ruleflow/internal/secrets"
)

const RedactedSecretValue = "[REDACTED_SECRET]"

// RedactTrackedSecrets returns a copy of data in which every string holding
// a tracked secret is replaced by RedactedSecretValue. The bool reports
// whether anything was replaced. Maps and slices are copied, not mutated.
func RedactTrackedSecrets(data interface{}, tracker *secrets.SecretTracker) (interface{}, bool) {
	if data == nil || tracker == nil {
		return data, false
	}
	switch v := data.(type) {
	case string:
		if tracker.ContainsTrackedSecret(v) {
			return RedactedSecretValue, true
		}
		return v, false
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		changed := false
		for key, val := range v {
			nv, redacted := RedactTrackedSecrets(val, tracker)
			out[key] = nv
			changed = changed || redacted
		}
		return out, changed
	case []interface{}:
		out := make([]interface{}, len(v))
		changed := false
		for i, val := range v {
			nv, redacted := RedactTrackedSecrets(val, tracker)
			out[i] = nv
			changed = changed || redacted
		}
		return out, changed
	default:
		return data, false
	}
}

// KeywordSet lowercases keywords into a lookup set.
func KeywordSet(keywords []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			set[k] = struct{}{}
		}
	}
	return set
}

// RedactSecretsInString masks whatever follows a sensitive keyword on each
// line, e.g. "password=hunter2" becomes "password=[REDACTED]". keywords must
// be lowercase.
func RedactSecretsInString(input string, keywords map[string]struct{}) string {
	if len(keywords) == 0 || input == "" {
		return input
	}
	redacted := false
	lines := strings.Split(input, "\n")
	for i, line := range lines {
		lower := strings.ToLower(line)
		for keyword := range keywords {
			idx := strings.Index(lower, keyword)
			if idx == -1 {
				continue
			}
			start := idx + len(keyword)
			for start < len(line) && strings.ContainsRune(":= '\"", rune(line[start])) {
				start++
			}
			if start < len(line) {
				lines[i] = line[:start] + "[REDACTED]"
				redacted = true
				break
			}
		}
	}
	if !redacted {
		return input
	}
	return strings.Join(lines, "\n")
}

// RedactSecretsInError returns err unchanged unless its message needs
// masking, in which case a plain error with the masked message is returned.
func RedactSecretsInError(err error, keywords map[string]struct{}) error {
	if err == nil || len(keywords) == 0 {
		return err
	}
	msg := err.Error()
	if redacted := RedactSecretsInString(msg, keywords); redacted != msg {
		return errors.New(redacted)
	}
	return err
}
