package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/gxo-labs/ruleflow/internal/template"
	rflog "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/log"
)

// Operation is one attempt. attempt starts at 1.
type Operation func(ctx context.Context, attempt int) error

// Config describes a fixed-delay retry policy.
type Config struct {
	// Attempts is the total number of calls, i.e. maxRetries+1. Values
	// below 1 mean a single attempt.
	Attempts int
	Delay    time.Duration
	// Retryable decides whether a failed attempt may be followed by another.
	// A nil predicate retries every error except context cancellation.
	Retryable func(error) bool
	// OnRetry runs before sleeping ahead of attempt+1.
	OnRetry  func(attempt int, err error)
	RuleName string
}

// Helper runs operations under a Config.
type Helper struct {
	log              rflog.Logger
	redactedKeywords map[string]struct{}
}

func NewHelper(log rflog.Logger) *Helper {
	if log == nil {
		panic("retry.NewHelper requires a non-nil logger")
	}
	return &Helper{log: log, redactedKeywords: map[string]struct{}{}}
}

func (h *Helper) SetRedactedKeywords(keywords map[string]struct{}) {
	h.redactedKeywords = keywords
}

// Do calls op until it succeeds, returns a non-retryable error, the attempts
// are exhausted, or ctx is done. It returns the number of attempts made and
// the last error. Cancellation while waiting returns ctx.Err() wrapped
// around the last attempt's failure.
func (h *Helper) Do(ctx context.Context, cfg Config, op Operation) (int, error) {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = func(err error) bool { return ctx.Err() == nil }
	}

	var lastErr error
	attempt := 0
	for attempt < cfg.Attempts {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				return attempt, err
			}
			return attempt, fmt.Errorf("%w (after %d attempts: %v)", err, attempt, h.redact(lastErr))
		}

		attempt++
		lastErr = op(ctx, attempt)
		if lastErr == nil {
			if attempt > 1 {
				h.log.Infof("rule=%s succeeded on attempt %d/%d", cfg.RuleName, attempt, cfg.Attempts)
			}
			return attempt, nil
		}
		if attempt == cfg.Attempts || !retryable(lastErr) {
			break
		}

		h.log.Warnf("rule=%s attempt %d/%d failed, retrying in %v: %v",
			cfg.RuleName, attempt, cfg.Attempts, cfg.Delay, h.redact(lastErr))
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr)
		}

		if cfg.Delay > 0 {
			timer := time.NewTimer(cfg.Delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return attempt, fmt.Errorf("%w (after %d attempts: %v)", ctx.Err(), attempt, h.redact(lastErr))
			}
		}
	}
	return attempt, lastErr
}

func (h *Helper) redact(err error) error {
	return template.RedactSecretsInError(err, h.redactedKeywords)
}
