// Package llm provides the completion backends the orchestrator drives.
// A Model turns one prompt into one text completion; the orchestrator owns
// prompt construction and response parsing, so backends stay thin wrappers
// over their SDKs.
package llm

import (
	"context"
	"fmt"
	"time"

	"utcp/pkg/logging"
)

// Model is a single-turn completion backend.
type Model interface {
	// Complete returns the model's text completion for prompt.
	Complete(ctx context.Context, prompt string) (string, error)

	// Name identifies the backend in logs and audit records.
	Name() string
}

const maxAttempts = 3

// withRetry runs fn up to maxAttempts times with linear backoff, giving up
// early when the context ends. Transient and permanent failures are not
// distinguished; the attempt cap bounds the damage either way.
func withRetry(ctx context.Context, backend string, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * time.Second
			logging.Warn("LLM", "%s request failed, retrying in %s (attempt %d/%d): %v",
				backend, backoff, attempt+1, maxAttempts, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		if err = fn(); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%s completion failed after %d attempts: %w", backend, maxAttempts, err)
}
