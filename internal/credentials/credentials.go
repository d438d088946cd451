// Package credentials resolves the OpenAI API key from a runtime override,
// AWS SSM Parameter Store or the environment, in that order.
package credentials

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/ashureev/triadic/internal/domain"
)

// ErrMissingKey is returned when no source yields a key.
var ErrMissingKey = domain.NewError(domain.KindConfiguration, "OpenAI API key is not configured", nil)

// Source yields an API key. An empty key with a nil error means "not set here".
type Source interface {
	APIKey(ctx context.Context) (string, error)
}

// Static is a fixed key, typically read from the environment.
type Static string

// APIKey returns the trimmed key.
func (s Static) APIKey(context.Context) (string, error) {
	return strings.TrimSpace(string(s)), nil
}

// Override is a key set at runtime from the settings API.
type Override struct {
	mu  sync.RWMutex
	key string
}

// Set replaces the override key. An empty key clears it.
func (o *Override) Set(key string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.key = strings.TrimSpace(key)
}

// IsSet reports whether an override key is present.
func (o *Override) IsSet() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.key != ""
}

// APIKey returns the override key.
func (o *Override) APIKey(context.Context) (string, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.key, nil
}

// Chain returns the first non-empty key from its sources.
type Chain []Source

// APIKey walks the chain. Source errors are logged and skipped.
func (c Chain) APIKey(ctx context.Context) (string, error) {
	var errs []error
	for _, src := range c {
		if src == nil {
			continue
		}
		key, err := src.APIKey(ctx)
		if err != nil {
			slog.Warn("Credential source failed", "error", err)
			errs = append(errs, err)
			continue
		}
		if key != "" {
			return key, nil
		}
	}
	if len(errs) > 0 {
		return "", domain.NewError(domain.KindConfiguration, ErrMissingKey.Reason, errors.Join(errs...))
	}
	return "", ErrMissingKey
}
