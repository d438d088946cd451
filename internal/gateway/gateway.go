// Package gateway defines the outbound model, speech and document-index
// collaborators and wraps generation in the shared retry policy.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"github.com/ashureev/triadic/internal/domain"
	"github.com/sethvargo/go-retry"
)

const (
	// MaxAttempts is the total number of tries for one generation request.
	MaxAttempts = 3
	// BaseDelay is the first backoff and doubles per retry.
	BaseDelay = time.Second
	// MaxOutputTokens caps every generation request.
	MaxOutputTokens = 4096
)

// Config is the per-call model configuration.
type Config struct {
	Model            string
	Effort           string
	Verbosity        string
	ReasoningSummary bool
	Tools            []domain.Tool
	VectorStoreID    string
}

// ConfigFromSettings derives the call configuration for a turn.
func ConfigFromSettings(s domain.Settings, tools []domain.Tool, vectorStoreID string) Config {
	return Config{
		Model:            s.ModelName,
		Effort:           s.ReasoningEffort,
		Verbosity:        s.TextVerbosity,
		ReasoningSummary: s.ReasoningSummaryEnabled,
		Tools:            tools,
		VectorStoreID:    vectorStoreID,
	}
}

// Stream yields text deltas. Next returns io.EOF once the response is complete.
type Stream interface {
	Next() (string, error)
	Close() error
}

// Provider is a language-model backend without retry.
type Provider interface {
	Generate(ctx context.Context, prompt string, cfg Config) (string, error)
	OpenStream(ctx context.Context, prompt string, cfg Config) (Stream, error)
}

// Synthesizer turns text into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// Transcriber turns recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// DocumentIndexer manages the retrieval index offered to file_search.
type DocumentIndexer interface {
	CreateIndex(ctx context.Context, name string) (string, error)
	AddDocument(ctx context.Context, indexID, filename string, content []byte) (string, error)
}

type statusCoder interface {
	HTTPStatusCode() int
}

// Gateway applies the retry policy to a Provider.
type Gateway struct {
	provider  Provider
	baseDelay time.Duration
	logger    *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithBaseDelay overrides the first backoff interval.
func WithBaseDelay(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.baseDelay = d
		}
	}
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// New wraps provider with the default retry policy.
func New(provider Provider, opts ...Option) *Gateway {
	g := &Gateway{
		provider:  provider,
		baseDelay: BaseDelay,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) backoff() retry.Backoff {
	return retry.WithMaxRetries(MaxAttempts-1, retry.NewExponential(g.baseDelay))
}

// Generate returns the full response text.
func (g *Gateway) Generate(ctx context.Context, prompt string, cfg Config) (string, error) {
	var text string
	err := g.do(ctx, "generate", func(ctx context.Context) error {
		var err error
		text, err = g.provider.Generate(ctx, prompt, cfg)
		return err
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

// GenerateStream yields deltas lazily. Opening the stream is retried; a failure
// after the first delta ends the sequence with a generation error.
func (g *Gateway) GenerateStream(ctx context.Context, prompt string, cfg Config) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		var stream Stream
		err := g.do(ctx, "stream", func(ctx context.Context) error {
			var err error
			stream, err = g.provider.OpenStream(ctx, prompt, cfg)
			return err
		})
		if err != nil {
			yield("", err)
			return
		}
		defer func() {
			if closeErr := stream.Close(); closeErr != nil {
				g.logger.Debug("Failed to close model stream", "error", closeErr)
			}
		}()

		for {
			delta, err := stream.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", domain.NewError(domain.KindGeneration, "model stream interrupted", err))
				return
			}
			if delta == "" {
				continue
			}
			if !yield(delta, nil) {
				return
			}
		}
	}
}

func (g *Gateway) do(ctx context.Context, op string, fn func(context.Context) error) error {
	attempt := 0
	var last error
	err := retry.Do(ctx, g.backoff(), func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		last = err
		if !retryable(err) {
			return err
		}
		if attempt < MaxAttempts {
			g.logger.Warn("Model call failed, retrying", "op", op, "attempt", attempt, "max_attempts", MaxAttempts, "error", err)
		}
		return retry.RetryableError(err)
	})
	if err == nil {
		return nil
	}
	if kind, ok := domain.KindOf(err); ok && kind == domain.KindConfiguration {
		return err
	}
	if last == nil {
		last = err
	}
	g.logger.Error("Model call failed", "op", op, "attempts", attempt, "error", last)
	return domain.NewError(domain.KindGeneration,
		fmt.Sprintf("model call failed after %d attempts", attempt), last)
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if kind, ok := domain.KindOf(err); ok && kind == domain.KindConfiguration {
		return false
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		switch sc.HTTPStatusCode() {
		case 400, 401, 403, 404, 422:
			return false
		}
	}
	return true
}
