package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/triadic/internal/domain"
)

type statusErr int

func (e statusErr) Error() string        { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) HTTPStatusCode() int { return int(e) }

type fakeStream struct {
	deltas []string
	err    error
	closed bool
}

func (s *fakeStream) Next() (string, error) {
	if len(s.deltas) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	d := s.deltas[0]
	s.deltas = s.deltas[1:]
	return d, nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type fakeProvider struct {
	failures int
	err      error
	text     string
	stream   *fakeStream
	calls    int
}

func (p *fakeProvider) Generate(context.Context, string, Config) (string, error) {
	p.calls++
	if p.calls <= p.failures {
		return "", p.err
	}
	return p.text, nil
}

func (p *fakeProvider) OpenStream(context.Context, string, Config) (Stream, error) {
	p.calls++
	if p.calls <= p.failures {
		return nil, p.err
	}
	return p.stream, nil
}

func TestGenerate_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{failures: 2, err: statusErr(503), text: "hello"}
	g := New(p, WithBaseDelay(time.Millisecond))

	got, err := g.Generate(context.Background(), "prompt", Config{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "hello" || p.calls != 3 {
		t.Fatalf("got %q after %d calls", got, p.calls)
	}
}

func TestGenerate_ExhaustedIsGenerationError(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{failures: 10, err: errors.New("connection reset")}
	g := New(p, WithBaseDelay(time.Millisecond))

	_, err := g.Generate(context.Background(), "prompt", Config{})
	if kind, _ := domain.KindOf(err); kind != domain.KindGeneration {
		t.Fatalf("error kind = %q, want generation (%v)", kind, err)
	}
	if p.calls != MaxAttempts {
		t.Fatalf("calls = %d, want %d", p.calls, MaxAttempts)
	}
	if !strings.Contains(err.Error(), "connection reset") {
		t.Errorf("cause missing from %q", err.Error())
	}
}

func TestGenerate_NonRetryableStatus(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{failures: 10, err: statusErr(401)}
	g := New(p, WithBaseDelay(time.Millisecond))

	if _, err := g.Generate(context.Background(), "prompt", Config{}); err == nil {
		t.Fatal("expected error")
	}
	if p.calls != 1 {
		t.Fatalf("calls = %d, want 1", p.calls)
	}
}

func TestGenerate_ConfigurationErrorPassesThrough(t *testing.T) {
	t.Parallel()

	cfgErr := domain.NewError(domain.KindConfiguration, "missing API key", nil)
	p := &fakeProvider{failures: 10, err: cfgErr}
	g := New(p, WithBaseDelay(time.Millisecond))

	_, err := g.Generate(context.Background(), "prompt", Config{})
	if kind, _ := domain.KindOf(err); kind != domain.KindConfiguration {
		t.Fatalf("kind = %q, want configuration", kind)
	}
	if p.calls != 1 {
		t.Fatalf("calls = %d, want 1", p.calls)
	}
}

func TestGenerateStream_Accumulates(t *testing.T) {
	t.Parallel()

	s := &fakeStream{deltas: []string{"Hel", "", "lo"}}
	p := &fakeProvider{failures: 1, err: errors.New("dial timeout"), stream: s}
	g := New(p, WithBaseDelay(time.Millisecond))

	var b strings.Builder
	for delta, err := range g.GenerateStream(context.Background(), "prompt", Config{}) {
		if err != nil {
			t.Fatalf("stream error: %v", err)
		}
		b.WriteString(delta)
	}
	if b.String() != "Hello" {
		t.Fatalf("accumulated %q", b.String())
	}
	if !s.closed {
		t.Error("stream not closed")
	}
}

func TestGenerateStream_MidStreamFailure(t *testing.T) {
	t.Parallel()

	s := &fakeStream{deltas: []string{"partial"}, err: errors.New("eof in chunk")}
	g := New(&fakeProvider{stream: s}, WithBaseDelay(time.Millisecond))

	var gotErr error
	var text string
	for delta, err := range g.GenerateStream(context.Background(), "prompt", Config{}) {
		if err != nil {
			gotErr = err
			break
		}
		text += delta
	}
	if text != "partial" {
		t.Fatalf("text = %q", text)
	}
	if kind, _ := domain.KindOf(gotErr); kind != domain.KindGeneration {
		t.Fatalf("mid-stream error kind = %q (%v)", kind, gotErr)
	}
}

func TestConfigFromSettings(t *testing.T) {
	t.Parallel()

	s := domain.DefaultSettings()
	s.ReasoningSummaryEnabled = true
	cfg := ConfigFromSettings(s, []domain.Tool{domain.ToolWebSearch}, "vs_1")
	if cfg.Model != "gpt-5-mini" || cfg.Effort != "low" || cfg.Verbosity != "medium" || !cfg.ReasoningSummary {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.VectorStoreID != "vs_1" || len(cfg.Tools) != 1 {
		t.Fatalf("cfg tools = %+v", cfg)
	}
}
