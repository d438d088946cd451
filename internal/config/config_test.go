package config

import (
	"strings"
	"testing"
	"time"

	"github.com/ashureev/triadic/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("unexpected port %q", cfg.Port)
	}
	if cfg.DriverInterval != 500*time.Millisecond {
		t.Errorf("unexpected driver interval %v", cfg.DriverInterval)
	}
	if cfg.Transcript.QueueSize != 1000 {
		t.Errorf("unexpected queue size %d", cfg.Transcript.QueueSize)
	}
	if cfg.Kafka.Topic != "triadic.conversation" {
		t.Errorf("unexpected topic %q", cfg.Kafka.Topic)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/triadic")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("SESSION_TTL", "15m")
	t.Setenv("OPENAI_MODEL", "gpt-5.1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "b:9092" {
		t.Errorf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
	if cfg.SessionTTL != 15*time.Minute {
		t.Errorf("unexpected ttl %v", cfg.SessionTTL)
	}
	if got := cfg.DefaultSettings().ModelName; got != "gpt-5.1" {
		t.Errorf("OPENAI_MODEL should override the default model, got %q", got)
	}
}

func TestDefaultSettingsIgnoresUnknownModel(t *testing.T) {
	cfg := &Config{OpenAI: OpenAIConfig{Model: "gpt-2"}}
	if got := cfg.DefaultSettings().ModelName; got != domain.DefaultModel {
		t.Fatalf("expected default model, got %q", got)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Port:           "8080",
			DriverInterval: time.Second,
			TurnRateLimit:  1,
			TurnRateWindow: time.Second,
			Store:          StoreConfig{Driver: "sqlite", DBPath: "x.db"},
			Voice:          VoiceConfig{TTSProvider: ProviderOpenAI, STTProvider: ProviderOpenAI},
			Transcript:     TranscriptConfig{Enabled: true, Dir: "logs", QueueSize: 1},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "empty port", mutate: func(c *Config) { c.Port = "" }, wantErr: "PORT"},
		{name: "sqlite without path", mutate: func(c *Config) { c.Store.DBPath = "" }, wantErr: "DB_PATH"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Store.Driver = "postgres" }, wantErr: "POSTGRES_DSN"},
		{name: "dynamodb without table", mutate: func(c *Config) { c.Store.Driver = "dynamodb" }, wantErr: "DYNAMODB_TABLE"},
		{name: "unknown driver", mutate: func(c *Config) { c.Store.Driver = "mongo" }, wantErr: "STORE_DRIVER"},
		{name: "unknown tts", mutate: func(c *Config) { c.Voice.TTSProvider = "polly" }, wantErr: "TTS_PROVIDER"},
		{name: "elevenlabs without key", mutate: func(c *Config) { c.Voice.TTSProvider = ProviderElevenLabs }, wantErr: "ELEVENLABS_API_KEY"},
		{name: "unknown stt", mutate: func(c *Config) { c.Voice.STTProvider = "vosk" }, wantErr: "STT_PROVIDER"},
		{name: "zero queue", mutate: func(c *Config) { c.Transcript.QueueSize = 0 }, wantErr: "QUEUE_SIZE"},
		{name: "kafka without brokers", mutate: func(c *Config) { c.Kafka.Enabled = true }, wantErr: "KAFKA_BROKERS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestIsDevelopment(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{url: "", want: true},
		{url: "http://localhost:5173", want: true},
		{url: "http://127.0.0.1:8080", want: true},
		{url: "https://triadic.example.com", want: false},
	}
	for _, tt := range tests {
		cfg := &Config{FrontendURL: tt.url}
		if got := cfg.IsDevelopment(); got != tt.want {
			t.Errorf("IsDevelopment(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}
