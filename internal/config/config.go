// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/triadic/internal/domain"
	"github.com/ashureev/triadic/internal/store"
)

// Provider names for speech.
const (
	ProviderOpenAI     = "openai"
	ProviderElevenLabs = "elevenlabs"
	ProviderGoogle     = "google"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	FrontendURL    string
	SessionTTL     time.Duration
	DriverInterval time.Duration
	SnapshotMaxAge time.Duration

	Store      StoreConfig
	OpenAI     OpenAIConfig
	Voice      VoiceConfig
	Kafka      KafkaConfig
	Transcript TranscriptConfig

	SystemPromptPath string
	MetricsAddr      string
	GRPCHealthAddr   string
	LogLevel         string
	LogJournal       bool

	TurnRateLimit  int
	TurnRateWindow time.Duration
}

// StoreConfig selects the snapshot backend.
type StoreConfig struct {
	Driver      string
	DBPath      string
	PostgresDSN string
	DynamoTable string
}

// OpenAIConfig configures the model, speech and vector store client.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	KeyParameter string
	Timeout      time.Duration
}

// VoiceConfig selects speech providers.
type VoiceConfig struct {
	TTSProvider      string
	ElevenLabsAPIKey string
	ElevenLabsVoiceA string
	ElevenLabsVoiceB string
	STTProvider      string
	STTLanguage      string
}

// KafkaConfig configures the event publisher.
type KafkaConfig struct {
	Enabled   bool
	Brokers   []string
	Topic     string
	Principal string
}

// TranscriptConfig controls NDJSON conversation logging.
type TranscriptConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		SessionTTL:     getEnvDuration("SESSION_TTL", 60*time.Minute),
		DriverInterval: getEnvDuration("DRIVER_INTERVAL", 500*time.Millisecond),
		SnapshotMaxAge: 7 * 24 * time.Hour,
		Store: StoreConfig{
			Driver:      strings.ToLower(getEnv("STORE_DRIVER", store.DriverSQLite)),
			DBPath:      getEnv("DB_PATH", "./data/triadic.db"),
			PostgresDSN: getEnv("POSTGRES_DSN", ""),
			DynamoTable: getEnv("DYNAMODB_TABLE", ""),
		},
		OpenAI: OpenAIConfig{
			APIKey:       getEnv("OPENAI_API_KEY", ""),
			BaseURL:      getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Model:        getEnv("OPENAI_MODEL", ""),
			KeyParameter: getEnv("OPENAI_KEY_PARAMETER", ""),
			Timeout:      getEnvDuration("OPENAI_TIMEOUT", 120*time.Second),
		},
		Voice: VoiceConfig{
			TTSProvider:      strings.ToLower(getEnv("TTS_PROVIDER", ProviderOpenAI)),
			ElevenLabsAPIKey: getEnv("ELEVENLABS_API_KEY", ""),
			ElevenLabsVoiceA: getEnv("ELEVENLABS_VOICE_A", ""),
			ElevenLabsVoiceB: getEnv("ELEVENLABS_VOICE_B", ""),
			STTProvider:      strings.ToLower(getEnv("STT_PROVIDER", ProviderOpenAI)),
			STTLanguage:      getEnv("STT_LANGUAGE", "en-US"),
		},
		Kafka: KafkaConfig{
			Enabled:   getEnvBool("KAFKA_ENABLED", false),
			Brokers:   getEnvList("KAFKA_BROKERS"),
			Topic:     getEnv("KAFKA_TOPIC", "triadic.conversation"),
			Principal: getEnv("KAFKA_PRINCIPAL", "triadic-server"),
		},
		Transcript: TranscriptConfig{
			Enabled:   getEnvBool("TRANSCRIPT_LOG_ENABLED", true),
			Dir:       getEnv("TRANSCRIPT_LOG_DIR", "./data/logs/transcripts"),
			QueueSize: getEnvInt("TRANSCRIPT_LOG_QUEUE_SIZE", 1000),
		},
		SystemPromptPath: getEnv("SYSTEM_PROMPT_PATH", "./system.txt"),
		MetricsAddr:      getEnv("METRICS_ADDR", ":9090"),
		GRPCHealthAddr:   getEnv("GRPC_HEALTH_ADDR", ":50051"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogJournal:       getEnvBool("LOG_JOURNAL", false),
		TurnRateLimit:    getEnvInt("TURN_RATE_LIMIT", 20),
		TurnRateWindow:   getEnvDuration("TURN_RATE_WINDOW", time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.Store.Driver {
	case store.DriverSQLite:
		if c.Store.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case store.DriverPostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN cannot be empty for the postgres store")
		}
	case store.DriverDynamoDB:
		if c.Store.DynamoTable == "" {
			return fmt.Errorf("DYNAMODB_TABLE cannot be empty for the dynamodb store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}
	if !slices.Contains([]string{ProviderOpenAI, ProviderElevenLabs}, c.Voice.TTSProvider) {
		return fmt.Errorf("unknown TTS_PROVIDER %q", c.Voice.TTSProvider)
	}
	if c.Voice.TTSProvider == ProviderElevenLabs && c.Voice.ElevenLabsAPIKey == "" {
		return fmt.Errorf("ELEVENLABS_API_KEY is required when TTS_PROVIDER=elevenlabs")
	}
	if !slices.Contains([]string{ProviderOpenAI, ProviderGoogle}, c.Voice.STTProvider) {
		return fmt.Errorf("unknown STT_PROVIDER %q", c.Voice.STTProvider)
	}
	if c.Transcript.Enabled && c.Transcript.Dir == "" {
		return fmt.Errorf("TRANSCRIPT_LOG_DIR cannot be empty")
	}
	if c.Transcript.QueueSize <= 0 {
		return fmt.Errorf("TRANSCRIPT_LOG_QUEUE_SIZE must be > 0")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS cannot be empty when KAFKA_ENABLED=true")
	}
	if c.DriverInterval <= 0 {
		return fmt.Errorf("DRIVER_INTERVAL must be > 0")
	}
	if c.TurnRateLimit <= 0 || c.TurnRateWindow <= 0 {
		return fmt.Errorf("TURN_RATE_LIMIT and TURN_RATE_WINDOW must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// DefaultSettings returns the settings new sessions start with. OPENAI_MODEL
// overrides the model when it names a selectable one.
func (c *Config) DefaultSettings() domain.Settings {
	s := domain.DefaultSettings()
	if domain.IsModel(c.OpenAI.Model) {
		s.ModelName = c.OpenAI.Model
	}
	return s
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
