// Triadic - two-AI talk show server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ashureev/triadic/internal/api"
	"github.com/ashureev/triadic/internal/config"
	"github.com/ashureev/triadic/internal/credentials"
	"github.com/ashureev/triadic/internal/driver"
	"github.com/ashureev/triadic/internal/events"
	"github.com/ashureev/triadic/internal/gateway"
	"github.com/ashureev/triadic/internal/gateway/elevenlabs"
	"github.com/ashureev/triadic/internal/gateway/googlestt"
	"github.com/ashureev/triadic/internal/gateway/openai"
	"github.com/ashureev/triadic/internal/identity"
	"github.com/ashureev/triadic/internal/live"
	"github.com/ashureev/triadic/internal/logging"
	"github.com/ashureev/triadic/internal/metrics"
	"github.com/ashureev/triadic/internal/middleware"
	"github.com/ashureev/triadic/internal/observability"
	"github.com/ashureev/triadic/internal/prompt"
	"github.com/ashureev/triadic/internal/session"
	"github.com/ashureev/triadic/internal/store"
	"github.com/ashureev/triadic/internal/transcript"
	"github.com/ashureev/triadic/internal/turn"
	"github.com/ashureev/triadic/web"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, level := logging.New(os.Stdout, logging.Options{
		Level:   cfg.LogLevel,
		Journal: cfg.LogJournal,
	})
	slog.SetDefault(logger)

	if err := run(cfg, logger, level); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

//nolint:funlen,gocognit // Startup wiring is intentionally sequential to keep dependency setup explicit.
func run(cfg *config.Config, logger *slog.Logger, level *slog.LevelVar) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// SIGHUP re-reads LOG_LEVEL from .env or the environment.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go logging.WatchLevel(ctx, level, hup, reloadLogLevel, logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "store", cfg.Store.Driver)

	repo, err := store.Open(ctx, store.Config{
		Driver:      cfg.Store.Driver,
		SQLitePath:  cfg.Store.DBPath,
		PostgresDSN: cfg.Store.PostgresDSN,
		DynamoTable: cfg.Store.DynamoTable,
		SnapshotTTL: cfg.SnapshotMaxAge,
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(ctx); err != nil {
		return err
	}
	slog.Info("Database connected")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Credentials: runtime override, then SSM, then environment.
	override := &credentials.Override{}
	chain := credentials.Chain{override}
	if cfg.OpenAI.KeyParameter != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return err
		}
		ps, err := credentials.NewParamStore(ssm.NewFromConfig(awsCfg), cfg.OpenAI.KeyParameter, credentials.DefaultParamTTL)
		if err != nil {
			return err
		}
		chain = append(chain, ps)
		slog.Info("OpenAI key parameter configured", "parameter", cfg.OpenAI.KeyParameter)
	}
	chain = append(chain, credentials.Static(cfg.OpenAI.APIKey))

	client, err := openai.NewClient(chain, openai.WithBaseURL(cfg.OpenAI.BaseURL), openai.WithTimeout(cfg.OpenAI.Timeout))
	if err != nil {
		return err
	}
	gen := gateway.New(client, gateway.WithLogger(logger))

	var tts gateway.Synthesizer = client
	if cfg.Voice.TTSProvider == config.ProviderElevenLabs {
		voices := map[string]string{}
		def := cfg.DefaultSettings().Voices
		if cfg.Voice.ElevenLabsVoiceA != "" {
			voices[def.A] = cfg.Voice.ElevenLabsVoiceA
		}
		if cfg.Voice.ElevenLabsVoiceB != "" {
			voices[def.B] = cfg.Voice.ElevenLabsVoiceB
		}
		tts = elevenlabs.New(cfg.Voice.ElevenLabsAPIKey, voices)
	}
	slog.Info("Speech synthesis provider selected", "provider", cfg.Voice.TTSProvider)

	var stt gateway.Transcriber = client
	if cfg.Voice.STTProvider == config.ProviderGoogle {
		gstt, err := googlestt.New(ctx, googlestt.Config{LanguageCode: cfg.Voice.STTLanguage})
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := gstt.Close(); closeErr != nil {
				slog.Debug("Failed to close speech client", "error", closeErr)
			}
		}()
		stt = gstt
	}
	slog.Info("Speech transcription provider selected", "provider", cfg.Voice.STTProvider)

	exec := turn.NewExecutor(gen, prompt.NewBuilder(prompt.NewSystemFile(cfg.SystemPromptPath)),
		turn.WithSynthesizer(tts), turn.WithLogger(logger))

	publisher := events.New(events.Config{
		Brokers:   cfg.Kafka.Brokers,
		Topic:     cfg.Kafka.Topic,
		Principal: cfg.Kafka.Principal,
		Enabled:   cfg.Kafka.Enabled,
	}, m)
	defer func() {
		if closeErr := publisher.Close(); closeErr != nil {
			slog.Error("Failed to close event publisher", "error", closeErr)
		}
	}()

	recorder, err := transcript.New(transcript.Config{
		Enabled:   cfg.Transcript.Enabled,
		Dir:       cfg.Transcript.Dir,
		QueueSize: cfg.Transcript.QueueSize,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := recorder.Close(); closeErr != nil {
			slog.Error("Failed to close transcript logger", "error", closeErr)
		}
	}()

	hub := live.NewHub(live.DefaultBacklog)
	svc := session.New(exec, gen,
		session.WithStore(repo),
		session.WithTranscriber(stt),
		session.WithSynthesizer(tts),
		session.WithIndexer(client),
		session.WithPublisher(publisher),
		session.WithBroadcaster(hub),
		session.WithRecorder(recorder),
		session.WithMetrics(m),
		session.WithLogger(logger),
		session.WithDefaults(cfg.DefaultSettings(), prompt.DefaultPersonas()),
	)

	limiter := api.NewRateLimiter(ctx, cfg.TurnRateLimit, cfg.TurnRateWindow)
	sessionHandler := api.NewSessionHandler(svc, limiter, api.Capabilities{
		Speech:        true,
		Transcription: true,
		Documents:     true,
	})
	credentialsHandler := api.NewCredentialsHandler(override, chain)
	healthHandler := api.NewHealthHandler(repo)
	liveHandler := live.NewHandler(hub, func(ctx context.Context, userID, sessionID string) (any, error) {
		return svc.View(ctx, userID, sessionID)
	}, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(corsOrigins(cfg)))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	credentialsHandler.RegisterRoutes(r)
	sessionHandler.RegisterRoutes(r)
	r.Get("/ws/session", liveHandler.ServeHTTP)
	r.Handle("/*", web.SPAHandler())

	// SSE turn streams need WriteTimeout disabled.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	var obs *observability.Server
	if cfg.MetricsAddr != "" {
		obs = observability.NewServer(cfg.MetricsAddr, reg, repo)
		obs.Start()
	}
	var healthSrv *observability.HealthServer
	if cfg.GRPCHealthAddr != "" {
		healthSrv = observability.NewHealthServer(cfg.GRPCHealthAddr)
		if err := healthSrv.Start(); err != nil {
			return err
		}
	}

	drv := driver.New(svc, repo, driver.Config{
		TickInterval:   cfg.DriverInterval,
		SessionTTL:     cfg.SessionTTL,
		SnapshotMaxAge: cfg.SnapshotMaxAge,
	}, logger)
	drv.Start(ctx)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		stop()
		return err
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	drv.Wait()
	svc.Wait()
	for _, k := range svc.ActiveKeys() {
		svc.Evict(shutdownCtx, k.UserID, k.SessionID)
	}
	if healthSrv != nil {
		healthSrv.Stop()
	}
	if obs != nil {
		if err := obs.Shutdown(shutdownCtx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}
	return nil
}

func corsOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() || cfg.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}

func reloadLogLevel() string {
	if env, err := godotenv.Read(); err == nil {
		if v, ok := env["LOG_LEVEL"]; ok {
			return v
		}
	}
	return os.Getenv("LOG_LEVEL")
}
