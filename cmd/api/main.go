package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobarin/audiodesc/internal/account"
	"github.com/bobarin/audiodesc/internal/api"
	"github.com/bobarin/audiodesc/internal/config"
	"github.com/bobarin/audiodesc/internal/db"
	"github.com/bobarin/audiodesc/internal/logging"
	"github.com/bobarin/audiodesc/internal/pipeline"
	"github.com/bobarin/audiodesc/internal/quota"
	"github.com/bobarin/audiodesc/internal/ratelimit"
	"github.com/bobarin/audiodesc/internal/services"
	"github.com/bobarin/audiodesc/internal/storage"
	"github.com/bobarin/audiodesc/internal/worker"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logging is not configured yet
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(cfg.LogLevel, cfg.LogPretty)
	log.Info().Msg("Starting audio description API...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()
	log.Info().Msg("Connected to database")

	var limiter ratelimit.Limiter
	if cfg.RedisURL != "" {
		rl, err := ratelimit.NewRedis(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rl.Close()
		limiter = rl
		log.Info().Msg("Rate limits shared through Redis")
	} else {
		limiter = ratelimit.NewMemory()
		log.Info().Msg("Rate limits kept in process memory")
	}

	// Both interfaces stay nil under the data-URL strategy.
	var objects pipeline.ObjectStore
	var deleter api.ObjectDeleter
	if cfg.PersistStrategy == config.PersistStorage {
		stor := storage.New(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket)
		objects, deleter = stor, stor
		log.Info().Str("bucket", cfg.SupabaseStorageBucket).Msg("Audio stored in Supabase storage")
	} else {
		log.Info().Msg("Audio embedded as data URLs")
	}

	var enhancer pipeline.DescriptionEnhancer
	switch cfg.EnhancerProvider {
	case config.EnhancerOpenAI:
		backend := services.NewOpenAIServiceWithConfig(openai.DefaultConfig(cfg.OpenAIKey), cfg.OpenAIChatModel, cfg.OpenAITTSModel, cfg.OpenAITTSSpeed)
		enhancer = services.NewEnhancer(backend, cfg.EnhanceTimeout)
	case config.EnhancerGemini:
		backend, err := services.NewGeminiService(ctx, cfg.GeminiKey, cfg.GeminiModel)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create gemini client")
		}
		enhancer = services.NewEnhancer(backend, cfg.EnhanceTimeout)
	}
	log.Info().Str("provider", cfg.EnhancerProvider).Dur("timeout", cfg.EnhanceTimeout).Msg("Description enhancer configured")

	var tts services.Synthesizer
	switch cfg.TTSProvider {
	case config.TTSGoogle:
		g, err := services.NewGoogleTTSService(ctx, cfg.GoogleTTSAPIKey, cfg.GoogleTTSKeyFile)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create google tts client")
		}
		tts = g
	case config.TTSElevenLabs:
		tts = services.NewElevenLabsService(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID)
	default:
		tts = services.NewOpenAIServiceWithConfig(openai.DefaultConfig(cfg.OpenAIKey), cfg.OpenAIChatModel, cfg.OpenAITTSModel, cfg.OpenAITTSSpeed)
	}
	log.Info().Str("provider", tts.Name()).Msg("Speech synthesizer configured")

	files := database.AudioFiles()
	profiles := database.Profiles()

	guard := quota.NewGuard(profiles, database.Settings(), files, quota.Options{
		DefaultPlan:       cfg.DefaultPlan,
		DefaultDailyLimit: cfg.DefaultDailyLimit,
		GuestDailyLimit:   cfg.GuestDailyLimit,
	})

	orchestrator := pipeline.NewOrchestrator(guard, limiter, enhancer, tts,
		pipeline.NewPersister(cfg.PersistStrategy, files, objects),
		pipeline.Options{
			MaxTextLength:           cfg.MaxTextLength,
			ShortPromptMaxChars:     cfg.ShortPromptMaxChars,
			FullDescriptionMinChars: cfg.FullDescriptionMinChars,
			PipelineTimeout:         cfg.PipelineTimeout,
			GuestGenerations:        cfg.GuestGenerations,
			LLMPerMinute:            cfg.RateLimitLLMPerMinute,
			TTSPerMinute:            cfg.RateLimitTTSPerMinute,
		})

	accounts := account.NewService(profiles, database.Roles(), files, account.Options{
		DefaultPlan:       cfg.DefaultPlan,
		DefaultDailyLimit: cfg.DefaultDailyLimit,
		IsAdminEmail:      cfg.IsAdminEmail,
	})

	authKey := cfg.SupabaseAnonKey
	if authKey == "" {
		authKey = cfg.SupabaseServiceKey
	}
	auth := api.NewSupabaseAuth(cfg.SupabaseURL, authKey, &http.Client{Timeout: 10 * time.Second})

	handler := api.NewHandler(orchestrator, accounts, files, database.Settings(), database.Feedback(), deleter)
	router := api.NewRouter(handler, auth, api.RouterConfig{
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	sweepDone := make(chan struct{})
	if cfg.SweeperEnabled {
		sweeper := worker.NewSweeper(files, deleter, cfg.GuestRecordTTL, cfg.SweepInterval, cfg.SweepConcurrency)
		go func() {
			defer close(sweepDone)
			sweeper.Start(log.Logger.WithContext(ctx))
		}()
	} else {
		close(sweepDone)
		log.Info().Msg("Guest record sweeper disabled")
	}

	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.APIPort).Msg("API server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	<-sweepDone

	log.Info().Msg("Server exited")
}
