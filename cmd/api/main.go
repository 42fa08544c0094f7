package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lizhe2004/openai-xunjie-tts/internal/api"
	"github.com/lizhe2004/openai-xunjie-tts/internal/config"
	"github.com/lizhe2004/openai-xunjie-tts/internal/models"
	"github.com/lizhe2004/openai-xunjie-tts/internal/pipeline"
	"github.com/lizhe2004/openai-xunjie-tts/internal/services"
	"github.com/lizhe2004/openai-xunjie-tts/internal/tempfiles"
	"github.com/lizhe2004/openai-xunjie-tts/internal/voice"
)

func main() {
	log.Println("Starting Xunjie TTS API...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Temp file registry — purge anything a previous run left behind
	temps, err := tempfiles.NewRegistry(cfg.TempDir, cfg.CleanupRetries, time.Duration(cfg.CleanupDelaySecs)*time.Second)
	if err != nil {
		log.Fatalf("Failed to create temp registry: %v", err)
	}
	if purged := temps.PurgeAll(); purged > 0 {
		log.Printf("Purged %d orphaned temp files on startup", purged)
	}

	// Voice aliases
	aliases := voice.LoadAliases(cfg.VoiceMappingsPath)

	// Synthesis services
	xunjie := services.NewXunjieClient(
		cfg.XunjieBaseURL,
		time.Duration(cfg.RequestTimeoutSecs)*time.Second,
		time.Duration(cfg.PollIntervalSecs)*time.Second,
		cfg.PollAttempts,
	)

	transcoder := services.NewTranscoder(int64(cfg.MaxConcurrentTranscodes))
	if !transcoder.Available() {
		log.Println("WARNING: ffmpeg not found — non-mp3 formats will be served as mp3")
	}

	output, err := services.NewOutputWriter(cfg.OutputDir)
	if err != nil {
		log.Fatalf("Failed to create output writer: %v", err)
	}

	pipe := pipeline.New(xunjie, transcoder, output, temps, aliases, pipeline.Defaults{
		Pitch:   cfg.DefaultPitch,
		Volume:  cfg.DefaultVolume,
		Emotion: cfg.Emotion,
	})

	// Text preprocessing hook. The bundled normalizer only trims surrounding
	// whitespace; REMOVE_FILTER bypasses it for callers that pre-clean input.
	var normalize func(string) string
	if !cfg.RemoveFilter {
		normalize = strings.TrimSpace
	}

	defaultFormat, _ := models.ParseFormat(cfg.DefaultFormat)
	handler := api.NewHandler(pipe, aliases, api.HandlerConfig{
		DefaultVoice:  cfg.DefaultVoice,
		DefaultFormat: defaultFormat,
		DefaultSpeed:  cfg.DefaultSpeed,
		Normalize:     normalize,
	})

	router := api.NewRouter(handler, api.RouterConfig{
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
