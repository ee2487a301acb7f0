package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voicebridge/voicebridge/internal/api"
	"github.com/voicebridge/voicebridge/internal/chat"
	"github.com/voicebridge/voicebridge/internal/config"
	"github.com/voicebridge/voicebridge/internal/relay"
	"github.com/voicebridge/voicebridge/internal/transcribe"
	"github.com/voicebridge/voicebridge/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults apply when omitted)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting voicebridge",
		logger.String("host", cfg.Server.Host),
		logger.Int("port", cfg.Server.Port))

	if cfg.Transcription.APIKey == "" {
		log.Warn("No transcription API key configured; sessions will fail to connect upstream")
	}

	// Upstream transcription dialer, shared read-only across sessions
	transcriber := transcribe.NewClient(transcribe.Config{
		APIKey:         cfg.Transcription.APIKey,
		BaseURL:        cfg.Transcription.BaseURL,
		SampleRate:     cfg.Transcription.SampleRate,
		FormatTurns:    cfg.Transcription.FormatTurns,
		ConnectTimeout: time.Duration(cfg.Transcription.ConnectTimeoutSecs) * time.Second,
	}, log)

	// Completion token streamer
	streamer := chat.NewStreamer(chat.Config{
		APIKey: cfg.Chat.APIKey,
		Model:  cfg.Chat.Model,
	}, log)

	registry := relay.NewRegistry()
	handler := api.NewHandler(relay.ClientDialer{Client: transcriber}, api.NewChatAdapter(streamer), registry, cfg, log)
	router := api.NewRouter(handler, cfg, log)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info("Server listening", logger.String("addr", srv.Addr))

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Error("Server error", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", logger.Error(err))
	}

	// Tear down any live upstream sessions so none outlive the process
	registry.ShutdownAll()

	log.Info("Voicebridge stopped")
}
