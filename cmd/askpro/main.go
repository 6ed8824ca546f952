package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ashoksuthar14/Askpro-Chatbot/internal/config"
	"github.com/ashoksuthar14/Askpro-Chatbot/internal/db"
	"github.com/ashoksuthar14/Askpro-Chatbot/internal/kb"
	"github.com/ashoksuthar14/Askpro-Chatbot/internal/llm"
	"github.com/ashoksuthar14/Askpro-Chatbot/internal/memory"
	"github.com/ashoksuthar14/Askpro-Chatbot/internal/ratelimit"
	"github.com/ashoksuthar14/Askpro-Chatbot/internal/server"
	"github.com/ashoksuthar14/Askpro-Chatbot/internal/summarizer"
	"github.com/ashoksuthar14/Askpro-Chatbot/internal/verifier"
	"github.com/ashoksuthar14/Askpro-Chatbot/internal/visualizer"
)

const defaultConfigPath = "./configs/config.yaml"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

	configPath := flag.String("config", defaultConfigPath, "Path to the config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	if cfg.Database.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	for _, dir := range []string{cfg.Uploads.DocumentsDir, cfg.Uploads.DiagramsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("Error creating directory")
		}
	}

	ctx := context.Background()
	store := db.Connect(&cfg.Database)
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("Error initializing database")
	}

	manager, err := kb.NewManager(store, cfg.KB.ChunkSize, cfg.KB.ChunkOverlap)
	if err != nil {
		log.Fatal().Err(err).Msg("Error creating knowledge base")
	}
	if err := manager.Warm(ctx); err != nil {
		log.Fatal().Err(err).Msg("Error warming knowledge base index")
	}

	var completion llm.Client = llm.NewGemini(cfg.LLM)
	if cfg.LLM.Mock {
		log.Warn().Msg("Completion service mocked")
		completion = llm.Mock{}
	}

	viz, err := visualizer.New(cfg.Uploads.DiagramsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Error creating visualizer")
	}

	var sources server.SourceVerifier
	if cfg.Verifier.Enabled {
		sources = verifier.New(cfg.Verifier.BaseURL, time.Duration(cfg.Verifier.TimeoutSeconds)*time.Second)
	}

	srv := server.New(cfg, server.Deps{
		KB:         manager,
		Memory:     memory.NewStore(store),
		Completion: completion,
		Summarizer: summarizer.New(completion),
		Verifier:   sources,
		Visualizer: viz,
		Limiter:    ratelimit.New(time.Duration(cfg.RateLimit.CooldownSeconds) * time.Second),
	}, log.Logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Error starting server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error shutting down server")
	}
}
