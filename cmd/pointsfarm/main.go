package main

import (
	"database/sql"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/farmworks/pointsfarm/internal/config"
	"github.com/farmworks/pointsfarm/internal/engine"
	"github.com/farmworks/pointsfarm/internal/ledger"
	"github.com/farmworks/pointsfarm/internal/logger"
	"github.com/farmworks/pointsfarm/internal/registry"
	"github.com/farmworks/pointsfarm/internal/state"
	"github.com/farmworks/pointsfarm/internal/types"
	"github.com/farmworks/pointsfarm/internal/web"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// main is the entry point for the points-farming reward engine.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("Points farming engine starting...")

	// Initialize Database Connection (snapshot persistence)
	dbCfg := state.DBConfig{
		Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
		User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
		DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// --- 2. Engine Construction (restore or fresh) ---
	blocks := engine.NewManualBlockSource(config.InitialBlock)

	var eng *engine.Engine
	snap, err := state.LoadLatestSnapshot(state.KindCheckpoint)
	switch {
	case err == nil:
		if snap.TakenAtBlock > blocks.CurrentBlock() {
			blocks.SetBlock(snap.TakenAtBlock)
		}
		eng, err = engine.Restore(snap, blocks)
		if err != nil {
			log.Fatal().Err(err).Str("uuid", snap.ID).Msg("Failed to restore engine from snapshot")
		}
		log.Info().
			Str("uuid", snap.ID).
			Uint64("block", snap.TakenAtBlock).
			Int("pools", len(snap.Pools)).
			Int("users", len(snap.Users)).
			Msg("Engine restored from latest checkpoint")
	case errors.Is(err, sql.ErrNoRows):
		eng = freshEngine(blocks)
		log.Info().Msg("No checkpoint found, engine started from configuration")
	default:
		log.Fatal().Err(err).Msg("Failed to load latest checkpoint")
	}

	// --- 3. Start Web Server ---
	webPort := os.Getenv("WEB_PORT")
	if webPort == "" {
		webPort = "8080"
	}

	webServer := web.NewWebServer(webPort, eng, blocks)
	go func() {
		log.Info().Str("port", webPort).Str("url", "http://localhost:"+webPort).Msg("Starting farming API server")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 4. Wait for Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down, persisting final checkpoint")

	if _, err := state.SaveSnapshot(eng.ExportSnapshot(), state.KindCheckpoint, nil); err != nil {
		log.Error().Err(err).Msg("Failed to persist shutdown checkpoint")
	}
}

// freshEngine builds an engine from the configured emission schedule with no
// pools registered yet.
func freshEngine(blocks engine.BlockSource) *engine.Engine {
	schedule := types.EmissionSchedule{
		PointsPerBlock:    config.PointsPerBlock,
		StartBlock:        config.StartBlock,
		BoosterMultiplier: config.BoosterMultiplier,
	}
	if config.EndBlock != 0 {
		schedule.EndBlock = config.EndBlock
		schedule.EndBlockForWithdrawals = config.EndBlock + config.WithdrawalDelay
	}

	reg, err := registry.New(schedule)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create pool registry")
	}
	eng, err := engine.New(engine.Config{
		Registry: reg,
		Ledger:   ledger.New(),
		Blocks:   blocks,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create reward engine")
	}
	return eng
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}
