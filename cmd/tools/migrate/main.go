package main

import (
	"github.com/noah-isme/retail-pos/internal/config"
	"github.com/noah-isme/retail-pos/internal/db"
	"github.com/noah-isme/retail-pos/internal/obs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("component", "migrate").Logger()
	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("apply migrations")
	}
	logger.Info().Msg("database schema up to date")
}
