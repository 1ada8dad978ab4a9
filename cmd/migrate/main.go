package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"

	"github.com/noah-isme/backend-eushop/internal/app"
	"github.com/noah-isme/backend-eushop/internal/config"
	"github.com/noah-isme/backend-eushop/internal/obs"
)

func main() {
	steps := flag.Int("steps", 0, "number of migrations to roll back with down (0 rolls back one)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "migrate").Logger()

	m, err := app.NewMigrator(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("open migrator")
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.Error().AnErr("source", srcErr).AnErr("database", dbErr).Msg("close migrator")
		}
	}()

	cmd := flag.Arg(0)
	switch cmd {
	case "", "up":
		err = app.RunMigrations(m)
	case "down":
		n := *steps
		if n <= 0 {
			n = 1
		}
		err = m.Steps(-n)
	case "version":
		version, dirty, verr := m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			fmt.Println("no migrations applied")
			return
		}
		if verr != nil {
			logger.Fatal().Err(verr).Msg("read version")
		}
		fmt.Printf("version %d (dirty=%t)\n", version, dirty)
		return
	default:
		fmt.Fprintf(os.Stderr, "usage: migrate [up|down|version] [-steps n]\n")
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal().Err(err).Str("command", cmd).Msg("migrate")
	}
	logger.Info().Str("command", cmd).Msg("migrations applied")
}
