package main

import (
	"flag"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"tiendapos/backend/internal/config"
	pgstore "tiendapos/backend/internal/store/postgres"
)

// Usage: migrate [-steps n] up|down|version
func main() {
	if err := godotenv.Load(); err != nil {
		logrus.WithField("module", "migrate").Debugf(".env not loaded: %v", err)
	}

	steps := flag.Int("steps", 1, "number of migrations to roll back with down")
	flag.Parse()

	cfg := config.Load()
	logger := config.NewLogger(cfg.LogLevel)
	log := logger.WithField("module", "migrate")

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	command := "up"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	switch command {
	case "up":
		if err := pgstore.Migrate(cfg.DatabaseURL); err != nil {
			log.Fatalf("migrate up: %v", err)
		}
		log.Info("schema up to date")
	case "down":
		if err := pgstore.Rollback(cfg.DatabaseURL, *steps); err != nil {
			log.Fatalf("migrate down: %v", err)
		}
		log.Infof("rolled back %d migration(s)", *steps)
	case "version":
		version, dirty, err := pgstore.Version(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("migrate version: %v", err)
		}
		log.WithField("dirty", dirty).Infof("schema version %d", version)
	default:
		log.Errorf("unknown command %q, want up, down or version", command)
		os.Exit(2)
	}
}
