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

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"tiendapos/backend/internal/cache"
	"tiendapos/backend/internal/config"
	"tiendapos/backend/internal/httpapi"
	"tiendapos/backend/internal/lock"
	"tiendapos/backend/internal/service"
	"tiendapos/backend/internal/store"
	"tiendapos/backend/internal/store/memory"
	pgstore "tiendapos/backend/internal/store/postgres"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := config.NewLogger(cfg.LogLevel)
	log := logger.WithField("module", "main")

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		if cfg.AutoMigrate {
			if err := pgstore.Migrate(cfg.DatabaseURL); err != nil {
				log.Fatalf("apply migrations: %v", err)
			}
			log.Info("migrations applied")
		}
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Warn("repository: in-memory, data is lost on restart")
	}

	catalog, locker, closeRedis := connectRedis(ctx, cfg, log)
	if closeRedis != nil {
		closers = append(closers, closeRedis)
	}

	svc := service.New(repo, catalog, locker, logger, service.Options{
		DefaultBranchID:  cfg.BranchID,
		FolioMaxAttempts: cfg.FolioMaxAttempts,
		LockTTL:          time.Duration(cfg.LockTTLSeconds) * time.Second,
		CatalogTTL:       time.Duration(cfg.CatalogCacheTTLSeconds) * time.Second,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, cfg.BranchID, repo)
	api := httpapi.New(svc, auth, logger, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Infof("POS backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Errorf("close error: %v", err)
		}
	}

	log.Info("server stopped")
}

// connectRedis returns the catalog cache and locker backed by REDIS_ADDR.
// Without redis the catalog is not cached and locks are process-local.
func connectRedis(ctx context.Context, cfg config.Config, log *logrus.Entry) (cache.CatalogCache, lock.Locker, func() error) {
	if cfg.RedisAddr == "" {
		log.Info("cache: noop, locks: local")
		return cache.NoopCatalogCache{}, lock.NewLocalLocker(), nil
	}

	client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := cache.Ping(ctx, client); err != nil {
		log.Warnf("redis unavailable (%v), using noop cache and local locks", err)
		_ = client.Close()
		return cache.NoopCatalogCache{}, lock.NewLocalLocker(), nil
	}
	log.Info("cache: redis, locks: redis")
	return cache.NewRedisCatalogCache(client), lock.NewRedisLocker(client), client.Close
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects repeated digits, straight runs and a short
// list of common PINs.
func validatePINStrength(pin string) error {
	for _, r := range pin {
		if r < '0' || r > '9' {
			return fmt.Errorf("PIN must contain digits only")
		}
	}

	common := map[string]struct{}{
		"121212": {}, "112233": {}, "123123": {}, "101010": {}, "696969": {},
	}
	if _, ok := common[pin]; ok {
		return fmt.Errorf("common PIN not allowed")
	}

	repeated := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			repeated = false
			break
		}
	}
	if repeated {
		return fmt.Errorf("repeated-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		step := int(pin[i]) - int(pin[i-1])
		ascending = ascending && step == 1
		descending = descending && step == -1
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}
	return nil
}
