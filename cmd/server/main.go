package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"tokoledger/backend/internal/config"
	"tokoledger/backend/internal/httpapi"
	"tokoledger/backend/internal/jobs"
	"tokoledger/backend/internal/sequence"
	"tokoledger/backend/internal/service"
	"tokoledger/backend/internal/store"
	"tokoledger/backend/internal/store/memory"
	pgstore "tokoledger/backend/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.LogFormat)
	slog.SetDefault(logger)

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Error("invalid security configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	location, err := cfg.Location()
	if err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var (
		repo     store.Repository
		invoices sequence.Sequencer = sequence.NewMemory()
		closers  []func() error
	)
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(startCtx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing in-memory fallback: %w", err)
		}
		closers = append(closers, pg.Close)
		if cfg.DatabaseAutoMigrate {
			if err := pg.EnsureSchema(startCtx); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}
		}
		repo = pg
		invoices = pg
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Info("repository: in-memory")
	}

	if cfg.RedisAddr != "" {
		redisSeq := sequence.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisSeq.Ping(startCtx); err != nil {
			logger.Warn("redis unavailable, keeping local invoice sequence", "error", err)
			_ = redisSeq.Close()
		} else {
			invoices = redisSeq
			closers = append(closers, redisSeq.Close)
			logger.Info("invoice sequence: redis")
		}
	}
	defer func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				logger.Warn("close error", "error", err)
			}
		}
	}()

	svc := service.New(repo, invoices, service.Options{
		Location:           location,
		InvoicePrefix:      cfg.InvoicePrefix,
		InvoiceMaxAttempts: cfg.InvoiceMaxAttempts,
		RefundPricing:      cfg.ReturnRefundPricing,
		Logger:             logger,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL, cfg.ManagerPIN, repo)
	if cfg.BootstrapAdminPassword != "" {
		if err := auth.EnsureAdmin(startCtx, cfg.BootstrapAdminUsername, cfg.BootstrapAdminPassword); err != nil {
			return fmt.Errorf("bootstrap admin %q: %w", cfg.BootstrapAdminUsername, err)
		}
	}
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("ledger backend listening", "addr", cfg.Address())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if cfg.RedisAddr != "" {
		worker, err := newRolloverWorker(cfg, location, svc, logger)
		if err != nil {
			return fmt.Errorf("init rollover worker: %w", err)
		}
		group.Go(func() error {
			if err := worker.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	} else {
		logger.Info("REDIS_ADDR unset; scheduled hand cash rollover disabled")
	}

	return group.Wait()
}

func newRolloverWorker(cfg config.Config, location *time.Location, roller jobs.Roller, logger *slog.Logger) (*jobs.Worker, error) {
	task, err := jobs.NewRolloverTask("")
	if err != nil {
		return nil, err
	}
	return jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Logger:    logger,
		Location:  location,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskHandCashRollover, Handler: jobs.NewRolloverJob(roller, logger).Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.RolloverCron, Task: task, Options: []asynq.Option{asynq.MaxRetry(5)}},
		},
	})
}

func newLogger(format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
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

// validatePINStrength rejects common, repeated-digit and sequential PINs.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "121212": true,
		"112233": true, "123123": true, "159753": true, "147258": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}
	return nil
}
