package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dhernos/credstore/internal/auth"
	"github.com/dhernos/credstore/internal/config"
	"github.com/dhernos/credstore/internal/database"
	"github.com/dhernos/credstore/internal/email"
	"github.com/dhernos/credstore/internal/logging"
	redisx "github.com/dhernos/credstore/internal/redis"
	"github.com/dhernos/credstore/internal/server"
)

func main() {
	stderrLogger := zerolog.New(os.Stderr)

	cfg, err := config.Load()
	if err != nil {
		stderrLogger.Fatal().Err(err).Msg("config error")
	}

	logger, closeLogger, err := logging.New(cfg.LogFile)
	if err != nil {
		stderrLogger.Fatal().Err(err).Msg("log setup error")
	}
	defer closeLogger()

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(cfg.DatabaseURL); err != nil {
		return err
	}

	db, err := database.Connect(cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := redisx.New(cfg.RedisURL)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	gen := auth.NewTokenGenerator(0)
	svc := auth.NewService(
		auth.NewPostgresUserStore(db),
		auth.NewVerificationTokenStore(db, gen),
		auth.NewPasswordResetTokenStore(db, gen),
		auth.NewRedisSessionStore(db, redisClient, gen, logger),
		auth.NewBcryptHasher(cfg.BcryptCost),
		email.NewSender(cfg.SMTP, cfg.AppName, cfg.BaseURL, cfg.VerificationTokenTTL, cfg.ResetTokenTTL),
		logger,
		auth.ServiceConfig{
			VerificationTokenTTL: cfg.VerificationTokenTTL,
			ResetTokenTTL:        cfg.ResetTokenTTL,
			SessionTTL:           cfg.SessionTTL,
			RequireVerified:      cfg.RequireVerified,
		},
	)

	go sweepLoop(ctx, svc, cfg.SweepInterval, logger)

	api := server.NewServer(cfg, svc, &auth.RateLimiter{Redis: redisClient}, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// sweepLoop purges expired tokens and sessions on a fixed interval so
// the tables do not accumulate dead rows between redeems.
func sweepLoop(ctx context.Context, svc *auth.Service, interval time.Duration, logger zerolog.Logger) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := svc.SweepExpired(ctx); err != nil {
				logger.Warn().Err(err).Msg("sweep failed")
			}
		}
	}
}
