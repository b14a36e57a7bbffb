package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/campushub/campushub/auth"
	"github.com/campushub/campushub/config"
	"github.com/campushub/campushub/database"
	"github.com/campushub/campushub/database/sqliteconfig"
	"github.com/campushub/campushub/tasks"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// loadConfig returns the validated configuration.
func loadConfig() (*config.Config, error) {
	cfg := config.Get()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func openDatabase(ctx context.Context, cfg *config.Config) (*database.Database, error) {
	dbCfg := sqliteconfig.Default(cfg.Database.Path)
	dbCfg.WriteAheadLog = cfg.Database.WriteAheadLog
	dbCfg.WALAutocheckpoint = cfg.Database.WALAutoCheckPoint

	db, err := database.New(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

func newTokenIssuer(cfg *config.Config) *auth.TokenIssuer {
	return auth.NewTokenIssuer(
		[]byte(cfg.Session.AuthenticationKey),
		[]byte(cfg.Session.EncryptionKey),
		cfg.Push.TokenTTL,
	)
}

func asynqRedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return tasks.RedisOpt(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
}

func newRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			log.Info().Str("signal", sig.String()).Msg("Shutting down")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}
