package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/electrokart/electrokart/internal/auth"
	"github.com/electrokart/electrokart/internal/platform/cache"
	"github.com/electrokart/electrokart/internal/platform/db"
	"github.com/electrokart/electrokart/internal/platform/docstore"
)

// Stores holds the opened backends selected by configuration.
type Stores struct {
	Users     auth.CredentialStore
	Passcodes auth.PasscodeStore
	// Sweeper is nil when the passcode backend expires records natively.
	Sweeper auth.Sweeper

	mongo *docstore.Store
	pg    *pgxpool.Pool
	redis *redis.Client
}

// RedisOpt returns the asynq connection options for the configured Redis.
func (c *Config) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}

func (c *Config) redisOptions() cache.Options {
	return cache.Options{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}

// OpenStores connects the credential and passcode stores and prepares their
// indexes or schema.
func OpenStores(ctx context.Context, cfg *Config, logger *slog.Logger) (_ *Stores, err error) {
	s := &Stores{}
	defer func() {
		if err != nil {
			s.Close(context.Background())
		}
	}()

	if cfg.NeedsMongo() {
		s.mongo, err = docstore.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
	}

	switch cfg.UserStore {
	case StoreMongo:
		users := auth.NewMongoUserStore(s.mongo.DB, nil)
		if err := users.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		s.Users = users
	case StorePostgres:
		s.pg, err = db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
		if err != nil {
			return nil, err
		}
		users := auth.NewPGUserStore(s.pg, nil)
		if err := users.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		s.Users = users
	default:
		return nil, fmt.Errorf("app: unsupported user store %q", cfg.UserStore)
	}

	switch cfg.PasscodeStore {
	case StoreRedis:
		s.redis, err = cache.New(ctx, cfg.redisOptions())
		if err != nil {
			return nil, err
		}
		s.Passcodes = auth.NewRedisPasscodeStore(s.redis, cfg.OTPTTL, nil)
	case StoreMongo:
		passcodes := auth.NewMongoPasscodeStore(s.mongo.DB, cfg.OTPTTL, nil)
		if err := passcodes.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		s.Passcodes = passcodes
		s.Sweeper = passcodes
	default:
		return nil, fmt.Errorf("app: unsupported passcode store %q", cfg.PasscodeStore)
	}

	logger.Info("stores ready",
		slog.String("users", cfg.UserStore),
		slog.String("passcodes", cfg.PasscodeStore),
	)
	return s, nil
}

// Close releases every opened connection.
func (s *Stores) Close(ctx context.Context) error {
	if s == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var errs []error
	if s.mongo != nil {
		errs = append(errs, s.mongo.Close(ctx))
	}
	if s.pg != nil {
		s.pg.Close()
	}
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	return errors.Join(errs...)
}
