// Package bootstrap wires storage, the delivery ledger and the email
// dispatcher from configuration. Both binaries share it.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/registration-service/internal/api/http/handlers"
	"github.com/spec-kit/registration-service/internal/config"
	"github.com/spec-kit/registration-service/internal/dispatch"
	"github.com/spec-kit/registration-service/internal/mail"
	"github.com/spec-kit/registration-service/internal/persistence"
	"github.com/spec-kit/registration-service/internal/repository"
	"github.com/spec-kit/registration-service/internal/repository/memory"
	"github.com/spec-kit/registration-service/migrations"
)

// Storage bundles the repositories behind one transaction manager.
type Storage struct {
	Tx            repository.TxManager
	Registrations repository.RegistrationRepository
	Tokens        repository.UpdateTokenRepository
	Outbox        repository.OutboxRepository
	Redis         *persistence.Redis
	// Durable is false when the in-process store is used.
	Durable bool

	pg *persistence.Postgres
}

// OpenStorage connects Postgres and Redis. Without POSTGRES_DSN the service
// runs on the in-process store, which is only suitable for development.
func OpenStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Storage, error) {
	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	s := &Storage{pg: pg, Redis: persistence.NewRedis(ctx, cfg.Redis, logger)}

	pool := pg.PoolHandle()
	if pool == nil {
		logger.Warn("using in-process storage; data is lost on restart")
		store := memory.NewStore()
		s.Tx = store
		s.Registrations = store.Registrations()
		s.Tokens = store.Tokens()
		s.Outbox = store.Outbox()
		return s, nil
	}

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
			s.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}
	s.Durable = true
	s.Tx = repository.NewTxManager(pool)
	s.Registrations = repository.NewRegistrationRepository(pool)
	s.Tokens = repository.NewUpdateTokenRepository(pool)
	s.Outbox = repository.NewOutboxRepository(pool)
	return s, nil
}

// Readiness lists the configured external dependencies.
func (s *Storage) Readiness() map[string]handlers.Pinger {
	deps := map[string]handlers.Pinger{}
	if s.Durable {
		deps["postgres"] = s.pg
	}
	if s.Redis.Enabled() {
		deps["redis"] = s.Redis
	}
	return deps
}

// Close releases connections.
func (s *Storage) Close() {
	s.Redis.Close()
	s.pg.Close()
}

// NewLedger returns the Redis delivery ledger, or an in-process one when Redis
// is not configured.
func NewLedger(s *Storage, cfg config.DispatchConfig) dispatch.Ledger {
	if s.Redis.Enabled() {
		return dispatch.NewRedisLedger(s.Redis.Client, time.Duration(cfg.LedgerTTLHours)*time.Hour)
	}
	return dispatch.NewMemoryLedger()
}

// NewMailProvider posts to EMAIL_PROVIDER_URL when set and logs messages
// otherwise.
func NewMailProvider(cfg config.EmailConfig, logger *zap.Logger) mail.Provider {
	if cfg.ProviderURL == "" {
		logger.Warn("EMAIL_PROVIDER_URL not provided; emails are logged, not sent")
		return mail.NewLogProvider(logger)
	}
	return mail.NewHTTPProvider(cfg.ProviderURL, cfg.ProviderAPIKey, time.Duration(cfg.ProviderTimeoutMs)*time.Millisecond)
}

// NewDispatcher wires the outbox dispatcher.
func NewDispatcher(s *Storage, cfg *config.Config, metrics dispatch.Metrics, logger *zap.Logger) *dispatch.Dispatcher {
	return dispatch.New(dispatch.Dependencies{
		Outbox:   s.Outbox,
		Provider: NewMailProvider(cfg.Email, logger),
		Renderer: mail.NewRenderer(cfg.Email.From),
		Ledger:   NewLedger(s, cfg.Dispatch),
		Metrics:  metrics,
		Logger:   logger.Named("dispatch"),
	})
}
