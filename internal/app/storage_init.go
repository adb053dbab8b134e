package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
	"github.com/vladislavdragonenkov/backoffice/internal/storage/memory"
	"github.com/vladislavdragonenkov/backoffice/internal/storage/postgres"
	"github.com/vladislavdragonenkov/backoffice/internal/storage/seed"
)

// runtimeStorage: порты хранилища, выбранного драйвером.
type runtimeStorage struct {
	tx          domain.TxManager
	read        domain.ReadModel
	outbox      domain.OutboxRepository
	idempotency domain.IdempotencyRepository
	seedTarget  seed.Target
	ping        func(ctx context.Context) error
	close       func() error
}

func initStorage(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeStorage, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StorageDriver)) {
	case "", StorageDriverMemory:
		store := memory.NewStore()
		logger.Info("using in-memory storage")
		return &runtimeStorage{
			tx:          store,
			read:        store,
			outbox:      store.Outbox(),
			idempotency: memory.NewIdempotencyRepository(),
			seedTarget:  seed.MemoryTarget{Store: store},
			ping:        func(context.Context) error { return nil },
			close:       func() error { return nil },
		}, nil

	case StorageDriverPostgres:
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return nil, errors.New("postgres storage requires a DSN")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if cfg.PostgresAutoMigrate {
			if err := migrateUp(ctx, store, logger); err != nil {
				_ = store.Close()
				return nil, err
			}
		}
		logger.Info("using postgres storage")
		return &runtimeStorage{
			tx:          store,
			read:        store,
			outbox:      store.Outbox(),
			idempotency: store.Idempotency(),
			seedTarget:  store,
			ping:        store.Ping,
			close:       store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func migrateUp(ctx context.Context, store *postgres.Store, logger *log.Entry) error {
	migrator, err := postgres.NewMigrator(store)
	if err != nil {
		return err
	}
	applied, err := migrator.Up(ctx, 0)
	if err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	logger.WithField("applied", applied).Info("postgres schema is up to date")
	return nil
}

// seedCatalog загружает справочники из файла, если он задан.
func seedCatalog(ctx context.Context, path string, target seed.Target, logger *log.Entry) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	fixtures, err := seed.LoadFile(path)
	if err != nil {
		return err
	}
	if err := seed.Apply(ctx, target, fixtures); err != nil {
		return fmt.Errorf("apply seed %s: %w", path, err)
	}
	logger.WithField("file", path).Info("seed applied")
	return nil
}
