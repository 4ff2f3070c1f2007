package db

import (
	"embed"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/privrollup/walletd/internal/core/domain"
	"github.com/privrollup/walletd/internal/core/ports"
	badgerdb "github.com/privrollup/walletd/internal/infrastructure/db/badger"
	pgdb "github.com/privrollup/walletd/internal/infrastructure/db/postgres"
	sqlitedb "github.com/privrollup/walletd/internal/infrastructure/db/sqlite"
	log "github.com/sirupsen/logrus"
)

//go:embed sqlite/migration/*
var migrations embed.FS

//go:embed postgres/migration/*
var pgMigration embed.FS

var (
	noteStoreTypes = map[string]func(...interface{}) (domain.NoteRepository, error){
		"badger":   badgerdb.NewNoteRepository,
		"sqlite":   sqlitedb.NewNoteRepository,
		"postgres": pgdb.NewNoteRepository,
	}
	txStoreTypes = map[string]func(...interface{}) (domain.TxRepository, error){
		"badger":   badgerdb.NewTxRepository,
		"sqlite":   sqlitedb.NewTxRepository,
		"postgres": pgdb.NewTxRepository,
	}
	userStoreTypes = map[string]func(...interface{}) (domain.UserRepository, error){
		"badger":   badgerdb.NewUserRepository,
		"sqlite":   sqlitedb.NewUserRepository,
		"postgres": pgdb.NewUserRepository,
	}
	worldStateStoreTypes = map[string]func(...interface{}) (domain.WorldStateRepository, error){
		"badger":   badgerdb.NewWorldStateRepository,
		"sqlite":   sqlitedb.NewWorldStateRepository,
		"postgres": pgdb.NewWorldStateRepository,
	}
)

const (
	sqliteDbFile = "sqlite.db"
)

type ServiceConfig struct {
	DataStoreType string

	DataStoreConfig []interface{}
}

type service struct {
	noteStore       domain.NoteRepository
	txStore         domain.TxRepository
	userStore       domain.UserRepository
	worldStateStore domain.WorldStateRepository
}

// NewService opens the wallet stores of the configured type.
//
// Config per type:
//   - badger:   [baseDir string, logger badger.Logger], empty baseDir for in-memory
//   - sqlite:   [baseDir string]
//   - postgres: [dsn string, autoCreate bool]
func NewService(config ServiceConfig) (ports.RepoManager, error) {
	noteStoreFactory, ok := noteStoreTypes[config.DataStoreType]
	if !ok {
		return nil, fmt.Errorf("note store type not supported")
	}
	txStoreFactory, ok := txStoreTypes[config.DataStoreType]
	if !ok {
		return nil, fmt.Errorf("tx store type not supported")
	}
	userStoreFactory, ok := userStoreTypes[config.DataStoreType]
	if !ok {
		return nil, fmt.Errorf("user store type not supported")
	}
	worldStateStoreFactory, ok := worldStateStoreTypes[config.DataStoreType]
	if !ok {
		return nil, fmt.Errorf("world state store type not supported")
	}

	var storeConfig []interface{}
	switch config.DataStoreType {
	case "badger":
		storeConfig = config.DataStoreConfig

	case "postgres":
		if len(config.DataStoreConfig) != 2 {
			return nil, fmt.Errorf("invalid data store config for postgres")
		}

		dsn, ok := config.DataStoreConfig[0].(string)
		if !ok {
			return nil, fmt.Errorf("invalid DSN for postgres")
		}

		autoCreate, ok := config.DataStoreConfig[1].(bool)
		if !ok {
			return nil, fmt.Errorf("invalid autocreate flag for postgres")
		}

		db, err := pgdb.OpenDb(dsn, autoCreate)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres db: %s", err)
		}

		pgDriver, err := migratepg.WithInstance(db, &migratepg.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to init postgres migration driver: %s", err)
		}

		source, err := iofs.New(pgMigration, "postgres/migration")
		if err != nil {
			return nil, fmt.Errorf("failed to embed postgres migrations: %s", err)
		}

		m, err := migrate.NewWithInstance("iofs", source, "postgres", pgDriver)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres migration instance: %s", err)
		}

		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return nil, fmt.Errorf("failed to run postgres migrations: %s", err)
		}

		storeConfig = []interface{}{db}

	case "sqlite":
		if len(config.DataStoreConfig) != 1 {
			return nil, fmt.Errorf("invalid data store config")
		}

		baseDir, ok := config.DataStoreConfig[0].(string)
		if !ok {
			return nil, fmt.Errorf("invalid base directory")
		}

		dbFile := filepath.Join(baseDir, sqliteDbFile)
		db, err := sqlitedb.OpenDb(dbFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open db: %s", err)
		}

		driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to init driver: %s", err)
		}

		source, err := iofs.New(migrations, "sqlite/migration")
		if err != nil {
			return nil, fmt.Errorf("failed to embed migrations: %s", err)
		}

		m, err := migrate.NewWithInstance("iofs", source, "walletdb", driver)
		if err != nil {
			return nil, fmt.Errorf("failed to create migration instance: %s", err)
		}

		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return nil, fmt.Errorf("failed to run migrations: %s", err)
		}

		storeConfig = []interface{}{db}
	}

	noteStore, err := noteStoreFactory(storeConfig...)
	if err != nil {
		return nil, fmt.Errorf("failed to open note store: %s", err)
	}
	txStore, err := txStoreFactory(storeConfig...)
	if err != nil {
		return nil, fmt.Errorf("failed to open tx store: %s", err)
	}
	userStore, err := userStoreFactory(storeConfig...)
	if err != nil {
		return nil, fmt.Errorf("failed to open user store: %s", err)
	}
	worldStateStore, err := worldStateStoreFactory(storeConfig...)
	if err != nil {
		return nil, fmt.Errorf("failed to open world state store: %s", err)
	}

	log.Debugf("opened %s data store", config.DataStoreType)

	return &service{
		noteStore:       noteStore,
		txStore:         txStore,
		userStore:       userStore,
		worldStateStore: worldStateStore,
	}, nil
}

func (s *service) Notes() domain.NoteRepository {
	return s.noteStore
}

func (s *service) Txs() domain.TxRepository {
	return s.txStore
}

func (s *service) Users() domain.UserRepository {
	return s.userStore
}

func (s *service) WorldState() domain.WorldStateRepository {
	return s.worldStateStore
}

func (s *service) Close() {
	s.noteStore.Close()
	s.txStore.Close()
	s.userStore.Close()
	s.worldStateStore.Close()
}
