package pgdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/privrollup/walletd/internal/infrastructure/db/postgres/sqlc/queries"
	log "github.com/sirupsen/logrus"
)

const (
	driverName     = "postgres"
	maxRetries     = 5
	connectTimeout = 5 * time.Second
	maxOpenConns   = 10

	errCodeUnknownDb         = "3D000"
	errCodeSerialization     = "40001"
	errCodeDeadlockDetected  = "40P01"
	serializationErrFragment = "could not serialize access"
)

// OpenDb connects to the db of the dsn. With autoCreate, a missing db is
// created first, which requires the dsn in URL format.
func OpenDb(dsn string, autoCreate bool) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres db: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	err = db.PingContext(ctx)
	if isUnknownDbError(err) && autoCreate {
		log.Infof("wallet db does not exist, creating it")
		if err := createDb(ctx, dsn); err != nil {
			return nil, fmt.Errorf("failed to create wallet db: %w", err)
		}
		err = db.PingContext(ctx)
	}
	if err != nil {
		// nolint
		db.Close()
		return nil, fmt.Errorf("unable to connect to postgres db: %w", err)
	}
	return db, nil
}

func createDb(ctx context.Context, dsn string) error {
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return fmt.Errorf("db can be created only from a dsn in URL format")
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return err
	}
	dbName := strings.TrimPrefix(u.Path, "/")
	if dbName == "" {
		return fmt.Errorf("missing db name in dsn")
	}

	// The maintenance db always exists.
	u.Path = "/postgres"
	maintenanceDb, err := sql.Open(driverName, u.String())
	if err != nil {
		return err
	}
	// nolint
	defer maintenanceDb.Close()

	_, err = maintenanceDb.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(dbName))
	return err
}

// execTx runs txBody in a db tx, retrying it from scratch when it loses a
// conflict with a concurrent one.
func execTx(
	ctx context.Context, db *sql.DB, txBody func(*queries.Queries) error,
) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 50 * time.Millisecond)
		}
		if err = runTx(ctx, db, txBody); !isConflictError(err) {
			return err
		}
		log.WithError(err).Debugf("db tx conflict, retrying (%d/%d)", attempt+1, maxRetries)
	}
	return err
}

func runTx(ctx context.Context, db *sql.DB, txBody func(*queries.Queries) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := txBody(queries.New(db).WithTx(tx)); err != nil {
		// nolint
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func isUnknownDbError(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == errCodeUnknownDb
}

func isConflictError(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == errCodeSerialization || pqErr.Code == errCodeDeadlockDetected
	}
	return strings.Contains(strings.ToLower(err.Error()), serializationErrFragment)
}
