package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

const maxRetries = 5

// openStore parses the (baseDir, logger) config shared by every badger
// repository. An empty base dir opens an in-memory store.
func openStore(storeDir string, config ...interface{}) (*badgerhold.Store, error) {
	if len(config) != 2 {
		return nil, fmt.Errorf("invalid config")
	}
	baseDir, ok := config[0].(string)
	if !ok {
		return nil, fmt.Errorf("invalid base directory")
	}
	var logger badger.Logger
	if config[1] != nil {
		logger, ok = config[1].(badger.Logger)
		if !ok {
			return nil, fmt.Errorf("invalid logger")
		}
	}

	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, storeDir)
	}
	return createDB(dir, logger)
}

func createDB(dbDir string, logger badger.Logger) (*badgerhold.Store, error) {
	isInMemory := len(dbDir) <= 0

	opts := badger.DefaultOptions(dbDir)
	opts.Logger = logger

	if isInMemory {
		opts.InMemory = true
	}

	return badgerhold.Open(badgerhold.Options{
		Encoder:          badgerhold.DefaultEncode,
		Decoder:          badgerhold.DefaultDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
}

// withRetry runs fn again while it fails with a transaction conflict.
func withRetry(fn func() error) error {
	err := fn()
	attempts := 1
	for errors.Is(err, badger.ErrConflict) && attempts <= maxRetries {
		time.Sleep(100 * time.Millisecond)
		err = fn()
		attempts++
	}
	return err
}

// txFromContext returns the badger transaction carried by ctx, if any.
func txFromContext(ctx context.Context) *badger.Txn {
	if tx, ok := ctx.Value("tx").(*badger.Txn); ok {
		return tx
	}
	return nil
}

func upsert(ctx context.Context, store *badgerhold.Store, key, data interface{}) error {
	return withRetry(func() error {
		if tx := txFromContext(ctx); tx != nil {
			return store.TxUpsert(tx, key, data)
		}
		return store.Upsert(key, data)
	})
}

func find(
	ctx context.Context, store *badgerhold.Store, result interface{}, query *badgerhold.Query,
) error {
	if tx := txFromContext(ctx); tx != nil {
		return store.TxFind(tx, result, query)
	}
	return store.Find(result, query)
}

func get(ctx context.Context, store *badgerhold.Store, key, result interface{}) (bool, error) {
	var err error
	if tx := txFromContext(ctx); tx != nil {
		err = store.TxGet(tx, key, result)
	} else {
		err = store.Get(key, result)
	}
	if errors.Is(err, badgerhold.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func deleteMatching(
	ctx context.Context, store *badgerhold.Store, dataType interface{}, query *badgerhold.Query,
) error {
	return withRetry(func() error {
		if tx := txFromContext(ctx); tx != nil {
			return store.TxDeleteMatching(tx, dataType, query)
		}
		return store.DeleteMatching(dataType, query)
	})
}
