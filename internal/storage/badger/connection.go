package badger

import (
	"fmt"
	"os"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/timshannon/badgerhold/v4"
)

// txnRetries bounds optimistic transaction retries on commit conflicts
const txnRetries = 20

// BadgerDB manages the Badger database connection
type BadgerDB struct {
	store  *badgerhold.Store
	logger arbor.ILogger
}

// NewBadgerDB creates a new Badger database connection
func NewBadgerDB(logger arbor.ILogger, config *common.StorageConfig) (*BadgerDB, error) {
	// If reset_on_startup is enabled, delete the existing database
	if config.ResetOnStartup {
		if _, err := os.Stat(config.DataDir); err == nil {
			logger.Debug().Str("path", config.DataDir).Msg("Deleting existing database (reset_on_startup=true)")
			if err := os.RemoveAll(config.DataDir); err != nil {
				logger.Warn().Err(err).Str("path", config.DataDir).Msg("Failed to delete database directory")
			}
		}
	}

	if err := os.MkdirAll(config.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	logger.Debug().Str("path", config.DataDir).Msg("Opening Badger database connection")

	options := badgerhold.DefaultOptions
	options.Dir = config.DataDir
	options.ValueDir = config.DataDir
	options.Logger = nil // Disable default badger logger to use arbor

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	logger.Debug().Str("path", config.DataDir).Msg("Badger database initialized")

	return &BadgerDB{
		store:  store,
		logger: logger,
	}, nil
}

// Store returns the underlying badgerhold store
func (b *BadgerDB) Store() *badgerhold.Store {
	return b.store
}

// Update runs fn in a read-write transaction, retrying when the optimistic
// commit detects a conflict with a concurrently committed transaction.
// fn must be idempotent and re-runnable from scratch.
func (b *BadgerDB) Update(fn func(tx *badgerdb.Txn) error) error {
	var err error
	for i := 0; i < txnRetries; i++ {
		err = b.store.Badger().Update(fn)
		if err != badgerdb.ErrConflict {
			return err
		}
	}
	return fmt.Errorf("transaction conflict persisted after %d retries: %w", txnRetries, err)
}

// Close closes the database connection
func (b *BadgerDB) Close() error {
	if b.store != nil {
		return b.store.Close()
	}
	return nil
}
