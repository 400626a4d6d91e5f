package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v3"
	"github.com/pkg/errors"

	"github.com/ClearskyLabs/calsync/models"
)

const documentKey = "calendar:document"

// BadgerStore keeps the document as a single record in a badger database.
// Badger already gives us crash-safe writes, so Save is a plain transaction.
type BadgerStore struct {
	logger *slog.Logger
	db     *badger.DB
}

func NewBadgerStore(logger *slog.Logger, directory string) (*BadgerStore, error) {
	if err := os.MkdirAll(directory, 0755); err != nil {
		return nil, errors.Wrap(err, "could not create badger directory")
	}

	storeLogger := logger.WithGroup("badger-store")
	opts := badger.DefaultOptions(directory).
		WithLogger(newBadgerLogger(storeLogger)).
		WithLoggingLevel(badger.WARNING).
		WithMemTableSize(16 << 20) // 16MB MemTableSize

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "could not open badger database")
	}

	return &BadgerStore{
		logger: storeLogger,
		db:     db,
	}, nil
}

func (b *BadgerStore) Load(ctx context.Context) (*models.Document, error) {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(documentKey))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not read stored document")
	}

	var doc models.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "could not decode stored document")
	}
	return &doc, nil
}

func (b *BadgerStore) Save(ctx context.Context, doc *models.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "could not encode document")
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(documentKey), data)
	})
	if err != nil {
		return errors.Wrap(err, "could not write document")
	}
	b.logger.Debug("Document flushed", "bytes", len(data), "version", doc.Version)
	return nil
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}
