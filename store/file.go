package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/ClearskyLabs/calsync/models"
)

// FileStore keeps the document as a single JSON file. Writes go to a temp
// file in the same directory and are renamed into place so a crash mid-write
// never leaves a torn document behind.
type FileStore struct {
	logger *slog.Logger
	path   string
}

func NewFileStore(logger *slog.Logger, path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "could not create data directory")
	}
	return &FileStore{
		logger: logger.WithGroup("file-store"),
		path:   path,
	}, nil
}

func (f *FileStore) Load(ctx context.Context) (*models.Document, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not read %s", f.path)
	}

	var doc models.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "could not decode %s", f.path)
	}
	return &doc, nil
}

func (f *FileStore) Save(ctx context.Context, doc *models.Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "could not encode document")
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".calendar-*.tmp")
	if err != nil {
		return errors.Wrap(err, "could not create temp file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "could not write temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "could not close temp file")
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "could not replace %s", f.path)
	}

	f.logger.Debug("Document flushed", "path", f.path, "bytes", len(data), "version", doc.Version)
	return nil
}

func (f *FileStore) Close() error {
	return nil
}
