package store

import (
	"context"
	"errors"

	"github.com/ClearskyLabs/calsync/models"
)

// ErrNotFound is returned by Load when no document has ever been saved.
var ErrNotFound = errors.New("no stored document")

// Store is the durable home of the calendar document. The engine is the only
// caller; it treats a failed Save as "nothing happened" and keeps serving the
// prior in-memory document.
type Store interface {
	Load(ctx context.Context) (*models.Document, error)
	Save(ctx context.Context, doc *models.Document) error
	Close() error
}
