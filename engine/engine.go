package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ClearskyLabs/calsync/models"
	"github.com/ClearskyLabs/calsync/store"
)

var (
	// ErrInvalidFormat is a client fault: the candidate document does not
	// carry both the events and vacations maps.
	ErrInvalidFormat = errors.New("invalid document format: events and vacations maps are required")

	// ErrPersistence is a server fault: the store rejected the write. The
	// in-memory document is untouched when this is returned.
	ErrPersistence = errors.New("failed to persist document")
)

// Broadcaster fans a committed update out to connected push clients. The hub
// satisfies this; it is injected after construction because the hub needs the
// engine first (see SetBroadcaster).
type Broadcaster interface {
	Broadcast(env models.Envelope, excludeID string)
}

// Engine is the sole authority over the calendar document. Every mutation,
// regardless of transport, funnels through Apply under a single write lock;
// readers get lock-free snapshots off an atomic pointer so they never observe
// a half-written document.
type Engine struct {
	logger *slog.Logger
	store  store.Store

	current atomic.Pointer[models.Document]
	writeMu sync.Mutex

	broadcaster   Broadcaster
	broadcasterMu sync.RWMutex
}

// New loads the stored document, or initializes and persists a fresh empty
// one if the store has never been written.
func New(ctx context.Context, logger *slog.Logger, st store.Store) (*Engine, error) {
	e := &Engine{
		logger: logger.WithGroup("engine"),
		store:  st,
	}

	doc, err := st.Load(ctx)
	if errors.Is(err, store.ErrNotFound) {
		doc = models.NewDocument()
		doc.LastModified = models.Now()
		doc.Version = 1
		if err := st.Save(ctx, doc); err != nil {
			return nil, fmt.Errorf("could not persist initial document: %w", err)
		}
		e.logger.Info("Initialized fresh calendar document", "version", doc.Version)
	} else if err != nil {
		return nil, fmt.Errorf("could not load document: %w", err)
	} else {
		// Stored documents from older writers may miss the maps; the shape
		// invariant says they are always present, so normalize on the way in.
		if doc.Events == nil {
			doc.Events = make(map[string]json.RawMessage)
		}
		if doc.Vacations == nil {
			doc.Vacations = make(map[string]json.RawMessage)
		}
		if doc.Version < 1 {
			doc.Version = 1
		}
		e.logger.Info("Loaded calendar document", "version", doc.Version, "events", len(doc.Events), "vacations", len(doc.Vacations))
	}

	e.current.Store(doc)
	return e, nil
}

// SetBroadcaster wires the push-channel fan-out. Must be called before the
// service starts accepting writes.
func (e *Engine) SetBroadcaster(b Broadcaster) {
	e.broadcasterMu.Lock()
	defer e.broadcasterMu.Unlock()
	e.broadcaster = b
}

// Get returns a snapshot of the current document. Callers own the copy.
func (e *Engine) Get() *models.Document {
	return e.current.Load().Clone()
}

// Apply validates, persists and commits a candidate document, then broadcasts
// the committed state to every push client except the originator. The source
// is the session ID of the push connection the write arrived on, or empty for
// the HTTP surface (the HTTP caller gets its answer in the reply, and is not
// a push client to exclude).
//
// Versioning is server-side authoritative: whatever version the candidate
// declares is discarded and replaced with current+1. Two racing writers can
// therefore never mint the same version.
func (e *Engine) Apply(ctx context.Context, candidate *models.Document, source string) (models.CommitInfo, error) {
	if !candidate.HasShape() {
		return models.CommitInfo{}, ErrInvalidFormat
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	prev := e.current.Load()

	next := candidate.Clone()
	next.Version = prev.Version + 1
	next.LastModified = models.Now()
	if next.LastModified < prev.LastModified {
		// Wall clock went backwards; lastModified stays monotone regardless.
		next.LastModified = prev.LastModified
	}

	if err := e.store.Save(ctx, next); err != nil {
		e.logger.Error("Persistence failed, document unchanged", "version", prev.Version, "error", err)
		return models.CommitInfo{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	e.current.Store(next)
	e.logger.Debug("Committed document",
		"version", next.Version,
		"events", len(next.Events),
		"vacations", len(next.Vacations),
		"source", source,
	)

	commit := models.CommitInfo{
		LastModified: next.LastModified,
		Version:      next.Version,
	}

	e.broadcasterMu.RLock()
	b := e.broadcaster
	e.broadcasterMu.RUnlock()
	if b != nil {
		b.Broadcast(models.Envelope{
			Type:      models.MsgDataUpdate,
			Data:      next.Clone(),
			Source:    source,
			Timestamp: models.Now(),
		}, source)
	}

	return commit, nil
}
