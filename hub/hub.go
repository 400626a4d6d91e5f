package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ClearskyLabs/calsync/config"
	"github.com/ClearskyLabs/calsync/models"
)

// ErrTooManyConnections is returned by Register when the configured
// connection ceiling has been reached.
var ErrTooManyConnections = errors.New("too many connections")

// DocumentSource is the engine surface the hub needs: a snapshot for joining
// clients and the single serialized write path for push updates.
type DocumentSource interface {
	Get() *models.Document
	Apply(ctx context.Context, candidate *models.Document, source string) (models.CommitInfo, error)
}

// Hub is the registry of connected push clients. It owns every session,
// fans committed updates out to them, and keeps them honest with periodic
// heartbeats and stale-connection reaping.
type Hub struct {
	appCtx context.Context
	logger *slog.Logger
	cfg    *config.Config
	source DocumentSource

	sessions map[*Session]struct{}
	lock     sync.RWMutex

	active atomic.Int32
}

func New(ctx context.Context, logger *slog.Logger, cfg *config.Config, source DocumentSource) *Hub {
	return &Hub{
		appCtx:   ctx,
		logger:   logger.WithGroup("hub"),
		cfg:      cfg,
		source:   source,
		sessions: make(map[*Session]struct{}),
	}
}

// Attach upgrades nothing itself; the service hands it an established
// websocket connection. It registers a session and starts its pumps.
func (h *Hub) Attach(conn *websocket.Conn) (*Session, error) {
	session := &Session{
		id:   uuid.NewString(),
		conn: conn,
		hub:  h,
		send: make(chan []byte, h.cfg.Sessions.SendBufferSize),
	}

	if err := h.Register(session); err != nil {
		return nil, err
	}

	go session.writePump()
	go session.readPump()

	return session, nil
}

// Register adds a session and queues the INIT_DATA snapshot before the
// session becomes visible to broadcasts, so the first message a joining
// client observes is always the document as of registration time.
func (h *Hub) Register(s *Session) error {
	h.lock.Lock()
	defer h.lock.Unlock()

	if int(h.active.Load()) >= h.cfg.Sessions.MaxConnections {
		return ErrTooManyConnections
	}

	s.markAlive()

	init := models.Envelope{
		Type:      models.MsgInitData,
		Data:      h.source.Get(),
		Timestamp: models.Now(),
	}
	payload, err := marshalEnvelope(init)
	if err != nil {
		return err
	}
	// The send channel is fresh and buffered; this cannot block.
	s.send <- payload

	h.sessions[s] = struct{}{}
	h.active.Add(1)
	h.logger.Info("Session registered", "session", s.id, "active", h.active.Load())
	return nil
}

// Unregister removes a session. Safe to call repeatedly or for sessions that
// were never registered.
func (h *Hub) Unregister(s *Session) {
	h.lock.Lock()
	defer h.lock.Unlock()

	if _, ok := h.sessions[s]; !ok {
		s.markClosed()
		return
	}
	delete(h.sessions, s)
	h.active.Add(-1)
	s.markClosed()
	close(s.send)
	h.logger.Info("Session unregistered", "session", s.id, "active", h.active.Load())
}

// Broadcast sends an envelope to every ALIVE session except the one whose ID
// matches excludeID. A failed send marks that session STALE and delivery to
// the remaining sessions continues.
func (h *Hub) Broadcast(env models.Envelope, excludeID string) {
	payload, err := marshalEnvelope(env)
	if err != nil {
		h.logger.Error("Could not marshal broadcast envelope", "type", env.Type, "error", err)
		return
	}

	// The read lock is held across the fan-out: unregister takes the write
	// lock before closing a send channel, so no queue can hit a closed one.
	// Each queue is non-blocking, so a slow peer cannot stall the sweep.
	h.lock.RLock()
	defer h.lock.RUnlock()

	delivered := 0
	for s := range h.sessions {
		if s.id == excludeID || !s.isAlive() {
			continue
		}
		if s.queue(payload) {
			delivered++
			continue
		}
		s.markStale()
		h.logger.Warn("Send failed, session marked stale", "session", s.id, "type", env.Type)
	}
	h.logger.Debug("Broadcast complete", "type", env.Type, "delivered", delivered, "excluded", excludeID)
}

// deliver queues a frame for a single session, verifying it is still
// registered so the send cannot race the channel close in Unregister.
func (h *Hub) deliver(s *Session, payload []byte) bool {
	h.lock.RLock()
	defer h.lock.RUnlock()
	if _, ok := h.sessions[s]; !ok {
		return false
	}
	return s.queue(payload)
}

// Size reports the number of registered sessions.
func (h *Hub) Size() int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.sessions)
}

func marshalEnvelope(env models.Envelope) ([]byte, error) {
	return json.Marshal(env)
}
