package hub

import (
	"encoding/json"
	"errors"

	"github.com/ClearskyLabs/calsync/engine"
	"github.com/ClearskyLabs/calsync/models"
)

const invalidFormatMessage = "invalid message format"

// handleMessage dispatches one inbound frame from a session. A bad message
// is answered with an ERROR envelope and never closes the connection.
func (h *Hub) handleMessage(s *Session, raw []byte) {
	var in models.Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		h.logger.Debug("Undecodable frame", "session", s.id, "error", err)
		s.sendEnvelope(models.Envelope{
			Type:      models.MsgError,
			Message:   invalidFormatMessage,
			Timestamp: models.Now(),
		})
		return
	}

	switch in.Type {
	case models.MsgPing:
		s.sendEnvelope(models.Envelope{
			Type:      models.MsgPong,
			Timestamp: models.Now(),
		})

	case models.MsgDataUpdate:
		h.handleDataUpdate(s, in.Data)

	default:
		// Unrecognized types are a no-op; the connection stays alive.
		h.logger.Debug("Ignoring message with unrecognized type", "session", s.id, "type", in.Type)
	}
}

func (h *Hub) handleDataUpdate(s *Session, data json.RawMessage) {
	var candidate models.Document
	if len(data) == 0 || json.Unmarshal(data, &candidate) != nil {
		s.sendEnvelope(models.Envelope{
			Type:      models.MsgError,
			Message:   invalidFormatMessage,
			Timestamp: models.Now(),
		})
		return
	}

	commit, err := h.source.Apply(h.appCtx, &candidate, s.id)
	if err != nil {
		message := "failed to apply update"
		if errors.Is(err, engine.ErrInvalidFormat) {
			message = err.Error()
		} else if errors.Is(err, engine.ErrPersistence) {
			h.logger.Error("Push update failed to persist", "session", s.id, "error", err)
		}
		s.sendEnvelope(models.Envelope{
			Type:      models.MsgError,
			Message:   message,
			Timestamp: models.Now(),
		})
		return
	}

	// The originator gets a confirmation only; Apply already broadcast the
	// committed document to everyone else.
	s.sendEnvelope(models.Envelope{
		Type:         models.MsgUpdateConfirmed,
		LastModified: commit.LastModified,
		Version:      commit.Version,
		Timestamp:    models.Now(),
	})
}
