package service

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ClearskyLabs/calsync/engine"
	"github.com/ClearskyLabs/calsync/models"
)

func (s *Service) calendarHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.getCalendar(w, r)
	case http.MethodPost:
		s.updateCalendar(w, r)
	default:
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

func (s *Service) getCalendar(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, models.CalendarResponse{
		Success:   true,
		Data:      s.engine.Get(),
		Timestamp: models.Now(),
	})
}

func (s *Service) updateCalendar(w http.ResponseWriter, r *http.Request) {
	var candidate models.Document
	if err := json.NewDecoder(r.Body).Decode(&candidate); err != nil {
		s.writeJSON(w, http.StatusBadRequest, models.ErrorResponse{
			Error: "request body must be a calendar document",
		})
		return
	}

	// No originator exclusion: the HTTP caller is not a push client, so the
	// commit is broadcast to every connected session.
	commit, err := s.engine.Apply(r.Context(), &candidate, "")
	if errors.Is(err, engine.ErrInvalidFormat) {
		s.writeJSON(w, http.StatusBadRequest, models.ErrorResponse{
			Error: err.Error(),
		})
		return
	}
	if err != nil {
		s.logger.Error("Update failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{
			Error: "failed to save calendar data",
		})
		return
	}

	s.writeJSON(w, http.StatusOK, models.UpdateResponse{
		Success:      true,
		LastModified: commit.LastModified,
		Version:      commit.Version,
		Message:      "calendar data saved",
	})
}

func (s *Service) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, models.HealthResponse{
		Status:    "ok",
		Clients:   s.hub.Size(),
		UptimeSec: int64(time.Since(s.startedAt).Seconds()),
		Timestamp: models.Now(),
	})
}

func (s *Service) pingHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (s *Service) statsHandler(w http.ResponseWriter, r *http.Request) {
	doc := s.engine.Get()
	s.writeJSON(w, http.StatusOK, models.StatsResponse{
		Events:       len(doc.Events),
		Vacations:    len(doc.Vacations),
		LastModified: doc.LastModified,
		Version:      doc.Version,
		Clients:      s.hub.Size(),
	})
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Could not encode response", "error", err)
	}
}
