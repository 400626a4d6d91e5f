package hub

import (
	"context"
	"time"

	"github.com/ClearskyLabs/calsync/models"
)

// Run drives the liveness monitor: a heartbeat tick that tells every client
// the process is up, and an independent reap tick that reclaims sessions
// whose last send failed or whose peer vanished without a close frame.
// Both are read-mostly sweeps over the registry and never block on a peer.
func (h *Hub) Run(ctx context.Context) {
	heartbeat := time.NewTicker(h.cfg.Heartbeat.Interval)
	reap := time.NewTicker(h.cfg.Heartbeat.ReapInterval)
	defer heartbeat.Stop()
	defer reap.Stop()

	h.logger.Info("Liveness monitor started",
		"heartbeat_interval", h.cfg.Heartbeat.Interval,
		"reap_interval", h.cfg.Heartbeat.ReapInterval,
	)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Liveness monitor stopping")
			h.closeAll()
			return
		case <-heartbeat.C:
			h.sendHeartbeat()
		case <-reap.C:
			h.reapOnce()
		}
	}
}

// sendHeartbeat is a liveness probe, not a data message; clients are not
// required to reply.
func (h *Hub) sendHeartbeat() {
	h.Broadcast(models.Envelope{
		Type:      models.MsgHeartbeat,
		Clients:   h.Size(),
		Timestamp: models.Now(),
	}, "")
}

// reapOnce unregisters every session that is no longer ALIVE. This bounds
// memory growth from clients that disconnected without a clean close.
func (h *Hub) reapOnce() {
	h.lock.RLock()
	var dead []*Session
	for s := range h.sessions {
		switch s.liveness() {
		case stateStale, stateClosed:
			dead = append(dead, s)
		}
	}
	h.lock.RUnlock()

	for _, s := range dead {
		h.logger.Info("Reaping session", "session", s.id, "state", s.liveness().String())
		h.Unregister(s)
		if s.conn != nil {
			s.conn.Close()
		}
	}
}

func (h *Hub) closeAll() {
	h.lock.RLock()
	all := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		all = append(all, s)
	}
	h.lock.RUnlock()

	for _, s := range all {
		h.Unregister(s)
		if s.conn != nil {
			s.conn.Close()
		}
	}
}
