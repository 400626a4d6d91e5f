package hub

import (
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ClearskyLabs/calsync/models"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 1 << 20             // Maximum message size allowed from peer; documents ride in frames.
)

type liveness int32

const (
	stateConnecting liveness = iota
	stateAlive
	stateStale
	stateClosed
)

func (l liveness) String() string {
	switch l {
	case stateConnecting:
		return "CONNECTING"
	case stateAlive:
		return "ALIVE"
	case stateStale:
		return "STALE"
	case stateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// Session is one live push client. The hub owns it; nothing else retains a
// reference beyond the duration of a broadcast call. All outbound traffic
// funnels through the buffered send channel so a slow peer can never stall
// the writer that triggered a broadcast.
type Session struct {
	id   string
	conn *websocket.Conn
	hub  *Hub

	// Buffered channel of outbound frames. Closed exactly once, by
	// unregister, under the hub registry lock.
	send chan []byte

	state    atomic.Int32
	lastSeen atomic.Int64
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) liveness() liveness {
	return liveness(s.state.Load())
}

func (s *Session) isAlive() bool {
	return s.liveness() == stateAlive
}

// markAlive transitions CONNECTING -> ALIVE. There is no way back to ALIVE
// from STALE or CLOSED; a client must reconnect to rejoin.
func (s *Session) markAlive() {
	s.state.CompareAndSwap(int32(stateConnecting), int32(stateAlive))
}

func (s *Session) markStale() {
	s.state.CompareAndSwap(int32(stateAlive), int32(stateStale))
}

func (s *Session) markClosed() {
	s.state.Store(int32(stateClosed))
}

// queue places a frame on the send channel without blocking. A full channel
// means the peer stopped draining; the send is treated as failed.
func (s *Session) queue(payload []byte) bool {
	if !s.isAlive() {
		return false
	}
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

// readPump pumps messages from the websocket connection to the hub
// dispatcher. It is the only reader of the connection.
func (s *Session) readPump() {
	defer func() {
		s.hub.Unregister(s)
		s.conn.Close()
		s.hub.logger.Info("Session read loop finished", "session", s.id, "remote_addr", s.conn.RemoteAddr())
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.lastSeen.Store(time.Now().UnixMilli())
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.hub.logger.Error("Session read error", "session", s.id, "error", err)
			} else {
				s.hub.logger.Info("Session closed by peer", "session", s.id, "error", err)
			}
			return
		}
		s.lastSeen.Store(time.Now().UnixMilli())
		s.hub.handleMessage(s, message)
	}
}

// writePump pumps frames from the send channel to the websocket connection.
// It is the only writer of the connection.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.hub.logger.Warn("Session write failed", "session", s.id, "error", err)
				s.markStale()
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.markStale()
				return
			}
		}
	}
}

// sendEnvelope marshals and queues an envelope for this session only.
func (s *Session) sendEnvelope(env models.Envelope) {
	payload, err := marshalEnvelope(env)
	if err != nil {
		s.hub.logger.Error("Could not marshal envelope", "session", s.id, "type", env.Type, "error", err)
		return
	}
	if !s.hub.deliver(s, payload) {
		s.hub.logger.Warn("Direct send failed, marking session stale", "session", s.id, "type", env.Type)
		s.markStale()
	}
}
