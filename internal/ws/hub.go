// Package ws pushes dispatch events to connected driver apps.
package ws

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"hail/internal/modules/dispatch"
	"hail/internal/types"
)

type session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *session) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// Hub tracks one live session per driver. A reconnect replaces the previous
// session. Push delivery is best effort; the polling endpoints stay the
// source of truth.
type Hub struct {
	mu       sync.RWMutex
	sessions map[types.ID]*session
	log      zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{sessions: make(map[types.ID]*session), log: log}
}

func (h *Hub) Add(driverID types.ID, conn *websocket.Conn) {
	h.mu.Lock()
	prev := h.sessions[driverID]
	h.sessions[driverID] = &session{conn: conn}
	h.mu.Unlock()
	if prev != nil {
		_ = prev.conn.Close()
	}
}

func (h *Hub) Remove(driverID types.ID, conn *websocket.Conn) {
	h.mu.Lock()
	if s, ok := h.sessions[driverID]; ok && s.conn == conn {
		delete(h.sessions, driverID)
	}
	h.mu.Unlock()
}

type offerEvent struct {
	Type  string         `json:"type"`
	Offer dispatch.Offer `json:"offer"`
}

func (h *Hub) NotifyOffer(driverID types.ID, offer dispatch.Offer) {
	h.mu.RLock()
	s, ok := h.sessions[driverID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if err := s.send(offerEvent{Type: "offer", Offer: offer}); err != nil {
		h.log.Warn().Err(err).Str("driver_id", string(driverID)).Msg("ws push failed")
	}
}
