package dispatch

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/glass-allocation/internal/models"
)

// WSSession represents a connected shop session
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(offer models.JobOffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(offer)
}

// WSRegistry holds shop sessions
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	return &WSRegistry{sessions: make(map[string]*WSSession), logger: logger}
}

func (r *WSRegistry) Add(shopID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[shopID] = &WSSession{conn: conn}
}

func (r *WSRegistry) Remove(shopID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, shopID)
}

func (r *WSRegistry) Notify(offer models.JobOffer) error {
	r.mu.RLock()
	s, ok := r.sessions[offer.ShopID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(offer); err != nil {
		if r.logger != nil {
			r.logger.Error("ws send failed", "shop_id", offer.ShopID, "offer_id", offer.ID, "error", err)
		}
		return err
	}
	return nil
}

var ErrNoSession = &NoSessionError{}

type NoSessionError struct{}

func (n *NoSessionError) Error() string { return "no ws session" }
