package ws

import (
	"context"
	"sync"

	"github.com/Wyydra/tandem/internal/core/domain"
	"github.com/Wyydra/tandem/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Hub implements port.RealTimeGateway over the set of connected websocket
// clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[domain.ParticipantID]Client
	stopped bool
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[domain.ParticipantID]Client),
	}
}

func (h *Hub) Register(c Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		c.Close()
		return
	}
	h.clients[c.ID()] = c
	log.Info().Str("client_id", c.ID().String()).Int("count", len(h.clients)).Msg("Client registered")
}

func (h *Hub) Unregister(c Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.clients[c.ID()]; ok && current == c {
		delete(h.clients, c.ID())
		log.Info().Str("client_id", c.ID().String()).Int("count", len(h.clients)).Msg("Client unregistered")
	}
}

// Stop closes every client and refuses new registrations.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopped = true
	for id, client := range h.clients {
		if err := client.Close(); err != nil {
			log.Error().Err(err).Str("client_id", id.String()).Msg("Error closing client connection")
		}
		delete(h.clients, id)
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) SendSignal(ctx context.Context, to domain.ParticipantID, env domain.Envelope) error {
	msg, err := protocol.Inbound(env)
	if err != nil {
		return err
	}
	return h.deliver(to, msg)
}

func (h *Hub) SendUsers(ctx context.Context, to domain.ParticipantID, users domain.Users) error {
	msg, err := protocol.New(protocol.EventUsers, protocol.Users(users))
	if err != nil {
		return err
	}
	return h.deliver(to, msg)
}

func (h *Hub) NotifyPeerJoined(ctx context.Context, to domain.ParticipantID, joined domain.ParticipantID) error {
	msg, err := protocol.New(protocol.EventPeerJoined, protocol.PeerJoinedPayload{ID: joined.String()})
	if err != nil {
		return err
	}
	return h.deliver(to, msg)
}

func (h *Hub) deliver(to domain.ParticipantID, msg *protocol.Message) error {
	h.mu.RLock()
	client, ok := h.clients[to]
	h.mu.RUnlock()
	if !ok {
		return ErrUnknownClient
	}
	return client.Deliver(msg)
}
