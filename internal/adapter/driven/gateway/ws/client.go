package ws

import (
	"errors"

	"github.com/Wyydra/tandem/internal/core/domain"
	"github.com/Wyydra/tandem/internal/protocol"
)

var (
	ErrBufferFull    = errors.New("send buffer full")
	ErrClientClosed  = errors.New("client closed")
	ErrUnknownClient = errors.New("client not connected")
)

// Client is one connected participant as seen by the hub.
type Client interface {
	ID() domain.ParticipantID
	// Deliver queues a frame without blocking.
	Deliver(msg *protocol.Message) error
	Close() error
}
