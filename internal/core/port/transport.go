package port

import (
	"encoding/json"

	"github.com/Wyydra/tandem/internal/core/domain"
)

// PeerTransport is one attempt at a direct peer connection. Descriptions
// and candidates are opaque JSON owned by the implementation.
type PeerTransport interface {
	// OpenChannel creates the data channel on the offering side.
	OpenChannel(label string) error
	// CreateOffer builds an offer and applies it as the local description.
	CreateOffer() (json.RawMessage, error)
	// CreateAnswer builds an answer and applies it as the local description.
	CreateAnswer() (json.RawMessage, error)
	// GatheringComplete is closed once local candidate gathering finishes.
	GatheringComplete() <-chan struct{}
	// LocalDescription returns the current local description including
	// every candidate gathered so far.
	LocalDescription() json.RawMessage
	ApplyRemoteDescription(desc json.RawMessage) error
	AddCandidate(candidate json.RawMessage) error
	Send(text string) error
	Close() error
}

// TransportEvents receives asynchronous notifications from a PeerTransport.
type TransportEvents interface {
	LocalCandidate(candidate json.RawMessage)
	TransportStateChanged(state domain.TransportState)
	CheckingStateChanged(state domain.CheckingState)
	ChannelStateChanged(state domain.ChannelState)
	MessageReceived(text string)
}

type TransportFactory interface {
	NewTransport(events TransportEvents) (PeerTransport, error)
}
