package port

import (
	"context"

	"github.com/Wyydra/tandem/internal/core/domain"
)

// SignalChannel is a peer's outbound link to the relay.
type SignalChannel interface {
	// ID is the identifier the relay assigned to this connection.
	ID() domain.ParticipantID
	Join(ctx context.Context, roomID domain.RoomID) error
	Signal(ctx context.Context, env domain.Envelope) error
	// UpdateUserInfo publishes display metadata. An empty roomID updates
	// the record without a broadcast.
	UpdateUserInfo(ctx context.Context, nickname, color string, roomID domain.RoomID) error
}

// SignalSink receives relay events on the peer side.
type SignalSink interface {
	HandleEnvelope(env domain.Envelope)
	HandleUsers(users domain.Users)
	HandlePeerJoined(id domain.ParticipantID)
}
