package port

import (
	"context"

	"github.com/Wyydra/tandem/internal/core/domain"
)

// RoomRegistry maps rooms to their members and participants to their
// display metadata. Implementations must make every single call atomic;
// callers that need several calls to observe one snapshot serialize per
// room themselves.
type RoomRegistry interface {
	// Join adds the participant to the room, creating the room if needed.
	// Joining twice is a no-op.
	Join(ctx context.Context, roomID domain.RoomID, id domain.ParticipantID) error
	// Leave removes the participant. Unknown rooms or participants are a no-op.
	Leave(ctx context.Context, roomID domain.RoomID, id domain.ParticipantID) error
	// Members returns a snapshot of the room's member set.
	Members(ctx context.Context, roomID domain.RoomID) ([]domain.ParticipantID, error)
	SetMetadata(ctx context.Context, info domain.UserInfo) error
	// Forget discards a participant's metadata.
	Forget(ctx context.Context, id domain.ParticipantID) error
	// Broadcastable returns the metadata of every member that has some on
	// record. Members without metadata are omitted.
	Broadcastable(ctx context.Context, roomID domain.RoomID) (domain.Users, error)
}
