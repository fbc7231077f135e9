package domain

import (
	"github.com/google/uuid"
)

// ParticipantID is assigned by the relay when a socket connects and stays
// stable for the lifetime of that connection.
type ParticipantID string

// RoomID names a room. Rooms created by a peer are named after the
// creator's ParticipantID.
type RoomID string

func NewParticipantID() ParticipantID {
	return ParticipantID(uuid.New().String())
}

// RoomFor returns the room a participant creates when it opens a room.
func RoomFor(id ParticipantID) RoomID {
	return RoomID(id)
}

func (id ParticipantID) String() string {
	return string(id)
}

func (id RoomID) String() string {
	return string(id)
}
