package domain

// UserInfo is the display metadata a participant publishes about itself.
// Both fields are peer-supplied and unauthenticated.
type UserInfo struct {
	ID            ParticipantID `json:"id"`
	Nickname      string        `json:"nickname"`
	PersonalColor string        `json:"personalColor"`
}

// Users is the broadcast view of a room: every member that has metadata on
// record, keyed by participant.
type Users map[ParticipantID]UserInfo

// Room is a read-only snapshot of a room's membership.
type Room struct {
	ID      RoomID
	Members []ParticipantID
}

func (r Room) Has(id ParticipantID) bool {
	for _, m := range r.Members {
		if m == id {
			return true
		}
	}
	return false
}
