// Package protocol defines the JSON frames exchanged between peers and the
// relay over the signaling websocket.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/Wyydra/tandem/internal/core/domain"
)

// Message is one websocket frame.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event names.
const (
	EventConnect        = "connect"
	EventJoin           = "join"
	EventOffer          = "offer"
	EventAnswer         = "answer"
	EventCandidate      = "ice-candidate"
	EventUpdateUserInfo = "update_user_info"
	EventUsers          = "users"
	EventPeerJoined     = "peer-joined"
)

// ConnectPayload announces the identifier the relay assigned.
type ConnectPayload struct {
	ID string `json:"id"`
}

// PeerJoinedPayload tells existing members that someone joined.
type PeerJoinedPayload struct {
	ID string `json:"id"`
}

// SignalPayload carries an offer, answer or candidate. Outbound frames set
// RoomID, inbound frames set From. Exactly one of Offer, Answer and
// Candidate is populated, matching the frame's event.
type SignalPayload struct {
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	RoomID    string          `json:"roomId,omitempty"`
	From      string          `json:"from,omitempty"`
}

// UserInfoPayload updates display metadata; RoomID is optional.
type UserInfoPayload struct {
	Nickname      string `json:"nickname"`
	PersonalColor string `json:"personalColor"`
	RoomID        string `json:"roomId,omitempty"`
}

// UsersPayload is the full user view of a room.
type UsersPayload map[string]domain.UserInfo

// New encodes data into a frame.
func New(event string, data any) (*Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return &Message{Event: event, Data: raw}, nil
}

// Decode unmarshals the frame's data into v.
func (m *Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("decode %s: empty data", m.Event)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", m.Event, err)
	}
	return nil
}
