package domain

import "encoding/json"

type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "ice-candidate"
)

func (k SignalKind) Valid() bool {
	switch k {
	case SignalOffer, SignalAnswer, SignalCandidate:
		return true
	}
	return false
}

// Envelope carries one negotiation payload between the members of a room.
// The payload is opaque: the relay forwards it verbatim and only the peer
// transports interpret it.
type Envelope struct {
	Kind    SignalKind
	RoomID  RoomID
	From    ParticipantID
	Payload json.RawMessage
}

func NewEnvelope(kind SignalKind, roomID RoomID, payload json.RawMessage) Envelope {
	return Envelope{
		Kind:    kind,
		RoomID:  roomID,
		Payload: payload,
	}
}

// Routable reports whether the relay can forward the envelope at all.
func (e Envelope) Routable() bool {
	return e.Kind.Valid() && e.RoomID != "" && len(e.Payload) > 0 && string(e.Payload) != "null"
}
