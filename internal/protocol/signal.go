package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/Wyydra/tandem/internal/core/domain"
)

// KindForEvent maps a frame event to a negotiation kind.
func KindForEvent(event string) (domain.SignalKind, bool) {
	switch event {
	case EventOffer:
		return domain.SignalOffer, true
	case EventAnswer:
		return domain.SignalAnswer, true
	case EventCandidate:
		return domain.SignalCandidate, true
	}
	return "", false
}

// EventForKind maps a negotiation kind to its frame event. The event names
// and kind values coincide.
func EventForKind(kind domain.SignalKind) string {
	return string(kind)
}

func (p SignalPayload) payload(kind domain.SignalKind) json.RawMessage {
	switch kind {
	case domain.SignalOffer:
		return p.Offer
	case domain.SignalAnswer:
		return p.Answer
	case domain.SignalCandidate:
		return p.Candidate
	}
	return nil
}

func newSignalPayload(env domain.Envelope) SignalPayload {
	var p SignalPayload
	switch env.Kind {
	case domain.SignalOffer:
		p.Offer = env.Payload
	case domain.SignalAnswer:
		p.Answer = env.Payload
	case domain.SignalCandidate:
		p.Candidate = env.Payload
	}
	return p
}

// Outbound builds the peer-to-relay frame for an envelope.
func Outbound(env domain.Envelope) (*Message, error) {
	if !env.Kind.Valid() {
		return nil, fmt.Errorf("encode signal: unknown kind %q", env.Kind)
	}
	p := newSignalPayload(env)
	p.RoomID = env.RoomID.String()
	return New(EventForKind(env.Kind), p)
}

// Inbound builds the relay-to-peer frame for an envelope.
func Inbound(env domain.Envelope) (*Message, error) {
	if !env.Kind.Valid() {
		return nil, fmt.Errorf("encode signal: unknown kind %q", env.Kind)
	}
	p := newSignalPayload(env)
	p.From = env.From.String()
	return New(EventForKind(env.Kind), p)
}

// Envelope decodes a signal frame in either direction. The caller decides
// which of RoomID and From it trusts.
func (m *Message) Envelope() (domain.Envelope, error) {
	kind, ok := KindForEvent(m.Event)
	if !ok {
		return domain.Envelope{}, fmt.Errorf("decode signal: unknown event %q", m.Event)
	}
	var p SignalPayload
	if err := m.Decode(&p); err != nil {
		return domain.Envelope{}, err
	}
	return domain.Envelope{
		Kind:    kind,
		RoomID:  domain.RoomID(p.RoomID),
		From:    domain.ParticipantID(p.From),
		Payload: p.payload(kind),
	}, nil
}

// Users converts a domain view into its wire form.
func Users(users domain.Users) UsersPayload {
	out := make(UsersPayload, len(users))
	for id, info := range users {
		out[id.String()] = info
	}
	return out
}

// Domain converts the wire view back.
func (u UsersPayload) Domain() domain.Users {
	out := make(domain.Users, len(u))
	for id, info := range u {
		if info.ID == "" {
			info.ID = domain.ParticipantID(id)
		}
		out[domain.ParticipantID(id)] = info
	}
	return out
}
