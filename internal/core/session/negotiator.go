package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/Wyydra/tandem/internal/core/domain"
	"github.com/Wyydra/tandem/internal/core/port"
	"github.com/rs/zerolog/log"
)

// ChannelLabel names the data channel the offering side opens.
const ChannelLabel = "messageChannel"

type NegotiationState int

const (
	StateIdle NegotiationState = iota
	StateOffering
	StateAwaitingAnswer
	StateNegotiating
	StateEstablished
)

func (s NegotiationState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOffering:
		return "offering"
	case StateAwaitingAnswer:
		return "awaiting-answer"
	case StateNegotiating:
		return "negotiating"
	case StateEstablished:
		return "established"
	}
	return fmt.Sprintf("NegotiationState(%d)", int(s))
}

// Negotiator drives the offer/answer/candidate exchange for one peer
// session. It is not safe for concurrent use; the owning Session calls it
// from a single goroutine.
//
// Every transport built for the negotiator is tagged with a generation.
// Reset and failures bump the generation so completions and events from a
// superseded attempt can be recognised and discarded.
type Negotiator struct {
	signal port.SignalChannel
	queue  *CandidateQueue

	transport  port.PeerTransport
	state      NegotiationState
	generation uint64
	remoteSet  bool
	roomID     domain.RoomID
	offer      json.RawMessage

	// remoteOffer and answer remember the last exchange on the answering
	// side so a repeated offer can be recognised.
	remoteOffer json.RawMessage
	answer      json.RawMessage

	// carried holds candidates applied on the answering side since its
	// offer. A superseding offer replays them onto the new transport.
	carried []json.RawMessage
	replay  []json.RawMessage
}

func NewNegotiator(signal port.SignalChannel, queue *CandidateQueue) *Negotiator {
	return &Negotiator{
		signal: signal,
		queue:  queue,
	}
}

func (n *Negotiator) State() NegotiationState { return n.state }
func (n *Negotiator) Generation() uint64      { return n.generation }
func (n *Negotiator) HasTransport() bool      { return n.transport != nil }
func (n *Negotiator) RemoteDescribed() bool   { return n.remoteSet }

// Bind sets the room outgoing envelopes are addressed to.
func (n *Negotiator) Bind(roomID domain.RoomID) {
	n.roomID = roomID
}

// Reset discards all in-flight state, empties the candidate queue and
// installs a transport built for the new generation.
func (n *Negotiator) Reset(build func(generation uint64) (port.PeerTransport, error)) (uint64, error) {
	n.teardown()

	t, err := build(n.generation)
	if err != nil {
		return n.generation, &NegotiationError{Op: "create transport", Generation: n.generation, Err: err}
	}
	n.transport = t
	return n.generation, nil
}

// Close tears down the transport and leaves the negotiator Idle.
func (n *Negotiator) Close() {
	n.teardown()
}

// StartOffer moves Idle to Offering: it opens the data channel and applies
// a local offer. The returned channel closes when candidate gathering is
// done; the caller then invokes CompleteOffer with the returned generation.
func (n *Negotiator) StartOffer() (<-chan struct{}, uint64, error) {
	if n.transport == nil {
		return nil, n.generation, ErrNoTransport
	}
	if n.state != StateIdle {
		return nil, n.generation, fmt.Errorf("start offer in %s: %w", n.state, ErrUnexpectedSignal)
	}
	n.state = StateOffering

	if err := n.transport.OpenChannel(ChannelLabel); err != nil {
		return nil, n.generation, n.fail("open channel", err)
	}
	if _, err := n.transport.CreateOffer(); err != nil {
		return nil, n.generation, n.fail("create offer", err)
	}
	return n.transport.GatheringComplete(), n.generation, nil
}

// CompleteOffer sends the offer, with every gathered candidate bundled in,
// once gathering for generation finished.
func (n *Negotiator) CompleteOffer(ctx context.Context, generation uint64) error {
	if generation != n.generation || n.state != StateOffering {
		return ErrStaleNegotiation
	}

	offer := n.transport.LocalDescription()
	if err := n.send(ctx, domain.SignalOffer, offer); err != nil {
		return n.fail("send offer", err)
	}
	n.offer = offer
	n.state = StateAwaitingAnswer
	return nil
}

// ResendOffer repeats the last offer for peers that joined after it was
// first sent.
func (n *Negotiator) ResendOffer(ctx context.Context) error {
	if n.state != StateAwaitingAnswer || n.offer == nil {
		return fmt.Errorf("resend offer in %s: %w", n.state, ErrUnexpectedSignal)
	}
	if err := n.send(ctx, domain.SignalOffer, n.offer); err != nil {
		return n.fail("send offer", err)
	}
	return nil
}

// HandleOffer answers a remote offer. Only an Idle negotiator accepts one.
func (n *Negotiator) HandleOffer(ctx context.Context, offer json.RawMessage) error {
	if n.transport == nil {
		return ErrNoTransport
	}
	if n.state != StateIdle {
		return fmt.Errorf("offer in %s: %w", n.state, ErrUnexpectedSignal)
	}

	if err := n.applyRemote(offer); err != nil {
		return err
	}

	answer, err := n.transport.CreateAnswer()
	if err != nil {
		return n.fail("create answer", err)
	}
	if err := n.send(ctx, domain.SignalAnswer, answer); err != nil {
		return n.fail("send answer", err)
	}
	n.remoteOffer = offer
	n.answer = answer
	n.state = StateNegotiating
	return nil
}

// IsRepeatedOffer reports whether offer is the one this side already
// answered.
func (n *Negotiator) IsRepeatedOffer(offer json.RawMessage) bool {
	return n.answer != nil && bytes.Equal(n.remoteOffer, offer)
}

// ResendAnswer repeats the answer to a repeated offer.
func (n *Negotiator) ResendAnswer(ctx context.Context) error {
	if n.answer == nil {
		return fmt.Errorf("resend answer in %s: %w", n.state, ErrUnexpectedSignal)
	}
	if err := n.send(ctx, domain.SignalAnswer, n.answer); err != nil {
		return n.fail("send answer", err)
	}
	return nil
}

// HandleAnswer applies the remote answer to our offer.
func (n *Negotiator) HandleAnswer(answer json.RawMessage) error {
	if n.state != StateOffering && n.state != StateAwaitingAnswer {
		return fmt.Errorf("answer in %s: %w", n.state, ErrUnexpectedSignal)
	}
	if err := n.applyRemote(answer); err != nil {
		return err
	}
	n.state = StateNegotiating
	return nil
}

// HandleCandidate applies a remote candidate now if the remote description
// is in place, otherwise queues it.
func (n *Negotiator) HandleCandidate(candidate json.RawMessage) error {
	if !n.remoteSet || n.transport == nil {
		n.queue.Enqueue(candidate)
		return nil
	}
	if err := n.transport.AddCandidate(candidate); err != nil {
		return n.fail("add candidate", err)
	}
	if n.remoteOffer != nil && len(n.carried) < n.queue.limit {
		n.carried = append(n.carried, candidate)
	}
	return nil
}

// TakeCarried hands over the candidates applied since the last remote
// offer. The peer may have trickled them ahead of a re-offer.
func (n *Negotiator) TakeCarried() []json.RawMessage {
	carried := n.carried
	n.carried = nil
	return carried
}

// Replay schedules candidates to be tried once the next remote description
// is applied, after the queue. Candidates it rejects are skipped.
func (n *Negotiator) Replay(candidates []json.RawMessage) {
	n.replay = candidates
}

// MarkEstablished records that the data channel opened.
func (n *Negotiator) MarkEstablished() {
	if n.state == StateNegotiating {
		n.state = StateEstablished
	}
}

// Send writes text to the data channel.
func (n *Negotiator) Send(text string) error {
	if n.transport == nil {
		return ErrChannelNotOpen
	}
	return n.transport.Send(text)
}

func (n *Negotiator) applyRemote(desc json.RawMessage) error {
	if err := n.transport.ApplyRemoteDescription(desc); err != nil {
		return n.fail("apply remote description", err)
	}
	n.remoteSet = true

	for _, candidate := range n.queue.DrainIfReady(n.remoteSet) {
		if err := n.transport.AddCandidate(candidate); err != nil {
			return n.fail("add queued candidate", err)
		}
	}

	replay := n.replay
	n.replay = nil
	for _, candidate := range replay {
		if err := n.transport.AddCandidate(candidate); err != nil {
			log.Debug().Err(err).Uint64("generation", n.generation).Msg("Skipping replayed candidate")
		}
	}
	return nil
}

func (n *Negotiator) send(ctx context.Context, kind domain.SignalKind, payload json.RawMessage) error {
	if n.roomID == "" {
		return ErrNotInRoom
	}
	return n.signal.Signal(ctx, domain.NewEnvelope(kind, n.roomID, payload))
}

// fail returns the negotiator to Idle and wraps err for the caller.
func (n *Negotiator) fail(op string, err error) error {
	generation := n.generation
	log.Warn().Err(err).Str("op", op).Uint64("generation", generation).Str("state", n.state.String()).Msg("Negotiation failed")
	n.teardown()
	return &NegotiationError{Op: op, Generation: generation, Err: err}
}

func (n *Negotiator) teardown() {
	if n.transport != nil {
		if err := n.transport.Close(); err != nil {
			log.Debug().Err(err).Uint64("generation", n.generation).Msg("Error closing transport")
		}
		n.transport = nil
	}
	n.generation++
	n.state = StateIdle
	n.remoteSet = false
	n.offer = nil
	n.remoteOffer = nil
	n.answer = nil
	n.carried = nil
	n.replay = nil
	n.queue.Reset()
}
