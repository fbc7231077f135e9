package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Wyydra/tandem/internal/core/domain"
	"github.com/Wyydra/tandem/internal/core/port"
)

type nopEvents struct{}

func (nopEvents) LocalCandidate(json.RawMessage) {}
func (nopEvents) TransportStateChanged(domain.TransportState) {}
func (nopEvents) CheckingStateChanged(domain.CheckingState) {}
func (nopEvents) ChannelStateChanged(domain.ChannelState) {}
func (nopEvents) MessageReceived(string) {}

func newTestNegotiator(t *testing.T) (*Negotiator, *testSignal, *fakeFactory) {
	t.Helper()
	r := newTestRelay()
	signal := &testSignal{id: r.relay.Connect(context.Background()), relay: r.relay}
	n := NewNegotiator(signal, NewCandidateQueue(DefaultCandidateLimit))
	n.Bind("room-1")
	return n, signal, &fakeFactory{net: r.net}
}

func reset(t *testing.T, n *Negotiator, f *fakeFactory) uint64 {
	t.Helper()
	gen, err := n.Reset(func(uint64) (port.PeerTransport, error) {
		return f.NewTransport(nopEvents{})
	})
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	return gen
}

func remoteOffer(t *testing.T, f *fakeFactory) json.RawMessage {
	t.Helper()
	remote := f.net.add(nopEvents{})
	offer, err := remote.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	return offer
}

func TestNegotiatorQueuesCandidatesUntilOffer(t *testing.T) {
	n, signal, f := newTestNegotiator(t)
	reset(t, n, f)
	offer := remoteOffer(t, f)

	first := json.RawMessage(`{"candidate":"a"}`)
	second := json.RawMessage(`{"candidate":"b"}`)
	for _, c := range []json.RawMessage{first, second} {
		if err := n.HandleCandidate(c); err != nil {
			t.Fatalf("HandleCandidate: %v", err)
		}
	}
	if n.queue.Len() != 2 {
		t.Fatalf("queued = %d, want 2", n.queue.Len())
	}

	if err := n.HandleOffer(context.Background(), offer); err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}
	if n.State() != StateNegotiating {
		t.Fatalf("state = %s, want negotiating", n.State())
	}
	if n.queue.Len() != 0 {
		t.Fatalf("queued after offer = %d, want 0", n.queue.Len())
	}

	applied := f.last().applied()
	if len(applied) != 2 || string(applied[0]) != string(first) || string(applied[1]) != string(second) {
		t.Fatalf("applied = %s, want [a b] in order", applied)
	}

	kinds := signal.sentKinds()
	if len(kinds) != 1 || kinds[0] != domain.SignalAnswer {
		t.Fatalf("sent = %v, want one answer", kinds)
	}

	third := json.RawMessage(`{"candidate":"c"}`)
	if err := n.HandleCandidate(third); err != nil {
		t.Fatalf("HandleCandidate after remote description: %v", err)
	}
	if got := len(f.last().applied()); got != 3 {
		t.Fatalf("applied = %d, want 3", got)
	}
}

func TestNegotiatorRejectsSignalsOutOfState(t *testing.T) {
	n, _, f := newTestNegotiator(t)
	reset(t, n, f)

	if err := n.HandleAnswer(json.RawMessage(`{}`)); !errors.Is(err, ErrUnexpectedSignal) {
		t.Fatalf("answer in idle: err = %v, want ErrUnexpectedSignal", err)
	}

	if _, _, err := n.StartOffer(); err != nil {
		t.Fatalf("StartOffer: %v", err)
	}
	if err := n.HandleOffer(context.Background(), remoteOffer(t, f)); !errors.Is(err, ErrUnexpectedSignal) {
		t.Fatalf("offer while offering: err = %v, want ErrUnexpectedSignal", err)
	}
	if _, _, err := n.StartOffer(); !errors.Is(err, ErrUnexpectedSignal) {
		t.Fatalf("second StartOffer: err = %v, want ErrUnexpectedSignal", err)
	}
	if n.State() != StateOffering {
		t.Fatalf("state = %s, want offering", n.State())
	}
}

func TestNegotiatorOfferLifecycle(t *testing.T) {
	n, signal, f := newTestNegotiator(t)
	reset(t, n, f)

	gathered, gen, err := n.StartOffer()
	if err != nil {
		t.Fatalf("StartOffer: %v", err)
	}
	<-gathered

	if err := n.CompleteOffer(context.Background(), gen); err != nil {
		t.Fatalf("CompleteOffer: %v", err)
	}
	if n.State() != StateAwaitingAnswer {
		t.Fatalf("state = %s, want awaiting-answer", n.State())
	}
	if err := n.ResendOffer(context.Background()); err != nil {
		t.Fatalf("ResendOffer: %v", err)
	}

	kinds := signal.sentKinds()
	if len(kinds) != 2 || kinds[0] != domain.SignalOffer || kinds[1] != domain.SignalOffer {
		t.Fatalf("sent = %v, want two offers", kinds)
	}

	answerer := f.net.add(nopEvents{})
	if err := answerer.ApplyRemoteDescription(f.last().LocalDescription()); err != nil {
		t.Fatalf("ApplyRemoteDescription: %v", err)
	}
	answer, _ := answerer.CreateAnswer()
	if err := n.HandleAnswer(answer); err != nil {
		t.Fatalf("HandleAnswer: %v", err)
	}
	if n.State() != StateNegotiating {
		t.Fatalf("state = %s, want negotiating", n.State())
	}
	n.MarkEstablished()
	if n.State() != StateEstablished {
		t.Fatalf("state = %s, want established", n.State())
	}
}

func TestNegotiatorDiscardsStaleCompletion(t *testing.T) {
	n, signal, f := newTestNegotiator(t)
	reset(t, n, f)

	_, gen, err := n.StartOffer()
	if err != nil {
		t.Fatalf("StartOffer: %v", err)
	}
	next := reset(t, n, f)
	if next == gen {
		t.Fatalf("generation did not advance: %d", gen)
	}

	if err := n.CompleteOffer(context.Background(), gen); !errors.Is(err, ErrStaleNegotiation) {
		t.Fatalf("CompleteOffer: err = %v, want ErrStaleNegotiation", err)
	}
	if len(signal.sentKinds()) != 0 {
		t.Fatalf("stale offer was sent")
	}
	if n.State() != StateIdle {
		t.Fatalf("state = %s, want idle", n.State())
	}
}

func TestNegotiatorFailureReturnsToIdle(t *testing.T) {
	n, _, f := newTestNegotiator(t)
	gen := reset(t, n, f)
	n.HandleCandidate(json.RawMessage(`{"candidate":"a"}`))

	f.last().failApply = errors.New("bad sdp")
	err := n.HandleOffer(context.Background(), remoteOffer(t, f))

	var negErr *NegotiationError
	if !errors.As(err, &negErr) {
		t.Fatalf("err = %v, want NegotiationError", err)
	}
	if negErr.Generation != gen {
		t.Fatalf("generation = %d, want %d", negErr.Generation, gen)
	}
	if n.State() != StateIdle || n.HasTransport() || n.RemoteDescribed() {
		t.Fatalf("negotiator not reset: state=%s transport=%v remote=%v", n.State(), n.HasTransport(), n.RemoteDescribed())
	}
	if n.queue.Len() != 0 {
		t.Fatalf("queue not emptied: %d", n.queue.Len())
	}
}

func TestNegotiatorRecognisesRepeatedOffer(t *testing.T) {
	n, signal, f := newTestNegotiator(t)
	reset(t, n, f)
	offer := remoteOffer(t, f)

	if n.IsRepeatedOffer(offer) {
		t.Fatalf("offer reported repeated before it was answered")
	}
	if err := n.HandleOffer(context.Background(), offer); err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}
	if !n.IsRepeatedOffer(offer) {
		t.Fatalf("answered offer not recognised")
	}
	if n.IsRepeatedOffer(remoteOffer(t, f)) {
		t.Fatalf("different offer reported repeated")
	}
	if err := n.ResendAnswer(context.Background()); err != nil {
		t.Fatalf("ResendAnswer: %v", err)
	}

	kinds := signal.sentKinds()
	if len(kinds) != 2 || kinds[1] != domain.SignalAnswer {
		t.Fatalf("sent = %v, want two answers", kinds)
	}
}

func TestNegotiatorReplaysCarriedCandidates(t *testing.T) {
	n, _, f := newTestNegotiator(t)
	reset(t, n, f)
	if err := n.HandleOffer(context.Background(), remoteOffer(t, f)); err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}

	trickled := json.RawMessage(`{"candidate":"t"}`)
	if err := n.HandleCandidate(trickled); err != nil {
		t.Fatalf("HandleCandidate: %v", err)
	}
	carried := n.TakeCarried()
	if len(carried) != 1 || string(carried[0]) != string(trickled) {
		t.Fatalf("carried = %s, want the trickled candidate", carried)
	}
	if again := n.TakeCarried(); len(again) != 0 {
		t.Fatalf("carried handed over twice: %s", again)
	}

	reset(t, n, f)
	n.Replay(carried)
	if err := n.HandleOffer(context.Background(), remoteOffer(t, f)); err != nil {
		t.Fatalf("HandleOffer after replay: %v", err)
	}
	if got := f.last().applied(); len(got) != 1 || string(got[0]) != string(trickled) {
		t.Fatalf("applied = %s, want the replayed candidate", got)
	}

	// A replayed candidate the new transport rejects is skipped.
	reset(t, n, f)
	f.last().failAddCand = errors.New("stale candidate")
	n.Replay(carried)
	if err := n.HandleOffer(context.Background(), remoteOffer(t, f)); err != nil {
		t.Fatalf("HandleOffer with rejected replay: %v", err)
	}
	if n.State() != StateNegotiating {
		t.Fatalf("state = %s, want negotiating", n.State())
	}
}

func TestNegotiatorRequiresRoom(t *testing.T) {
	n, _, f := newTestNegotiator(t)
	n.Bind("")
	reset(t, n, f)

	_, gen, err := n.StartOffer()
	if err != nil {
		t.Fatalf("StartOffer: %v", err)
	}
	if err := n.CompleteOffer(context.Background(), gen); !errors.Is(err, ErrNotInRoom) {
		t.Fatalf("err = %v, want ErrNotInRoom", err)
	}
}
