package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/Wyydra/tandem/internal/adapter/driven/registry/memory"
	"github.com/Wyydra/tandem/internal/core/domain"
	"github.com/Wyydra/tandem/internal/core/port"
	"github.com/Wyydra/tandem/internal/core/service"
)

// testGateway delivers relay output straight into session sinks.
type testGateway struct {
	mu    sync.RWMutex
	sinks map[domain.ParticipantID]port.SignalSink
}

func newTestGateway() *testGateway {
	return &testGateway{sinks: make(map[domain.ParticipantID]port.SignalSink)}
}

func (g *testGateway) attach(id domain.ParticipantID, sink port.SignalSink) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sinks[id] = sink
}

func (g *testGateway) sink(id domain.ParticipantID) (port.SignalSink, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	sink, ok := g.sinks[id]
	if !ok {
		return nil, fmt.Errorf("no sink for %s", id)
	}
	return sink, nil
}

func (g *testGateway) SendSignal(ctx context.Context, to domain.ParticipantID, env domain.Envelope) error {
	sink, err := g.sink(to)
	if err != nil {
		return err
	}
	sink.HandleEnvelope(env)
	return nil
}

func (g *testGateway) SendUsers(ctx context.Context, to domain.ParticipantID, users domain.Users) error {
	sink, err := g.sink(to)
	if err != nil {
		return err
	}
	sink.HandleUsers(users)
	return nil
}

func (g *testGateway) NotifyPeerJoined(ctx context.Context, to domain.ParticipantID, joined domain.ParticipantID) error {
	sink, err := g.sink(to)
	if err != nil {
		return err
	}
	sink.HandlePeerJoined(joined)
	return nil
}

// testSignal is a SignalChannel wired directly to a RelayService.
type testSignal struct {
	id    domain.ParticipantID
	relay *service.RelayService

	mu   sync.Mutex
	sent []domain.Envelope
	fail error
}

func (c *testSignal) ID() domain.ParticipantID { return c.id }

func (c *testSignal) Join(ctx context.Context, roomID domain.RoomID) error {
	if err := c.err(); err != nil {
		return err
	}
	c.relay.Join(ctx, c.id, roomID)
	return nil
}

func (c *testSignal) Signal(ctx context.Context, env domain.Envelope) error {
	if err := c.err(); err != nil {
		return err
	}
	env.From = c.id
	c.mu.Lock()
	c.sent = append(c.sent, env)
	c.mu.Unlock()
	c.relay.Forward(ctx, env)
	return nil
}

func (c *testSignal) UpdateUserInfo(ctx context.Context, nickname, color string, roomID domain.RoomID) error {
	if err := c.err(); err != nil {
		return err
	}
	c.relay.UpdateMetadata(ctx, c.id, nickname, color, roomID)
	return nil
}

func (c *testSignal) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fail
}

func (c *testSignal) setFail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = err
}

func (c *testSignal) sentKinds() []domain.SignalKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	kinds := make([]domain.SignalKind, 0, len(c.sent))
	for _, env := range c.sent {
		kinds = append(kinds, env.Kind)
	}
	return kinds
}

// fakeDescription is the opaque payload fake transports exchange.
type fakeDescription struct {
	Type      string `json:"type"`
	Transport int    `json:"transport"`
}

// fakeNet links fake transports by the descriptions they exchange. When an
// offerer applies an answer both ends report a connected, open channel.
type fakeNet struct {
	mu         sync.Mutex
	next       int
	transports map[int]*fakeTransport
}

func newFakeNet() *fakeNet {
	return &fakeNet{transports: make(map[int]*fakeTransport)}
}

func (n *fakeNet) add(events port.TransportEvents) *fakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.next++
	t := &fakeTransport{
		net:      n,
		id:       n.next,
		events:   events,
		gathered: make(chan struct{}),
	}
	n.transports[t.id] = t
	return t
}

func (n *fakeNet) lookup(id int) *fakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.transports[id]
}

type fakeTransport struct {
	net      *fakeNet
	id       int
	events   port.TransportEvents
	gathered chan struct{}

	mu          sync.Mutex
	channel     bool
	open        bool
	closed      bool
	local       json.RawMessage
	remoteSet   bool
	peer        *fakeTransport
	candidates  []json.RawMessage
	failApply   error
	failAddCand error
}

func (t *fakeTransport) description(kind string) json.RawMessage {
	raw, _ := json.Marshal(fakeDescription{Type: kind, Transport: t.id})
	return raw
}

func (t *fakeTransport) OpenChannel(label string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channel = true
	return nil
}

func (t *fakeTransport) CreateOffer() (json.RawMessage, error) {
	t.mu.Lock()
	t.local = t.description("offer")
	t.mu.Unlock()

	t.events.LocalCandidate(json.RawMessage(fmt.Sprintf(`{"candidate":"offer-%d"}`, t.id)))
	close(t.gathered)
	return t.local, nil
}

func (t *fakeTransport) CreateAnswer() (json.RawMessage, error) {
	t.mu.Lock()
	t.local = t.description("answer")
	t.mu.Unlock()

	t.events.LocalCandidate(json.RawMessage(fmt.Sprintf(`{"candidate":"answer-%d"}`, t.id)))
	close(t.gathered)
	return t.local, nil
}

func (t *fakeTransport) GatheringComplete() <-chan struct{} { return t.gathered }

func (t *fakeTransport) LocalDescription() json.RawMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.local
}

func (t *fakeTransport) ApplyRemoteDescription(desc json.RawMessage) error {
	t.mu.Lock()
	if t.failApply != nil {
		t.mu.Unlock()
		return t.failApply
	}
	var d fakeDescription
	if err := json.Unmarshal(desc, &d); err != nil {
		t.mu.Unlock()
		return err
	}
	peer := t.net.lookup(d.Transport)
	t.peer = peer
	t.remoteSet = true
	t.mu.Unlock()

	t.events.TransportStateChanged(domain.TransportConnecting)
	t.events.CheckingStateChanged(domain.CheckingChecking)

	if d.Type == "answer" && peer != nil {
		peer.mu.Lock()
		peer.peer = t
		peer.mu.Unlock()
		t.connect()
		peer.connect()
	}
	return nil
}

func (t *fakeTransport) connect() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.open = true
	t.mu.Unlock()

	t.events.TransportStateChanged(domain.TransportConnected)
	t.events.CheckingStateChanged(domain.CheckingConnected)
	t.events.ChannelStateChanged(domain.ChannelOpen)
}

func (t *fakeTransport) AddCandidate(candidate json.RawMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.remoteSet {
		return errors.New("candidate before remote description")
	}
	if t.failAddCand != nil {
		return t.failAddCand
	}
	t.candidates = append(t.candidates, candidate)
	return nil
}

func (t *fakeTransport) Send(text string) error {
	t.mu.Lock()
	open, peer := t.open, t.peer
	t.mu.Unlock()
	if !open || peer == nil {
		return ErrChannelNotOpen
	}
	peer.events.MessageReceived(text)
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.open = false
	return nil
}

// drop simulates the data channel and transport failing underneath.
func (t *fakeTransport) drop() {
	t.mu.Lock()
	t.open = false
	t.mu.Unlock()

	t.events.ChannelStateChanged(domain.ChannelClosed)
	t.events.TransportStateChanged(domain.TransportDisconnected)
	t.events.CheckingStateChanged(domain.CheckingDisconnected)
}

func (t *fakeTransport) applied() []json.RawMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]json.RawMessage(nil), t.candidates...)
}

type fakeFactory struct {
	net *fakeNet

	mu      sync.Mutex
	built   []*fakeTransport
	failing int
	calls   int
}

func (f *fakeFactory) NewTransport(events port.TransportEvents) (port.PeerTransport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failing > 0 {
		f.failing--
		return nil, errors.New("transport unavailable")
	}
	t := f.net.add(events)
	f.built = append(f.built, t)
	return t, nil
}

func (f *fakeFactory) last() *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.built) == 0 {
		return nil
	}
	return f.built[len(f.built)-1]
}

func (f *fakeFactory) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFactory) failNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = n
}

// testRelay bundles an in-process relay for session tests.
type testRelay struct {
	registry *memory.RoomRegistry
	gateway  *testGateway
	relay    *service.RelayService
	net      *fakeNet
}

func newTestRelay() *testRelay {
	registry := memory.NewRoomRegistry()
	gateway := newTestGateway()
	return &testRelay{
		registry: registry,
		gateway:  gateway,
		relay:    service.NewRelayService(registry, gateway),
		net:      newFakeNet(),
	}
}

type testPeer struct {
	session *Session
	signal  *testSignal
	factory *fakeFactory

	messages chan string
	states   chan domain.ConnectionState
	users    chan domain.Users
	errs     chan error
}

func (r *testRelay) peer(ctx context.Context, opts ...Option) *testPeer {
	signal := &testSignal{id: r.relay.Connect(ctx), relay: r.relay}
	factory := &fakeFactory{net: r.net}
	s := New(signal, factory, opts...)
	r.gateway.attach(signal.id, s)

	p := &testPeer{
		session:  s,
		signal:   signal,
		factory:  factory,
		messages: make(chan string, 16),
		states:   make(chan domain.ConnectionState, 16),
		users:    make(chan domain.Users, 16),
		errs:     make(chan error, 16),
	}
	s.OnMessage(func(text string) { p.messages <- text })
	s.OnConnectionState(func(state domain.ConnectionState) { p.states <- state })
	s.OnUsers(func(users domain.Users) { p.users <- users })
	s.OnError(func(err error) { p.errs <- err })

	go s.Run(ctx)
	return p
}
