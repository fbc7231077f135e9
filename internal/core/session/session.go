package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/Wyydra/tandem/internal/core/domain"
	"github.com/Wyydra/tandem/internal/core/port"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultGatherTimeout = 5 * time.Second
	eventBuffer          = 256
)

type Option func(*Session)

func WithMaxReconnectAttempts(n int) Option {
	return func(s *Session) { s.reconnector = NewReconnector(n) }
}

func WithCandidateLimit(n int) Option {
	return func(s *Session) { s.queue = NewCandidateQueue(n) }
}

// WithGatherTimeout bounds how long an offer waits for candidate
// gathering before it is sent with what has been gathered so far.
func WithGatherTimeout(d time.Duration) Option {
	return func(s *Session) { s.gatherTimeout = d }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// Session is the peer-facing API. Every state change, whether it comes
// from a caller, the relay or the transport, runs on the goroutine that
// executes Run, so the negotiator and candidate queue are never mutated
// concurrently.
type Session struct {
	signal        port.SignalChannel
	factory       port.TransportFactory
	queue         *CandidateQueue
	neg           *Negotiator
	reconnector   *Reconnector
	gatherTimeout time.Duration
	logger        zerolog.Logger

	events chan func()
	done   chan struct{}
	ctx    context.Context

	// Owned by the Run goroutine.
	role      domain.Role
	roomID    domain.RoomID
	inputs    signals
	published domain.ConnectionState
	users     domain.Users

	handlersMu sync.RWMutex
	onMessage  []func(text string)
	onState    []func(state domain.ConnectionState)
	onUsers    []func(users domain.Users)
	onError    []func(err error)
}

func New(signal port.SignalChannel, factory port.TransportFactory, opts ...Option) *Session {
	s := &Session{
		signal:        signal,
		factory:       factory,
		queue:         NewCandidateQueue(DefaultCandidateLimit),
		reconnector:   NewReconnector(DefaultMaxReconnectAttempts),
		gatherTimeout: DefaultGatherTimeout,
		logger:        log.Logger,
		events:        make(chan func(), eventBuffer),
		done:          make(chan struct{}),
		ctx:           context.Background(),
		published:     domain.StateDisconnected,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("participant_id", signal.ID().String()).Logger()
	s.neg = NewNegotiator(signal, s.queue)
	return s
}

// Run processes events until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	s.ctx = ctx
	defer func() {
		s.neg.Close()
		close(s.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-s.events:
			fn()
		}
	}
}

func (s *Session) OnMessage(fn func(text string)) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.onMessage = append(s.onMessage, fn)
}

func (s *Session) OnConnectionState(fn func(state domain.ConnectionState)) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.onState = append(s.onState, fn)
}

func (s *Session) OnUsers(fn func(users domain.Users)) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.onUsers = append(s.onUsers, fn)
}

func (s *Session) OnError(fn func(err error)) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.onError = append(s.onError, fn)
}

// CreateRoom opens a room named after this peer and starts offering into
// it.
func (s *Session) CreateRoom(ctx context.Context) (domain.RoomID, error) {
	roomID := domain.RoomFor(s.signal.ID())
	err := s.do(ctx, func() error {
		s.enter(domain.RoleCreator, roomID)
		if err := s.signal.Join(ctx, roomID); err != nil {
			return err
		}
		return s.offer()
	})
	if err != nil {
		return "", err
	}
	return roomID, nil
}

// JoinRoom joins an existing room and waits for its creator's offer.
func (s *Session) JoinRoom(ctx context.Context, roomID domain.RoomID) error {
	return s.do(ctx, func() error {
		s.enter(domain.RoleJoiner, roomID)
		if err := s.signal.Join(ctx, roomID); err != nil {
			return err
		}
		return s.rebuild()
	})
}

// SendMessage writes text to the data channel. It reports false when the
// channel is not open or the write failed.
func (s *Session) SendMessage(text string) bool {
	err := s.do(context.Background(), func() error {
		if s.inputs.channel != domain.ChannelOpen {
			return ErrChannelNotOpen
		}
		return s.neg.Send(text)
	})
	if err != nil {
		s.logger.Debug().Err(err).Msg("Message not sent")
		return false
	}
	return true
}

// Reconnect tears the negotiation down and replays this peer's role in its
// room. After the retry budget is spent it fails with ErrReconnectExhausted
// without touching the negotiation.
func (s *Session) Reconnect(ctx context.Context) error {
	err := s.reconnector.Attempt(ctx, func(ctx context.Context) error {
		return s.do(ctx, s.restart)
	})
	if err != nil {
		s.logger.Warn().Err(err).Int("attempts", s.reconnector.Attempts()).Msg("Reconnect failed")
		s.notifyError(err)
	}
	return err
}

// UpdateUserInfo publishes display metadata, broadcasting it to the
// current room if there is one.
func (s *Session) UpdateUserInfo(ctx context.Context, nickname, color string) error {
	return s.do(ctx, func() error {
		return s.signal.UpdateUserInfo(ctx, nickname, color, s.roomID)
	})
}

// ConnectionState returns the last published state.
func (s *Session) ConnectionState() domain.ConnectionState {
	var state domain.ConnectionState
	if err := s.do(context.Background(), func() error {
		state = s.published
		return nil
	}); err != nil {
		return domain.StateDisconnected
	}
	return state
}

// Room returns the current room and this peer's role in it. A closed
// session reports no room and RoleNone.
func (s *Session) Room() (domain.RoomID, domain.Role) {
	var (
		roomID domain.RoomID
		role   domain.Role
	)
	if err := s.do(context.Background(), func() error {
		roomID, role = s.roomID, s.role
		return nil
	}); err != nil {
		return "", domain.RoleNone
	}
	return roomID, role
}

// Users returns the last user view broadcast for the room, or nil once the
// session is closed.
func (s *Session) Users() domain.Users {
	var users domain.Users
	if err := s.do(context.Background(), func() error {
		users = make(domain.Users, len(s.users))
		for id, info := range s.users {
			users[id] = info
		}
		return nil
	}); err != nil {
		return nil
	}
	return users
}

// ReconnectAttempts reports the current value of the retry counter.
func (s *Session) ReconnectAttempts() int {
	return s.reconnector.Attempts()
}

func (s *Session) HandleEnvelope(env domain.Envelope) {
	s.post(func() { s.handleEnvelope(env) })
}

func (s *Session) HandleUsers(users domain.Users) {
	s.post(func() {
		s.users = users
		s.handlersMu.RLock()
		defer s.handlersMu.RUnlock()
		for _, fn := range s.onUsers {
			fn(users)
		}
	})
}

func (s *Session) HandlePeerJoined(id domain.ParticipantID) {
	s.post(func() { s.handlePeerJoined(id) })
}

func (s *Session) handleEnvelope(env domain.Envelope) {
	l := s.logger.With().Str("kind", string(env.Kind)).Str("from", env.From.String()).Str("state", s.neg.State().String()).Logger()

	var err error
	switch env.Kind {
	case domain.SignalOffer:
		if s.neg.IsRepeatedOffer(env.Payload) {
			err = s.neg.ResendAnswer(s.ctx)
			break
		}
		// A fresh offer supersedes whatever this side was doing. An Idle
		// negotiator keeps its transport so queued candidates survive.
		if s.neg.State() != StateIdle || !s.neg.HasTransport() {
			carried := s.neg.TakeCarried()
			if err := s.rebuild(); err != nil {
				s.failed(err)
				return
			}
			s.neg.Replay(carried)
		}
		err = s.neg.HandleOffer(s.ctx, env.Payload)
	case domain.SignalAnswer:
		err = s.neg.HandleAnswer(env.Payload)
	case domain.SignalCandidate:
		err = s.neg.HandleCandidate(env.Payload)
	default:
		l.Debug().Msg("Ignoring unknown envelope")
		return
	}

	switch {
	case err == nil:
		l.Debug().Str("next", s.neg.State().String()).Msg("Applied envelope")
	case errors.Is(err, ErrUnexpectedSignal):
		l.Debug().Err(err).Msg("Ignoring envelope")
	default:
		s.failed(err)
	}
}

func (s *Session) handlePeerJoined(id domain.ParticipantID) {
	if s.role != domain.RoleCreator || id == s.signal.ID() {
		return
	}
	s.logger.Debug().Str("peer_id", id.String()).Str("state", s.neg.State().String()).Msg("Peer joined")

	switch s.neg.State() {
	case StateOffering:
		// The offer goes out once gathering completes.
	case StateAwaitingAnswer:
		if err := s.neg.ResendOffer(s.ctx); err != nil {
			s.failed(err)
		}
	default:
		if err := s.offer(); err != nil {
			s.failed(err)
		}
	}
}

// enter records the room and role a reconnect will replay.
func (s *Session) enter(role domain.Role, roomID domain.RoomID) {
	s.role = role
	s.roomID = roomID
	s.neg.Bind(roomID)
	s.logger.Info().Str("room_id", roomID.String()).Str("role", role.String()).Msg("Entering room")
}

func (s *Session) restart() error {
	if s.roomID == "" {
		return s.rebuild()
	}
	if err := s.signal.Join(s.ctx, s.roomID); err != nil {
		return err
	}
	if s.role == domain.RoleCreator {
		return s.offer()
	}
	return s.rebuild()
}

// rebuild installs a fresh transport and resets the observed signals.
func (s *Session) rebuild() error {
	gen, err := s.neg.Reset(func(generation uint64) (port.PeerTransport, error) {
		return s.factory.NewTransport(&transportEvents{session: s, generation: generation})
	})
	s.inputs = freshSignals()
	if err != nil {
		s.inputs = signals{}
	}
	s.publish()
	if err != nil {
		return err
	}
	s.logger.Debug().Uint64("generation", gen).Msg("Transport rebuilt")
	return nil
}

// offer restarts negotiation as the offering side.
func (s *Session) offer() error {
	if err := s.rebuild(); err != nil {
		return err
	}
	gathered, gen, err := s.neg.StartOffer()
	if err != nil {
		s.inputs = signals{}
		s.publish()
		return err
	}

	go func() {
		timer := time.NewTimer(s.gatherTimeout)
		defer timer.Stop()
		select {
		case <-gathered:
		case <-timer.C:
			s.logger.Debug().Uint64("generation", gen).Msg("Gathering timed out, sending partial offer")
		case <-s.done:
			return
		}
		s.post(func() { s.completeOffer(gen) })
	}()
	return nil
}

func (s *Session) completeOffer(gen uint64) {
	err := s.neg.CompleteOffer(s.ctx, gen)
	switch {
	case err == nil:
		s.logger.Debug().Uint64("generation", gen).Msg("Offer sent")
	case errors.Is(err, ErrStaleNegotiation):
		s.logger.Debug().Uint64("generation", gen).Msg("Discarding stale offer")
	default:
		s.failed(err)
	}
}

// failed reports a negotiation failure once. The negotiator is already
// Idle; recovery is up to the caller.
func (s *Session) failed(err error) {
	s.inputs = signals{}
	s.publish()
	s.notifyError(err)
}

// publish recomputes the connection state and notifies subscribers when it
// changed.
func (s *Session) publish() {
	state := s.inputs.observe()
	if state == s.published {
		return
	}
	s.logger.Info().Str("from", string(s.published)).Str("to", string(state)).Msg("Connection state changed")
	s.published = state

	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	for _, fn := range s.onState {
		fn(state)
	}
}

func (s *Session) notifyError(err error) {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	for _, fn := range s.onError {
		fn(err)
	}
}

// do runs fn on the session goroutine and waits for its result.
func (s *Session) do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	select {
	case s.events <- func() { result <- fn() }:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) post(fn func()) {
	select {
	case s.events <- fn:
	case <-s.done:
	}
}

// transportEvents forwards callbacks from one transport generation onto
// the session goroutine, dropping them once that generation is superseded.
type transportEvents struct {
	session    *Session
	generation uint64
}

func (t *transportEvents) run(fn func(s *Session)) {
	s := t.session
	s.post(func() {
		if t.generation != s.neg.Generation() {
			return
		}
		fn(s)
	})
}

func (t *transportEvents) LocalCandidate(candidate json.RawMessage) {
	t.run(func(s *Session) {
		// An offer is sent once gathering completes with its candidates
		// bundled, so nothing trickles ahead of it.
		if s.roomID == "" || s.neg.State() == StateOffering {
			return
		}
		env := domain.NewEnvelope(domain.SignalCandidate, s.roomID, candidate)
		if err := s.signal.Signal(s.ctx, env); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to send candidate")
		}
	})
}

func (t *transportEvents) TransportStateChanged(state domain.TransportState) {
	t.run(func(s *Session) {
		s.inputs.transport = state
		s.publish()
	})
}

func (t *transportEvents) CheckingStateChanged(state domain.CheckingState) {
	t.run(func(s *Session) {
		s.inputs.checking = state
		s.publish()
	})
}

func (t *transportEvents) ChannelStateChanged(state domain.ChannelState) {
	t.run(func(s *Session) {
		s.inputs.channel = state
		if state == domain.ChannelOpen {
			s.neg.MarkEstablished()
		}
		s.publish()
	})
}

func (t *transportEvents) MessageReceived(text string) {
	t.run(func(s *Session) {
		s.handlersMu.RLock()
		defer s.handlersMu.RUnlock()
		for _, fn := range s.onMessage {
			fn(text)
		}
	})
}
