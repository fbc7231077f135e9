package service

import (
	"context"
	"sync"

	"github.com/Wyydra/tandem/internal/core/domain"
	"github.com/Wyydra/tandem/internal/core/port"
	"github.com/rs/zerolog/log"
)

// RelayService routes negotiation envelopes and membership broadcasts
// between the participants of a room. It never inspects payloads and never
// reports delivery problems back to senders.
type RelayService struct {
	registry port.RoomRegistry
	gateway  port.RealTimeGateway
	locks    *roomLocks

	mu          sync.Mutex
	memberships map[domain.ParticipantID]map[domain.RoomID]struct{}
}

func NewRelayService(registry port.RoomRegistry, gateway port.RealTimeGateway) *RelayService {
	return &RelayService{
		registry:    registry,
		gateway:     gateway,
		locks:       newRoomLocks(),
		memberships: make(map[domain.ParticipantID]map[domain.RoomID]struct{}),
	}
}

// Connect assigns a fresh identifier to a new connection.
func (s *RelayService) Connect(ctx context.Context) domain.ParticipantID {
	id := domain.NewParticipantID()

	s.mu.Lock()
	s.memberships[id] = make(map[domain.RoomID]struct{})
	s.mu.Unlock()

	log.Info().Str("participant_id", id.String()).Msg("Participant connected")
	return id
}

// Join registers the participant in the room, tells the other members about
// it and broadcasts the updated user view to everyone in the room.
func (s *RelayService) Join(ctx context.Context, id domain.ParticipantID, roomID domain.RoomID) {
	l := log.With().Str("participant_id", id.String()).Str("room_id", roomID.String()).Logger()
	if roomID == "" {
		l.Debug().Msg("Dropping join without room")
		return
	}
	if !s.track(id, roomID) {
		l.Debug().Msg("Dropping join from unknown participant")
		return
	}

	unlock := s.locks.lock(roomID)
	defer unlock()

	if err := s.registry.Join(ctx, roomID, id); err != nil {
		l.Error().Err(err).Msg("Failed to register room member")
		return
	}
	// A disconnect may have raced this join past track.
	if !s.connected(id) {
		if err := s.registry.Leave(ctx, roomID, id); err != nil {
			l.Error().Err(err).Msg("Failed to remove room member")
		}
		return
	}

	members, err := s.registry.Members(ctx, roomID)
	if err != nil {
		l.Error().Err(err).Msg("Failed to read room members")
		return
	}
	for _, member := range members {
		if member == id {
			continue
		}
		if err := s.gateway.NotifyPeerJoined(ctx, member, id); err != nil {
			l.Warn().Err(err).Str("target_id", member.String()).Msg("Failed to notify member")
		}
	}

	l.Info().Int("count", len(members)).Msg("Participant joined room")
	s.broadcastUsers(ctx, roomID, members)
}

// UpdateMetadata records display metadata. When roomID is set the room gets
// a fresh user view.
func (s *RelayService) UpdateMetadata(ctx context.Context, id domain.ParticipantID, nickname, color string, roomID domain.RoomID) {
	info := domain.UserInfo{
		ID:            id,
		Nickname:      nickname,
		PersonalColor: color,
	}
	if err := s.registry.SetMetadata(ctx, info); err != nil {
		log.Error().Err(err).Str("participant_id", id.String()).Msg("Failed to store user info")
		return
	}
	if roomID == "" {
		return
	}

	unlock := s.locks.lock(roomID)
	defer unlock()

	members, err := s.registry.Members(ctx, roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("Failed to read room members")
		return
	}
	s.broadcastUsers(ctx, roomID, members)
}

// Forward relays an envelope to every member of its room except the sender.
func (s *RelayService) Forward(ctx context.Context, env domain.Envelope) {
	l := log.With().Str("participant_id", env.From.String()).Str("room_id", env.RoomID.String()).Str("kind", string(env.Kind)).Logger()
	if !env.Routable() {
		l.Debug().Msg("Dropping malformed envelope")
		return
	}

	members, err := s.registry.Members(ctx, env.RoomID)
	if err != nil {
		l.Error().Err(err).Msg("Failed to read room members")
		return
	}

	delivered := 0
	for _, member := range members {
		if member == env.From {
			continue
		}
		if err := s.gateway.SendSignal(ctx, member, env); err != nil {
			l.Warn().Err(err).Str("target_id", member.String()).Msg("Failed to relay envelope")
			continue
		}
		delivered++
	}
	l.Debug().Int("recipients", delivered).Msg("Relayed envelope")
}

// Disconnect removes the participant from every room it joined and
// broadcasts the remaining membership.
func (s *RelayService) Disconnect(ctx context.Context, id domain.ParticipantID) {
	s.mu.Lock()
	rooms := s.memberships[id]
	delete(s.memberships, id)
	s.mu.Unlock()

	if err := s.registry.Forget(ctx, id); err != nil {
		log.Warn().Err(err).Str("participant_id", id.String()).Msg("Failed to discard user info")
	}

	for roomID := range rooms {
		s.leave(ctx, id, roomID)
	}
	log.Info().Str("participant_id", id.String()).Int("rooms", len(rooms)).Msg("Participant disconnected")
}

// Room returns a membership snapshot.
func (s *RelayService) Room(ctx context.Context, roomID domain.RoomID) (domain.Room, error) {
	members, err := s.registry.Members(ctx, roomID)
	if err != nil {
		return domain.Room{}, err
	}
	return domain.Room{ID: roomID, Members: members}, nil
}

func (s *RelayService) leave(ctx context.Context, id domain.ParticipantID, roomID domain.RoomID) {
	unlock := s.locks.lock(roomID)
	defer unlock()

	if err := s.registry.Leave(ctx, roomID, id); err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("Failed to remove room member")
		return
	}
	members, err := s.registry.Members(ctx, roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("Failed to read room members")
		return
	}
	s.broadcastUsers(ctx, roomID, members)
}

// broadcastUsers must run under the room's lock.
func (s *RelayService) broadcastUsers(ctx context.Context, roomID domain.RoomID, members []domain.ParticipantID) {
	if len(members) == 0 {
		return
	}
	users, err := s.registry.Broadcastable(ctx, roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("Failed to build user view")
		return
	}
	for _, member := range members {
		if err := s.gateway.SendUsers(ctx, member, users); err != nil {
			log.Warn().Err(err).Str("target_id", member.String()).Msg("Failed to broadcast users")
		}
	}
}

func (s *RelayService) connected(id domain.ParticipantID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.memberships[id]
	return ok
}

// track records the membership so Disconnect can find it. It reports false
// for identifiers that never connected or already left.
func (s *RelayService) track(id domain.ParticipantID, roomID domain.RoomID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rooms, ok := s.memberships[id]
	if !ok {
		return false
	}
	rooms[roomID] = struct{}{}
	return true
}
