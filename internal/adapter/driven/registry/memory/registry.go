package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/Wyydra/tandem/internal/core/domain"
)

type room struct {
	mu      sync.Mutex
	members map[domain.ParticipantID]struct{}
	// pruned is set once the room has been removed from the registry;
	// writers holding a stale pointer must look it up again.
	pruned bool
}

// RoomRegistry keeps rooms and user metadata in process memory. Each room
// has its own lock so unrelated rooms never contend.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*room

	infoMu sync.RWMutex
	infos  map[domain.ParticipantID]domain.UserInfo
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{
		rooms: make(map[domain.RoomID]*room),
		infos: make(map[domain.ParticipantID]domain.UserInfo),
	}
}

func (r *RoomRegistry) Join(ctx context.Context, roomID domain.RoomID, id domain.ParticipantID) error {
	for {
		rm := r.getOrCreate(roomID)
		rm.mu.Lock()
		if rm.pruned {
			rm.mu.Unlock()
			continue
		}
		rm.members[id] = struct{}{}
		rm.mu.Unlock()
		return nil
	}
}

func (r *RoomRegistry) Leave(ctx context.Context, roomID domain.RoomID, id domain.ParticipantID) error {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	rm.mu.Lock()
	delete(rm.members, id)
	empty := len(rm.members) == 0 && !rm.pruned
	rm.mu.Unlock()

	if empty {
		r.prune(roomID, rm)
	}
	return nil
}

func (r *RoomRegistry) Members(ctx context.Context, roomID domain.RoomID) ([]domain.ParticipantID, error) {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	rm.mu.Lock()
	members := make([]domain.ParticipantID, 0, len(rm.members))
	for id := range rm.members {
		members = append(members, id)
	}
	rm.mu.Unlock()

	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	return members, nil
}

func (r *RoomRegistry) SetMetadata(ctx context.Context, info domain.UserInfo) error {
	r.infoMu.Lock()
	defer r.infoMu.Unlock()
	r.infos[info.ID] = info
	return nil
}

func (r *RoomRegistry) Forget(ctx context.Context, id domain.ParticipantID) error {
	r.infoMu.Lock()
	defer r.infoMu.Unlock()
	delete(r.infos, id)
	return nil
}

func (r *RoomRegistry) Broadcastable(ctx context.Context, roomID domain.RoomID) (domain.Users, error) {
	members, err := r.Members(ctx, roomID)
	if err != nil {
		return nil, err
	}

	r.infoMu.RLock()
	defer r.infoMu.RUnlock()

	users := make(domain.Users, len(members))
	for _, id := range members {
		if info, ok := r.infos[id]; ok {
			users[id] = info
		}
	}
	return users, nil
}

// Rooms returns the number of live rooms.
func (r *RoomRegistry) Rooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *RoomRegistry) getOrCreate(roomID domain.RoomID) *room {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if ok {
		return rm
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[roomID]; ok {
		return rm
	}
	rm = &room{members: make(map[domain.ParticipantID]struct{})}
	r.rooms[roomID] = rm
	return rm
}

func (r *RoomRegistry) prune(roomID domain.RoomID, rm *room) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if len(rm.members) != 0 || rm.pruned {
		return
	}
	if r.rooms[roomID] == rm {
		delete(r.rooms, roomID)
	}
	rm.pruned = true
}
