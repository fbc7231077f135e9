package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Wyydra/tandem/internal/core/domain"
	"github.com/redis/go-redis/v9"
)

const (
	fieldNickname = "nickname"
	fieldColor    = "personalColor"
)

// RoomRegistry stores room membership in Redis sets and user metadata in
// Redis hashes so several relay processes can share one view. Every key
// carries a TTL that is refreshed on write; abandoned rooms expire instead
// of being pruned explicitly.
type RoomRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRoomRegistry(client *redis.Client, ttl time.Duration) *RoomRegistry {
	return &RoomRegistry{
		client: client,
		ttl:    ttl,
	}
}

// Connect opens a client and checks that the server answers.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func membersKey(roomID domain.RoomID) string {
	return "room:" + roomID.String() + ":members"
}

func participantKey(id domain.ParticipantID) string {
	return "participant:" + id.String()
}

func (r *RoomRegistry) Join(ctx context.Context, roomID domain.RoomID, id domain.ParticipantID) error {
	key := membersKey(roomID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, id.String())
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("join %s: %w", roomID, err)
	}
	return nil
}

func (r *RoomRegistry) Leave(ctx context.Context, roomID domain.RoomID, id domain.ParticipantID) error {
	if err := r.client.SRem(ctx, membersKey(roomID), id.String()).Err(); err != nil {
		return fmt.Errorf("leave %s: %w", roomID, err)
	}
	return nil
}

func (r *RoomRegistry) Members(ctx context.Context, roomID domain.RoomID) ([]domain.ParticipantID, error) {
	raw, err := r.client.SMembers(ctx, membersKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("members %s: %w", roomID, err)
	}
	members := make([]domain.ParticipantID, 0, len(raw))
	for _, id := range raw {
		members = append(members, domain.ParticipantID(id))
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	return members, nil
}

func (r *RoomRegistry) SetMetadata(ctx context.Context, info domain.UserInfo) error {
	key := participantKey(info.ID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fieldNickname, info.Nickname, fieldColor, info.PersonalColor)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set metadata %s: %w", info.ID, err)
	}
	return nil
}

func (r *RoomRegistry) Forget(ctx context.Context, id domain.ParticipantID) error {
	if err := r.client.Del(ctx, participantKey(id)).Err(); err != nil {
		return fmt.Errorf("forget %s: %w", id, err)
	}
	return nil
}

func (r *RoomRegistry) Broadcastable(ctx context.Context, roomID domain.RoomID) (domain.Users, error) {
	members, err := r.Members(ctx, roomID)
	if err != nil {
		return nil, err
	}

	cmds := make([]*redis.MapStringStringCmd, len(members))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range members {
			cmds[i] = pipe.HGetAll(ctx, participantKey(id))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("broadcastable %s: %w", roomID, err)
	}

	users := make(domain.Users, len(members))
	for i, id := range members {
		fields, err := cmds[i].Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		users[id] = domain.UserInfo{
			ID:            id,
			Nickname:      fields[fieldNickname],
			PersonalColor: fields[fieldColor],
		}
	}
	return users, nil
}
