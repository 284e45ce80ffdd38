package presence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/omnisonic/coda/internal/clock"
	"github.com/omnisonic/coda/internal/config"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Status is a member's declared availability.
type Status string

const (
	StatusActive Status = "active"
	StatusAway   Status = "away"
)

var ErrUnknownStatus = errors.New("presence: unknown status")

// ParseStatus validates a handshake status value. Empty defaults to active;
// anything else unknown is rejected rather than silently mapped.
func ParseStatus(value string) (Status, error) {
	switch value {
	case "":
		return StatusActive, nil
	case string(StatusActive):
		return StatusActive, nil
	case string(StatusAway):
		return StatusAway, nil
	default:
		return "", ErrUnknownStatus
	}
}

// Member is one live room participant as stored in the shared registry.
type Member struct {
	MemberID    string    `json:"memberId"`
	DisplayName string    `json:"displayName"`
	Status      Status    `json:"status"`
	LastSeen    time.Time `json:"lastSeen"`
}

// Store is the cross-process room membership registry. Every operation is a
// single pipelined round trip so concurrent gateways never observe partial
// state.
type Store interface {
	// Touch upserts the member and re-arms the TTL on both the member key
	// and the room set.
	Touch(ctx context.Context, roomID string, member Member) error

	// Remove deletes the member immediately, without waiting for expiry.
	Remove(ctx context.Context, roomID, memberID string) error

	// List returns the live members of a room. Members whose key has expired
	// are skipped even when the room set still references them.
	List(ctx context.Context, roomID string) ([]Member, error)

	// TTL reports the configured presence window.
	TTL() time.Duration
}

type redisStore struct {
	client *goredis.Client
	clock  clock.Clock
	log    *zap.Logger
	ttl    time.Duration
}

// NewStore builds a redis-backed presence store with a clamped TTL window.
func NewStore(client *goredis.Client, clk clock.Clock, log *zap.Logger, ttl time.Duration) Store {
	return &redisStore{
		client: client,
		clock:  clk,
		log:    log.Named("presence"),
		ttl:    config.ClampPresenceTTL(ttl),
	}
}

func roomMembersKey(roomID string) string {
	return "presence:room:" + roomID
}

func memberKey(roomID, memberID string) string {
	return "presence:member:" + roomID + ":" + memberID
}

func (s *redisStore) Touch(ctx context.Context, roomID string, member Member) error {
	member.LastSeen = s.clock.Now()
	payload, err := json.Marshal(member)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, roomMembersKey(roomID), member.MemberID)
	pipe.Set(ctx, memberKey(roomID, member.MemberID), payload, s.ttl)
	pipe.Expire(ctx, roomMembersKey(roomID), s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *redisStore) Remove(ctx context.Context, roomID, memberID string) error {
	pipe := s.client.TxPipeline()
	pipe.SRem(ctx, roomMembersKey(roomID), memberID)
	pipe.Del(ctx, memberKey(roomID, memberID))
	_, err := pipe.Exec(ctx)
	return err
}

func (s *redisStore) List(ctx context.Context, roomID string) ([]Member, error) {
	memberIDs, err := s.client.SMembers(ctx, roomMembersKey(roomID)).Result()
	if err != nil {
		return nil, err
	}
	if len(memberIDs) == 0 {
		return []Member{}, nil
	}

	keys := make([]string, 0, len(memberIDs))
	for _, memberID := range memberIDs {
		keys = append(keys, memberKey(roomID, memberID))
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	members := make([]Member, 0, len(values))
	for i, value := range values {
		raw, ok := value.(string)
		if !ok || raw == "" {
			// Key expired while the set still references it. Absent, not an error.
			continue
		}
		var member Member
		if err := json.Unmarshal([]byte(raw), &member); err != nil {
			s.log.Warn("skipping unreadable presence payload",
				zap.String("room_id", roomID),
				zap.String("member_id", memberIDs[i]),
				zap.Error(err),
			)
			continue
		}
		members = append(members, member)
	}
	return members, nil
}

func (s *redisStore) TTL() time.Duration {
	return s.ttl
}
