package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/omnisonic/coda/internal/clock"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupStore(t *testing.T, ttl time.Duration) (Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	return NewStore(client, fake, zap.NewNop(), ttl), mr
}

func TestTouchThenListIncludesMember(t *testing.T) {
	store, _ := setupStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Touch(ctx, "room-1", Member{
		MemberID:    "m1",
		DisplayName: "Ada",
		Status:      StatusActive,
	}))

	members, err := store.List(ctx, "room-1")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "m1", members[0].MemberID)
	assert.Equal(t, "Ada", members[0].DisplayName)
	assert.Equal(t, StatusActive, members[0].Status)
	assert.False(t, members[0].LastSeen.IsZero())
}

func TestRemoveExcludesMember(t *testing.T) {
	store, _ := setupStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Touch(ctx, "room-1", Member{MemberID: "m1", DisplayName: "Ada"}))
	require.NoError(t, store.Touch(ctx, "room-1", Member{MemberID: "m2", DisplayName: "Grace"}))
	require.NoError(t, store.Remove(ctx, "room-1", "m1"))

	members, err := store.List(ctx, "room-1")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "m2", members[0].MemberID)
}

func TestExpiredMemberIsAbsent(t *testing.T) {
	store, mr := setupStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Touch(ctx, "room-1", Member{MemberID: "m1", DisplayName: "Ada"}))
	require.NoError(t, store.Touch(ctx, "room-1", Member{MemberID: "m2", DisplayName: "Grace"}))

	// Expire only m1's member key; the room set still references it.
	mr.FastForward(30 * time.Second)
	require.NoError(t, store.Touch(ctx, "room-1", Member{MemberID: "m2", DisplayName: "Grace"}))
	mr.FastForward(40 * time.Second)

	members, err := store.List(ctx, "room-1")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "m2", members[0].MemberID)
}

func TestListEmptyRoom(t *testing.T) {
	store, _ := setupStore(t, time.Minute)

	members, err := store.List(context.Background(), "nobody-home")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestTouchReArmsTTL(t *testing.T) {
	store, mr := setupStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Touch(ctx, "room-1", Member{MemberID: "m1", DisplayName: "Ada"}))
	mr.FastForward(45 * time.Second)
	require.NoError(t, store.Touch(ctx, "room-1", Member{MemberID: "m1", DisplayName: "Ada"}))
	mr.FastForward(45 * time.Second)

	members, err := store.List(ctx, "room-1")
	require.NoError(t, err)
	assert.Len(t, members, 1, "heartbeat within the window must keep the member alive")
}

func TestTTLClamped(t *testing.T) {
	store, _ := setupStore(t, time.Second)
	assert.Equal(t, 15*time.Second, store.TTL())

	store, _ = setupStore(t, time.Hour)
	assert.Equal(t, 15*time.Minute, store.TTL())

	store, _ = setupStore(t, time.Minute)
	assert.Equal(t, time.Minute, store.TTL())
}

func TestParseStatus(t *testing.T) {
	status, err := ParseStatus("")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, status)

	status, err = ParseStatus("away")
	require.NoError(t, err)
	assert.Equal(t, StatusAway, status)

	_, err = ParseStatus("idle")
	assert.ErrorIs(t, err, ErrUnknownStatus)
}
