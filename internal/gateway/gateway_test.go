package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/omnisonic/coda/internal/clock"
	"github.com/omnisonic/coda/internal/config"
	"github.com/omnisonic/coda/internal/presence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubStore struct {
	mu      sync.Mutex
	touched map[string]int
	removed map[string]int
	ttl     time.Duration
}

func newStubStore() *stubStore {
	return &stubStore{
		touched: make(map[string]int),
		removed: make(map[string]int),
		ttl:     time.Minute,
	}
}

func (s *stubStore) Touch(_ context.Context, roomID string, member presence.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched[roomID+"/"+member.MemberID]++
	return nil
}

func (s *stubStore) Remove(_ context.Context, roomID, memberID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed[roomID+"/"+memberID]++
	return nil
}

func (s *stubStore) List(context.Context, string) ([]presence.Member, error) {
	return nil, nil
}

func (s *stubStore) TTL() time.Duration { return s.ttl }

func (s *stubStore) touches(roomID, memberID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched[roomID+"/"+memberID]
}

func setupGateway(t *testing.T) (*httptest.Server, *Gateway, *stubStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := newStubStore()
	gw := New(Params{
		Hub:       NewHub(),
		Store:     store,
		Log:       zap.NewNop(),
		Clock:     clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
		CfgHolder: config.NewStaticRealtimeConfigHolder(config.DefaultRealtimeConfig()),
	})

	engine := gin.New()
	engine.GET("/ws", gw.HandleWS)
	server := httptest.NewServer(engine)
	t.Cleanup(server.Close)
	return server, gw, store
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var envelope Envelope
	require.NoError(t, conn.ReadJSON(&envelope))
	return envelope
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	var envelope Envelope
	err := conn.ReadJSON(&envelope)
	require.Error(t, err, "expected no message, got %+v", envelope)
	netErr, ok := err.(interface{ Timeout() bool })
	require.True(t, ok && netErr.Timeout(), "expected read timeout, got %v", err)
}

func TestHandshakeMissingMemberIDRejected(t *testing.T) {
	server, gw, _ := setupGateway(t)

	conn := dial(t, server, "roomId=r1&displayName=Ada")

	envelope := readEnvelope(t, conn)
	assert.Equal(t, TypeError, envelope.Type)

	var payload struct {
		Message string   `json:"message"`
		Fields  []string `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(envelope.Payload, &payload))
	assert.Equal(t, "Invalid handshake", payload.Message)
	assert.Contains(t, payload.Fields, "memberId")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected close frame, got %v", err)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)

	assert.Zero(t, gw.hub.roomSize("r1"), "rejected connection must not be registered")
}

func TestHandshakeUnknownStatusRejected(t *testing.T) {
	server, _, _ := setupGateway(t)

	conn := dial(t, server, "roomId=r1&memberId=m1&displayName=Ada&status=idle")
	envelope := readEnvelope(t, conn)
	assert.Equal(t, TypeError, envelope.Type)
}

func TestWelcomeCarriesTTL(t *testing.T) {
	server, _, store := setupGateway(t)

	conn := dial(t, server, "roomId=r1&memberId=m1&displayName=Ada")
	envelope := readEnvelope(t, conn)
	require.Equal(t, TypeWelcome, envelope.Type)

	var payload struct {
		RoomID   string `json:"roomId"`
		MemberID string `json:"memberId"`
		TTL      int    `json:"ttl"`
	}
	require.NoError(t, json.Unmarshal(envelope.Payload, &payload))
	assert.Equal(t, "r1", payload.RoomID)
	assert.Equal(t, "m1", payload.MemberID)
	assert.Equal(t, int(store.TTL().Seconds()), payload.TTL)
}

func TestHeartbeatAckedNotBroadcast(t *testing.T) {
	server, _, _ := setupGateway(t)

	connA := dial(t, server, "roomId=r1&memberId=a&displayName=Ada")
	require.Equal(t, TypeWelcome, readEnvelope(t, connA).Type)

	connB := dial(t, server, "roomId=r1&memberId=b&displayName=Grace")
	require.Equal(t, TypeWelcome, readEnvelope(t, connB).Type)

	// A sees B join.
	join := readEnvelope(t, connA)
	require.Equal(t, TypePresenceJoin, join.Type)
	assert.Equal(t, "b", join.From)

	require.NoError(t, connA.WriteJSON(Envelope{Type: TypeHeartbeat}))

	ack := readEnvelope(t, connA)
	assert.Equal(t, TypeHeartbeat, ack.Type)
	var payload struct {
		TS int64 `json:"ts"`
	}
	require.NoError(t, json.Unmarshal(ack.Payload, &payload))
	assert.Positive(t, payload.TS)

	expectSilence(t, connB)
}

func TestBroadcastReachesRoomPeersOnly(t *testing.T) {
	server, _, _ := setupGateway(t)

	connA := dial(t, server, "roomId=r1&memberId=a&displayName=Ada")
	require.Equal(t, TypeWelcome, readEnvelope(t, connA).Type)
	connB := dial(t, server, "roomId=r1&memberId=b&displayName=Grace")
	require.Equal(t, TypeWelcome, readEnvelope(t, connB).Type)
	require.Equal(t, TypePresenceJoin, readEnvelope(t, connA).Type)

	connC := dial(t, server, "roomId=r2&memberId=c&displayName=Edsger")
	require.Equal(t, TypeWelcome, readEnvelope(t, connC).Type)

	require.NoError(t, connA.WriteJSON(Envelope{
		Type:    "cursor.moved",
		Payload: json.RawMessage(`{"x":3,"y":7}`),
	}))

	got := readEnvelope(t, connB)
	assert.Equal(t, "cursor.moved", got.Type)
	assert.Equal(t, "a", got.From)
	assert.JSONEq(t, `{"x":3,"y":7}`, string(got.Payload))

	// The sender never hears its own broadcast, and other rooms stay silent.
	expectSilence(t, connA)
	expectSilence(t, connC)
}

func TestDisconnectBroadcastsLeaveAndRemovesPresence(t *testing.T) {
	server, gw, store := setupGateway(t)

	connA := dial(t, server, "roomId=r1&memberId=a&displayName=Ada")
	require.Equal(t, TypeWelcome, readEnvelope(t, connA).Type)
	connB := dial(t, server, "roomId=r1&memberId=b&displayName=Grace")
	require.Equal(t, TypeWelcome, readEnvelope(t, connB).Type)
	require.Equal(t, TypePresenceJoin, readEnvelope(t, connA).Type)

	require.NoError(t, connB.Close())

	leave := readEnvelope(t, connA)
	assert.Equal(t, TypePresenceLeave, leave.Type)
	assert.Equal(t, "b", leave.From)

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.removed["r1/b"] > 0
	}, 2*time.Second, 20*time.Millisecond)

	assert.Equal(t, 1, gw.hub.roomSize("r1"))
}

func TestMessagesRefreshPresence(t *testing.T) {
	server, _, store := setupGateway(t)

	conn := dial(t, server, "roomId=r1&memberId=a&displayName=Ada")
	require.Equal(t, TypeWelcome, readEnvelope(t, conn).Type)

	require.NoError(t, conn.WriteJSON(Envelope{Type: TypeHeartbeat}))
	require.Equal(t, TypeHeartbeat, readEnvelope(t, conn).Type)

	require.Eventually(t, func() bool {
		return store.touches("r1", "a") >= 2
	}, 2*time.Second, 20*time.Millisecond, "connect and heartbeat must each touch presence")
}

func TestNonJSONFrameIgnored(t *testing.T) {
	server, _, _ := setupGateway(t)

	connA := dial(t, server, "roomId=r1&memberId=a&displayName=Ada")
	require.Equal(t, TypeWelcome, readEnvelope(t, connA).Type)
	connB := dial(t, server, "roomId=r1&memberId=b&displayName=Grace")
	require.Equal(t, TypeWelcome, readEnvelope(t, connB).Type)
	require.Equal(t, TypePresenceJoin, readEnvelope(t, connA).Type)

	require.NoError(t, connA.WriteMessage(websocket.TextMessage, []byte("not json")))
	expectSilence(t, connB)

	// The connection stays healthy after the bad frame.
	require.NoError(t, connA.WriteJSON(Envelope{Type: "ping.custom"}))
	got := readEnvelope(t, connB)
	assert.Equal(t, "ping.custom", got.Type)
}

func TestBroadcastDuringDisconnectDoesNotPanic(t *testing.T) {
	hub := NewHub()

	const peers = 500
	clients := make([]*client, 0, peers)
	for i := 0; i < peers; i++ {
		c := newClient(nil, "r1", fmt.Sprintf("m%d", i), "peer", presence.StatusActive, 1, time.Second)
		hub.add(c)
		clients = append(clients, c)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			hub.broadcast("r1", []byte(`{"type":"cursor.moved"}`), nil)
		}
	}()
	go func() {
		defer wg.Done()
		for _, c := range clients {
			hub.remove(c)
			c.close()
		}
	}()
	wg.Wait()

	assert.Zero(t, hub.roomSize("r1"))
}

func TestTrySendAfterCloseDropsFrame(t *testing.T) {
	c := newClient(nil, "r1", "a", "Ada", presence.StatusActive, 1, time.Second)

	require.True(t, c.trySend([]byte("x")))

	c.close()
	assert.False(t, c.trySend([]byte("y")))

	// A second close is a no-op.
	c.close()
}
