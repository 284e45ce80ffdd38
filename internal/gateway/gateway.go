package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/omnisonic/coda/internal/clock"
	"github.com/omnisonic/coda/internal/config"
	obsmetrics "github.com/omnisonic/coda/internal/observability/metrics"
	"github.com/omnisonic/coda/internal/presence"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Hub        *Hub
	Store      presence.Store
	Log        *zap.Logger
	Clock      clock.Clock
	CfgHolder  *config.RealtimeConfigHolder
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Gateway upgrades connections, validates the handshake, and relays room
// traffic between peers while mirroring liveness into the presence store.
type Gateway struct {
	hub        *Hub
	store      presence.Store
	log        *zap.Logger
	clock      clock.Clock
	cfgHolder  *config.RealtimeConfigHolder
	obsMetrics *obsmetrics.Metrics
	upgrader   websocket.Upgrader
}

func New(p Params) *Gateway {
	return &Gateway{
		hub:        p.Hub,
		store:      p.Store,
		log:        p.Log.Named("gateway"),
		clock:      p.Clock,
		cfgHolder:  p.CfgHolder,
		obsMetrics: p.ObsMetrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

type handshake struct {
	roomID      string
	memberID    string
	displayName string
	status      presence.Status
}

// parseHandshake validates the connect query parameters. The field list in
// the returned error payload names every missing or invalid parameter.
func parseHandshake(query func(string) string) (handshake, []string) {
	var missing []string
	roomID := strings.TrimSpace(query("roomId"))
	if roomID == "" {
		missing = append(missing, "roomId")
	}
	memberID := strings.TrimSpace(query("memberId"))
	if memberID == "" {
		missing = append(missing, "memberId")
	}
	displayName := strings.TrimSpace(query("displayName"))
	if displayName == "" {
		missing = append(missing, "displayName")
	}
	status, err := presence.ParseStatus(strings.TrimSpace(query("status")))
	if err != nil {
		missing = append(missing, "status")
	}
	if len(missing) > 0 {
		return handshake{}, missing
	}
	return handshake{roomID: roomID, memberID: memberID, displayName: displayName, status: status}, nil
}

// HandleWS serves one websocket connection for its whole lifetime.
func (g *Gateway) HandleWS(c *gin.Context) {
	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	hs, invalid := parseHandshake(c.Query)
	if len(invalid) > 0 {
		g.rejectHandshake(conn, invalid)
		return
	}

	rt := g.cfgHolder.Get()
	cl := newClient(conn, hs.roomID, hs.memberID, hs.displayName, hs.status, rt.SendBuffer, rt.WriteTimeout)
	g.hub.add(cl)
	if g.obsMetrics != nil {
		g.obsMetrics.RecordConnectionOpened(c.Request.Context())
	}
	c.Set("room_id", hs.roomID)

	go cl.writePump()

	g.touchAsync(cl)
	g.hub.broadcast(cl.roomID, mustEnvelope(TypePresenceJoin, cl.memberID, map[string]string{
		"memberId":    cl.memberID,
		"displayName": cl.displayName,
	}), cl)
	cl.trySend(mustEnvelope(TypeWelcome, "", map[string]any{
		"roomId":   cl.roomID,
		"memberId": cl.memberID,
		"ttl":      int(g.store.TTL().Seconds()),
	}))

	g.readLoop(cl, rt.MaxMessageBytes)
	g.disconnect(cl)
}

func (g *Gateway) rejectHandshake(conn *websocket.Conn, missing []string) {
	payload, _ := json.Marshal(map[string]any{
		"message": "Invalid handshake",
		"fields":  missing,
	})
	deadline := time.Now().Add(5 * time.Second)
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.WriteMessage(websocket.TextMessage, mustEnvelope(TypeError, "", json.RawMessage(payload)))
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Invalid handshake"), deadline)
	_ = conn.Close()
}

// readLoop processes inbound frames in received order for one connection.
func (g *Gateway) readLoop(cl *client, maxMessageBytes int64) {
	cl.conn.SetReadLimit(maxMessageBytes)
	for {
		_, raw, err := cl.conn.ReadMessage()
		if err != nil {
			return
		}

		var envelope Envelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			g.log.Debug("ignoring non-JSON message",
				zap.String("room_id", cl.roomID),
				zap.String("member_id", cl.memberID),
			)
			continue
		}

		if envelope.Type == TypeHeartbeat {
			g.touchAsync(cl)
			cl.trySend(mustEnvelope(TypeHeartbeat, "", map[string]int64{
				"ts": g.clock.Now().UnixMilli(),
			}))
			continue
		}

		// Any other type is an opaque application message: refresh presence
		// and relay it verbatim, stamped with the sender.
		g.touchAsync(cl)
		envelope.From = cl.memberID
		data, err := json.Marshal(envelope)
		if err != nil {
			continue
		}
		g.hub.broadcast(cl.roomID, data, cl)
		if g.obsMetrics != nil {
			g.obsMetrics.RecordBroadcast(context.Background(), envelope.Type)
		}
	}
}

func (g *Gateway) disconnect(cl *client) {
	if !g.hub.remove(cl) {
		return
	}
	cl.close()
	if g.obsMetrics != nil {
		g.obsMetrics.RecordConnectionClosed(context.Background())
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := g.store.Remove(ctx, cl.roomID, cl.memberID); err != nil {
			// Store outages never take down connections; the TTL cleans up.
			g.log.Warn("failed to remove presence",
				zap.String("room_id", cl.roomID),
				zap.String("member_id", cl.memberID),
				zap.Error(err),
			)
			if g.obsMetrics != nil {
				g.obsMetrics.RecordPresenceOp(context.Background(), "remove", false)
			}
			return
		}
		if g.obsMetrics != nil {
			g.obsMetrics.RecordPresenceOp(context.Background(), "remove", true)
		}
	}()

	g.hub.broadcast(cl.roomID, mustEnvelope(TypePresenceLeave, cl.memberID, map[string]string{
		"memberId": cl.memberID,
	}), cl)
}

// touchAsync refreshes presence off the message path. Failures are logged
// and swallowed; stale presence self-heals on the next touch.
func (g *Gateway) touchAsync(cl *client) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := g.store.Touch(ctx, cl.roomID, presence.Member{
			MemberID:    cl.memberID,
			DisplayName: cl.displayName,
			Status:      cl.status,
		})
		if err != nil {
			g.log.Warn("failed to touch presence",
				zap.String("room_id", cl.roomID),
				zap.String("member_id", cl.memberID),
				zap.Error(err),
			)
		}
		if g.obsMetrics != nil {
			g.obsMetrics.RecordPresenceOp(context.Background(), "touch", err == nil)
		}
	}()
}
