package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/realtime"
)

// Gateway upgrades websocket connections, registers them with the realtime
// core and pumps client frames into it.
type Gateway struct {
	registry    *realtime.ConnectionRegistry
	presence    *realtime.PresenceTracker
	coordinator *realtime.MessageCoordinator
	members     *realtime.MembershipCache
	table       *ConnTable
	auth        *auth.Authenticator
}

// NewGateway wires the gateway.
func NewGateway(registry *realtime.ConnectionRegistry, presence *realtime.PresenceTracker, coordinator *realtime.MessageCoordinator, members *realtime.MembershipCache, table *ConnTable, authenticator *auth.Authenticator) *Gateway {
	return &Gateway{
		registry:    registry,
		presence:    presence,
		coordinator: coordinator,
		members:     members,
		table:       table,
		auth:        authenticator,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connInfo is the per-connection metadata carried through the lifecycle
// events.
type connInfo struct {
	ConnID      string
	UserID      int
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// clientFrame is one inbound message from a websocket client.
type clientFrame struct {
	Type      string `json:"type"`
	RoomID    int    `json:"room_id,omitempty"`
	MessageID int    `json:"message_id,omitempty"`
}

// Frame types accepted from clients.
const (
	frameJoin      = "join"
	frameLeave     = "leave"
	framePing      = "ping"
	frameDelivered = "delivered"
	frameRead      = "read"
)

// Handle upgrades the connection and registers the client.
func (g *Gateway) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-realtime/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.GetHeader("Authorization")
	if token == "" {
		token = c.Query("token")
	} else if len(token) > 7 && strings.EqualFold(token[:7], "Bearer ") {
		token = token[7:]
	}

	userID, err := g.auth.UserIDFromToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := connInfo{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}

	g.table.Add(info.ConnID, conn)
	if _, err := g.registry.Register(userID, info.ConnID); err != nil {
		g.table.Remove(info.ConnID)
		conn.Close()
		return
	}

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	g.publishLifecycle(ctx, "ws_connect", info, 0, "")

	go g.readPump(conn, info)
}

func (g *Gateway) readPump(conn *websocket.Conn, info connInfo) {
	connID, userID := info.ConnID, info.UserID
	var closeReason string
	defer func() {
		g.registry.Unregister(connID)
		g.table.Remove(connID)
		conn.Close()
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		g.publishLifecycle(context.Background(), "ws_disconnect", info, time.Since(info.ConnectedAt).Milliseconds(), closeReason)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.Printf("ws: bad frame from conn %s: %v", connID, err)
			continue
		}
		g.handleFrame(connID, userID, frame)
	}
}

func (g *Gateway) handleFrame(connID string, userID int, frame clientFrame) {
	// Any inbound frame counts as activity for presence.
	if _, err := g.registry.Touch(connID); err == nil {
		g.presence.Activity(userID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch frame.Type {
	case frameJoin:
		member, err := g.members.IsMember(ctx, frame.RoomID, userID)
		if err != nil || !member {
			log.Printf("ws: join room %d denied for user %d", frame.RoomID, userID)
			return
		}
		if err := g.registry.JoinRoom(connID, frame.RoomID); err != nil {
			log.Printf("ws: join failed for conn %s: %v", connID, err)
		}
	case frameLeave:
		if err := g.registry.LeaveRoom(connID, frame.RoomID); err != nil {
			log.Printf("ws: leave failed for conn %s: %v", connID, err)
		}
	case framePing:
		// Touch above already did the work.
	case frameDelivered:
		if err := g.coordinator.ConfirmDelivered(ctx, frame.MessageID, userID); err != nil {
			log.Printf("ws: delivered ack rejected for message %d user %d: %v", frame.MessageID, userID, err)
		} else {
			observability.IncDeliveryTransition(realtime.StateDelivered.String())
		}
	case frameRead:
		report, err := g.coordinator.AcknowledgeRead(ctx, frame.MessageID, userID)
		if err != nil {
			log.Printf("ws: read ack rejected for message %d user %d: %v", frame.MessageID, userID, err)
			return
		}
		observability.ObserveFanout(models.EventMessageRead, len(report.Delivered), len(report.Failures))
	default:
		log.Printf("ws: unknown frame type %q from conn %s", frame.Type, connID)
	}
}

func (g *Gateway) publishLifecycle(ctx context.Context, event string, info connInfo, durationMS int64, reason string) {
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": durationMS,
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}
	_ = observability.PublishEvent(ctx, observability.RoutingKeyWS, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}
