// ABOUTME: Websocket subscription endpoint for supervisors and caller sessions
// ABOUTME: Adapts gorilla connections to the notifier and feeds inbound resolutions to the engine

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/frontdesk-gateway/internal/auth"
	"github.com/2389/frontdesk-gateway/internal/notify"
	"github.com/2389/frontdesk-gateway/internal/store"
)

// Subscriber roles when no token identifies the connection.
const (
	roleSupervisor = "supervisor"
	roleCaller     = "caller"
)

// closeGrace bounds the close frame written on teardown.
const closeGrace = time.Second

// checkOrigin admits any origin when allowed is empty. Requests without an
// Origin header come from non-browser clients and are always admitted.
func checkOrigin(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// wsConn adapts a websocket to notify.Conn. Gorilla permits one concurrent
// writer, so data frames are serialized; control frames may interleave.
type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) WriteText(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.writeTimeout)
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGrace))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// inboundFrame is a command sent by a subscriber.
type inboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// supervisorResponseData is the data of an inbound supervisor_response frame.
type supervisorResponseData struct {
	RequestID  string `json:"request_id"`
	Response   string `json:"response"`
	ResolvedBy string `json:"resolved_by,omitempty"`
}

// handleWebSocket handles GET /ws. Connections with ?session_id= belong to a
// caller session and receive its speak events; all connections receive broadcasts.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))

	role := roleSupervisor
	if sessionID != "" {
		role = roleCaller
	}
	if identity != nil {
		role = string(identity.Role)
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error
		g.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	conn := &wsConn{ws: ws, writeTimeout: g.config.Notifier.WriteTimeout}
	subID := g.notifier.Register(notify.Subscriber{SessionID: sessionID, Role: role}, conn)
	defer g.notifier.Unregister(subID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go g.pingLoop(ctx, conn)
	g.readLoop(ctx, conn, subID, identity)
}

// pingLoop keeps the peer's read deadline fresh until ctx ends or a ping fails.
func (g *Gateway) pingLoop(ctx context.Context, conn *wsConn) {
	ticker := time.NewTicker(g.config.Notifier.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				g.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}

// readLoop handles inbound frames until the peer goes away or stops answering pings.
func (g *Gateway) readLoop(ctx context.Context, conn *wsConn, subID string, identity *auth.Identity) {
	ws := conn.ws
	pongWait := 2 * g.config.Notifier.PingInterval

	ws.SetReadLimit(g.config.Notifier.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Debug("websocket closed unexpectedly", "sub_id", subID, "error", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		if messageType != websocket.TextMessage {
			g.replyError(ctx, subID, "", "expected a text frame")
			continue
		}
		g.handleInbound(ctx, subID, identity, data)
	}
}

// handleInbound dispatches one inbound command. Failures are answered on the
// sender's own connection and never end the loop.
func (g *Gateway) handleInbound(ctx context.Context, subID string, identity *auth.Identity, data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		g.replyError(ctx, subID, "", "invalid JSON frame")
		return
	}

	switch frame.Type {
	case notify.EventSupervisorResponse:
		var msg supervisorResponseData
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			g.replyError(ctx, subID, "", "invalid supervisor_response data")
			return
		}
		if msg.RequestID == "" {
			g.replyError(ctx, subID, "", "request_id is required")
			return
		}
		if identity != nil && !identity.Has(auth.RoleSupervisor) {
			g.replyError(ctx, subID, msg.RequestID, "insufficient role")
			return
		}

		resolvedBy := msg.ResolvedBy
		if identity != nil {
			resolvedBy = identity.Subject
		}

		hr, err := g.engine.Resolve(ctx, msg.RequestID, msg.Response, resolvedBy)
		if err != nil {
			_, text := errorStatus(err)
			g.logger.Info("websocket resolution rejected", "sub_id", subID, "request_id", msg.RequestID, "error", err)
			g.replyError(ctx, subID, msg.RequestID, text)
			return
		}
		g.recordAudit(ctx, resolvedBy, store.AuditResolveHelpRequest, store.AuditTargetHelpRequest, hr.ID,
			map[string]any{"response": hr.SupervisorResponse, "via": "websocket"})
	default:
		g.replyError(ctx, subID, "", "unknown message type: "+frame.Type)
	}
}

func (g *Gateway) replyError(ctx context.Context, subID, requestID, text string) {
	_, err := g.notifier.SendToSubscriber(ctx, subID, notify.Event{
		Type: notify.EventError,
		Data: notify.ErrorPayload{RequestID: requestID, Error: text},
	})
	if err != nil {
		g.logger.Warn("failed to queue error reply", "sub_id", subID, "error", err)
	}
}
