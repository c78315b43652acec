// ABOUTME: Tests for the websocket subscription endpoint over a real server
// ABOUTME: Covers broadcasts, inbound supervisor responses, speak delivery, and error frames

package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/frontdesk-gateway/internal/auth"
	"github.com/2389/frontdesk-gateway/internal/engine"
	"github.com/2389/frontdesk-gateway/internal/notify"
	"github.com/2389/frontdesk-gateway/internal/store"
)

type wireEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func startServer(t *testing.T, gw *Gateway) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	return srv
}

// dial connects to /ws and waits until the notifier has registered it.
func dial(t *testing.T, gw *Gateway, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	before := gw.notifier.Count()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return gw.notifier.Count() == before+1 }, time.Second, 5*time.Millisecond)
	return conn
}

// readEvent reads frames until one of type want arrives.
func readEvent(t *testing.T, conn *websocket.Conn, want string) wireEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", want)
		var ev wireEvent
		require.NoError(t, json.Unmarshal(data, &ev))
		if ev.Type == want {
			return ev
		}
	}
}

func sendFrame(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func TestWebSocket_SupervisorResolvesOverSocket(t *testing.T) {
	gw, _ := newTestGateway(t, testOptions{})
	srv := startServer(t, gw)

	supervisor := dial(t, gw, srv, "")
	caller := dial(t, gw, srv, "?session_id=room-7")

	// Caller asks something unknown; the supervisor is told before the reply
	rec := do(t, gw, http.MethodPost, "/api/ask", AskRequest{Question: "Do you cut kids' hair?", SessionID: "room-7"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeBody[engine.Outcome](t, rec)
	require.Equal(t, engine.KindEscalated, out.Kind)

	ev := readEvent(t, supervisor, notify.EventNewRequest)
	var newReq notify.HelpRequestPayload
	require.NoError(t, json.Unmarshal(ev.Data, &newReq))
	assert.Equal(t, out.RequestID, newReq.ID)
	assert.Equal(t, "Do you cut kids' hair?", newReq.Question)

	sendFrame(t, supervisor, map[string]any{
		"type": "supervisor_response",
		"data": map[string]string{"request_id": out.RequestID, "response": "Yes, for ages 5 and up."},
	})

	ev = readEvent(t, supervisor, notify.EventSupervisorResponse)
	assert.JSONEq(t, `{"request_id":"`+out.RequestID+`","response":"Yes, for ages 5 and up.","question":"Do you cut kids' hair?"}`, string(ev.Data))

	ev = readEvent(t, caller, notify.EventSpeak)
	assert.JSONEq(t, `{"session_id":"room-7","request_id":"`+out.RequestID+`","text":"Yes, for ages 5 and up."}`, string(ev.Data))

	// The same question is now answered from the learned tier
	rec = do(t, gw, http.MethodPost, "/api/ask", AskRequest{Question: "do you cut KIDS' hair?"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	again := decodeBody[engine.Outcome](t, rec)
	assert.Equal(t, engine.KindAnswered, again.Kind)
	assert.Equal(t, engine.SourceLearned, again.Source)
	assert.Equal(t, "Yes, for ages 5 and up.", again.Text)
}

func TestWebSocket_ResolutionErrorsAnsweredOnSameConnection(t *testing.T) {
	gw, _ := newTestGateway(t, testOptions{})
	srv := startServer(t, gw)
	conn := dial(t, gw, srv, "")

	sendFrame(t, conn, map[string]any{
		"type": "supervisor_response",
		"data": map[string]string{"request_id": "missing", "response": "hello"},
	})
	ev := readEvent(t, conn, notify.EventError)
	assert.JSONEq(t, `{"request_id":"missing","error":"not found"}`, string(ev.Data))

	req, err := gw.registry.Create(t.Context(), "Open on Sunday?", store.CallerContext{})
	require.NoError(t, err)
	_, err = gw.engine.Resolve(t.Context(), req.ID, "No.", "maria")
	require.NoError(t, err)

	sendFrame(t, conn, map[string]any{
		"type": "supervisor_response",
		"data": map[string]string{"request_id": req.ID, "response": "Yes."},
	})
	ev = readEvent(t, conn, notify.EventError)
	assert.JSONEq(t, `{"request_id":"`+req.ID+`","error":"help request already resolved"}`, string(ev.Data))
}

func TestWebSocket_BadFramesKeepConnectionOpen(t *testing.T) {
	gw, _ := newTestGateway(t, testOptions{})
	srv := startServer(t, gw)
	conn := dial(t, gw, srv, "")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	ev := readEvent(t, conn, notify.EventError)
	assert.JSONEq(t, `{"error":"invalid JSON frame"}`, string(ev.Data))

	sendFrame(t, conn, map[string]any{"type": "dance"})
	ev = readEvent(t, conn, notify.EventError)
	assert.JSONEq(t, `{"error":"unknown message type: dance"}`, string(ev.Data))

	sendFrame(t, conn, map[string]any{"type": "supervisor_response", "data": map[string]string{"response": "x"}})
	ev = readEvent(t, conn, notify.EventError)
	assert.JSONEq(t, `{"error":"request_id is required"}`, string(ev.Data))

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}))
	ev = readEvent(t, conn, notify.EventError)
	assert.JSONEq(t, `{"error":"expected a text frame"}`, string(ev.Data))

	assert.Equal(t, 1, gw.notifier.Count())
}

func TestWebSocket_DisconnectUnregisters(t *testing.T) {
	gw, _ := newTestGateway(t, testOptions{})
	srv := startServer(t, gw)
	conn := dial(t, gw, srv, "")

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return gw.notifier.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_ReadLimitClosesConnection(t *testing.T) {
	gw, _ := newTestGateway(t, testOptions{yaml: "notifier:\n  read_limit: 64\n"})
	srv := startServer(t, gw)
	conn := dial(t, gw, srv, "")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 128))))
	require.Eventually(t, func() bool { return gw.notifier.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_TokenRequiredWhenAuthEnabled(t *testing.T) {
	gw, _ := newTestGateway(t, testOptions{yaml: "auth:\n  jwt_secret: \"" + testJWTSecret + "\"\n"})
	srv := startServer(t, gw)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_ = resp.Body.Close()

	verifier, err := auth.NewJWTVerifier([]byte(testJWTSecret))
	require.NoError(t, err)
	agentToken, err := verifier.Generate("voice-agent", auth.RoleAgent, time.Hour)
	require.NoError(t, err)

	// Agents may subscribe but may not resolve
	conn := dial(t, gw, srv, "?session_id=room-1&token="+agentToken)
	sendFrame(t, conn, map[string]any{
		"type": "supervisor_response",
		"data": map[string]string{"request_id": "r-1", "response": "hi"},
	})
	ev := readEvent(t, conn, notify.EventError)
	assert.JSONEq(t, `{"request_id":"r-1","error":"insufficient role"}`, string(ev.Data))

	subs := gw.notifier.Subscribers()
	require.Len(t, subs, 1)
	assert.Equal(t, "agent", subs[0].Role)
	assert.Equal(t, "room-1", subs[0].SessionID)
}

func TestShutdown_DisconnectsSubscribers(t *testing.T) {
	gw, _ := newTestGateway(t, testOptions{})
	srv := startServer(t, gw)
	conn := dial(t, gw, srv, "")

	require.NoError(t, gw.Shutdown(t.Context()))
	assert.Equal(t, 0, gw.notifier.Count())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestCheckOrigin(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	anyOrigin := checkOrigin(nil)
	assert.True(t, anyOrigin(req("https://evil.example")))

	check := checkOrigin([]string{"https://desk.example.com/"})
	assert.True(t, check(req("https://desk.example.com")))
	assert.True(t, check(req("")))
	assert.False(t, check(req("https://evil.example")))
}
