package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/domain"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := &config.Config{
		Mode:         "release",
		Secret:       testSecret,
		TokenTTL:     time.Hour,
		ReadLimit:    32768,
		HistoryLimit: 5,
	}
	hub := NewHub(cfg.HistoryLimit)
	srv := httptest.NewServer(SetupRouter(cfg, hub))
	t.Cleanup(srv.Close)
	return srv
}

type tokenGrant struct {
	UID        string `json:"uid"`
	Username   string `json:"username"`
	Room       string `json:"room"`
	Token      string `json:"token"`
	ExpSeconds int    `json:"expSeconds"`
}

func fetchToken(t *testing.T, srv *httptest.Server, room string) tokenGrant {
	t.Helper()
	resp, err := http.Get(srv.URL + "/api/guest-token?room=" + url.QueryEscape(room))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var grant tokenGrant
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&grant))
	return grant
}

func dialWS(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	ws, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

// frame holds the union of every server-to-client envelope field.
type frame struct {
	Type     string               `json:"type"`
	UID      string               `json:"uid"`
	Room     string               `json:"room"`
	Subtype  string               `json:"subtype"`
	User     *domain.User         `json:"user"`
	Users    []domain.User        `json:"users"`
	Messages []domain.ChatMessage `json:"messages"`
	Message  *domain.ChatMessage  `json:"message"`
	From     *domain.User         `json:"from"`
	Data     json.RawMessage      `json:"data"`
}

func readFrame(t *testing.T, ws *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var f frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

// readUntil skips frames until one of the wanted type arrives.
func readUntil(t *testing.T, ws *websocket.Conn, typ string) frame {
	t.Helper()
	for i := 0; i < 10; i++ {
		f := readFrame(t, ws)
		if f.Type == typ {
			return f
		}
	}
	t.Fatalf("never received %q", typ)
	return frame{}
}

func sendJSON(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))
}

func TestGuestToken(t *testing.T) {
	srv := newTestServer(t)
	grant := fetchToken(t, srv, "Dev Room!")

	assert.NotEmpty(t, grant.UID)
	assert.Equal(t, "guest-"+grant.UID[:6], grant.Username)
	assert.Equal(t, "devroom", grant.Room, "room name sanitized")
	assert.Equal(t, 3600, grant.ExpSeconds)

	claims, err := ParseToken([]byte(testSecret), grant.Token)
	require.NoError(t, err)
	assert.Equal(t, grant.UID, claims.UID)
	assert.Equal(t, "devroom", claims.Room)
}

func TestGuestTokenEmptyRoomDefaults(t *testing.T) {
	srv := newTestServer(t)
	grant := fetchToken(t, srv, "")
	assert.Equal(t, string(domain.DefaultRoom), grant.Room)
}

func TestParseTokenRejects(t *testing.T) {
	_, err := ParseToken([]byte(testSecret), "garbage")
	require.ErrorIs(t, err, ErrInvalidToken)

	token, _, err := IssueGuestToken([]byte("other-secret"), "lobby", time.Hour)
	require.NoError(t, err)
	_, err = ParseToken([]byte(testSecret), token)
	require.ErrorIs(t, err, ErrInvalidToken)

	token, _, err = IssueGuestToken([]byte(testSecret), "lobby", -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken([]byte(testSecret), token)
	require.ErrorIs(t, err, ErrInvalidToken, "expired token")
}

func TestJoinOrdering(t *testing.T) {
	srv := newTestServer(t)

	grantA := fetchToken(t, srv, "dev")
	wsA := dialWS(t, srv, grantA.Token)

	// First frame is always the welcome, then the roster.
	f := readFrame(t, wsA)
	require.Equal(t, "welcome", f.Type)
	assert.Equal(t, grantA.UID, f.UID)
	assert.Equal(t, "dev", f.Room)

	f = readUntil(t, wsA, "user_list")
	require.Len(t, f.Users, 1)
	assert.Equal(t, grantA.UID, string(f.Users[0].ID))

	grantB := fetchToken(t, srv, "dev")
	wsB := dialWS(t, srv, grantB.Token)

	f = readFrame(t, wsB)
	require.Equal(t, "welcome", f.Type)
	assert.Equal(t, grantB.UID, f.UID)

	// A sees B's join notice before the refreshed roster.
	f = readFrame(t, wsA)
	require.Equal(t, "presence", f.Type)
	assert.Equal(t, "join", f.Subtype)
	require.NotNil(t, f.User)
	assert.Equal(t, grantB.UID, string(f.User.ID))

	f = readFrame(t, wsA)
	require.Equal(t, "user_list", f.Type)
	assert.Len(t, f.Users, 2)

	// B gets the roster but never its own join notice.
	f = readUntil(t, wsB, "user_list")
	assert.Len(t, f.Users, 2)

	wsB.Close()
	f = readUntil(t, wsA, "presence")
	assert.Equal(t, "leave", f.Subtype)
	f = readUntil(t, wsA, "user_list")
	assert.Len(t, f.Users, 1)
}

func TestChatBroadcastAndHistory(t *testing.T) {
	srv := newTestServer(t)

	grantA := fetchToken(t, srv, "dev")
	wsA := dialWS(t, srv, grantA.Token)
	readUntil(t, wsA, "user_list")

	grantB := fetchToken(t, srv, "dev")
	wsB := dialWS(t, srv, grantB.Token)
	readUntil(t, wsB, "user_list")
	readUntil(t, wsA, "user_list")

	sendJSON(t, wsA, map[string]any{"type": "chat", "text": "hello room"})

	// Everyone gets the echo, the sender included.
	for _, ws := range []*websocket.Conn{wsA, wsB} {
		f := readUntil(t, ws, "chat")
		require.NotNil(t, f.Message)
		assert.Equal(t, "hello room", f.Message.Text)
		require.NotNil(t, f.Message.Author)
		assert.Equal(t, grantA.UID, string(f.Message.Author.ID))
		assert.NotEmpty(t, f.Message.ID)
	}

	// A latecomer replays the line from history.
	grantC := fetchToken(t, srv, "dev")
	wsC := dialWS(t, srv, grantC.Token)
	f := readFrame(t, wsC)
	require.Equal(t, "welcome", f.Type)
	f = readFrame(t, wsC)
	require.Equal(t, "history", f.Type)
	require.Len(t, f.Messages, 1)
	assert.Equal(t, "hello room", f.Messages[0].Text)
}

func TestEmptyChatDropped(t *testing.T) {
	srv := newTestServer(t)
	grant := fetchToken(t, srv, "dev")
	ws := dialWS(t, srv, grant.Token)
	readUntil(t, ws, "user_list")

	sendJSON(t, ws, map[string]any{"type": "chat", "text": ""})
	sendJSON(t, ws, map[string]any{"type": "get-users"})

	// The roster reply arrives without any chat echo in between.
	f := readFrame(t, ws)
	assert.Equal(t, "user_list", f.Type)
}

func TestCallRelayStampsSender(t *testing.T) {
	srv := newTestServer(t)

	grantA := fetchToken(t, srv, "dev")
	wsA := dialWS(t, srv, grantA.Token)
	readUntil(t, wsA, "user_list")

	grantB := fetchToken(t, srv, "dev")
	wsB := dialWS(t, srv, grantB.Token)
	readUntil(t, wsB, "user_list")
	readUntil(t, wsA, "user_list")

	sendJSON(t, wsA, map[string]any{
		"type":   "call-offer",
		"target": grantB.UID,
		"data":   map[string]any{"type": "offer", "sdp": "v=0"},
	})

	f := readUntil(t, wsB, "call-offer")
	require.NotNil(t, f.From)
	assert.Equal(t, grantA.UID, string(f.From.ID))
	assert.Equal(t, grantA.Username, f.From.Name)
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(f.Data))

	sendJSON(t, wsB, map[string]any{"type": "call-decline", "target": grantA.UID})
	f = readUntil(t, wsA, "call-decline")
	require.NotNil(t, f.From)
	assert.Equal(t, grantB.UID, string(f.From.ID))
}

func TestRelayToUnknownTargetDropped(t *testing.T) {
	srv := newTestServer(t)
	grant := fetchToken(t, srv, "dev")
	ws := dialWS(t, srv, grant.Token)
	readUntil(t, ws, "user_list")

	sendJSON(t, ws, map[string]any{
		"type":   "call-offer",
		"target": "nobody-home",
		"data":   map[string]any{"type": "offer", "sdp": "v=0"},
	})
	// No error frame comes back; the connection stays healthy.
	sendJSON(t, ws, map[string]any{"type": "get-users"})
	f := readFrame(t, ws)
	assert.Equal(t, "user_list", f.Type)
}

func TestRoomsAreIsolated(t *testing.T) {
	srv := newTestServer(t)

	grantA := fetchToken(t, srv, "alpha")
	wsA := dialWS(t, srv, grantA.Token)
	readUntil(t, wsA, "user_list")

	grantB := fetchToken(t, srv, "beta")
	wsB := dialWS(t, srv, grantB.Token)
	f := readUntil(t, wsB, "user_list")
	require.Len(t, f.Users, 1)

	sendJSON(t, wsA, map[string]any{"type": "chat", "text": "alpha only"})
	readUntil(t, wsA, "chat")

	sendJSON(t, wsB, map[string]any{"type": "get-users"})
	f = readFrame(t, wsB)
	assert.Equal(t, "user_list", f.Type, "beta saw alpha traffic")
}

func TestInvalidTokenClosedWithPolicyViolation(t *testing.T) {
	srv := newTestServer(t)
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=garbage"
	ws, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err, "upgrade succeeds, then the close frame carries the verdict")
	defer ws.Close()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err = ws.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
}

func TestMissingTokenRejected(t *testing.T) {
	srv := newTestServer(t)
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHistoryTrimmedToLimit(t *testing.T) {
	hub := NewHub(3)
	hub.Join("dev", domain.User{ID: "a", Name: "Ana"}, newWSConn(nil))
	ana := &domain.User{ID: "a", Name: "Ana"}
	for _, text := range []string{"1", "2", "3", "4", "5"} {
		hub.AppendHistory("dev", domain.NewChatMessage(ana, text))
	}
	history := hub.History("dev")
	require.Len(t, history, 3)
	assert.Equal(t, "3", history[0].Text)
	assert.Equal(t, "5", history[2].Text)
}
