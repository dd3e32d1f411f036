package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatclient-go/internal/auth"
	"chatclient-go/internal/config"
	"chatclient-go/internal/events"
	"chatclient-go/internal/models"
	"chatclient-go/internal/socket"
)

func testConfig() config.Config {
	return config.Config{
		DemoServer: config.DemoServerConfig{
			WebSocketPath: "/ws",
			CORS: config.CORSConfig{
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
				MaxAge:         300,
			},
		},
		Auth: config.AuthConfig{JWTSecretKey: "server-test-secret", JWTExpiry: time.Hour},
		WebSocket: config.WebSocketConfig{
			WriteWaitSeconds:    10,
			PongWaitSeconds:     60,
			PingPeriodSeconds:   54,
			MaxMessageSizeBytes: 4096,
			SendBufferSize:      256,
		},
	}
}

func newTestServer(t *testing.T) (*httptest.Server, config.Config) {
	t.Helper()
	cfg := testConfig()
	store := NewStore()
	store.Seed()
	hub := NewHub(store)
	go hub.Run()
	t.Cleanup(hub.Stop)

	blacklist := auth.NewMemoryTokenBlacklist()
	h := NewHandlers(store, hub, blacklist, cfg.Auth, cfg.WebSocket)
	srv := httptest.NewServer(NewRouter(h, cfg, blacklist))
	t.Cleanup(srv.Close)
	return srv, cfg
}

func login(t *testing.T, srv *httptest.Server, username, password string) *models.LoginResponse {
	t.Helper()
	body, _ := json.Marshal(models.LoginRequest{Username: username, Password: password})
	resp, err := http.Post(srv.URL+"/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %s: status %d", username, resp.StatusCode)
	}
	var out models.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return &out
}

func authedGet(t *testing.T, srv *httptest.Server, path, token string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func TestLoginAndRoster(t *testing.T) {
	srv, _ := newTestServer(t)

	sess := login(t, srv, "alice", "password")
	if sess.Token == "" || sess.User.Username != "alice" {
		t.Fatalf("unexpected login response %+v", sess)
	}

	resp := authedGet(t, srv, "/api/v1/users", sess.Token)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("users: status %d", resp.StatusCode)
	}
	var users []models.User
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		t.Fatalf("decode users: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("roster should exclude the caller, got %d users", len(users))
	}
	for _, u := range users {
		if u.Username == "alice" {
			t.Error("caller present in own roster")
		}
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	srv, _ := newTestServer(t)

	body, _ := json.Marshal(models.LoginRequest{Username: "alice", Password: "nope"})
	resp, err := http.Post(srv.URL+"/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload.Error == "" {
		t.Error("error payload should carry a message")
	}
}

func TestRegisterConflict(t *testing.T) {
	srv, _ := newTestServer(t)

	body, _ := json.Marshal(models.RegisterRequest{Username: "alice", Password: "whatever"})
	resp, err := http.Post(srv.URL+"/auth/register", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("register request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	srv, _ := newTestServer(t)
	sess := login(t, srv, "alice", "password")

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+sess.Token)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout: status %d", resp.StatusCode)
	}

	resp = authedGet(t, srv, "/api/v1/users", sess.Token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked token still accepted: status %d", resp.StatusCode)
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dialSocket(t *testing.T, srv *httptest.Server, cfg config.Config, token string) *socket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := socket.Dial(ctx, wsURL(srv), token, cfg.WebSocket)
	if err != nil {
		t.Fatalf("dial socket: %v", err)
	}
	t.Cleanup(conn.Close)
	return conn
}

func onMessageNew(conn *socket.Conn) chan models.Message {
	ch := make(chan models.Message, 4)
	conn.On(events.MessageNew, func(data json.RawMessage) {
		var payload events.NewMessage
		if json.Unmarshal(data, &payload) == nil {
			ch <- payload.Message
		}
	})
	return ch
}

func onPresence(conn *socket.Conn, event string) chan string {
	ch := make(chan string, 8)
	conn.On(event, func(data json.RawMessage) {
		var payload events.Presence
		if json.Unmarshal(data, &payload) == nil {
			ch <- payload.UserID
		}
	})
	return ch
}

func waitMessage(t *testing.T, ch chan models.Message) models.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for message:new")
		return models.Message{}
	}
}

func TestMessageFlowOverSocket(t *testing.T) {
	srv, cfg := newTestServer(t)
	alice := login(t, srv, "alice", "password")
	bob := login(t, srv, "bob", "password")

	aliceConn := dialSocket(t, srv, cfg, alice.Token)
	aliceInbox := onMessageNew(aliceConn)
	online := onPresence(aliceConn, events.UserOnline)

	bobConn := dialSocket(t, srv, cfg, bob.Token)
	bobInbox := onMessageNew(bobConn)
	// Bob is routable once his online broadcast comes back around.
	waitPresence(t, online, bob.User.ID, events.UserOnline)

	aliceConn.Emit(events.MessageSend, events.SendMessage{
		Text:        "hi bob",
		ReceiverID:  bob.User.ID,
		ClientMsgID: "client-1",
	})

	got := waitMessage(t, bobInbox)
	if got.Text != "hi bob" || got.Sender.ID != alice.User.ID {
		t.Fatalf("bob received %+v", got)
	}
	if got.ID == "" || got.ConversationID == "" {
		t.Error("server must assign message and conversation ids")
	}

	echo := waitMessage(t, aliceInbox)
	if echo.ClientMsgID != "client-1" {
		t.Fatalf("echo should carry the clientMsgId, got %+v", echo)
	}

	// History is now fetchable over REST, scoped by peer.
	resp := authedGet(t, srv, "/api/v1/messages?peerId="+alice.User.ID, bob.Token)
	defer resp.Body.Close()
	var history []models.Message
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history) != 1 || history[0].Text != "hi bob" {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestTypingRelay(t *testing.T) {
	srv, cfg := newTestServer(t)
	alice := login(t, srv, "alice", "password")
	bob := login(t, srv, "bob", "password")

	aliceConn := dialSocket(t, srv, cfg, alice.Token)
	online := onPresence(aliceConn, events.UserOnline)
	bobConn := dialSocket(t, srv, cfg, bob.Token)
	waitPresence(t, online, bob.User.ID, events.UserOnline)

	typing := make(chan events.Typing, 1)
	bobConn.On(events.TypingStart, func(data json.RawMessage) {
		var payload events.Typing
		if json.Unmarshal(data, &payload) == nil {
			typing <- payload
		}
	})

	aliceConn.Emit(events.TypingStart, events.Typing{ReceiverID: bob.User.ID})

	select {
	case got := <-typing:
		if got.UserID != alice.User.ID {
			t.Fatalf("typing relayed with userId %q, want %q", got.UserID, alice.User.ID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for typing:start relay")
	}
}

func TestPresenceBroadcast(t *testing.T) {
	srv, cfg := newTestServer(t)
	alice := login(t, srv, "alice", "password")
	bob := login(t, srv, "bob", "password")

	aliceConn := dialSocket(t, srv, cfg, alice.Token)
	online := onPresence(aliceConn, events.UserOnline)
	offline := onPresence(aliceConn, events.UserOffline)

	bobConn := dialSocket(t, srv, cfg, bob.Token)
	waitPresence(t, online, bob.User.ID, events.UserOnline)

	bobConn.Close()
	waitPresence(t, offline, bob.User.ID, events.UserOffline)
}

// waitPresence drains the channel until the wanted user id shows up. Other
// ids can legitimately arrive first (the caller's own online broadcast).
func waitPresence(t *testing.T, ch chan string, want, event string) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case id := <-ch:
			if id == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s of %s", event, want)
		}
	}
}

func TestHubStopExitsRunLoop(t *testing.T) {
	hub := NewHub(NewStore())
	stopped := make(chan struct{})
	go func() {
		hub.Run()
		close(stopped)
	}()

	hub.Stop()
	hub.Stop() // must be idempotent

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("hub loop did not exit after Stop")
	}
}

func TestWebSocketRejectsBadToken(t *testing.T) {
	srv, cfg := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := socket.Dial(ctx, wsURL(srv), "garbage", cfg.WebSocket); err == nil {
		t.Fatal("expected the dial to be rejected")
	}
}
