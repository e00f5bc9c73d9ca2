package ws_test

import (
	"context"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"prepline-kds-service/internal/auth"
	"prepline-kds-service/internal/board"
	"prepline-kds-service/internal/config"
	httpapi "prepline-kds-service/internal/http"
	"prepline-kds-service/internal/http/handlers"
	"prepline-kds-service/internal/settings"
	"prepline-kds-service/internal/ws"
)

type nopRemote struct{}

func (nopRemote) CompleteOrder(context.Context, string) error { return nil }
func (nopRemote) ReopenOrder(context.Context, string) error   { return nil }

// newBoardServer wires the real router, including all middleware, in front
// of a websocket server so handshake tests go through the same chain as
// production traffic.
func newBoardServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Config{
		JWTSecret:        "test-secret",
		JWTExpirySeconds: 3600,
		WSTickInterval:   time.Hour,
	}
	engine := board.NewEngine(board.Settings{
		GraceWindow:        15 * time.Second,
		WarningSeconds:     300,
		DangerSeconds:      600,
		LookbackWindow:     time.Hour,
		CompletedRetention: 24 * time.Hour,
	}, nopRemote{}, nil, nil, zap.NewNop())
	t.Cleanup(engine.Close)

	wsServer := ws.New(engine, zap.NewNop(), cfg)
	h := &handlers.Handler{
		Engine: engine,
		Store:  settings.New(nil, settings.Defaults(cfg)),
		Logger: zap.NewNop(),
		Config: cfg,
	}
	srv := httptest.NewServer(httpapi.NewRouter(h, wsServer, zap.NewNop()))
	t.Cleanup(srv.Close)
	return srv
}

func dialBoard(t *testing.T, srv *httptest.Server, token string) (*websocket.Conn, error) {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/board?token=" + url.QueryEscape(token)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	return conn, err
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var message map[string]any
	if err := conn.ReadJSON(&message); err != nil {
		t.Fatalf("read message: %v", err)
	}
	return message
}

func TestBoardWSHandshakeThroughRouter(t *testing.T) {
	srv := newBoardServer(t)

	token, err := auth.IssueDeviceToken("dev_1", "Pass Display", "test-secret", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	conn, err := dialBoard(t, srv, token)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	message := readMessage(t, conn)
	if message["type"] != "board.snapshot" {
		t.Fatalf("first message type = %v, want board.snapshot", message["type"])
	}
}

func TestBoardWSAcceptsBearerPrefixedQueryToken(t *testing.T) {
	srv := newBoardServer(t)

	token, err := auth.IssueDeviceToken("dev_1", "Pass Display", "test-secret", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	conn, err := dialBoard(t, srv, "Bearer "+token)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	message := readMessage(t, conn)
	if message["type"] != "board.snapshot" {
		t.Fatalf("first message type = %v, want board.snapshot", message["type"])
	}
}

func TestBoardWSRejectsBadToken(t *testing.T) {
	srv := newBoardServer(t)

	conn, err := dialBoard(t, srv, "not-a-jwt")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	message := readMessage(t, conn)
	if message["type"] != "error" {
		t.Fatalf("first message type = %v, want error", message["type"])
	}
}
