package ws

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"prepline-kds-service/internal/auth"
	"prepline-kds-service/internal/board"
	"prepline-kds-service/internal/config"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server pushes board state to connected displays. Every display gets the
// same stream: a full snapshot on connect and on every engine change, plus
// a once-per-second tick that refreshes elapsed time and urgency without
// the client recomputing anything.
type Server struct {
	Engine *board.Engine
	Logger *zap.Logger
	Config config.Config

	boardRealtime *boardRealtime
}

func New(engine *board.Engine, logger *zap.Logger, cfg config.Config) *Server {
	srv := &Server{Engine: engine, Logger: logger, Config: cfg}
	srv.boardRealtime = newBoardRealtime(engine, logger, cfg.WSTickInterval)

	engine.OnChange(srv.boardRealtime.broadcastSnapshot)
	engine.OnError(func(orderID, message string) {
		srv.boardRealtime.broadcast(map[string]any{
			"type":    "order.error",
			"orderId": orderID,
			"message": message,
		})
	})
	return srv
}

type wsRealtimeClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsRealtimeClient) writeJSON(value any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(value)
}

type boardRealtime struct {
	engine       *board.Engine
	logger       *zap.Logger
	tickInterval time.Duration

	started sync.Once
	mu      sync.RWMutex
	subs    map[*wsRealtimeClient]struct{}
}

func newBoardRealtime(engine *board.Engine, logger *zap.Logger, tickInterval time.Duration) *boardRealtime {
	if tickInterval <= 0 {
		tickInterval = time.Second
	}
	return &boardRealtime{
		engine:       engine,
		logger:       logger,
		tickInterval: tickInterval,
		subs:         make(map[*wsRealtimeClient]struct{}),
	}
}

func (br *boardRealtime) ensureStarted() {
	br.started.Do(func() {
		go br.tickLoop(context.Background())
	})
}

func (br *boardRealtime) subscribe(client *wsRealtimeClient) (unsubscribe func()) {
	br.mu.Lock()
	br.subs[client] = struct{}{}
	br.mu.Unlock()

	return func() {
		br.mu.Lock()
		delete(br.subs, client)
		br.mu.Unlock()
	}
}

func (br *boardRealtime) broadcast(message any) {
	br.mu.RLock()
	clients := make([]*wsRealtimeClient, 0, len(br.subs))
	for c := range br.subs {
		clients = append(clients, c)
	}
	br.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	for _, c := range clients {
		if err := c.writeJSON(message); err != nil {
			_ = c.conn.Close()
			br.mu.Lock()
			delete(br.subs, c)
			br.mu.Unlock()
		}
	}
}

func (br *boardRealtime) snapshotMessage(now time.Time) map[string]any {
	return map[string]any{
		"type":      "board.snapshot",
		"open":      br.engine.OpenView(now, board.Filters{}),
		"completed": br.engine.CompletedView(now.Add(-br.engine.SettingsSnapshot().CompletedRetention), now),
		"status":    br.engine.Status(now),
		"sentAt":    now,
	}
}

func (br *boardRealtime) broadcastSnapshot() {
	br.broadcast(br.snapshotMessage(time.Now()))
}

// tickLoop refreshes time-derived fields for all subscribers. Ticks are
// suppressed while nobody is connected or nothing is on the board.
func (br *boardRealtime) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(br.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		br.mu.RLock()
		idle := len(br.subs) == 0
		br.mu.RUnlock()
		if idle {
			continue
		}

		now := time.Now()
		open := br.engine.OpenView(now, board.Filters{})
		if len(open) == 0 {
			continue
		}

		timers := make(map[string]map[string]any, len(open))
		for _, view := range open {
			timers[view.Order.ID] = map[string]any{
				"elapsedSeconds": view.ElapsedSeconds,
				"urgency":        view.Urgency,
			}
		}
		br.broadcast(map[string]any{
			"type":   "board.tick",
			"timers": timers,
			"sentAt": now,
		})
	}
}

// handshakeToken extracts the device token from an upgrade request. The
// query parameter carries the raw JWT; a "Bearer " prefix is tolerated,
// as is an Authorization header from non-browser clients.
func handshakeToken(r *http.Request) string {
	if token := auth.ParseBearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	raw := strings.TrimSpace(r.URL.Query().Get("token"))
	if token := auth.ParseBearerToken(raw); token != "" {
		return token
	}
	return raw
}

// BoardWS upgrades a display connection. Auth rides the token query
// parameter because browsers cannot set headers on websocket handshakes.
func (s *Server) BoardWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	token := handshakeToken(r)
	if _, err := auth.VerifyAccessToken(token, s.Config.JWTSecret); err != nil {
		_ = conn.WriteJSON(map[string]any{"type": "error", "message": "unauthorized"})
		return
	}

	s.boardRealtime.ensureStarted()
	ctx := r.Context()
	client := &wsRealtimeClient{conn: conn}
	unsubscribe := s.boardRealtime.subscribe(client)
	defer unsubscribe()

	// Send the full board immediately so the display renders without
	// waiting for the next change.
	_ = client.writeJSON(s.boardRealtime.snapshotMessage(time.Now()))

	clientClosed := make(chan struct{})
	go func() {
		defer close(clientClosed)
		for {
			if _, _, readErr := conn.ReadMessage(); readErr != nil {
				return
			}
		}
	}()

	select {
	case <-clientClosed:
		return
	case <-ctx.Done():
		return
	}
}
