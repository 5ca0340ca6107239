package transport

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Houngansi/SuspenseCore-sub009/internal/server"
)

// Hub tracks one session per player and routes tick output to them.
type Hub struct {
	svc      *server.Service
	upgrader websocket.Upgrader
	autoJoin bool

	mu       sync.RWMutex
	sessions map[string]*session
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithAutoJoin registers unknown players with the service's default
// loadout when they connect. Without it unknown players get 404.
func WithAutoJoin(on bool) HubOption {
	return func(h *Hub) {
		h.autoJoin = on
	}
}

// WithCheckOrigin sets the upgrader's origin check. The default accepts
// every origin.
func WithCheckOrigin(fn func(*http.Request) bool) HubOption {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = fn
	}
}

// NewHub returns a hub serving svc.
func NewHub(svc *server.Service, opts ...HubOption) *Hub {
	h := &Hub{
		svc: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeWS upgrades the request and runs the session until it closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	player := r.URL.Query().Get("player")
	if player == "" {
		http.Error(w, "missing player", http.StatusBadRequest)
		return
	}
	if _, err := h.svc.Snapshot(player); err != nil {
		if !errors.Is(err, server.ErrUnknownPlayer) || !h.autoJoin {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if err := h.svc.AddPlayer(r.Context(), player, nil); err != nil && !errors.Is(err, server.ErrPlayerExists) {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		slog.Warn("websocket upgrade failed", "player", player, "error", err)
		return
	}

	s := newSession(h, conn, player, clientIP(r))
	h.register(s)
	slog.Info("session opened", "player", player, "ip", s.ip)

	go s.writeLoop()
	s.readLoop(r.Context())
}

// register binds s to its player, closing any earlier session.
func (h *Hub) register(s *session) {
	h.mu.Lock()
	old := h.sessions[s.player]
	h.sessions[s.player] = s
	h.mu.Unlock()
	if old != nil {
		slog.Info("session replaced", "player", s.player)
		old.close()
	}
}

func (h *Hub) unregister(s *session) {
	h.mu.Lock()
	if h.sessions[s.player] == s {
		delete(h.sessions, s.player)
	}
	h.mu.Unlock()
}

func (h *Hub) session(player string) *session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[player]
}

// Sessions returns the number of connected players.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Dispatch sends the results of queued operations and the replication
// payloads of one tick to the connected sessions. Output for players
// without a session is dropped.
func (h *Hub) Dispatch(rep server.TickReport) {
	for _, q := range rep.Results {
		if s := h.session(q.PlayerID); s != nil {
			s.deliver(ServerMessage{Type: TypeResult, Result: &q.Result})
		}
	}
	for _, out := range rep.Outbound {
		if s := h.session(out.ClientID); s != nil {
			s.deliver(ServerMessage{Type: TypeReplication, Replication: &out})
		}
	}
}

// Close ends every session.
func (h *Hub) Close() {
	h.mu.Lock()
	sessions := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
