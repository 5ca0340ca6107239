package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Houngansi/SuspenseCore-sub009/internal/replication"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 << 10
	sendBuffer     = 256
)

// session is one websocket connection bound to a player.
type session struct {
	hub    *Hub
	conn   *websocket.Conn
	player string
	ip     string
	send   chan ServerMessage

	done      chan struct{}
	closeOnce sync.Once

	// observing is only touched by the read loop.
	observing map[string]bool
}

func newSession(h *Hub, conn *websocket.Conn, player, ip string) *session {
	return &session{
		hub:       h,
		conn:      conn,
		player:    player,
		ip:        ip,
		send:      make(chan ServerMessage, sendBuffer),
		done:      make(chan struct{}),
		observing: make(map[string]bool),
	}
}

// deliver queues msg for the writer. A session whose buffer is full is
// closed rather than blocking the caller.
func (s *session) deliver(msg ServerMessage) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- msg:
		return true
	default:
		slog.Warn("session send buffer full, closing", "player", s.player)
		s.close()
		return false
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// readLoop handles client messages until the connection fails or the
// session is closed.
func (s *session) readLoop(ctx context.Context) {
	defer func() {
		for owner := range s.observing {
			_ = s.hub.svc.UnregisterObserver(owner, s.player)
		}
		s.hub.unregister(s)
		s.close()
		_ = s.conn.Close()
		slog.Info("session closed", "player", s.player, "ip", s.ip)
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("session read failed", "player", s.player, "error", err)
			}
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.deliver(errorMessage("malformed message: " + err.Error()))
			continue
		}
		s.handle(ctx, msg)
	}
}

func (s *session) handle(ctx context.Context, msg ClientMessage) {
	svc := s.hub.svc
	switch msg.Type {
	case TypeOperation:
		if msg.Operation == nil {
			s.deliver(errorMessage("operation message without operation"))
			return
		}
		req := *msg.Operation
		req.PlayerID = s.player
		if msg.Queued {
			if err := svc.Enqueue(req, s.ip); err != nil {
				s.deliver(errorMessage(err.Error()))
			}
			return
		}
		res := svc.Submit(ctx, req, s.ip)
		s.deliver(ServerMessage{Type: TypeResult, Result: &res})

	case TypeAck:
		owner := msg.Owner
		if owner == "" {
			owner = s.player
		}
		if err := svc.Acknowledge(owner, s.player, msg.Version); err != nil {
			s.deliver(errorMessage(err.Error()))
		}

	case TypePing:
		ping := time.Duration(msg.PingMillis) * time.Millisecond
		_ = svc.UpdateNetwork(s.player, s.player, ping, msg.PacketLoss)
		for owner := range s.observing {
			_ = svc.UpdateNetwork(owner, s.player, ping, msg.PacketLoss)
		}
		s.deliver(ServerMessage{Type: TypePong})

	case TypeObserve:
		if msg.Owner == "" || msg.Owner == s.player {
			s.deliver(errorMessage("observe needs another player's id"))
			return
		}
		if err := svc.RegisterObserver(msg.Owner, s.player, replication.Viewpoint{LineOfSight: true}); err != nil {
			s.deliver(errorMessage(err.Error()))
			return
		}
		s.observing[msg.Owner] = true

	default:
		s.deliver(errorMessage("unknown message type " + msg.Type))
	}
}

// writeLoop drains the send buffer and keeps the connection alive.
func (s *session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(msg); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					slog.Debug("session write failed", "player", s.player, "error", err)
				}
				s.close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		case <-s.done:
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
