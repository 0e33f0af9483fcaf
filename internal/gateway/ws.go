package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/tabulant/tabulant/internal/agent"
	"github.com/tabulant/tabulant/internal/auth"
	"github.com/tabulant/tabulant/internal/observability"
	"github.com/tabulant/tabulant/internal/store"
	"github.com/tabulant/tabulant/pkg/models"
)

const (
	wsMaxPayloadBytes = 1 << 20
	wsSendBuffer      = 256
	wsPingInterval    = 15 * time.Second
	wsPongWait        = 45 * time.Second
	wsWriteWait       = 10 * time.Second
)

// clientMessage is the client-to-server frame: {"type": ..., "text": ...}.
type clientMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// wsClient is one socket bound to one session. It implements
// agent.EventSink: the loop's events are serialized here and pushed through
// the buffered send channel by the write pump.
type wsClient struct {
	conn    *websocket.Conn
	send    chan []byte
	ctx     context.Context
	cancel  context.CancelFunc
	session *models.Session
	server  *Server

	closeOnce sync.Once
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	// Auth happens after the upgrade so the client gets a proper close
	// frame instead of a failed handshake.
	user, err := s.auth.Validate(auth.BearerToken(r))
	if err != nil {
		closeWithPolicyViolation(conn, "invalid credentials")
		return
	}

	session, err := s.store.GetSession(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		closeWithPolicyViolation(conn, "unknown session")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	ctx = context.WithValue(ctx, observability.SessionIDKey, session.ID)
	client := &wsClient{
		conn:    conn,
		send:    make(chan []byte, wsSendBuffer),
		ctx:     ctx,
		cancel:  cancel,
		session: session,
		server:  s,
	}

	s.metrics.ActiveSockets.Inc()
	defer s.metrics.ActiveSockets.Dec()

	// A reconnect mid-turn adopts the in-flight turn's events.
	s.runtime.ReplaceSink(session.ID, client)

	go client.writeLoop()
	client.readLoop()
	client.close()
}

func closeWithPolicyViolation(conn *websocket.Conn, reason string) {
	deadline := time.Now().Add(wsWriteWait)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), deadline)
	_ = conn.Close()
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.conn.Close()
	})
}

func (c *wsClient) readLoop() {
	c.conn.SetReadLimit(wsMaxPayloadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("invalid message")
			continue
		}
		c.dispatch(msg)
	}
}

func (c *wsClient) dispatch(msg clientMessage) {
	s := c.server
	switch msg.Type {
	case "message":
		if msg.Text == "" {
			c.sendError("message requires text")
			return
		}
		c.startTurn(agent.TriggerMessage, msg.Text)

	case "auto_analyze":
		c.startTurn(agent.TriggerAutoAnalyze, "")

	case "stop":
		if !s.runtime.Stop(c.session.ID) {
			c.sendError("no turn in progress")
		}

	default:
		c.sendError("unknown message type")
	}
}

func (c *wsClient) startTurn(trigger agent.Trigger, text string) {
	err := c.server.runtime.StartTurn(c.ctx, c.session, trigger, text, c)
	switch {
	case errors.Is(err, ErrTurnActive):
		c.sendError("a turn is already in progress; wait for done or send stop")
	case errors.Is(err, ErrNoDataset), errors.Is(err, store.ErrNotFound):
		c.sendError("session has no dataset")
	case err != nil:
		c.server.logger.Error(c.ctx, "failed to start turn", "error", err)
		c.sendError("failed to start turn")
	}
}

// Emit implements agent.EventSink. Status events are advisory and dropped
// when the buffer is full; everything else blocks the loop until the write
// pump drains or the socket dies.
func (c *wsClient) Emit(ctx context.Context, event models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if event.Event == models.EventStatus {
		select {
		case c.send <- data:
		default:
		}
		return nil
	}

	select {
	case c.send <- data:
		return nil
	case <-c.ctx.Done():
		return errors.New("socket closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *wsClient) sendError(message string) {
	data, err := json.Marshal(models.ErrorEvent(message))
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	case <-c.ctx.Done():
	}
}

func (c *wsClient) writeLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
