package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dreamware/strumspace/internal/coordinator"
	"github.com/dreamware/strumspace/internal/events"
	"github.com/dreamware/strumspace/internal/logging"
)

// Websocket message types.
const (
	MsgJoinSession      = "join-session"
	MsgUserQuestion     = "user-question"
	MsgSessionJoined    = "session-joined"
	MsgRequestProcessed = "request-processed"
	MsgRequestError     = "request-error"
	MsgError            = "error"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsSendBuffer = 64
)

// Message is the frame exchanged in both directions on /ws.
type Message struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type outbound struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// JoinSession is the payload of a join-session message.
type JoinSession struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
}

// SessionJoined acknowledges a join-session.
type SessionJoined struct {
	SessionID       string                   `json:"sessionId"`
	Message         string                   `json:"message"`
	SystemStatus    coordinator.SystemStatus `json:"systemStatus"`
	AvailableChords []string                 `json:"availableChords"`
}

// RequestProcessed acknowledges a user-question once its result has been
// published to the session.
type RequestProcessed struct {
	RequestID string `json:"requestId"`
	SessionID string `json:"sessionId"`
	Success   bool   `json:"success"`
}

// RequestError reports a user-question that could not be handled.
type RequestError struct {
	Error            string `json:"error"`
	Kind             string `json:"kind,omitempty"`
	OriginalQuestion string `json:"originalQuestion"`
}

type wsClient struct {
	conn *websocket.Conn
	out  chan outbound
	done chan struct{}
	once sync.Once

	mu         sync.Mutex
	userID     string
	sessionID  string
	sessionSub *events.Subscription
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		conn: conn,
		out:  make(chan outbound, wsSendBuffer),
		done: make(chan struct{}),
	}
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.done) })
}

// send queues m for the writer. A full queue drops the message rather than
// stalling the bus forwarders.
func (c *wsClient) send(m outbound) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.out <- m:
	case <-c.done:
	default:
		logging.Warn("WS", "Send queue full, dropping %s message", m.Type)
	}
}

func (c *wsClient) writeLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case m := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(m); err != nil {
				logging.Debug("WS", "Write failed: %v", err)
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}

func (c *wsClient) forward(sub *events.Subscription) {
	for ev := range sub.Events() {
		c.send(outbound{Type: ev.Type, Data: ev.Data, Timestamp: ev.Timestamp})
	}
}

func (s *Server) track(c *wsClient) {
	s.mu.Lock()
	s.sessions[c] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()
}

func (s *Server) untrack(c *wsClient) {
	s.mu.Lock()
	delete(s.sessions, c)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		logging.Debug("WS", "Upgrade failed: %v", err)
		return
	}

	c := newWSClient(conn)
	s.track(c)
	defer s.untrack(c)

	bus := s.orch.Bus()
	global := bus.Subscribe(events.GlobalTopic)
	go c.forward(global)
	go c.writeLoop()

	logging.Debug("WS", "Client connected from %s", r.RemoteAddr)
	c.send(outbound{Type: events.TypeSystemHealth, Data: s.orch.SystemStatus()})

	s.readLoop(c)

	c.close()
	bus.Unsubscribe(global)
	c.mu.Lock()
	if c.sessionSub != nil {
		bus.Unsubscribe(c.sessionSub)
	}
	c.mu.Unlock()
	logging.Debug("WS", "Client %s disconnected (session %q)", r.RemoteAddr, c.currentSession())
}

func (s *Server) readLoop(c *wsClient) {
	c.conn.SetReadLimit(maxBodyBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug("WS", "Read failed: %v", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.send(outbound{Type: MsgError, Data: errorBody{Error: "malformed message"}})
			continue
		}

		switch msg.Type {
		case MsgJoinSession:
			s.joinSession(c, msg.Data)
		case MsgUserQuestion:
			s.userQuestion(c, msg.Data)
		default:
			c.send(outbound{Type: MsgError, Data: errorBody{Error: "unknown message type", Message: msg.Type}})
		}
	}
}

func (c *wsClient) currentSession() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// joinSession moves the client onto a session topic. A client follows at
// most one session at a time; joining another leaves the previous one.
func (s *Server) joinSession(c *wsClient, raw json.RawMessage) {
	var js JoinSession
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &js); err != nil {
			c.send(outbound{Type: MsgError, Data: errorBody{Error: "malformed join-session"}})
			return
		}
	}
	js.SessionID = strings.TrimSpace(js.SessionID)
	if js.SessionID == "" || len(js.SessionID) > coordinator.MaxIdentifierLength {
		c.send(outbound{Type: MsgError, Data: errorBody{Error: "sessionId is required"}})
		return
	}

	bus := s.orch.Bus()
	sub := bus.Subscribe(events.SessionTopic(js.SessionID))

	c.mu.Lock()
	prev := c.sessionSub
	c.sessionSub = sub
	c.sessionID = js.SessionID
	c.userID = strings.TrimSpace(js.UserID)
	c.mu.Unlock()

	if prev != nil {
		bus.Unsubscribe(prev)
	}
	go c.forward(sub)

	logging.Info("WS", "User %s joined session %s", js.UserID, js.SessionID)
	c.send(outbound{Type: MsgSessionJoined, Data: SessionJoined{
		SessionID:       js.SessionID,
		Message:         "Connected to StrumSpace AI Guitar Assistant",
		SystemStatus:    s.orch.SystemStatus(),
		AvailableChords: s.orch.Chords().IDs(),
	}})
}

// userQuestion runs the pipeline in the background so the read loop keeps
// serving the connection. The full result is delivered through the session
// topic; the reply here is only an acknowledgement.
func (s *Server) userQuestion(c *wsClient, raw json.RawMessage) {
	var req coordinator.RequestContext
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &req); err != nil {
			c.send(outbound{Type: MsgRequestError, Data: RequestError{Error: "malformed user-question"}})
			return
		}
	}
	req.RequestID = ""

	c.mu.Lock()
	if strings.TrimSpace(req.SessionID) == "" {
		req.SessionID = c.sessionID
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = c.userID
	}
	c.mu.Unlock()

	go func() {
		res := s.orch.HandleRequest(context.Background(), req)
		if res.Error != nil {
			c.send(outbound{Type: MsgRequestError, Data: RequestError{
				Error:            res.Error.Message,
				Kind:             string(res.Error.Kind),
				OriginalQuestion: req.Input,
			}})
			return
		}
		c.send(outbound{Type: MsgRequestProcessed, Data: RequestProcessed{
			RequestID: res.RequestID,
			SessionID: res.SessionID,
			Success:   res.Success,
		}})
	}()
}
