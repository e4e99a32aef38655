package ws

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/manpreetbhatti/notecollab/backend/internal/protocol"
	"github.com/manpreetbhatti/notecollab/backend/internal/ratelimit"
	"github.com/manpreetbhatti/notecollab/backend/internal/room"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 1024 * 1024
	messagesPerSecond = 100
	messageBurst      = 200
	sendBuffer        = 256
)

var (
	errClientClosed = errors.New("ws: client closed")
	errSlowConsumer = errors.New("ws: send buffer full")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one accepted socket scoped to a single note
type Client struct {
	hub         *Hub
	router      *Router
	conn        *websocket.Conn
	send        chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	noteID      string
	clientID    string
	rateLimiter *ratelimit.Limiter
}

func (c *Client) ID() string     { return c.clientID }
func (c *Client) NoteID() string { return c.noteID }

// Send queues data for the write pump without blocking
func (c *Client) Send(data []byte) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return errClientClosed
	default:
		return errSlowConsumer
	}
}

// Close stops the write pump, which closes the socket and in turn ends the
// read pump
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// ServeWs upgrades the request and runs the session for the note named by
// the {noteId} path variable
func ServeWs(hub *Hub, router *Router, w http.ResponseWriter, r *http.Request) {
	noteID := mux.Vars(r)["noteId"]
	if noteID == "" {
		http.Error(w, "note id required", http.StatusBadRequest)
		return
	}

	if err := hub.Admit(r.Context(), noteID); err != nil {
		if errors.Is(err, ErrUnknownNote) {
			http.Error(w, "note not found", http.StatusNotFound)
			return
		}
		hub.log.Error("admission check failed", "room", noteID, "err", err)
		http.Error(w, "note lookup failed", http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Warn("upgrade error", "room", noteID, "err", err)
		return
	}

	client := newClient(hub, router, conn, noteID)
	if err := hub.Register(client); err != nil {
		code, reason := websocket.CloseInternalServerErr, "registration failed"
		if errors.Is(err, room.ErrRoomFull) {
			code, reason = websocket.CloseTryAgainLater, "room is full"
		}
		hub.log.Warn("rejecting client", "room", noteID, "err", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		conn.Close()
		return
	}

	client.start()
}

func newClient(hub *Hub, router *Router, conn *websocket.Conn, noteID string) *Client {
	return &Client{
		hub:         hub,
		router:      router,
		conn:        conn,
		send:        make(chan []byte, hub.sendBuffer),
		done:        make(chan struct{}),
		noteID:      noteID,
		clientID:    uuid.NewString(),
		rateLimiter: ratelimit.NewLimiter(hub.messagesPerSecond, hub.messageBurst),
	}
}

// start runs the pumps of a registered client
func (c *Client) start() {
	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rateLimitWarnings := 0

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.hub.log.Warn("websocket read error", "room", c.noteID, "client_id", c.clientID, "err", err)
			}
			return
		}

		if !c.rateLimiter.Allow() {
			rateLimitWarnings++
			if rateLimitWarnings%100 == 1 {
				c.hub.log.Warn("rate limit exceeded", "room", c.noteID, "client_id", c.clientID, "warnings", rateLimitWarnings)
			}
			if rateLimitWarnings > 1000 {
				c.hub.log.Warn("disconnecting client for excessive rate limit violations", "client_id", c.clientID)
				return
			}
			continue
		}

		if err := c.router.Route(c, message); err != nil {
			if errors.Is(err, ErrNotMember) {
				return
			}
			c.hub.log.Warn("invalid message", "room", c.noteID, "client_id", c.clientID, "err", err)
			if reply := c.hub.encode(protocol.NewErrorEvent(err)); reply != nil {
				_ = c.Send(reply)
			}
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
