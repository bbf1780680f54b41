package server

import (
	"net/http"
	"time"

	"market-gateway/src/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

const (
	writeWait      = 2 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// -----------------------------------------------------------------------------
// Session is one downstream websocket connection.
// -----------------------------------------------------------------------------

type Session struct {
	ID          string
	ConnectedAt time.Time

	server *Server
	conn   *websocket.Conn
	send   chan models.MEvent
}

func newSession(s *Server, conn *websocket.Conn) *Session {
	size := s.Config.Gateway.SendQueueSize
	if size <= 0 {
		size = 256
	}
	return &Session{
		ID:          uuid.NewString(),
		ConnectedAt: time.Now(),
		server:      s,
		conn:        conn,
		send:        make(chan models.MEvent, size),
	}
}

// -----------------------------------------------------------------------------
// readPump handles incoming commands and acts as the connection watchdog.
// -----------------------------------------------------------------------------

func (c *Session) readPump() {
	defer func() {
		c.server.OnDisconnect(c.ID)
		c.conn.Close()
		c.server.pumps.Done()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.server.Logger.Info("Session %s read error: %v", c.ID, err)
			}
			return
		}
		c.server.HandleClientMessage(c, message)
	}
}

// -----------------------------------------------------------------------------
// writePump serializes every outbound event for the session.
// -----------------------------------------------------------------------------

func (c *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.server.pumps.Done()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Session was unregistered
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteJSON(event); err != nil {
				c.server.Logger.Info("Session %s write error: %v", c.ID, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
