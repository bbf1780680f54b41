package feed

import (
	"context"
	"net/http"
	"sync"
	"time"

	"market-gateway/src/helpers"
	"market-gateway/src/interfaces"
	"market-gateway/src/models"

	"github.com/gorilla/websocket"
)

const (
	wsHandshakeTimeout = 10 * time.Second
	wsWriteWait        = 5 * time.Second
	wsPongWait         = 60 * time.Second
	wsPingPeriod       = (wsPongWait * 9) / 10
	wsMaxMessageSize   = 1024 * 1024
)

// -----------------------------------------------------------------------------
// WSDialer connects to the upstream streaming endpoint with gorilla/websocket.
// -----------------------------------------------------------------------------

type WSDialer struct {
	URL    string
	dialer websocket.Dialer
}

func NewWSDialer(url string) *WSDialer {
	return &WSDialer{
		URL: url,
		dialer: websocket.Dialer{
			HandshakeTimeout:  wsHandshakeTimeout,
			EnableCompression: true,
		},
	}
}

// -----------------------------------------------------------------------------

// Dial opens the stream. A 401/403 handshake response is an AuthExpired error.
func (d *WSDialer) Dial(ctx context.Context, cred models.MCredential) (interfaces.IConn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+cred.FeedToken())

	conn, resp, err := d.dialer.DialContext(ctx, d.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, helpers.NewAuthExpired("upstream rejected websocket handshake", err)
		}
		return nil, helpers.NewUpstreamUnavailable("dial upstream", err)
	}

	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	wc := &wsConn{conn: conn, done: make(chan struct{})}
	go wc.pingLoop()
	return wc, nil
}

// -----------------------------------------------------------------------------
// wsConn adapts a gorilla connection to interfaces.IConn. Writes are
// serialized; gorilla allows one concurrent writer.
// -----------------------------------------------------------------------------

type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}
}

func (c *wsConn) Subscribe(symbols []string) error {
	return c.writeJSON(models.MUpstreamCommand{Action: "subscribe", Symbols: symbols})
}

func (c *wsConn) Unsubscribe(symbols []string) error {
	return c.writeJSON(models.MUpstreamCommand{Action: "unsubscribe", Symbols: symbols})
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// -----------------------------------------------------------------------------

func (c *wsConn) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(v)
}

// -----------------------------------------------------------------------------

func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
