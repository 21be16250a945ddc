package api

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins (CORS handled by main server)
		return true
	},
}

var errSendBufferFull = errors.New("client send buffer full")

const (
	clientSendBuffer = 256
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = 54 * time.Second
)

// wsClient adapts one gorilla connection to the fan-out Conn interface.
// Send never blocks: a full buffer means the client cannot keep up and the
// fan-out service prunes it.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{conn: conn, send: make(chan []byte, clientSendBuffer)}
}

func (c *wsClient) Send(payload []byte) error {
	select {
	case c.send <- payload:
		return nil
	default:
		return errSendBufferFull
	}
}

func (c *wsClient) Close() error {
	c.once.Do(func() { close(c.send) })
	return nil
}

// readPump discards inbound frames but notices closure; onClose fires once
// when the peer goes away.
func (c *wsClient) readPump(onClose func()) {
	defer func() {
		onClose()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump pumps queued messages to the connection and keeps it alive
// with pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
