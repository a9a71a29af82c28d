package livefeed

import (
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
)

// client is one websocket connection
type client struct {
	log  logs.Log
	conn *websocket.Conn

	sendQueue chan Message
	closeOnce sync.Once
	done      chan bool

	// Guarded by Feed.lock
	nDropped    int64
	nSent       int64
	lastDropMsg time.Time
}

func newClient(log logs.Log, conn *websocket.Conn) *client {
	return &client{
		log:       log,
		conn:      conn,
		sendQueue: make(chan Message, WebSocketSendBufferSize),
		done:      make(chan bool),
	}
}

// send must be called with Feed.lock held
func (c *client) send(msg Message) {
	select {
	case c.sendQueue <- msg:
		c.nSent++
	default:
		c.nDropped++
		now := time.Now()
		if now.Sub(c.lastDropMsg) > 5*time.Second {
			c.log.Infof("Dropped %v/%v events to websocket %v", c.nDropped, c.nDropped+c.nSent, c.conn.RemoteAddr())
			c.lastDropMsg = now
		}
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// run returns when either the websocket or the feed is closed
func (c *client) run() {
	defer c.conn.Close()
	go c.reader()
	for {
		select {
		case msg := <-c.sendQueue:
			if err := c.conn.WriteJSON(msg); err != nil {
				c.log.Infof("Error writing to websocket %v: %v", c.conn.RemoteAddr(), err)
				c.close()
				return
			}
		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		}
	}
}

// reader discards incoming messages, and detects when the client goes away
func (c *client) reader() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
	c.close()
}
