package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/petems/ampviz/internal/app"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	// writeWait is how long to wait for a write to complete
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong response
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds what a client may send; it only sends control frames
	maxMessageSize = 4 * 1024

	// sendBuffer is the per-client queue; about six seconds of amplitude events
	sendBuffer = 1024
)

// Wire formats selected with ?format=
const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

func validFormat(f string) bool {
	return f == "" || f == FormatJSON || f == FormatMsgpack
}

// encode returns the websocket message type and payload for ev.
func encode(format string, ev app.Event) (int, []byte, error) {
	switch format {
	case "", FormatJSON:
		data, err := json.Marshal(ev)
		return websocket.TextMessage, data, err
	case FormatMsgpack:
		data, err := msgpack.Marshal(&ev)
		return websocket.BinaryMessage, data, err
	default:
		return 0, nil, fmt.Errorf("unknown format %q", format)
	}
}

// Client represents a single websocket connection
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	format string
	send   chan app.Event
}

func newClient(hub *Hub, conn *websocket.Conn, format string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		format: format,
		send:   make(chan app.Event, sendBuffer),
	}
}

// Run registers the client and pumps events until the connection closes.
// It blocks, as the websocket handler must.
func (c *Client) Run() {
	if !c.hub.add(c) {
		c.conn.Close()
		return
	}
	// The conn is recycled once the handler returns, so wait for both pumps.
	written := make(chan struct{})
	go func() {
		defer close(written)
		c.writePump()
	}()
	c.readPump()
	<-written
}

// readPump only drains control frames so pongs and disconnects are seen
func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

// writePump is the only goroutine writing to the connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			typ, data, err := encode(c.format, ev)
			if err != nil {
				c.hub.log.Error().Err(err).Msg("Failed to encode event")
				continue
			}
			if err := c.conn.WriteMessage(typ, data); err != nil {
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
