package ws

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Client is one downstream connection. Its symbol set is guarded by the hub lock.
type Client struct {
	id     string
	token  string // opaque, passed through for collaborators that need it
	remote string

	conn *websocket.Conn
	out  *Outbox

	symbols map[string]struct{}
	removed bool
}

func (c *Client) ID() string { return c.id }

func (c *Client) Token() string { return c.token }

// Dropped counts frames lost to backpressure on this connection.
func (c *Client) Dropped() int64 { return c.out.Dropped() }

func (c *Client) send(f frame) { c.out.Push(f) }

func (c *Client) sendError(msg string) { c.out.Push(errorFrame(msg)) }

// readPump owns the read side; every exit path ends in hub.remove.
func (c *Client) readPump(h *Hub) {
	defer h.remove(c, "read closed")

	c.conn.SetReadLimit(h.cfg.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		return nil
	})

	for {
		mt, b, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Debug().Err(err).Str("client_id", c.id).Msg("client read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		if mt != websocket.TextMessage {
			c.sendError("only text frames are accepted")
			continue
		}
		h.handleMessage(c, b)
	}
}

// writePump drains the outbox; it is the only writer of data frames on conn.
func (c *Client) writePump(h *Hub) {
	ticker := time.NewTicker(h.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.out.Ready():
			for {
				f, ok := c.out.Pop()
				if !ok {
					break
				}
				_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
				if err := c.conn.WriteMessage(websocket.TextMessage, f.data); err != nil {
					log.Debug().Err(err).Str("client_id", c.id).Msg("client write failed")
					return
				}
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
				return
			}
		case <-c.out.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.cfg.WriteTimeout))
			return
		}
	}
}
