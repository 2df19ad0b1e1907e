package ws

import (
	"context"
	"sync"
	"time"

	"maca-service/internal/service/table"
	"maca-service/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 16
	sendBuffer     = 256
)

// client is one websocket connection. Every frame is written by writePump,
// which also stamps the per-connection sequence number.
type client struct {
	id         string
	conn       *websocket.Conn
	identity   table.Identity
	tables     Tables
	dispatcher *Dispatcher

	send      chan table.OutgoingMessage
	done      chan struct{}
	closeOnce sync.Once
	seq       int64
}

func newClient(conn *websocket.Conn, identity table.Identity, tables Tables, dispatcher *Dispatcher) *client {
	return &client{
		id:         uuid.NewString(),
		conn:       conn,
		identity:   identity,
		tables:     tables,
		dispatcher: dispatcher,
		send:       make(chan table.OutgoingMessage, sendBuffer),
		done:       make(chan struct{}),
	}
}

func (c *client) ID() string { return c.id }

// Send queues msg without blocking. A full buffer drops the message.
func (c *client) Send(msg table.OutgoingMessage) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	default:
		logger.Log.Warn("ws send buffer full, dropping message",
			zap.String("connID", c.id), zap.String("userID", c.identity.UserID), zap.String("type", msg.Type))
		return false
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *client) run(ctx context.Context) {
	c.tables.OnConnect(c, c.identity)
	go c.writePump()
	c.readPump(ctx)
}

func (c *client) readPump(ctx context.Context) {
	defer func() {
		c.close()
		c.tables.OnDisconnect(c.id)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Log.Info("ws read error", zap.String("connID", c.id), zap.String("userID", c.identity.UserID), zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		c.dispatcher.Dispatch(ctx, c, message)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.seq++
			msg.Seq = c.seq
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				logger.Log.Info("ws write error", zap.String("connID", c.id), zap.String("userID", c.identity.UserID), zap.Error(err))
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
			return
		}
	}
}
