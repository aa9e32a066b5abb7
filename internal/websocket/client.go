// Package websocket carries the binary protocol over WebSocket binary
// messages for browser clients.
package websocket

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pjsph/slam/internal/broadcast"
	"github.com/pjsph/slam/internal/protocol"
	"github.com/pjsph/slam/internal/transport"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one WebSocket connection registered with the hub.
type Client struct {
	*broadcast.Mailbox
	hub        *broadcast.Hub
	conn       *websocket.Conn
	codec      *protocol.Codec
	dispatcher *transport.Dispatcher
	key        string
	logger     *zap.Logger
}

func NewClient(hub *broadcast.Hub, conn *websocket.Conn, codec *protocol.Codec, dispatcher *transport.Dispatcher, remoteIP string, backlog int, logger *zap.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		Mailbox:    broadcast.NewMailbox(id, backlog),
		hub:        hub,
		conn:       conn,
		codec:      codec,
		dispatcher: dispatcher,
		key:        "ws:" + remoteIP,
		logger:     logger.With(zap.String("conn", id), zap.String("remote", remoteIP)),
	}
}

// readPump decodes client packets. Every binary message is fed to one framer,
// so packets may span messages.
func (c *Client) readPump(ctx context.Context, cancel context.CancelFunc) {
	defer func() {
		cancel()
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	framer := protocol.NewFramer(c.codec, protocol.ServerBound)
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}

		framer.Feed(data)
		for {
			p, err := framer.Next()
			if err != nil {
				c.logger.Warn("Closing WebSocket on protocol error", zap.Error(err))
				c.closeWith(websocket.CloseUnsupportedData, err.Error())
				return
			}
			if p == nil {
				break
			}
			if err := c.dispatcher.Dispatch(ctx, c.Mailbox, c.key, p, c.logger); err != nil {
				if !errors.Is(err, context.Canceled) {
					c.logger.Warn("Dispatch failed", zap.Error(err))
				}
				c.closeWith(websocket.CloseInternalServerErr, "")
				return
			}
		}
	}
}

// writePump sends queued frames as binary messages and keeps the connection alive.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.Frames():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				c.logger.Debug("WebSocket write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) closeWith(code int, text string) {
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(writeWait))
}

// Serve upgrades the request and runs the client until either pump stops
// or ctx is cancelled.
func Serve(ctx context.Context, hub *broadcast.Hub, codec *protocol.Codec, dispatcher *transport.Dispatcher, backlog int, logger *zap.Logger, w http.ResponseWriter, r *http.Request, remoteIP string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := NewClient(hub, conn, codec, dispatcher, remoteIP, backlog, logger)
	hub.Register(client)
	client.logger.Info("WebSocket client connected")

	cctx, cancel := context.WithCancel(ctx)
	go client.writePump(cctx)
	go client.readPump(cctx, cancel)
}
