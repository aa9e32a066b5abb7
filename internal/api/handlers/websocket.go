package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/pjsph/slam/internal/broadcast"
	"github.com/pjsph/slam/internal/protocol"
	"github.com/pjsph/slam/internal/transport"
	"github.com/pjsph/slam/internal/websocket"
	"go.uber.org/zap"
)

// WebSocketHandler streams match frames to browser clients.
type WebSocketHandler struct {
	ctx        context.Context
	hub        *broadcast.Hub
	codec      *protocol.Codec
	dispatcher *transport.Dispatcher
	backlog    int
	logger     *zap.Logger
}

// NewWebSocketHandler builds the handler. ctx bounds every connection it
// upgrades and must outlive individual requests.
func NewWebSocketHandler(ctx context.Context, hub *broadcast.Hub, codec *protocol.Codec, dispatcher *transport.Dispatcher, backlog int, logger *zap.Logger) *WebSocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketHandler{
		ctx:        ctx,
		hub:        hub,
		codec:      codec,
		dispatcher: dispatcher,
		backlog:    backlog,
		logger:     logger,
	}
}

// HandleWebSocket upgrades the connection.
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	websocket.Serve(h.ctx, h.hub, h.codec, h.dispatcher, h.backlog, h.logger, c.Writer, c.Request, c.ClientIP())
}
