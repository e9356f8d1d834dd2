package api

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gofiber/contrib/websocket"

	"github.com/example/collab-realtime/domain/collab"
	"github.com/example/collab-realtime/modules/transport"
)

// maxFrameSize bounds one inbound websocket frame.
const maxFrameSize = 256 << 10

// claimFromQuery reads the handshake identity claim from the upgrade URL.
func claimFromQuery(c *websocket.Conn) collab.IdentityClaim {
	return collab.IdentityClaim{
		Identity: collab.Identity{
			UserID:          c.Query("userId"),
			UserName:        c.Query("userName"),
			UserRole:        c.Query("userRole"),
			EstablishmentID: c.Query("establishmentId"),
		},
		Token: c.Query("token"),
	}
}

// HandleWebSocket handles WebSocket connections. All writes go through the
// connection's transport; this goroutine only reads.
func (h *Handlers) HandleWebSocket(c *websocket.Conn) {
	ctx := context.Background()

	ws := transport.NewWebSocket(c, transport.WebSocketOptions{
		QueueSize:    h.opts.QueueSize,
		PingInterval: h.opts.PingInterval,
		OnWriteError: func(err error) {
			h.logger.Warn("WebSocket write failed", "error", err)
		},
	})
	defer ws.Wait()
	defer ws.Close()

	id, err := h.collab.Connect(ctx, claimFromQuery(c), ws)
	if err != nil {
		h.logger.Info("WebSocket handshake rejected", "error", err)
		h.sendError(ws, err)
		return
	}
	defer h.collab.Disconnect(id)

	c.SetReadLimit(maxFrameSize)
	c.SetPongHandler(func(string) error {
		h.collab.Touch(id)
		return nil
	})

	h.logger.Info("WebSocket connected", "connectionID", id)

	for {
		_, msgBytes, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket error", "connectionID", id, "error", err)
			}
			break
		}

		var env collab.Envelope
		if err := json.Unmarshal(msgBytes, &env); err != nil {
			h.collab.Touch(id)
			h.sendError(ws, collab.ErrInvalidMessage)
			continue
		}

		if err := h.collab.HandleEnvelope(ctx, id, env); err != nil {
			if errors.Is(err, collab.ErrUnknownConnection) {
				// Reaped while the socket stayed open.
				break
			}
			h.logger.Debug("Envelope rejected", "connectionID", id, "type", string(env.Type), "error", err)
		}
	}

	h.logger.Info("WebSocket disconnected", "connectionID", id)
}

// sendError queues an error envelope on t.
func (h *Handlers) sendError(t transport.Transport, cause error) {
	env, err := collab.NewEnvelope(collab.TypeError, "", collab.ErrorData{
		Error:   collab.ErrorCode(cause),
		Message: cause.Error(),
	})
	if err != nil {
		h.logger.Error("Failed to marshal error message", "error", err)
		return
	}
	if err := t.Send(env, transport.ClassControl); err != nil {
		h.logger.Debug("Failed to send error message", "error", err)
	}
}
