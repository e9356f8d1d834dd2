package api

import (
	"errors"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/fiber/v2"

	"github.com/example/collab-realtime/domain/collab"
	"github.com/example/collab-realtime/modules/history"
	"github.com/example/collab-realtime/modules/session"
	"github.com/example/collab-realtime/modules/transport"
)

const (
	maxHistoryLimit = 100
	maxPollBatch    = 100
	defaultAlerts   = 50
)

// Handlers contains HTTP and WebSocket handlers.
type Handlers struct {
	collab  Collab
	history history.HistoryPort
	alerts  AlertSource
	checks  []HealthChecker
	opts    ConnectionOptions
	logger  types.Logger
}

// NewHandlers creates a new handlers instance. alerts may be nil.
func NewHandlers(c Collab, h history.HistoryPort, alerts AlertSource, opts ConnectionOptions, logger types.Logger, checks ...HealthChecker) *Handlers {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}
	return &Handlers{
		collab:  c,
		history: h,
		alerts:  alerts,
		checks:  checks,
		opts:    opts,
		logger:  logger,
	}
}

// statusFor maps a collaboration error to an HTTP status.
func statusFor(err error) int {
	switch collab.ErrorCode(err) {
	case collab.CodeIdentityInvalid, collab.CodeUnauthenticated:
		return fiber.StatusUnauthorized
	case collab.CodeUnknownConnection:
		return fiber.StatusNotFound
	case collab.CodeRoomFull:
		return fiber.StatusConflict
	case collab.CodeNotInRoom:
		return fiber.StatusForbidden
	case collab.CodeInvalidMessage:
		return fiber.StatusBadRequest
	case collab.CodeRateLimited:
		return fiber.StatusTooManyRequests
	case collab.CodePersistence:
		return fiber.StatusServiceUnavailable
	case collab.CodeTransport:
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}

// collabError renders a collaboration error the same way error envelopes do.
func collabError(c *fiber.Ctx, err error) error {
	return c.Status(statusFor(err)).JSON(fiber.Map{
		"error":   collab.ErrorCode(err),
		"message": err.Error(),
	})
}

func roomKeyParam(c *fiber.Ctx) (collab.RoomKey, error) {
	key, err := collab.NewRoomKey(collab.RoomType(c.Params("type")), c.Params("resourceId"))
	if err != nil {
		return collab.RoomKey{}, fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return key, nil
}

// historyError maps history port failures.
func historyError(err error) error {
	switch {
	case errors.Is(err, history.ErrSnapshotNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, history.ErrInvalidRequest):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrHistoryUnavailable):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	}
	return err
}

// REST Handlers

// ListRooms handles room listing requests (GET /api/v1/rooms).
func (h *Handlers) ListRooms(c *fiber.Ctx) error {
	rooms := h.collab.Rooms()
	return c.JSON(fiber.Map{
		"rooms": rooms,
		"total": len(rooms),
	})
}

// GetMembers handles GET /api/v1/rooms/:type/:resourceId/members.
func (h *Handlers) GetMembers(c *fiber.Ctx) error {
	key, err := roomKeyParam(c)
	if err != nil {
		return err
	}
	members := h.collab.Participants(key)
	if members == nil {
		members = []collab.Participant{}
	}
	return c.JSON(fiber.Map{
		"roomId":       key.String(),
		"participants": members,
		"total":        len(members),
	})
}

// GetHistory handles GET /api/v1/rooms/:type/:resourceId/history.
func (h *Handlers) GetHistory(c *fiber.Ctx) error {
	key, err := roomKeyParam(c)
	if err != nil {
		return err
	}

	limit := c.QueryInt("limit", h.opts.HistoryLimit)
	if limit <= 0 {
		limit = h.opts.HistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	messages, err := h.history.Recent(c.UserContext(), key, limit)
	if err != nil {
		return historyError(err)
	}
	entries := make([]history.HistoryEntry, len(messages))
	for i, msg := range messages {
		entries[i] = history.EntryFromMessage(msg)
	}
	return c.JSON(fiber.Map{
		"roomId":   key.String(),
		"messages": entries,
		"total":    len(entries),
	})
}

// PutSnapshot handles PUT /api/v1/rooms/whiteboard/:resourceId/snapshot.
func (h *Handlers) PutSnapshot(c *fiber.Ctx) error {
	key, err := roomKeyParam(c)
	if err != nil {
		return err
	}
	if key.Type != collab.RoomTypeWhiteboard {
		return fiber.NewError(fiber.StatusBadRequest, "snapshots are only kept for whiteboard rooms")
	}

	var req SnapshotRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if len(req.Data) == 0 || req.SavedBy == "" {
		return fiber.NewError(fiber.StatusBadRequest, "data and savedBy are required")
	}

	snap, err := h.history.SaveSnapshot(c.UserContext(), key, req.Data, req.SavedBy)
	if err != nil {
		return historyError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(snap)
}

// GetSnapshot handles GET /api/v1/rooms/whiteboard/:resourceId/snapshot.
func (h *Handlers) GetSnapshot(c *fiber.Ctx) error {
	key, err := roomKeyParam(c)
	if err != nil {
		return err
	}
	snap, err := h.history.LoadSnapshot(c.UserContext(), key)
	if err != nil {
		return historyError(err)
	}
	return c.JSON(snap)
}

// ListAlerts handles GET /api/v1/alerts.
func (h *Handlers) ListAlerts(c *fiber.Ctx) error {
	if h.alerts == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "alerts are not recorded")
	}
	alerts := h.alerts.Alerts(c.QueryInt("limit", defaultAlerts))
	return c.JSON(fiber.Map{
		"alerts":   alerts,
		"total":    len(alerts),
		"activity": h.alerts.Activity(),
	})
}

// HealthCheck handles health check requests (GET /health).
func (h *Handlers) HealthCheck(c *fiber.Ctx) error {
	healthy := true
	modules := make(fiber.Map, len(h.checks))
	for _, check := range h.checks {
		status := check.Health(c.UserContext())
		if !status.Healthy {
			healthy = false
		}
		modules[check.Name()] = status
	}

	code := fiber.StatusOK
	state := "healthy"
	if !healthy {
		code = fiber.StatusServiceUnavailable
		state = "unhealthy"
	}
	return c.Status(code).JSON(fiber.Map{
		"status":  state,
		"service": "collab-realtime",
		"modules": modules,
	})
}

// Poll transport handlers

// PollConnect handles POST /api/v1/poll/connect. The body is an identity
// claim; the connected acknowledgement is waiting in the new mailbox.
func (h *Handlers) PollConnect(c *fiber.Ctx) error {
	var claim collab.IdentityClaim
	if err := c.BodyParser(&claim); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	mailbox := transport.NewPoll(h.opts.QueueSize)
	id, err := h.collab.Connect(c.UserContext(), claim, mailbox)
	if err != nil {
		_ = mailbox.Close()
		h.logger.Info("Poll handshake rejected", "error", err)
		return collabError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(PollConnectResponse{
		ConnectionID: id,
		Transport:    mailbox.Kind(),
	})
}

// pollMailbox resolves the poll transport of the :connectionId parameter.
func (h *Handlers) pollMailbox(c *fiber.Ctx) (collab.ConnectionID, *transport.Poll, error) {
	id := collab.ConnectionID(c.Params("connectionId"))
	conn, err := h.collab.Resolve(id)
	if err != nil {
		return id, nil, err
	}
	mailbox, ok := conn.Transport.(*transport.Poll)
	if !ok {
		return id, nil, fiber.NewError(fiber.StatusConflict, "connection does not use polling")
	}
	return id, mailbox, nil
}

// Poll handles GET /api/v1/poll/:connectionId?wait=<seconds>&max=<n>. Each
// request counts as a liveness signal.
func (h *Handlers) Poll(c *fiber.Ctx) error {
	id, mailbox, err := h.pollMailbox(c)
	if err != nil {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return fe
		}
		return collabError(c, err)
	}
	h.collab.Touch(id)

	wait := time.Duration(c.QueryInt("wait", 0)) * time.Second
	limit := c.QueryInt("max", maxPollBatch)
	if limit <= 0 || limit > maxPollBatch {
		limit = maxPollBatch
	}

	envs, err := mailbox.Drain(c.UserContext(), limit, wait)
	if err != nil {
		if errors.Is(err, transport.ErrClosed) {
			return fiber.NewError(fiber.StatusGone, "connection closed")
		}
		return err
	}
	h.collab.Touch(id)

	if envs == nil {
		envs = []collab.Envelope{}
	}
	return c.JSON(PollResponse{ConnectionID: id, Messages: envs})
}

// PollSend handles POST /api/v1/poll/:connectionId with one envelope.
func (h *Handlers) PollSend(c *fiber.Ctx) error {
	id, _, err := h.pollMailbox(c)
	if err != nil {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return fe
		}
		return collabError(c, err)
	}

	var env collab.Envelope
	if err := c.BodyParser(&env); err != nil || env.Type == "" {
		return collabError(c, collab.ErrInvalidMessage)
	}
	if err := h.collab.HandleEnvelope(c.UserContext(), id, env); err != nil {
		return collabError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted"})
}

// PollClose handles DELETE /api/v1/poll/:connectionId.
func (h *Handlers) PollClose(c *fiber.Ctx) error {
	id := collab.ConnectionID(c.Params("connectionId"))
	if _, err := h.collab.Resolve(id); err != nil {
		return collabError(c, err)
	}
	h.collab.Disconnect(id)
	return c.SendStatus(fiber.StatusNoContent)
}
