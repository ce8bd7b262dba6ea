package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/twinlink/broker/internal/api/http/dto"
	"github.com/twinlink/broker/internal/api/http/middleware"
	"github.com/twinlink/broker/internal/devices"
	"github.com/twinlink/broker/internal/hub"
	"github.com/twinlink/broker/internal/queue"
	"github.com/twinlink/broker/internal/relay"
)

const (
	defaultPendingLimit = 10
	maxPendingLimit     = 50
)

// GatewayHandler is the device-facing surface: heartbeats, command polling,
// result submission and offline-queue draining. Every route runs behind
// DeviceAuth, so handlers always act as the authenticated device.
type GatewayHandler struct {
	registry *devices.Registry
	commands relay.Store
	queue    *queue.Queue
	hub      *hub.Hub
	upgrader websocket.Upgrader
}

func NewGatewayHandler(registry *devices.Registry, commands relay.Store, q *queue.Queue, h *hub.Hub) *GatewayHandler {
	return &GatewayHandler{
		registry: registry,
		commands: commands,
		queue:    q,
		hub:      h,
		upgrader: websocket.Upgrader{
			// Agents are CLI processes, not browsers; origin is meaningless.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *GatewayHandler) Heartbeat(ctx *gin.Context) {
	device, ok := middleware.DeviceFrom(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if err := h.registry.Heartbeat(ctx.Request.Context(), device.ID); err != nil {
		slog.Error("Heartbeat failed", "device_id", device.ID, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record heartbeat"})
		return
	}

	ctx.JSON(http.StatusOK, dto.HeartbeatResponse{Status: "ok"})
}

// PendingCommands returns sealed relay rows waiting on this device, urgent
// first.
func (h *GatewayHandler) PendingCommands(ctx *gin.Context) {
	device, ok := middleware.DeviceFrom(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	limit := queryLimit(ctx, defaultPendingLimit, maxPendingLimit)
	pending, err := h.commands.ListPendingForDevice(ctx.Request.Context(), device.ID, limit)
	if err != nil {
		slog.Error("Failed to list pending commands", "device_id", device.ID, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list pending commands"})
		return
	}

	out := make([]dto.PendingCommand, len(pending))
	for i, cmd := range pending {
		out[i] = dto.PendingCommand{
			ID:        cmd.ID,
			Kind:      string(cmd.Kind),
			Payload:   cmd.Payload,
			Priority:  cmd.Priority,
			CreatedAt: cmd.CreatedAt,
			ExpiresAt: cmd.ExpiresAt,
		}
	}

	ctx.JSON(http.StatusOK, dto.ListCommandsResponse{Commands: out, Count: len(out)})
}

// SubmitResult records the device's sealed result for one command. The
// pending -> terminal transition is compare-and-set: if the broker already
// expired the row, the write is rejected with 409 and the agent discards
// the result.
func (h *GatewayHandler) SubmitResult(ctx *gin.Context) {
	device, ok := middleware.DeviceFrom(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req dto.SubmitResultRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	commandID := ctx.Param("id")
	cmd, err := h.commands.GetCommand(ctx.Request.Context(), commandID)
	if errors.Is(err, relay.ErrCommandNotFound) {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "command not found"})
		return
	}
	if err != nil {
		slog.Error("Failed to load command", "command_id", commandID, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load command"})
		return
	}
	if cmd.DeviceID != device.ID {
		ctx.JSON(http.StatusForbidden, gin.H{"error": "command belongs to another device"})
		return
	}

	won, err := h.commands.FinishCommand(ctx.Request.Context(), commandID, relay.Status(req.Status), &req.Result)
	if err != nil {
		slog.Error("Failed to finish command", "command_id", commandID, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record result"})
		return
	}
	if !won {
		ctx.JSON(http.StatusConflict, gin.H{"error": "command already reached a terminal state"})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "result recorded"})
}

// DrainQueue hands queued offline messages to the reconnecting device,
// urgent first, and flips them to processing so a second device cannot
// claim the same rows.
func (h *GatewayHandler) DrainQueue(ctx *gin.Context) {
	device, ok := middleware.DeviceFrom(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	limit := queryLimit(ctx, 0, maxPendingLimit)
	msgs, err := h.queue.Dequeue(ctx.Request.Context(), device.UserID, limit)
	if err != nil {
		slog.Error("Failed to drain queue", "device_id", device.ID, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to drain queue"})
		return
	}

	out := make([]dto.QueuedMessageInfo, len(msgs))
	for i, m := range msgs {
		out[i] = dto.QueuedMessageInfo{
			ID:            m.ID,
			Message:       m.Text,
			SourceChannel: m.SourceChannel,
			SessionID:     m.SessionID,
			Category:      m.Category,
			Priority:      m.Priority,
			QueuedAt:      m.QueuedAt,
			ExpiresAt:     m.ExpiresAt,
		}
	}

	ctx.JSON(http.StatusOK, dto.DrainQueueResponse{Messages: out, Count: len(out)})
}

func (h *GatewayHandler) AckDelivered(ctx *gin.Context) {
	if _, ok := middleware.DeviceFrom(ctx); !ok {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	id := ctx.Param("id")
	err := h.queue.MarkDelivered(ctx.Request.Context(), id)
	if errors.Is(err, queue.ErrMessageNotFound) {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "queued message not found"})
		return
	}
	if err != nil {
		slog.Error("Failed to mark message delivered", "message_id", id, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark delivered"})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "delivered"})
}

// Connect upgrades to a websocket used only for wake-up nudges. The agent
// keeps polling regardless; a lost connection costs latency, never
// correctness.
func (h *GatewayHandler) Connect(ctx *gin.Context) {
	device, ok := middleware.DeviceFrom(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conn, err := h.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "device_id", device.ID, "error", err)
		return
	}

	c := &hub.Connection{DeviceID: device.ID, Writer: &wsWriter{conn: conn}}
	h.hub.Register(c)
	defer h.hub.Unregister(c)

	slog.Info("Device connected", "device_id", device.ID, "name", device.Name)

	// Drain inbound frames until the peer goes away. The gateway never
	// reads anything meaningful from agents over this socket.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	slog.Info("Device disconnected", "device_id", device.ID)
}

// wsWriter serializes writes on one websocket connection.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) Write(message []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, message)
}

func (w *wsWriter) Close() error {
	return w.conn.Close()
}

func queryLimit(ctx *gin.Context, def, max int) int {
	raw := ctx.Query("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
