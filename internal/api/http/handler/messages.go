package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/twinlink/broker/internal/api/http/dto"
	"github.com/twinlink/broker/internal/api/http/middleware"
	"github.com/twinlink/broker/internal/router"
)

type MessageHandler struct {
	router *router.Router
}

func NewMessageHandler(r *router.Router) *MessageHandler {
	return &MessageHandler{router: r}
}

// Send routes one conversation message and always answers 200: tier
// degradation is a normal outcome, not an error.
func (h *MessageHandler) Send(ctx *gin.Context) {
	userID, ok := middleware.UserIDFrom(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req dto.SendMessageRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp := h.router.Route(ctx.Request.Context(), router.Request{
		UserID:         userID,
		Message:        req.Message,
		SourceChannel:  req.SourceChannel,
		SourceUserID:   req.SourceUserID,
		SessionID:      req.SessionID,
		Category:       req.Category,
		CachedResponse: req.CachedResponse,
	})

	ctx.JSON(http.StatusOK, dto.SendMessageResponse{
		Tier:             string(resp.Tier),
		Response:         resp.Response,
		HasMemoryContext: resp.HasMemoryContext,
		DeviceName:       resp.DeviceName,
		Queued:           resp.Queued,
		QueueDepth:       resp.QueueDepth,
		ProcessingMs:     resp.ProcessingMs,
	})
}
