package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/twinlink/broker/internal/api/http/dto"
	"github.com/twinlink/broker/internal/api/http/middleware"
	"github.com/twinlink/broker/internal/dispatch"
)

type CommandHandler struct {
	dispatcher *dispatch.Dispatcher
}

func NewCommandHandler(d *dispatch.Dispatcher) *CommandHandler {
	return &CommandHandler{dispatcher: d}
}

// Execute runs one addressed command through parsing, the safety guard and
// device fan-out. Blocked and needs-confirmation verdicts are 200 responses
// with the matching status; only malformed input is a client error.
func (h *CommandHandler) Execute(ctx *gin.Context) {
	userID, ok := middleware.UserIDFrom(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req dto.ExecuteCommandRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outcome, err := h.dispatcher.Execute(ctx.Request.Context(), userID, req.Input, req.Confirmed)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp := dto.ExecuteCommandResponse{
		Risk:        string(outcome.Analysis.Risk),
		Explanation: outcome.Analysis.Explanation,
		Warnings:    outcome.Analysis.Warnings,
	}

	switch {
	case outcome.Analysis.Blocked:
		resp.Status = dto.CommandStatusBlocked
	case outcome.NeedsConfirmation:
		resp.Status = dto.CommandStatusNeedsConfirmation
	default:
		resp.Status = dto.CommandStatusDispatched
		resp.Success = outcome.Fanout.Success
		resp.SuccessCount = outcome.Fanout.SuccessCount
		resp.FailCount = outcome.Fanout.FailCount
		resp.Results = make([]dto.DeviceResultInfo, len(outcome.Fanout.Results))
		for i, r := range outcome.Fanout.Results {
			resp.Results[i] = dto.DeviceResultInfo{
				DeviceID:   r.DeviceID,
				DeviceName: r.DeviceName,
				Success:    r.Success,
				Response:   r.Response,
				Error:      r.Error,
			}
		}
	}

	ctx.JSON(http.StatusOK, resp)
}
