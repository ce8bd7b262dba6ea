package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/twinlink/broker/internal/api/http/dto"
	"github.com/twinlink/broker/internal/api/http/middleware"
	"github.com/twinlink/broker/internal/devices"
)

type DeviceHandler struct {
	registry *devices.Registry
}

func NewDeviceHandler(registry *devices.Registry) *DeviceHandler {
	return &DeviceHandler{registry: registry}
}

func (h *DeviceHandler) List(ctx *gin.Context) {
	userID, ok := middleware.UserIDFrom(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	list, err := h.registry.List(ctx.Request.Context(), userID)
	if err != nil {
		slog.Error("Failed to list devices", "user_id", userID, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list devices"})
		return
	}

	infos := make([]dto.DeviceInfo, len(list))
	for i, d := range list {
		infos[i] = deviceInfo(d)
	}

	ctx.JSON(http.StatusOK, dto.ListDevicesResponse{Devices: infos, Count: len(infos)})
}

func (h *DeviceHandler) Pair(ctx *gin.Context) {
	userID, ok := middleware.UserIDFrom(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req dto.PairDeviceRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	device, err := h.registry.Pair(ctx.Request.Context(), userID, req.Name, devices.Class(req.Class), req.Capabilities)
	if err != nil {
		slog.Error("Failed to pair device", "user_id", userID, "name", req.Name, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to pair device"})
		return
	}

	slog.Info("Device paired", "user_id", userID, "device_id", device.ID, "name", device.Name)
	ctx.JSON(http.StatusCreated, dto.PairDeviceResponse{
		Device: deviceInfo(device),
		Token:  device.Token,
	})
}

func (h *DeviceHandler) Unpair(ctx *gin.Context) {
	userID, ok := middleware.UserIDFrom(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	deviceID := ctx.Param("id")
	err := h.registry.Unpair(ctx.Request.Context(), userID, deviceID)
	switch {
	case errors.Is(err, devices.ErrDeviceNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
	case errors.Is(err, devices.ErrNotOwner):
		ctx.JSON(http.StatusForbidden, gin.H{"error": "device belongs to another user"})
	case err != nil:
		slog.Error("Failed to unpair device", "device_id", deviceID, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to unpair device"})
	default:
		slog.Info("Device unpaired", "user_id", userID, "device_id", deviceID)
		ctx.JSON(http.StatusOK, gin.H{"message": "device unpaired"})
	}
}

func deviceInfo(d devices.Device) dto.DeviceInfo {
	return dto.DeviceInfo{
		ID:            d.ID,
		Name:          d.Name,
		Class:         string(d.Class),
		Capabilities:  d.Capabilities,
		Online:        d.Online,
		LastHeartbeat: d.LastHeartbeat,
		PairedAt:      d.PairedAt,
	}
}
