package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twinlink/broker/internal/api/http/dto"
	"github.com/twinlink/broker/internal/api/http/middleware"
	"github.com/twinlink/broker/internal/devices"
	"github.com/twinlink/broker/internal/store/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// asUser replaces JWTAuth in handler tests: the claims are assumed valid.
func asUser(userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.UserIDKey, userID)
		c.Next()
	}
}

func setupDeviceRouter(h *DeviceHandler, userID string) *gin.Engine {
	r := gin.New()
	r.Use(asUser(userID))
	r.GET("/api/v1/devices", h.List)
	r.POST("/api/v1/devices", h.Pair)
	r.DELETE("/api/v1/devices/:id", h.Unpair)
	return r
}

func TestPairDevice(t *testing.T) {
	registry := devices.NewRegistry(memory.New(), nil)
	r := setupDeviceRouter(NewDeviceHandler(registry), "user-1")

	body, _ := json.Marshal(dto.PairDeviceRequest{
		Name:         "macbook",
		Class:        "laptop",
		Capabilities: []string{"shell", "file_read"},
	})
	req, _ := http.NewRequest("POST", "/api/v1/devices", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)

	var resp dto.PairDeviceResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "macbook", resp.Device.Name)
	assert.Equal(t, "laptop", resp.Device.Class)
	assert.True(t, strings.HasPrefix(resp.Token, "dt_"))
	assert.NotEmpty(t, resp.Device.ID)
}

func TestPairDeviceMissingName(t *testing.T) {
	registry := devices.NewRegistry(memory.New(), nil)
	r := setupDeviceRouter(NewDeviceHandler(registry), "user-1")

	req, _ := http.NewRequest("POST", "/api/v1/devices", bytes.NewBuffer([]byte(`{"class":"laptop"}`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListDevicesOnlyOwn(t *testing.T) {
	registry := devices.NewRegistry(memory.New(), nil)
	_, err := registry.Pair(context.Background(), "user-1", "macbook", devices.ClassLaptop, nil)
	require.NoError(t, err)
	_, err = registry.Pair(context.Background(), "user-2", "other", devices.ClassDesktop, nil)
	require.NoError(t, err)

	r := setupDeviceRouter(NewDeviceHandler(registry), "user-1")
	req, _ := http.NewRequest("GET", "/api/v1/devices", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp dto.ListDevicesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "macbook", resp.Devices[0].Name)
}

func TestListDevicesNeverExposesToken(t *testing.T) {
	registry := devices.NewRegistry(memory.New(), nil)
	_, err := registry.Pair(context.Background(), "user-1", "macbook", devices.ClassLaptop, nil)
	require.NoError(t, err)

	r := setupDeviceRouter(NewDeviceHandler(registry), "user-1")
	req, _ := http.NewRequest("GET", "/api/v1/devices", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "dt_")
}

func TestUnpairDevice(t *testing.T) {
	registry := devices.NewRegistry(memory.New(), nil)
	d, err := registry.Pair(context.Background(), "user-1", "macbook", devices.ClassLaptop, nil)
	require.NoError(t, err)

	r := setupDeviceRouter(NewDeviceHandler(registry), "user-1")
	req, _ := http.NewRequest("DELETE", "/api/v1/devices/"+d.ID, nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	list, err := registry.List(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestUnpairDeviceNotFound(t *testing.T) {
	registry := devices.NewRegistry(memory.New(), nil)
	r := setupDeviceRouter(NewDeviceHandler(registry), "user-1")

	req, _ := http.NewRequest("DELETE", "/api/v1/devices/nope", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUnpairDeviceOtherUser(t *testing.T) {
	registry := devices.NewRegistry(memory.New(), nil)
	d, err := registry.Pair(context.Background(), "user-2", "other", devices.ClassDesktop, nil)
	require.NoError(t, err)

	r := setupDeviceRouter(NewDeviceHandler(registry), "user-1")
	req, _ := http.NewRequest("DELETE", "/api/v1/devices/"+d.ID, nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}
