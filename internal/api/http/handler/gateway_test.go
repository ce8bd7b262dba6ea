package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twinlink/broker/internal/api/http/dto"
	"github.com/twinlink/broker/internal/api/http/middleware"
	"github.com/twinlink/broker/internal/devices"
	"github.com/twinlink/broker/internal/hub"
	"github.com/twinlink/broker/internal/queue"
	"github.com/twinlink/broker/internal/relay"
	"github.com/twinlink/broker/internal/secure"
	"github.com/twinlink/broker/internal/store/memory"
)

type gatewayFixture struct {
	engine   *gin.Engine
	store    *memory.Store
	registry *devices.Registry
	box      *secure.Box
	device   devices.Device
}

func setupGateway(t *testing.T) *gatewayFixture {
	t.Helper()
	store := memory.New()
	registry := devices.NewRegistry(store, nil)
	box := secure.NewBox("test-secret")

	device, err := registry.Pair(context.Background(), "user-1", "macbook", devices.ClassLaptop, nil)
	require.NoError(t, err)

	h := NewGatewayHandler(registry, store, queue.New(store), hub.New())
	r := gin.New()
	gw := r.Group("/gateway/v1")
	gw.Use(middleware.DeviceAuth(registry))
	{
		gw.POST("/heartbeat", h.Heartbeat)
		gw.GET("/commands", h.PendingCommands)
		gw.POST("/commands/:id/result", h.SubmitResult)
		gw.GET("/queue", h.DrainQueue)
		gw.POST("/queue/:id/delivered", h.AckDelivered)
	}

	return &gatewayFixture{engine: r, store: store, registry: registry, box: box, device: device}
}

func (f *gatewayFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Device-Token", f.device.Token)
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func (f *gatewayFixture) insertPending(t *testing.T, text string) relay.Command {
	t.Helper()
	raw, err := json.Marshal(relay.Payload{Kind: relay.KindCommand, Text: text})
	require.NoError(t, err)
	env, err := f.box.Seal(raw)
	require.NoError(t, err)

	now := time.Now()
	cmd := relay.Command{
		ID:        uuid.NewString(),
		UserID:    "user-1",
		DeviceID:  f.device.ID,
		Payload:   env,
		Status:    relay.StatusPending,
		Kind:      relay.KindCommand,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Minute),
	}
	require.NoError(t, f.store.InsertCommand(context.Background(), cmd))
	return cmd
}

func TestGatewayRejectsMissingToken(t *testing.T) {
	f := setupGateway(t)

	req, _ := http.NewRequest("POST", "/gateway/v1/heartbeat", nil)
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGatewayRejectsUnknownToken(t *testing.T) {
	f := setupGateway(t)

	req, _ := http.NewRequest("POST", "/gateway/v1/heartbeat", nil)
	req.Header.Set("X-Device-Token", "dt_bogus")
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHeartbeatMarksDeviceOnline(t *testing.T) {
	f := setupGateway(t)

	w := f.do(t, "POST", "/gateway/v1/heartbeat", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	list, err := f.registry.List(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Online)
}

func TestPendingCommandsReturnsSealedPayload(t *testing.T) {
	f := setupGateway(t)
	cmd := f.insertPending(t, "git pull")

	w := f.do(t, "GET", "/gateway/v1/commands", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp dto.ListCommandsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, cmd.ID, resp.Commands[0].ID)
	assert.NotEmpty(t, resp.Commands[0].Payload.Ciphertext)
	// The plaintext must never appear on the wire.
	assert.NotContains(t, w.Body.String(), "git pull")
}

func TestSubmitResultCompletesCommand(t *testing.T) {
	f := setupGateway(t)
	cmd := f.insertPending(t, "git pull")

	raw, _ := json.Marshal(map[string]any{"success": true, "response": "done"})
	env, err := f.box.Seal(raw)
	require.NoError(t, err)

	w := f.do(t, "POST", "/gateway/v1/commands/"+cmd.ID+"/result",
		dto.SubmitResultRequest{Status: "completed", Result: env})
	assert.Equal(t, http.StatusOK, w.Code)

	got, err := f.store.GetCommand(context.Background(), cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, relay.StatusCompleted, got.Status)
	require.NotNil(t, got.Result)
}

func TestSubmitResultAfterTerminalConflicts(t *testing.T) {
	f := setupGateway(t)
	cmd := f.insertPending(t, "git pull")

	won, err := f.store.ExpireCommand(context.Background(), cmd.ID)
	require.NoError(t, err)
	require.True(t, won)

	env, err := f.box.Seal([]byte(`{"success":true}`))
	require.NoError(t, err)

	w := f.do(t, "POST", "/gateway/v1/commands/"+cmd.ID+"/result",
		dto.SubmitResultRequest{Status: "completed", Result: env})
	assert.Equal(t, http.StatusConflict, w.Code)

	got, err := f.store.GetCommand(context.Background(), cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, relay.StatusExpired, got.Status)
}

func TestSubmitResultOtherDevice(t *testing.T) {
	f := setupGateway(t)

	other, err := f.registry.Pair(context.Background(), "user-1", "phone", devices.ClassPhone, nil)
	require.NoError(t, err)

	raw, _ := json.Marshal(relay.Payload{Kind: relay.KindCommand, Text: "ls"})
	env, err := f.box.Seal(raw)
	require.NoError(t, err)
	now := time.Now()
	cmd := relay.Command{
		ID:        uuid.NewString(),
		UserID:    "user-1",
		DeviceID:  other.ID,
		Payload:   env,
		Status:    relay.StatusPending,
		Kind:      relay.KindCommand,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Minute),
	}
	require.NoError(t, f.store.InsertCommand(context.Background(), cmd))

	result, err := f.box.Seal([]byte(`{"success":true}`))
	require.NoError(t, err)

	w := f.do(t, "POST", "/gateway/v1/commands/"+cmd.ID+"/result",
		dto.SubmitResultRequest{Status: "completed", Result: result})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDrainQueueAndAckDelivered(t *testing.T) {
	f := setupGateway(t)

	q := queue.New(f.store)
	enq, err := q.Enqueue(context.Background(), "user-1", "urgent: check the backups", queue.Source{})
	require.NoError(t, err)

	w := f.do(t, "GET", "/gateway/v1/queue", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp dto.DrainQueueResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, enq.MessageID, resp.Messages[0].ID)
	assert.Equal(t, queue.PriorityUrgent, resp.Messages[0].Priority)

	w = f.do(t, "POST", "/gateway/v1/queue/"+enq.MessageID+"/delivered", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Drained and acked rows never come back.
	w = f.do(t, "GET", "/gateway/v1/queue", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Count)
}

func TestAckDeliveredUnknownMessage(t *testing.T) {
	f := setupGateway(t)

	w := f.do(t, "POST", "/gateway/v1/queue/"+uuid.NewString()+"/delivered", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
