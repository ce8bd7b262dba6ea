package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twinlink/broker/internal/api/http/dto"
	"github.com/twinlink/broker/internal/auth"
	"github.com/twinlink/broker/internal/secure"
)

// TestBrokerFlow drives the full broker over its HTTP surface: pairing,
// heartbeats, a relayed command answered by a simulated agent, and offline
// degradation for a user with no devices.
func TestBrokerFlow(t *testing.T, router *gin.Engine, jwtSecret, relaySecret string) {
	userToken, err := auth.GenerateToken(auth.Config{JWTSecret: jwtSecret, TokenExpiry: time.Hour}, "flow-user")
	require.NoError(t, err)

	// Pair a device.
	rr := doJSONWithAuth(router, "POST", "/api/v1/devices", dto.PairDeviceRequest{
		Name:         "macbook",
		Class:        "laptop",
		Capabilities: []string{"shell"},
	}, userToken)
	require.Equal(t, http.StatusCreated, rr.Code)

	var paired dto.PairDeviceResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &paired))
	deviceToken := paired.Token
	require.NotEmpty(t, deviceToken)

	t.Run("unauthenticated requests are rejected", func(t *testing.T) {
		rr := doJSON(router, "GET", "/api/v1/devices", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)

		rr = doJSON(router, "POST", "/gateway/v1/heartbeat", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("heartbeat flips the device online", func(t *testing.T) {
		rr := doJSONWithDeviceToken(router, "POST", "/gateway/v1/heartbeat", nil, deviceToken)
		require.Equal(t, http.StatusOK, rr.Code)

		rr = doJSONWithAuth(router, "GET", "/api/v1/devices", nil, userToken)
		require.Equal(t, http.StatusOK, rr.Code)

		var list dto.ListDevicesResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
		require.Equal(t, 1, list.Count)
		assert.True(t, list.Devices[0].Online)
	})

	t.Run("command round trip through a simulated agent", func(t *testing.T) {
		box := secure.NewBox(relaySecret)

		agentCtx, stopAgent := context.WithCancel(context.Background())
		defer stopAgent()
		go func() {
			ticker := time.NewTicker(50 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-agentCtx.Done():
					return
				case <-ticker.C:
				}
				rr := doJSONWithDeviceToken(router, "GET", "/gateway/v1/commands", nil, deviceToken)
				if rr.Code != http.StatusOK {
					continue
				}
				var pending dto.ListCommandsResponse
				if json.Unmarshal(rr.Body.Bytes(), &pending) != nil {
					continue
				}
				for _, cmd := range pending.Commands {
					if _, err := box.Open(cmd.Payload); err != nil {
						continue
					}
					result, err := box.Seal([]byte("pong"))
					if err != nil {
						continue
					}
					doJSONWithDeviceToken(router, "POST", "/gateway/v1/commands/"+cmd.ID+"/result",
						dto.SubmitResultRequest{Status: "completed", Result: result}, deviceToken)
				}
			}
		}()

		rr := doJSONWithAuth(router, "POST", "/api/v1/commands",
			dto.ExecuteCommandRequest{Input: "@macbook echo ping"}, userToken)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp dto.ExecuteCommandResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, dto.CommandStatusDispatched, resp.Status)
		assert.True(t, resp.Success)
		require.Len(t, resp.Results, 1)
		assert.Equal(t, "pong", resp.Results[0].Response)
	})

	t.Run("destructive command is blocked", func(t *testing.T) {
		rr := doJSONWithAuth(router, "POST", "/api/v1/commands",
			dto.ExecuteCommandRequest{Input: "@macbook rm -rf /"}, userToken)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp dto.ExecuteCommandResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, dto.CommandStatusBlocked, resp.Status)
	})

	t.Run("user with no devices degrades to the queue", func(t *testing.T) {
		otherToken, err := auth.GenerateToken(auth.Config{JWTSecret: jwtSecret, TokenExpiry: time.Hour}, "deviceless-user")
		require.NoError(t, err)

		rr := doJSONWithAuth(router, "POST", "/api/v1/messages",
			dto.SendMessageRequest{Message: "remind me to stretch"}, otherToken)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp dto.SendMessageResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "fallback", resp.Tier)
		assert.True(t, resp.Queued)
		assert.Equal(t, 1, resp.QueueDepth)
	})
}
