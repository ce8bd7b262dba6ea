package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/twinlink/broker/internal/auth"
	"github.com/twinlink/broker/internal/devices"
)

const (
	deviceTokenHeader = "X-Device-Token"

	UserIDKey = "user_id"
	DeviceKey = "device"
)

// DeviceAuthenticator resolves a gateway token to the paired device.
type DeviceAuthenticator interface {
	Authenticate(ctx context.Context, token string) (devices.Device, error)
}

func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization header"})
			return
		}

		token := strings.TrimPrefix(header, "Bearer ")
		claims, err := auth.ValidateToken(secret, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Next()
	}
}

// DeviceAuth guards the gateway surface. Agents present the opaque token
// issued at pairing time; the resolved device is stored on the context.
func DeviceAuth(authenticator DeviceAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(deviceTokenHeader)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing device token"})
			return
		}

		device, err := authenticator.Authenticate(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid device token"})
			return
		}

		c.Set(DeviceKey, device)
		c.Next()
	}
}

// DeviceFrom returns the authenticated device set by DeviceAuth.
func DeviceFrom(c *gin.Context) (devices.Device, bool) {
	v, exists := c.Get(DeviceKey)
	if !exists {
		return devices.Device{}, false
	}
	d, ok := v.(devices.Device)
	return d, ok
}

// UserIDFrom returns the authenticated user id set by JWTAuth.
func UserIDFrom(c *gin.Context) (string, bool) {
	v, exists := c.Get(UserIDKey)
	if !exists {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}
