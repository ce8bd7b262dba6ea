package http

import (
	"github.com/gin-gonic/gin"
	"github.com/twinlink/broker/internal/api/http/handler"
	"github.com/twinlink/broker/internal/api/http/middleware"
	"github.com/twinlink/broker/internal/devices"
	"github.com/twinlink/broker/internal/dispatch"
	"github.com/twinlink/broker/internal/hub"
	"github.com/twinlink/broker/internal/queue"
	"github.com/twinlink/broker/internal/relay"
	"github.com/twinlink/broker/internal/router"
)

type Services struct {
	Registry   *devices.Registry
	Router     *router.Router
	Dispatcher *dispatch.Dispatcher
	Commands   relay.Store
	Queue      *queue.Queue
	Hub        *hub.Hub
	JWTSecret  string
}

func SetupRoute(engine *gin.Engine, srvs *Services) {
	engine.Use(middleware.RequestLogger())

	healthHandler := handler.NewHealthHandler()
	engine.GET("/health", healthHandler.Check)

	deviceHandler := handler.NewDeviceHandler(srvs.Registry)
	messageHandler := handler.NewMessageHandler(srvs.Router)
	commandHandler := handler.NewCommandHandler(srvs.Dispatcher)

	api := engine.Group("/api/v1")
	api.Use(middleware.JWTAuth(srvs.JWTSecret))
	{
		api.GET("/devices", deviceHandler.List)
		api.POST("/devices", deviceHandler.Pair)
		api.DELETE("/devices/:id", deviceHandler.Unpair)
		api.POST("/messages", messageHandler.Send)
		api.POST("/commands", commandHandler.Execute)
	}

	gatewayHandler := handler.NewGatewayHandler(srvs.Registry, srvs.Commands, srvs.Queue, srvs.Hub)

	gateway := engine.Group("/gateway/v1")
	gateway.Use(middleware.DeviceAuth(srvs.Registry))
	{
		gateway.POST("/heartbeat", gatewayHandler.Heartbeat)
		gateway.GET("/commands", gatewayHandler.PendingCommands)
		gateway.POST("/commands/:id/result", gatewayHandler.SubmitResult)
		gateway.GET("/queue", gatewayHandler.DrainQueue)
		gateway.POST("/queue/:id/delivered", gatewayHandler.AckDelivered)
		gateway.GET("/ws", gatewayHandler.Connect)
	}
}
