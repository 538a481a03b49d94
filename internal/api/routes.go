// routes.go - Route registration and middleware
package api

import (
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/srg/straightup/internal/history"
	"github.com/srg/straightup/internal/settings"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Device   Device
	Posture  Posture
	History  history.Store
	Settings settings.Store
	Logger   *logrus.Logger
	Version  string
}

// Handlers holds all handler instances
type Handlers struct {
	Health    HealthHandler
	Session   SessionHandler
	Posture   PostureHandler
	Settings  SettingsHandler
	WebSocket *WebSocketHandler
}

func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(deps.Version),
		Session:   NewSessionHandler(deps.Device),
		Posture:   NewPostureHandler(deps.Posture, deps.History),
		Settings:  NewSettingsHandler(deps.Settings),
		WebSocket: NewWebSocketHandler(deps.Device, deps.Posture, deps.Logger),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	e.GET("/health", handlers.Health.HandleHealth)

	sessionGroup := e.Group("/api/session")
	sessionGroup.GET("", handlers.Session.HandleGetSession)
	sessionGroup.GET("/log", handlers.Session.HandleGetSessionLog)
	sessionGroup.GET("/log/ws", handlers.WebSocket.HandleLogFeed)
	sessionGroup.POST("/scan", handlers.Session.HandleStartScan)
	sessionGroup.POST("/stop-scan", handlers.Session.HandleStopScan)
	sessionGroup.POST("/disconnect", handlers.Session.HandleDisconnect)

	e.GET("/api/status", handlers.Posture.HandleGetStatus)
	e.POST("/api/commands", handlers.Posture.HandleSendCommand)

	monitoringGroup := e.Group("/api/monitoring")
	monitoringGroup.POST("/start", handlers.Posture.HandleStartMonitoring)
	monitoringGroup.POST("/stop", handlers.Posture.HandleStopMonitoring)

	statsGroup := e.Group("/api/stats")
	statsGroup.GET("/today", handlers.Posture.HandleTodayStats)
	statsGroup.GET("/week", handlers.Posture.HandleWeekStats)

	eventsGroup := e.Group("/api/events")
	eventsGroup.GET("", handlers.Posture.HandleGetEvents)
	eventsGroup.GET("/msgpack", handlers.Posture.HandleGetEventsMsgpack)

	settingsGroup := e.Group("/api/settings")
	settingsGroup.GET("", handlers.Settings.HandleGetSettings)
	settingsGroup.PUT("/:field", handlers.Settings.HandleUpdateSetting)
}

// SetupMiddleware installs error handling, panic recovery, request logging
// and a body limit.
func SetupMiddleware(e *echo.Echo, logger *logrus.Logger) {
	e.HTTPErrorHandler = ErrorHandler

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 4 * 1024,
	}))

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			return path == "/health" || strings.HasSuffix(path, "/ws")
		},
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			entry := logger.WithFields(logrus.Fields{
				"method":  v.Method,
				"uri":     v.URI,
				"status":  v.Status,
				"latency": v.Latency,
			})
			if v.Error != nil {
				entry.WithError(v.Error).Warn("Request failed")
				return nil
			}
			entry.Debug("Request")
			return nil
		},
	}))

	e.Use(middleware.BodyLimit("64K"))
}
