// interfaces.go - Handler and dependency interfaces
package api

import (
	"github.com/labstack/echo/v4"
	"github.com/srg/straightup/internal/device"
	"github.com/srg/straightup/internal/history"
	"github.com/srg/straightup/internal/orchestrator"
	"github.com/srg/straightup/internal/protocol"
	"github.com/srg/straightup/internal/session"
	"github.com/srg/straightup/internal/sessionlog"
)

// Device is the wearable session as driven over HTTP. *session.Session
// implements it.
type Device interface {
	State() session.State
	Sightings() []device.ScanObservation
	StartScan() session.ScanStatus
	StopScan()
	Disconnect()
	Log() *sessionlog.Log
}

// Posture is the orchestrator as driven over HTTP. *orchestrator.Orchestrator
// implements it.
type Posture interface {
	Status() orchestrator.Status
	Subscribe() (<-chan orchestrator.Status, func())
	StartMonitoring() error
	StopMonitoring()
	SendCommand(text string) (protocol.Command, error)
	TodayStats() history.DailyStats
	WeeklyStats() []history.DailyStats
}

type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// SessionHandler exposes the connection lifecycle and the diagnostic log
type SessionHandler interface {
	HandleGetSession(c echo.Context) error
	HandleGetSessionLog(c echo.Context) error
	HandleStartScan(c echo.Context) error
	HandleStopScan(c echo.Context) error
	HandleDisconnect(c echo.Context) error
}

// PostureHandler exposes monitoring control, commands and statistics
type PostureHandler interface {
	HandleGetStatus(c echo.Context) error
	HandleSendCommand(c echo.Context) error
	HandleStartMonitoring(c echo.Context) error
	HandleStopMonitoring(c echo.Context) error
	HandleTodayStats(c echo.Context) error
	HandleWeekStats(c echo.Context) error
	HandleGetEvents(c echo.Context) error
	HandleGetEventsMsgpack(c echo.Context) error
}

type SettingsHandler interface {
	HandleGetSettings(c echo.Context) error
	HandleUpdateSetting(c echo.Context) error
}
