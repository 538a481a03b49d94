// handlers_session.go - Connection lifecycle handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/srg/straightup/internal/device"
	"github.com/srg/straightup/internal/session"
	"github.com/srg/straightup/internal/sessionlog"
)

type SessionHandlerImpl struct {
	device Device
}

func NewSessionHandler(d Device) SessionHandler {
	return &SessionHandlerImpl{device: d}
}

// SessionResponse is the body of GET /api/session
type SessionResponse struct {
	State     session.State            `json:"state"`
	Sightings []device.ScanObservation `json:"sightings"`
}

// LogResponse is the body of GET /api/session/log, newest entry first
type LogResponse struct {
	Entries  []sessionlog.Entry `json:"entries"`
	Capacity int                `json:"capacity"`
}

// ScanResponse is the body of POST /api/session/scan
type ScanResponse struct {
	Status session.ScanStatus `json:"status"`
}

func (h *SessionHandlerImpl) HandleGetSession(c echo.Context) error {
	sightings := h.device.Sightings()
	if sightings == nil {
		sightings = []device.ScanObservation{}
	}
	return c.JSON(http.StatusOK, SessionResponse{
		State:     h.device.State(),
		Sightings: sightings,
	})
}

func (h *SessionHandlerImpl) HandleGetSessionLog(c echo.Context) error {
	l := h.device.Log()
	return c.JSON(http.StatusOK, LogResponse{
		Entries:  l.Snapshot(),
		Capacity: l.Capacity(),
	})
}

// HandleStartScan starts a scan. Refusals map to 409 (busy) or 503 (radio).
func (h *SessionHandlerImpl) HandleStartScan(c echo.Context) error {
	status := h.device.StartScan()
	switch status {
	case session.ScanStarted, session.ScanAlreadyRunning:
		return c.JSON(http.StatusOK, ScanResponse{Status: status})
	case session.ScanBusy:
		return NewConflictError("a connection is in progress")
	case session.ScanRadioDisabled:
		return NewServiceUnavailableError("bluetooth is turned off")
	case session.ScanNoAdapter:
		return NewServiceUnavailableError("no bluetooth adapter available")
	default:
		return NewInternalError("scan failed to start", nil)
	}
}

func (h *SessionHandlerImpl) HandleStopScan(c echo.Context) error {
	h.device.StopScan()
	return c.JSON(http.StatusOK, h.device.State())
}

// HandleDisconnect returns once the teardown sequence has completed.
func (h *SessionHandlerImpl) HandleDisconnect(c echo.Context) error {
	h.device.Disconnect()
	return c.JSON(http.StatusOK, h.device.State())
}
