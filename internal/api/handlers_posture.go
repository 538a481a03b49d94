// handlers_posture.go - Monitoring, command and statistics handlers
package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/srg/straightup/internal/history"
	"github.com/srg/straightup/internal/orchestrator"
	"github.com/srg/straightup/internal/protocol"
	"github.com/vmihailenco/msgpack/v5"
)

// MaxEventsLimit caps the limit query parameter of the events endpoints.
const MaxEventsLimit = 1000

type PostureHandlerImpl struct {
	posture Posture
	store   history.Store
}

func NewPostureHandler(p Posture, store history.Store) PostureHandler {
	return &PostureHandlerImpl{posture: p, store: store}
}

// CommandRequest is the body of POST /api/commands
type CommandRequest struct {
	Command string `json:"command"`
}

type CommandResponse struct {
	Command protocol.Command `json:"command"`
}

// StatsResponse is one day of statistics with its derived values
type StatsResponse struct {
	history.DailyStats
	Total int `json:"total"`
	Score int `json:"score"`
}

func newStatsResponse(d history.DailyStats) StatsResponse {
	return StatsResponse{DailyStats: d, Total: d.Total(), Score: d.Score()}
}

type EventsResponse struct {
	Events []history.Event `json:"events" msgpack:"events"`
	Count  int             `json:"count" msgpack:"count"`
}

func (h *PostureHandlerImpl) HandleGetStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.posture.Status())
}

// HandleSendCommand validates and writes one text command to the wearable.
func (h *PostureHandlerImpl) HandleSendCommand(c echo.Context) error {
	var req CommandRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if strings.TrimSpace(req.Command) == "" {
		return NewValidationError("command")
	}

	cmd, err := h.posture.SendCommand(req.Command)
	switch {
	case errors.Is(err, orchestrator.ErrNotConnected):
		return NewConflictError(err.Error())
	case err != nil:
		return NewBadRequestError("invalid command", err)
	}
	return c.JSON(http.StatusAccepted, CommandResponse{Command: cmd})
}

func (h *PostureHandlerImpl) HandleStartMonitoring(c echo.Context) error {
	if err := h.posture.StartMonitoring(); err != nil {
		if errors.Is(err, orchestrator.ErrNotConnected) {
			return NewConflictError(err.Error())
		}
		return NewInternalError("failed to start monitoring", err)
	}
	return c.JSON(http.StatusOK, h.posture.Status())
}

func (h *PostureHandlerImpl) HandleStopMonitoring(c echo.Context) error {
	h.posture.StopMonitoring()
	return c.JSON(http.StatusOK, h.posture.Status())
}

func (h *PostureHandlerImpl) HandleTodayStats(c echo.Context) error {
	return c.JSON(http.StatusOK, newStatsResponse(h.posture.TodayStats()))
}

// HandleWeekStats returns the last seven days, oldest first.
func (h *PostureHandlerImpl) HandleWeekStats(c echo.Context) error {
	week := h.posture.WeeklyStats()
	out := make([]StatsResponse, 0, len(week))
	for _, d := range week {
		out = append(out, newStatsResponse(d))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *PostureHandlerImpl) HandleGetEvents(c echo.Context) error {
	resp, err := h.recentEvents(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleGetEventsMsgpack serves the same payload as HandleGetEvents, msgpack encoded.
func (h *PostureHandlerImpl) HandleGetEventsMsgpack(c echo.Context) error {
	resp, err := h.recentEvents(c)
	if err != nil {
		return err
	}
	data, err := msgpack.Marshal(resp)
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(http.StatusOK, "application/msgpack", data)
}

func (h *PostureHandlerImpl) recentEvents(c echo.Context) (EventsResponse, error) {
	limit := history.DefaultRecentLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return EventsResponse{}, NewValidationError("limit")
		}
		limit = min(n, MaxEventsLimit)
	}

	events, err := h.store.Recent(c.Request().Context(), limit)
	if err != nil {
		return EventsResponse{}, NewInternalError("failed to load events", err)
	}
	if events == nil {
		events = []history.Event{}
	}
	return EventsResponse{Events: events, Count: len(events)}, nil
}
