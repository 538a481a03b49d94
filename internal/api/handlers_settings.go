// handlers_settings.go - User settings handlers
package api

import (
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"
	"github.com/srg/straightup/internal/settings"
)

type SettingsHandlerImpl struct {
	store settings.Store
}

func NewSettingsHandler(store settings.Store) SettingsHandler {
	return &SettingsHandlerImpl{store: store}
}

// SettingRequest is the body of PUT /api/settings/:field. Values are given as
// text and parsed per field, e.g. "75" or "false".
type SettingRequest struct {
	Value string `json:"value"`
}

func (h *SettingsHandlerImpl) HandleGetSettings(c echo.Context) error {
	return c.JSON(http.StatusOK, h.store.Current())
}

func (h *SettingsHandlerImpl) HandleUpdateSetting(c echo.Context) error {
	field := c.Param("field")
	if !slices.Contains(settings.Keys(), field) {
		return NewNotFoundError("setting", field)
	}

	var req SettingRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if err := h.store.Set(field, req.Value); err != nil {
		return NewBadRequestError("invalid setting value", err)
	}
	return c.JSON(http.StatusOK, h.store.Current())
}
