package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medconsole/rbac/types"
)

// httpError maps authorization errors to http statuses
func httpError(err error) error {
	switch {
	case errors.Is(err, types.ErrUnknownRole):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, types.ErrUnknownPermission), errors.Is(err, types.ErrValidation):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return err
	}
}
