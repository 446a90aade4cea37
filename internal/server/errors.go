package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/vizier/internal/pipeline"
	"github.com/mohammad-safakhou/vizier/internal/stage"
	"github.com/mohammad-safakhou/vizier/internal/store"
)

// httpError maps domain errors onto status codes. Unknown errors are 500.
func httpError(err error) error {
	if err == nil {
		return nil
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, stage.ErrUnknownProcess), errors.Is(err, store.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, stage.ErrAlreadyTerminal),
		errors.Is(err, stage.ErrIllegalTransition),
		errors.Is(err, pipeline.ErrInProgress):
		code = http.StatusConflict
	case errors.Is(err, pipeline.ErrInvalid):
		code = http.StatusBadRequest
	case errors.Is(err, pipeline.ErrUpstream):
		code = http.StatusBadGateway
	}
	return echo.NewHTTPError(code, err.Error()).SetInternal(err)
}
