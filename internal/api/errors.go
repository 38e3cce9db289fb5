package api

import (
	"errors"
	"fmt"
	"net/http"

	"tableside/internal/models"

	"github.com/labstack/echo/v4"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func statusFor(kind models.ErrorKind) int {
	switch kind {
	case models.KindRaceLost,
		models.KindAlreadyCheckedIn,
		models.KindAlreadyTerminal,
		models.KindAlreadyPaid,
		models.KindNoAvailability,
		models.KindStillWaiting:
		return http.StatusConflict
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindTooEarly,
		models.KindTooLate,
		models.KindNotCheckedIn,
		models.KindInvalidRequest:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// errorHandler renders domain errors and echo's own errors in one shape.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var (
		status int
		body   ErrorResponse
		he     *echo.HTTPError
	)
	switch {
	case errors.As(err, &he):
		status = he.Code
		body = ErrorResponse{Error: httpKind(he.Code), Message: fmt.Sprint(he.Message)}
	default:
		kind := models.KindOf(err)
		status = statusFor(kind)
		body = ErrorResponse{Error: string(kind), Message: err.Error(), Retryable: models.Retryable(err)}
		if kind == models.KindInternal {
			s.logger.Error().Err(err).
				Str("method", c.Request().Method).
				Str("path", c.Path()).
				Msg("request failed")
			body.Message = "internal error"
		}
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("cannot write error response")
	}
}

func httpKind(code int) string {
	switch code {
	case http.StatusNotFound:
		return string(models.KindNotFound)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return string(models.KindInvalidRequest)
	case http.StatusTooManyRequests:
		return "too_many_requests"
	case http.StatusServiceUnavailable:
		return "unavailable"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	default:
		return string(models.KindInternal)
	}
}
