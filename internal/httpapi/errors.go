package httpapi

import (
	"errors"
	"net/http"

	"smart-care/internal/calls"
	"smart-care/internal/history"
	"smart-care/internal/reporting"
	"smart-care/pkg/logger"

	"github.com/gin-gonic/gin"
)

// writeError maps domain errors to HTTP statuses. Unknown errors are logged
// and reported as 500 without detail.
func writeError(c *gin.Context, err error) {
	status, msg := http.StatusInternalServerError, "internal error"
	switch {
	case errors.Is(err, calls.ErrInvalidParticipant):
		status, msg = http.StatusBadRequest, "invalid participant"
	case errors.Is(err, calls.ErrInvalidCallType):
		status, msg = http.StatusBadRequest, "invalid call type"
	case errors.Is(err, history.ErrInvalidArgument), errors.Is(err, reporting.ErrInvalidRequest):
		status, msg = http.StatusBadRequest, "invalid request"
	case errors.Is(err, calls.ErrInvalidTransition):
		status, msg = http.StatusConflict, "call is no longer in a state that allows this action"
	case errors.Is(err, calls.ErrBusy):
		status, msg = http.StatusConflict, "participant is busy"
	case errors.Is(err, calls.ErrNotFound):
		status, msg = http.StatusNotFound, "call not found"
	case errors.Is(err, calls.ErrChannelWrite), errors.Is(err, calls.ErrClosed):
		status, msg = http.StatusServiceUnavailable, "signal channel unavailable"
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		logger.FromGin(c).Error("request failed", "err", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
