package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/longformai/coherence/pkg/job"
	"github.com/longformai/coherence/pkg/store"
)

// statusFor maps a domain error to the HTTP status it should surface as.
// Defaults to 500 for anything unrecognized.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, job.ErrInputOutOfRange):
		return http.StatusUnprocessableEntity
	case errors.Is(err, job.ErrUnsupportedKind):
		return http.StatusBadRequest
	case errors.Is(err, job.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, store.ErrOptimisticLock):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), ErrorResponse{Error: err.Error()})
}
