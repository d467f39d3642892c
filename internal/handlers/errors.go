package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/PratikDhanave/whoop-sleep-sync/internal/logging"
	"github.com/PratikDhanave/whoop-sleep-sync/internal/models"
)

// writeError maps the error taxonomy onto a status and a gin.H body.
// Unclassified errors are logged and answered with a generic message.
func writeError(c *gin.Context, err error) {
	var status int
	switch {
	case errors.Is(err, models.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, models.ErrMisconfigured),
		errors.Is(err, models.ErrMalformedEvent),
		errors.Is(err, models.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrConflict):
		status = http.StatusConflict
	default:
		logging.FromContext(c.Request.Context(), nil).Error("request failed", zap.Error(err))
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
