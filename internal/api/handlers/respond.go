package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sinkobela/ecmr-backend-sub000/internal/api/middleware"
	"github.com/sinkobela/ecmr-backend-sub000/internal/apperr"
	"go.uber.org/zap"
)

// respondError maps a service error onto the error envelope. Unclassified
// errors are logged and reported without their text.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	status := apperr.HTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("request_id", middleware.RequestID(c)),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		message = "internal server error"
	}
	_ = c.Error(err)

	var details any
	if fields := apperr.FieldsOf(err); len(fields) > 0 {
		details = gin.H{"fields": fields}
	}
	middleware.AbortWithError(c, status, apperr.Code(err), message, details)
}

func bindJSON(c *gin.Context, logger *zap.Logger, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, logger, apperr.InvalidInput("malformed request body").Wrap(err))
		return false
	}
	return true
}
