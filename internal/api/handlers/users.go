package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sinkobela/ecmr-backend-sub000/internal/api/middleware"
	"github.com/sinkobela/ecmr-backend-sub000/internal/repository"
	"github.com/sinkobela/ecmr-backend-sub000/internal/services"
	"go.uber.org/zap"
)

type UserHandler struct {
	repo   repository.Repository
	logger *zap.Logger
}

func NewUserHandler(repo repository.Repository, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		repo:   repo,
		logger: logger.With(zap.String("handler", "user")),
	}
}

// Profile returns the logged in user and the groups their roles come from.
func (uh *UserHandler) Profile(c *gin.Context) {
	user, ok := middleware.Principal(c).(services.InternalUser)
	if !ok {
		middleware.AbortWithError(c, http.StatusForbidden, "forbidden", "internal users only", nil)
		return
	}
	record, err := uh.repo.GetUser(c.Request.Context(), user.UserID)
	if err != nil {
		respondError(c, uh.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":   record,
		"groups": user.GroupIDs,
	})
}
