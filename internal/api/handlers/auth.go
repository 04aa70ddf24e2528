package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sinkobela/ecmr-backend-sub000/internal/api/middleware"
	"github.com/sinkobela/ecmr-backend-sub000/internal/services"
	"go.uber.org/zap"
)

type AuthHandler struct {
	sessions      *services.SessionService
	sessionMaxAge int
	secureCookie  bool
	logger        *zap.Logger
}

func NewAuthHandler(sessions *services.SessionService, sessionMaxAge int, secureCookie bool, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		sessions:      sessions,
		sessionMaxAge: sessionMaxAge,
		secureCookie:  secureCookie,
		logger:        logger.With(zap.String("handler", "auth")),
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (ah *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, ah.logger, &req) {
		return
	}

	token, err := ah.sessions.Login(c.Request.Context(), req.Username, req.Password, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredential) {
			middleware.AbortWithError(c, http.StatusUnauthorized, "invalid_credential", "invalid username or password", nil)
			return
		}
		respondError(c, ah.logger, err)
		return
	}
	c.SetCookie(middleware.SessionCookie, token, ah.sessionMaxAge, "/", "", ah.secureCookie, true)
	c.JSON(http.StatusOK, gin.H{"token": token, "expiresIn": ah.sessionMaxAge})
}

func (ah *AuthHandler) Logout(c *gin.Context) {
	if token := middleware.SessionToken(c); token != "" {
		ah.sessions.Logout(token)
	}
	c.SetCookie(middleware.SessionCookie, "", -1, "/", "", ah.secureCookie, true)
	c.Status(http.StatusNoContent)
}
