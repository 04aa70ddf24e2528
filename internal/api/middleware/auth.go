package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sinkobela/ecmr-backend-sub000/internal/apperr"
	"github.com/sinkobela/ecmr-backend-sub000/internal/services"
	"go.uber.org/zap"
)

const (
	principalKey      = "principal"
	SessionCookie     = "session_token"
	HeaderUserToken   = "X-User-Token"
	HeaderTAN         = "X-TAN"
	bearerTokenPrefix = "Bearer "
)

// AuthMiddleware resolves the caller into a services.Principal once per
// request: internal users by session, external parties by user token + TAN.
type AuthMiddleware struct {
	sessions *services.SessionService
	resolver *services.RoleResolver
	logger   *zap.Logger
}

func NewAuthMiddleware(sessions *services.SessionService, resolver *services.RoleResolver, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		sessions: sessions,
		resolver: resolver,
		logger:   logger.With(zap.String("middleware", "auth")),
	}
}

func Principal(c *gin.Context) services.Principal {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil
	}
	p, _ := v.(services.Principal)
	return p
}

func SetPrincipal(c *gin.Context, p services.Principal) {
	c.Set(principalKey, p)
}

// SessionToken reads the session from the cookie or a bearer header.
func SessionToken(c *gin.Context) string {
	if token, err := c.Cookie(SessionCookie); err == nil && token != "" {
		return token
	}
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, bearerTokenPrefix) {
		return strings.TrimPrefix(h, bearerTokenPrefix)
	}
	return ""
}

// RequireAuth accepts internal sessions and, when allowExternal is set,
// external parties presenting user token and TAN for the :id document.
func (am *AuthMiddleware) RequireAuth(allowExternal bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := SessionToken(c); token != "" {
			am.internal(c, token)
			return
		}
		if allowExternal && c.GetHeader(HeaderUserToken) != "" {
			am.external(c)
			return
		}
		AbortWithError(c, http.StatusUnauthorized, "unauthenticated", "authentication required", nil)
	}
}

func (am *AuthMiddleware) internal(c *gin.Context, token string) {
	sd, err := am.sessions.Session(token)
	if err != nil {
		AbortWithError(c, http.StatusUnauthorized, "unauthenticated", "session expired or invalid", nil)
		return
	}
	user, err := am.resolver.ResolveInternal(c.Request.Context(), sd.UserID)
	if err != nil {
		if !errors.Is(err, apperr.ErrForbidden) && !errors.Is(err, apperr.ErrNotFound) {
			am.logger.Error("could not resolve session user", zap.Uint("user_id", sd.UserID), zap.Error(err))
		}
		AbortWithError(c, http.StatusUnauthorized, "unauthenticated", "session user unavailable", nil)
		return
	}
	SetPrincipal(c, user)
	c.Next()
}

func (am *AuthMiddleware) external(c *gin.Context) {
	party, err := am.resolver.ResolveExternal(
		c.Request.Context(),
		c.Param("id"),
		c.GetHeader(HeaderUserToken),
		c.GetHeader(HeaderTAN),
	)
	if err != nil {
		// A wrong or expired TAN is bad input, not a missing login.
		AbortWithError(c, apperr.HTTPStatus(err), apperr.Code(err), "invalid credential", nil)
		return
	}
	SetPrincipal(c, party)
	c.Next()
}
