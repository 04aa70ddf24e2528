package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sinkobela/ecmr-backend-sub000/internal/api/middleware"
	"github.com/sinkobela/ecmr-backend-sub000/internal/services"
	"go.uber.org/zap"
)

type ExternalPartyHandler struct {
	partyService *services.ExternalPartyService
	resolver     *services.RoleResolver
	logger       *zap.Logger
}

func NewExternalPartyHandler(partyService *services.ExternalPartyService, resolver *services.RoleResolver, logger *zap.Logger) *ExternalPartyHandler {
	return &ExternalPartyHandler{
		partyService: partyService,
		resolver:     resolver,
		logger:       logger.With(zap.String("handler", "external_party")),
	}
}

func (h *ExternalPartyHandler) Register(c *gin.Context) {
	var req services.RegisterPartyRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	reg, err := h.partyService.Register(c.Request.Context(), middleware.Principal(c), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, reg)
}

func (h *ExternalPartyHandler) IssueTAN(c *gin.Context) {
	expires, err := h.partyService.IssueTAN(c.Request.Context(), middleware.Principal(c), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tanExpiresAt": expires})
}

func (h *ExternalPartyHandler) Deactivate(c *gin.Context) {
	if err := h.partyService.Deactivate(c.Request.Context(), middleware.Principal(c), c.Param("id")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// IsTANValid answers a bare boolean and never says why a check failed.
func (h *ExternalPartyHandler) IsTANValid(c *gin.Context) {
	valid := h.resolver.IsTANValid(c.Request.Context(), c.Query("documentId"), c.Query("userToken"), c.Query("tan"))
	c.JSON(http.StatusOK, valid)
}
