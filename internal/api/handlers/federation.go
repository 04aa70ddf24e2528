package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sinkobela/ecmr-backend-sub000/internal/api/middleware"
	"github.com/sinkobela/ecmr-backend-sub000/internal/apperr"
	"github.com/sinkobela/ecmr-backend-sub000/internal/db/models"
	"github.com/sinkobela/ecmr-backend-sub000/internal/services"
	"go.uber.org/zap"
)

type FederationHandler struct {
	federationService *services.FederationService
	logger            *zap.Logger
}

func NewFederationHandler(federationService *services.FederationService, logger *zap.Logger) *FederationHandler {
	return &FederationHandler{
		federationService: federationService,
		logger:            logger.With(zap.String("handler", "federation")),
	}
}

func (h *FederationHandler) ShareToken(c *gin.Context) {
	role, err := models.ParseRole(c.Query("role"))
	if err != nil {
		respondError(c, h.logger, apperr.InvalidInput("%v", err).WithFields("role"))
		return
	}
	token, err := h.federationService.IssueShareToken(c.Request.Context(), middleware.Principal(c), c.Param("id"), role)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "role": role})
}

func (h *FederationHandler) Export(c *gin.Context) {
	bundle, err := h.federationService.Export(c.Request.Context(), c.Param("id"), c.Query("shareToken"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, bundle)
}

func (h *FederationHandler) Import(c *gin.Context) {
	var req services.ImportRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	doc, err := h.federationService.Import(c.Request.Context(), middleware.Principal(c), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}
