package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sinkobela/ecmr-backend-sub000/internal/api/middleware"
	"github.com/sinkobela/ecmr-backend-sub000/internal/db/models"
	"github.com/sinkobela/ecmr-backend-sub000/internal/services"
	"go.uber.org/zap"
)

type SealHandler struct {
	sealingService *services.SealingService
	logger         *zap.Logger
}

func NewSealHandler(sealingService *services.SealingService, logger *zap.Logger) *SealHandler {
	return &SealHandler{
		sealingService: sealingService,
		logger:         logger.With(zap.String("handler", "seal")),
	}
}

type sealRequest struct {
	Role          models.Role `json:"role" binding:"required"`
	PrecedingSeal string      `json:"precedingSeal"`
	SealerContext string      `json:"sealerContext"`
}

func (h *SealHandler) Create(c *gin.Context) {
	var req sealRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	seal, err := h.sealingService.CreateSeal(c.Request.Context(), middleware.Principal(c), services.SealRequest{
		DocumentID:    c.Param("id"),
		Role:          req.Role,
		PrecedingSeal: req.PrecedingSeal,
		SealerContext: req.SealerContext,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, seal)
}

func (h *SealHandler) List(c *gin.Context) {
	chain, err := h.sealingService.ListChain(c.Request.Context(), middleware.Principal(c), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if chain == nil {
		chain = []models.Seal{}
	}
	c.JSON(http.StatusOK, gin.H{"sealChain": chain})
}

func (h *SealHandler) Verify(c *gin.Context) {
	report, err := h.sealingService.Verify(c.Request.Context(), middleware.Principal(c), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
