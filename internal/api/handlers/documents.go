package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sinkobela/ecmr-backend-sub000/internal/api/middleware"
	"github.com/sinkobela/ecmr-backend-sub000/internal/db/models"
	"github.com/sinkobela/ecmr-backend-sub000/internal/services"
	"go.uber.org/zap"
)

type DocumentHandler struct {
	documentService *services.DocumentService
	logger          *zap.Logger
}

func NewDocumentHandler(documentService *services.DocumentService, logger *zap.Logger) *DocumentHandler {
	return &DocumentHandler{
		documentService: documentService,
		logger:          logger.With(zap.String("handler", "document")),
	}
}

type createDocumentRequest struct {
	Kind     models.DocumentKind `json:"kind"`
	GroupID  string              `json:"groupId"`
	Sections models.Sections     `json:"sections"`
}

type updateDocumentRequest struct {
	Sections models.Sections `json:"sections"`
}

type assignmentRequest struct {
	PrincipalType models.PrincipalType `json:"principalType" binding:"required"`
	PrincipalID   string               `json:"principalId" binding:"required"`
	Role          models.Role          `json:"role" binding:"required"`
}

func (h *DocumentHandler) Create(c *gin.Context) {
	var req createDocumentRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	doc, err := h.documentService.Create(c.Request.Context(), middleware.Principal(c), services.CreateDocumentRequest{
		Kind:     req.Kind,
		GroupID:  req.GroupID,
		Sections: req.Sections,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, doc)
}

func (h *DocumentHandler) Get(c *gin.Context) {
	view, err := h.documentService.Get(c.Request.Context(), middleware.Principal(c), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *DocumentHandler) Update(c *gin.Context) {
	var req updateDocumentRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	doc, err := h.documentService.Update(c.Request.Context(), middleware.Principal(c), c.Param("id"), req.Sections)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	if err := h.documentService.Delete(c.Request.Context(), middleware.Principal(c), c.Param("id")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *DocumentHandler) AddAssignment(c *gin.Context) {
	var req assignmentRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	a, err := h.documentService.AddAssignment(c.Request.Context(), middleware.Principal(c), c.Param("id"), services.AssignmentRequest{
		PrincipalType: req.PrincipalType,
		PrincipalID:   req.PrincipalID,
		Role:          req.Role,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (h *DocumentHandler) MarkArrived(c *gin.Context) {
	doc, err := h.documentService.MarkArrived(c.Request.Context(), middleware.Principal(c), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}
