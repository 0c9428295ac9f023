package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eric11eca/thinktank-ai/app/domains"
	"github.com/eric11eca/thinktank-ai/app/dto"
	"github.com/eric11eca/thinktank-ai/app/services"
	"github.com/eric11eca/thinktank-ai/app/utils"
)

// respondJSON sends a JSON response
func respondJSON(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}

// respondError sends an error response
func respondError(c *gin.Context, status int, message string, details map[string]string) {
	c.JSON(status, dto.ErrorResponse{
		Error:   message,
		Details: details,
	})
}

// SandboxHandler handles sandbox lifecycle endpoints
type SandboxHandler struct {
	provisioner *services.ProvisionerService
}

// NewSandboxHandler creates a new sandbox handler
func NewSandboxHandler(provisioner *services.ProvisionerService) *SandboxHandler {
	return &SandboxHandler{
		provisioner: provisioner,
	}
}

// CreateSandbox handles sandbox creation (idempotent per sandbox_id)
func (h *SandboxHandler) CreateSandbox(c *gin.Context) {
	var req dto.CreateSandboxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		respondError(c, http.StatusBadRequest, "validation failed", map[string]string{"error": err.Error()})
		return
	}

	info, err := h.provisioner.Create(c.Request.Context(), req.SandboxID, req.ThreadID, req.UserID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}

	respondJSON(c, http.StatusOK, toSandboxResponse(info))
}

// DestroySandbox handles sandbox deletion
func (h *SandboxHandler) DestroySandbox(c *gin.Context) {
	sandboxID := c.Param("id")

	if err := h.provisioner.Destroy(c.Request.Context(), sandboxID); err != nil {
		respondError(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}

	respondJSON(c, http.StatusOK, dto.DestroySandboxResponse{
		OK:        true,
		SandboxID: sandboxID,
	})
}

// GetSandbox returns current status and URL for a sandbox
func (h *SandboxHandler) GetSandbox(c *gin.Context) {
	sandboxID := c.Param("id")

	info, err := h.provisioner.Status(c.Request.Context(), sandboxID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			respondError(c, http.StatusNotFound, err.Error(), nil)
			return
		}
		respondError(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}

	respondJSON(c, http.StatusOK, toSandboxResponse(info))
}

// ListSandboxes returns every sandbox currently managed in the namespace
func (h *SandboxHandler) ListSandboxes(c *gin.Context) {
	infos, err := h.provisioner.List(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}

	sandboxes := make([]dto.SandboxResponse, 0, len(infos))
	for _, info := range infos {
		sandboxes = append(sandboxes, *toSandboxResponse(&info))
	}

	respondJSON(c, http.StatusOK, dto.ListSandboxesResponse{
		Sandboxes: sandboxes,
		Count:     len(sandboxes),
	})
}

func toSandboxResponse(info *domains.SandboxInfo) *dto.SandboxResponse {
	return &dto.SandboxResponse{
		SandboxID:  info.SandboxID,
		SandboxURL: info.SandboxURL,
		Status:     info.Status,
	}
}
