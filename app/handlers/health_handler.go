package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"k8s.io/client-go/kubernetes"

	"github.com/eric11eca/thinktank-ai/app/dto"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	client kubernetes.Interface
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(client kubernetes.Interface) *HealthHandler {
	return &HealthHandler{client: client}
}

// Health handles liveness checks
func (h *HealthHandler) Health(c *gin.Context) {
	respondJSON(c, http.StatusOK, dto.HealthResponse{Status: "ok"})
}

// Ready handles readiness checks by probing the cluster API server
func (h *HealthHandler) Ready(c *gin.Context) {
	if _, err := h.client.Discovery().ServerVersion(); err != nil {
		respondError(c, http.StatusServiceUnavailable, "cluster API unreachable", map[string]string{"error": err.Error()})
		return
	}
	respondJSON(c, http.StatusOK, dto.HealthResponse{Status: "ok"})
}
