package dto

// CreateSandboxRequest represents a sandbox creation request
type CreateSandboxRequest struct {
	SandboxID string `json:"sandbox_id" validate:"required"`
	ThreadID  string `json:"thread_id" validate:"required"`
	UserID    string `json:"user_id,omitempty"` // optional, for pod labeling/observability
}
