package dto

// SandboxResponse represents sandbox status and access information
type SandboxResponse struct {
	SandboxID  string `json:"sandbox_id"`
	SandboxURL string `json:"sandbox_url"`
	Status     string `json:"status"`
}

// DestroySandboxResponse represents sandbox deletion response
type DestroySandboxResponse struct {
	OK        bool   `json:"ok"`
	SandboxID string `json:"sandbox_id"`
}

// ListSandboxesResponse represents the full sandbox inventory
type ListSandboxesResponse struct {
	Sandboxes []SandboxResponse `json:"sandboxes"`
	Count     int               `json:"count"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}
