package domains

// SandboxInfo represents a provisioned sandbox and how to reach it
type SandboxInfo struct {
	SandboxID  string
	SandboxURL string
	Status     string
}

// Pod phases reported by the cluster scheduler
const (
	StatusPending   = "Pending"
	StatusRunning   = "Running"
	StatusSucceeded = "Succeeded"
	StatusFailed    = "Failed"
	StatusUnknown   = "Unknown"
	StatusNotFound  = "NotFound"
)
