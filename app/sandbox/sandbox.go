// Package sandbox defines the capability interface for operating inside
// one running sandbox, and a remote-API-backed implementation of it.
package sandbox

import (
	"context"
	"time"
)

// Sandbox is the handle for one isolated code-execution environment.
//
// Read-style operations (ExecuteCommand, ReadFile, ListDir) never return
// an error: their output is rendered verbatim as tool output for a
// language model, so failures are folded into the returned value
// ("Error: ..." strings, empty lists). Write-style operations return
// errors because their callers map failures to response statuses.
type Sandbox interface {
	// ID returns the backend-assigned sandbox id.
	ID() string

	// ExecuteCommand runs a shell command inside the sandbox. Non-zero
	// exits append "\nExit Code: N" to the output; empty output is
	// normalized to "(no output)".
	ExecuteCommand(ctx context.Context, command string) string

	// ReadFile downloads a file and decodes it as UTF-8.
	ReadFile(ctx context.Context, path string) string

	// ListDir lists files and directories under path up to maxDepth
	// (default 2 when maxDepth <= 0), capped at 500 entries.
	ListDir(ctx context.Context, path string, maxDepth int) []string

	// WriteFile uploads content to path. With append, existing content
	// is read first and the new content concatenated onto it.
	WriteFile(ctx context.Context, path, content string, append bool) error

	// UpdateFile uploads raw bytes to path, overwriting what is there.
	UpdateFile(ctx context.Context, path string, data []byte) error
}

// ExecResult represents the outcome of a remote command execution
type ExecResult struct {
	Output   string
	ExitCode int
}

// RuntimeAPI is the remote backend a Sandbox handle operates through
type RuntimeAPI interface {
	Exec(ctx context.Context, sandboxID, command string, timeout time.Duration) (*ExecResult, error)
	DownloadFile(ctx context.Context, sandboxID, path string) ([]byte, error)
	UploadFile(ctx context.Context, sandboxID, path string, data []byte) error
}
