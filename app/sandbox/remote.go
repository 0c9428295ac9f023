package sandbox

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	execTimeout     = 600 * time.Second
	listDirTimeout  = 60 * time.Second
	defaultMaxDepth = 2
	maxListEntries  = 500
)

// remoteSandbox operates on a sandbox through a RuntimeAPI backend
type remoteSandbox struct {
	id  string
	api RuntimeAPI
}

// NewRemote creates a Sandbox handle backed by a remote runtime API
func NewRemote(id string, api RuntimeAPI) Sandbox {
	return &remoteSandbox{id: id, api: api}
}

func (s *remoteSandbox) ID() string {
	return s.id
}

func (s *remoteSandbox) ExecuteCommand(ctx context.Context, command string) string {
	result, err := s.api.Exec(ctx, s.id, command, execTimeout)
	if err != nil {
		log.Printf("failed to execute command in sandbox %s: %v", s.id, err)
		return fmt.Sprintf("Error: %v", err)
	}

	output := result.Output
	if result.ExitCode != 0 {
		output += fmt.Sprintf("\nExit Code: %d", result.ExitCode)
	}
	if output == "" {
		return "(no output)"
	}
	return output
}

func (s *remoteSandbox) ReadFile(ctx context.Context, path string) string {
	content, err := s.api.DownloadFile(ctx, s.id, path)
	if err != nil {
		log.Printf("failed to read file in sandbox %s: %v", s.id, err)
		return fmt.Sprintf("Error: %v", err)
	}
	if !utf8.Valid(content) {
		log.Printf("failed to read file in sandbox %s: %s is not valid UTF-8", s.id, path)
		return fmt.Sprintf("Error: file %s is not valid UTF-8", path)
	}
	return string(content)
}

func (s *remoteSandbox) ListDir(ctx context.Context, path string, maxDepth int) []string {
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}
	command := fmt.Sprintf(
		"find %s -maxdepth %d -type f -o -type d 2>/dev/null | head -%d",
		path, maxDepth, maxListEntries,
	)

	result, err := s.api.Exec(ctx, s.id, command, listDirTimeout)
	if err != nil {
		log.Printf("failed to list directory in sandbox %s: %v", s.id, err)
		return []string{}
	}

	entries := []string{}
	for _, line := range strings.Split(strings.TrimSpace(result.Output), "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			entries = append(entries, trimmed)
		}
	}
	return entries
}

func (s *remoteSandbox) WriteFile(ctx context.Context, path, content string, appendMode bool) error {
	if appendMode {
		existing := s.ReadFile(ctx, path)
		if !strings.HasPrefix(existing, "Error:") {
			content = existing + content
		}
	}
	if err := s.api.UploadFile(ctx, s.id, path, []byte(content)); err != nil {
		log.Printf("failed to write file in sandbox %s: %v", s.id, err)
		return fmt.Errorf("failed to write file %s: %w", path, err)
	}
	return nil
}

func (s *remoteSandbox) UpdateFile(ctx context.Context, path string, data []byte) error {
	if err := s.api.UploadFile(ctx, s.id, path, data); err != nil {
		log.Printf("failed to update file in sandbox %s: %v", s.id, err)
		return fmt.Errorf("failed to update file %s: %w", path, err)
	}
	return nil
}
