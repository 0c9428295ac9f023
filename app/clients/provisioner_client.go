// Package clients holds HTTP clients for the remote APIs the pool talks
// to: the sandbox-provisioning API for lifecycle calls and each sandbox's
// own runtime API for exec and file transfer.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/eric11eca/thinktank-ai/app/pool"
	"github.com/eric11eca/thinktank-ai/app/sandbox"
)

// maxErrorBody caps how much of an error response body ends up in errors
const maxErrorBody = 2048

// ProvisionerClient talks to a sandbox-provisioning API for lifecycle
// calls and to the per-sandbox runtime URL it hands back for everything
// else. It implements pool.Backend.
//
// Image, environment, and the auto-stop hint are included in the create
// request; a provisioner that manages those itself (the cluster
// orchestrator does) simply ignores them.
type ProvisionerClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	mu          sync.RWMutex
	sandboxURLs map[string]string // sandbox_id -> runtime base URL
}

var _ pool.Backend = (*ProvisionerClient)(nil)

// NewProvisionerClient creates a client for the provisioning API at baseURL
func NewProvisionerClient(baseURL, apiKey string) *ProvisionerClient {
	return &ProvisionerClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		// No client-wide timeout: command execution is bounded by the
		// per-request context (up to the 600s exec budget).
		httpClient:  &http.Client{},
		sandboxURLs: make(map[string]string),
	}
}

// createSandboxRequest is the create payload in the provisioning API dialect
type createSandboxRequest struct {
	SandboxID        string            `json:"sandbox_id"`
	ThreadID         string            `json:"thread_id"`
	UserID           string            `json:"user_id,omitempty"`
	Image            string            `json:"image,omitempty"`
	Environment      map[string]string `json:"environment,omitempty"`
	AutoStopInterval int               `json:"auto_stop_interval,omitempty"`
}

// sandboxResponse mirrors the provisioning API's sandbox payload
type sandboxResponse struct {
	SandboxID  string `json:"sandbox_id"`
	SandboxURL string `json:"sandbox_url"`
	Status     string `json:"status"`
}

// execRequest is the sandbox runtime's command execution payload
type execRequest struct {
	Command    string `json:"command"`
	TimeoutSec int    `json:"timeout_sec,omitempty"`
}

// execResponse is the sandbox runtime's command execution result
type execResponse struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exit_code"`
}

// CreateSandbox implements pool.Backend
func (c *ProvisionerClient) CreateSandbox(ctx context.Context, params pool.CreateParams) (*pool.CreateResult, error) {
	payload := createSandboxRequest{
		SandboxID:        params.SandboxID,
		ThreadID:         params.ThreadID,
		UserID:           params.UserID,
		Image:            params.Image,
		Environment:      params.Environment,
		AutoStopInterval: params.AutoStopInterval,
	}

	var resp sandboxResponse
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/sandboxes", payload, &resp); err != nil {
		return nil, fmt.Errorf("create sandbox: %w", err)
	}

	c.mu.Lock()
	c.sandboxURLs[resp.SandboxID] = resp.SandboxURL
	c.mu.Unlock()

	return &pool.CreateResult{
		SandboxID:  resp.SandboxID,
		SandboxURL: resp.SandboxURL,
		Status:     resp.Status,
	}, nil
}

// DeleteSandbox implements pool.Backend
func (c *ProvisionerClient) DeleteSandbox(ctx context.Context, sandboxID string) error {
	if err := c.doJSON(ctx, http.MethodDelete, c.baseURL+"/sandboxes/"+url.PathEscape(sandboxID), nil, nil); err != nil {
		return fmt.Errorf("delete sandbox %s: %w", sandboxID, err)
	}

	c.mu.Lock()
	delete(c.sandboxURLs, sandboxID)
	c.mu.Unlock()
	return nil
}

// Exec implements sandbox.RuntimeAPI
func (c *ProvisionerClient) Exec(ctx context.Context, sandboxID, command string, timeout time.Duration) (*sandbox.ExecResult, error) {
	runtimeURL, err := c.runtimeURL(ctx, sandboxID)
	if err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload := execRequest{
		Command:    command,
		TimeoutSec: int(timeout.Seconds()),
	}
	var resp execResponse
	if err := c.doJSON(execCtx, http.MethodPost, runtimeURL+"/v1/exec", payload, &resp); err != nil {
		return nil, fmt.Errorf("exec in sandbox %s: %w", sandboxID, err)
	}

	return &sandbox.ExecResult{
		Output:   resp.Output,
		ExitCode: resp.ExitCode,
	}, nil
}

// DownloadFile implements sandbox.RuntimeAPI
func (c *ProvisionerClient) DownloadFile(ctx context.Context, sandboxID, path string) ([]byte, error) {
	runtimeURL, err := c.runtimeURL(ctx, sandboxID)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		runtimeURL+"/v1/files?path="+url.QueryEscape(path), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s from sandbox %s: %w", path, sandboxID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}
	return io.ReadAll(resp.Body)
}

// UploadFile implements sandbox.RuntimeAPI
func (c *ProvisionerClient) UploadFile(ctx context.Context, sandboxID, path string, data []byte) error {
	runtimeURL, err := c.runtimeURL(ctx, sandboxID)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		runtimeURL+"/v1/files?path="+url.QueryEscape(path), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload %s to sandbox %s: %w", path, sandboxID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return responseError(resp)
	}
	return nil
}

// runtimeURL resolves a sandbox's runtime base URL from the create-time
// cache, falling back to the provisioning API's status endpoint.
func (c *ProvisionerClient) runtimeURL(ctx context.Context, sandboxID string) (string, error) {
	c.mu.RLock()
	cached := c.sandboxURLs[sandboxID]
	c.mu.RUnlock()
	if cached != "" {
		return cached, nil
	}

	var resp sandboxResponse
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/sandboxes/"+url.PathEscape(sandboxID), nil, &resp); err != nil {
		return "", fmt.Errorf("resolve sandbox %s url: %w", sandboxID, err)
	}

	c.mu.Lock()
	c.sandboxURLs[sandboxID] = resp.SandboxURL
	c.mu.Unlock()
	return resp.SandboxURL, nil
}

// doJSON performs a JSON request, decoding the response into out when
// out is non-nil.
func (c *ProvisionerClient) doJSON(ctx context.Context, method, rawURL string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return responseError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (c *ProvisionerClient) setAuth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func responseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
}
