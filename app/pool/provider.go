// Package pool manages the lifecycle of remote sandboxes on behalf of an
// agent runtime: one sandbox per conversation thread, reused across turns,
// released when idle or explicitly.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eric11eca/thinktank-ai/app/sandbox"
)

// ErrQuotaExceeded indicates the user already holds the maximum number
// of concurrent sandboxes. No backend call is made in that case.
var ErrQuotaExceeded = errors.New("sandbox quota exceeded")

const (
	createTimeout    = 120 * time.Second
	deleteTimeout    = 60 * time.Second
	sweepJoinTimeout = 5 * time.Second
)

// CreateParams carries the resolved creation parameters for one sandbox
type CreateParams struct {
	SandboxID        string
	ThreadID         string
	UserID           string
	Image            string
	Environment      map[string]string
	AutoStopInterval int // minutes, 0 disables the backend auto-stop hint
}

// CreateResult is what the backend reports for a newly created sandbox
type CreateResult struct {
	SandboxID  string
	SandboxURL string
	Status     string
}

// Backend is the remote sandbox-creation API the pool multiplexes over.
// It also serves the per-sandbox runtime operations the handles need.
type Backend interface {
	CreateSandbox(ctx context.Context, params CreateParams) (*CreateResult, error)
	DeleteSandbox(ctx context.Context, sandboxID string) error
	sandbox.RuntimeAPI
}

// Provider is the sandbox lifecycle contract exposed to the agent runtime
type Provider interface {
	// Acquire returns a sandbox id for the thread, reusing the thread's
	// existing sandbox when one is live and creating one otherwise.
	Acquire(ctx context.Context, threadID, userID string) (string, error)

	// Get returns the handle for a sandbox id, or nil when unknown.
	Get(sandboxID string) sandbox.Sandbox

	// Release removes the sandbox from the pool and best-effort deletes
	// it remotely.
	Release(ctx context.Context, sandboxID string)

	// Shutdown stops the idle sweep and releases every known sandbox.
	// Safe to call more than once.
	Shutdown()
}

// PooledProvider multiplexes many logical sandboxes over a remote
// sandbox-creation API, adding thread-affinity reuse, a per-user quota,
// and idle eviction.
//
// All bookkeeping lives in maps guarded by one mutex; the mutex is held
// for map mutation only, never across a remote round-trip, so concurrent
// acquires for different threads do not serialize behind a slow backend.
// The maps are per-process: running multiple replicas without a shared
// store breaks the per-user quota invariant.
type PooledProvider struct {
	mu              sync.Mutex
	sandboxes       map[string]sandbox.Sandbox       // sandbox_id -> handle
	threadSandboxes map[string]string                // thread_id -> sandbox_id
	userSandboxes   map[string]map[string]struct{}   // user_id -> sandbox_ids
	lastActivity    map[string]time.Time             // sandbox_id -> timestamp
	shutdownCalled  bool

	backend Backend
	cfg     *Config

	sweepStop chan struct{}
	sweepDone chan struct{}
}

var _ Provider = (*PooledProvider)(nil)

// NewPooledProvider creates a pooled provider over the given backend and
// registers its Shutdown with the process shutdown-hook registry. The
// idle sweep starts immediately unless the idle timeout is disabled.
func NewPooledProvider(cfg *Config, backend Backend) *PooledProvider {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}

	p := &PooledProvider{
		sandboxes:       make(map[string]sandbox.Sandbox),
		threadSandboxes: make(map[string]string),
		userSandboxes:   make(map[string]map[string]struct{}),
		lastActivity:    make(map[string]time.Time),
		backend:         backend,
		cfg:             cfg,
	}

	OnShutdown(p.Shutdown)

	if cfg.IdleTimeout > 0 {
		p.sweepStop = make(chan struct{})
		p.sweepDone = make(chan struct{})
		go p.idleSweepLoop()
	}

	return p
}

// Acquire implements Provider
func (p *PooledProvider) Acquire(ctx context.Context, threadID, userID string) (string, error) {
	// Fast path: reuse the thread's existing sandbox. Reuse is always
	// allowed; the quota applies to new sandboxes only.
	if threadID != "" {
		p.mu.Lock()
		if id, ok := p.threadSandboxes[threadID]; ok {
			if _, live := p.sandboxes[id]; live {
				p.lastActivity[id] = time.Now()
				p.mu.Unlock()
				log.Printf("reusing sandbox %s for thread %s", id, threadID)
				return id, nil
			}
		}
		p.mu.Unlock()
	}

	if userID != "" && p.cfg.MaxSandboxesPerUser > 0 {
		p.mu.Lock()
		count := len(p.userSandboxes[userID])
		p.mu.Unlock()
		if count >= p.cfg.MaxSandboxesPerUser {
			return "", fmt.Errorf("user %s has reached the maximum of %d concurrent sandboxes: %w",
				userID, p.cfg.MaxSandboxesPerUser, ErrQuotaExceeded)
		}
	}

	params := CreateParams{
		SandboxID:        uuid.NewString(),
		ThreadID:         threadID,
		UserID:           userID,
		Image:            p.cfg.Image,
		Environment:      p.cfg.Environment,
		AutoStopInterval: p.cfg.AutoStopInterval,
	}

	createCtx, cancel := context.WithTimeout(ctx, createTimeout)
	defer cancel()

	result, err := p.backend.CreateSandbox(createCtx, params)
	if err != nil {
		return "", fmt.Errorf("failed to create sandbox: %w", err)
	}

	sandboxID := result.SandboxID
	handle := sandbox.NewRemote(sandboxID, p.backend)

	p.mu.Lock()
	p.sandboxes[sandboxID] = handle
	p.lastActivity[sandboxID] = time.Now()
	if threadID != "" {
		p.threadSandboxes[threadID] = sandboxID
	}
	if userID != "" {
		if p.userSandboxes[userID] == nil {
			p.userSandboxes[userID] = make(map[string]struct{})
		}
		p.userSandboxes[userID][sandboxID] = struct{}{}
	}
	p.mu.Unlock()

	log.Printf("created sandbox %s for thread %s", sandboxID, threadID)
	return sandboxID, nil
}

// Get implements Provider
func (p *PooledProvider) Get(sandboxID string) sandbox.Sandbox {
	p.mu.Lock()
	defer p.mu.Unlock()

	handle, ok := p.sandboxes[sandboxID]
	if !ok {
		return nil
	}
	p.lastActivity[sandboxID] = time.Now()
	return handle
}

// Release implements Provider. Local state is always cleared, even when
// the remote delete fails; a failed delete can leave an orphaned remote
// sandbox with no retry path.
func (p *PooledProvider) Release(ctx context.Context, sandboxID string) {
	p.mu.Lock()
	_, existed := p.sandboxes[sandboxID]
	delete(p.sandboxes, sandboxID)
	// The thread map is keyed the other way around; scan by value.
	for tid, sid := range p.threadSandboxes {
		if sid == sandboxID {
			delete(p.threadSandboxes, tid)
		}
	}
	delete(p.lastActivity, sandboxID)
	for uid, ids := range p.userSandboxes {
		delete(ids, sandboxID)
		if len(ids) == 0 {
			delete(p.userSandboxes, uid)
		}
	}
	p.mu.Unlock()

	if !existed {
		return
	}

	deleteCtx, cancel := context.WithTimeout(ctx, deleteTimeout)
	defer cancel()

	if err := p.backend.DeleteSandbox(deleteCtx, sandboxID); err != nil {
		log.Printf("failed to delete sandbox %s: %v", sandboxID, err)
		return
	}
	log.Printf("deleted sandbox %s", sandboxID)
}

// Shutdown implements Provider
func (p *PooledProvider) Shutdown() {
	p.mu.Lock()
	if p.shutdownCalled {
		p.mu.Unlock()
		return
	}
	p.shutdownCalled = true
	sandboxIDs := make([]string, 0, len(p.sandboxes))
	for id := range p.sandboxes {
		sandboxIDs = append(sandboxIDs, id)
	}
	p.mu.Unlock()

	if p.sweepStop != nil {
		close(p.sweepStop)
		select {
		case <-p.sweepDone:
		case <-time.After(sweepJoinTimeout):
			log.Println("idle sweep did not stop in time")
		}
	}

	log.Printf("shutting down %d sandbox(es)", len(sandboxIDs))
	for _, id := range sandboxIDs {
		p.Release(context.Background(), id)
	}
}

func (p *PooledProvider) idleSweepLoop() {
	defer close(p.sweepDone)

	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.sweepStop:
			return
		case <-ticker.C:
			p.reapIdle()
		}
	}
}

// reapIdle releases every sandbox inactive beyond the idle timeout.
// Per-sandbox failures are logged inside Release and never stop the sweep.
func (p *PooledProvider) reapIdle() {
	now := time.Now()
	var toRelease []string

	p.mu.Lock()
	for id, last := range p.lastActivity {
		if now.Sub(last) > p.cfg.IdleTimeout {
			toRelease = append(toRelease, id)
		}
	}
	p.mu.Unlock()

	for _, id := range toRelease {
		log.Printf("releasing idle sandbox %s", id)
		p.Release(context.Background(), id)
	}
}
