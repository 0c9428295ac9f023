package pool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eric11eca/thinktank-ai/app/sandbox"
)

// fakeBackend is an in-memory pool.Backend that records lifecycle calls.
type fakeBackend struct {
	mu         sync.Mutex
	creates    int
	deletes    []string
	createErr  error
	deleteErr  error
	lastParams CreateParams
}

func (b *fakeBackend) CreateSandbox(_ context.Context, params CreateParams) (*CreateResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.createErr != nil {
		return nil, b.createErr
	}
	b.creates++
	b.lastParams = params
	return &CreateResult{
		SandboxID:  params.SandboxID,
		SandboxURL: "http://sandbox.local:30000",
		Status:     "Running",
	}, nil
}

func (b *fakeBackend) DeleteSandbox(_ context.Context, sandboxID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.deleteErr != nil {
		return b.deleteErr
	}
	b.deletes = append(b.deletes, sandboxID)
	return nil
}

func (b *fakeBackend) Exec(context.Context, string, string, time.Duration) (*sandbox.ExecResult, error) {
	return &sandbox.ExecResult{Output: "ok"}, nil
}

func (b *fakeBackend) DownloadFile(context.Context, string, string) ([]byte, error) {
	return nil, nil
}

func (b *fakeBackend) UploadFile(context.Context, string, string, []byte) error {
	return nil
}

func (b *fakeBackend) createCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.creates
}

func (b *fakeBackend) deleted() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.deletes...)
}

func newTestProvider(cfg *Config) (*PooledProvider, *fakeBackend) {
	backend := &fakeBackend{}
	if cfg == nil {
		cfg = DefaultConfig()
		cfg.IdleTimeout = 0 // keep the sweep out of tests that don't need it
	}
	return NewPooledProvider(cfg, backend), backend
}

func TestAcquire_ReusesSandboxForSameThread(t *testing.T) {
	p, backend := newTestProvider(nil)
	defer p.Shutdown()
	ctx := context.Background()

	first, err := p.Acquire(ctx, "t1", "u1")
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	second, err := p.Acquire(ctx, "t1", "u1")
	if err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}

	if first != second {
		t.Errorf("Acquire returned %q then %q; want the same sandbox", first, second)
	}
	if got := backend.createCount(); got != 1 {
		t.Errorf("backend saw %d creates; want 1", got)
	}
}

func TestAcquire_ReuseSkipsQuotaCheck(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleTimeout = 0
	cfg.MaxSandboxesPerUser = 1
	p, _ := newTestProvider(cfg)
	defer p.Shutdown()
	ctx := context.Background()

	first, err := p.Acquire(ctx, "t1", "u1")
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	// The user is at quota, but thread reuse must still succeed.
	second, err := p.Acquire(ctx, "t1", "u1")
	if err != nil {
		t.Fatalf("reuse Acquire failed despite thread affinity: %v", err)
	}
	if first != second {
		t.Errorf("reuse returned different sandbox %q; want %q", second, first)
	}
}

func TestAcquire_QuotaExceeded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleTimeout = 0
	cfg.MaxSandboxesPerUser = 2
	p, backend := newTestProvider(cfg)
	defer p.Shutdown()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := p.Acquire(ctx, fmt.Sprintf("t%d", i), "u1"); err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
	}

	createsBefore := backend.createCount()
	_, err := p.Acquire(ctx, "t-extra", "u1")
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("Acquire error = %v; want ErrQuotaExceeded", err)
	}
	if got := backend.createCount(); got != createsBefore {
		t.Errorf("backend saw a create despite quota rejection")
	}
}

func TestAcquire_ReleaseFreesQuotaSlot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleTimeout = 0
	cfg.MaxSandboxesPerUser = 1
	p, _ := newTestProvider(cfg)
	defer p.Shutdown()
	ctx := context.Background()

	id, err := p.Acquire(ctx, "t1", "u1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if _, err := p.Acquire(ctx, "t2", "u1"); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("second Acquire error = %v; want ErrQuotaExceeded", err)
	}

	p.Release(ctx, id)

	if _, err := p.Acquire(ctx, "t2", "u1"); err != nil {
		t.Errorf("Acquire after Release failed: %v", err)
	}
}

func TestAcquire_ZeroQuotaDisablesLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleTimeout = 0
	cfg.MaxSandboxesPerUser = 0
	p, _ := newTestProvider(cfg)
	defer p.Shutdown()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := p.Acquire(ctx, fmt.Sprintf("t%d", i), "u1"); err != nil {
			t.Fatalf("Acquire %d failed with quota disabled: %v", i, err)
		}
	}
}

func TestAcquire_NoUserIDBypassesQuota(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleTimeout = 0
	cfg.MaxSandboxesPerUser = 1
	p, _ := newTestProvider(cfg)
	defer p.Shutdown()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := p.Acquire(ctx, fmt.Sprintf("t%d", i), ""); err != nil {
			t.Fatalf("anonymous Acquire %d failed: %v", i, err)
		}
	}
}

func TestAcquire_PassesResolvedCreationParams(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleTimeout = 0
	cfg.Image = "custom:latest"
	cfg.Environment = map[string]string{"NODE_ENV": "production"}
	cfg.AutoStopInterval = 7
	p, backend := newTestProvider(cfg)
	defer p.Shutdown()

	if _, err := p.Acquire(context.Background(), "t1", "u1"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	params := backend.lastParams
	if params.Image != "custom:latest" {
		t.Errorf("params.Image = %q; want custom:latest", params.Image)
	}
	if params.Environment["NODE_ENV"] != "production" {
		t.Errorf("params.Environment = %v; want NODE_ENV=production", params.Environment)
	}
	if params.AutoStopInterval != 7 {
		t.Errorf("params.AutoStopInterval = %d; want 7", params.AutoStopInterval)
	}
	if params.ThreadID != "t1" {
		t.Errorf("params.ThreadID = %q; want t1", params.ThreadID)
	}
	if params.SandboxID == "" {
		t.Error("params.SandboxID is empty; want a generated id")
	}
}

func TestAcquire_BackendFailurePropagates(t *testing.T) {
	p, backend := newTestProvider(nil)
	defer p.Shutdown()
	backend.createErr = errors.New("api unreachable")

	_, err := p.Acquire(context.Background(), "t1", "u1")
	if err == nil {
		t.Fatal("Acquire succeeded; want backend error")
	}
	if !strings.Contains(err.Error(), "api unreachable") {
		t.Errorf("Acquire error = %v; want wrapped backend error", err)
	}
	// No partial registration.
	if _, err := p.Acquire(context.Background(), "t2", "u1"); errors.Is(err, ErrQuotaExceeded) {
		t.Error("failed create still counted against the quota")
	}
}

func TestGet_ReturnsNilForUnknownID(t *testing.T) {
	p, _ := newTestProvider(nil)
	defer p.Shutdown()

	if handle := p.Get("nope"); handle != nil {
		t.Errorf("Get(nope) = %v; want nil", handle)
	}
}

func TestGet_BumpsLastActivity(t *testing.T) {
	p, _ := newTestProvider(nil)
	defer p.Shutdown()
	ctx := context.Background()

	id, err := p.Acquire(ctx, "t1", "")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	p.mu.Lock()
	p.lastActivity[id] = time.Now().Add(-time.Hour)
	p.mu.Unlock()

	if handle := p.Get(id); handle == nil {
		t.Fatal("Get returned nil for a live sandbox")
	}

	p.mu.Lock()
	last := p.lastActivity[id]
	p.mu.Unlock()
	if time.Since(last) > time.Minute {
		t.Error("Get did not refresh last activity")
	}
}

func TestRelease_ScenarioAcquireReuseReleaseGet(t *testing.T) {
	p, backend := newTestProvider(nil)
	defer p.Shutdown()
	ctx := context.Background()

	a, err := p.Acquire(ctx, "t1", "u1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	again, err := p.Acquire(ctx, "t1", "u1")
	if err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}
	if again != a {
		t.Fatalf("second Acquire = %q; want %q", again, a)
	}

	p.Release(ctx, a)

	if handle := p.Get(a); handle != nil {
		t.Errorf("Get(%q) after Release = %v; want nil", a, handle)
	}
	if deleted := backend.deleted(); len(deleted) != 1 || deleted[0] != a {
		t.Errorf("backend deletes = %v; want [%s]", deleted, a)
	}
	// The thread mapping must be gone: reacquiring creates a new sandbox.
	b, err := p.Acquire(ctx, "t1", "u1")
	if err != nil {
		t.Fatalf("Acquire after Release failed: %v", err)
	}
	if b == a {
		t.Error("Acquire after Release returned the released sandbox id")
	}
}

func TestRelease_ClearsLocalStateWhenBackendDeleteFails(t *testing.T) {
	p, backend := newTestProvider(nil)
	defer p.Shutdown()
	ctx := context.Background()

	id, err := p.Acquire(ctx, "t1", "u1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	backend.deleteErr = errors.New("delete failed")
	p.Release(ctx, id)

	if handle := p.Get(id); handle != nil {
		t.Error("sandbox still registered after Release with failing backend delete")
	}
	// The freed quota slot is usable again.
	if _, err := p.Acquire(ctx, "t2", "u1"); err != nil {
		t.Errorf("Acquire after failed-delete Release: %v", err)
	}
}

func TestRelease_UnknownIDIsNoOp(t *testing.T) {
	p, backend := newTestProvider(nil)
	defer p.Shutdown()

	p.Release(context.Background(), "unknown")
	if deleted := backend.deleted(); len(deleted) != 0 {
		t.Errorf("backend deletes = %v; want none", deleted)
	}
}

func TestIdleSweep_ReapsExpiredSandboxes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleTimeout = 20 * time.Millisecond
	cfg.SweepInterval = 10 * time.Millisecond
	p, backend := newTestProvider(cfg)
	defer p.Shutdown()
	ctx := context.Background()

	id, err := p.Acquire(ctx, "t1", "u1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.Get(id) == nil {
			break
		}
		// Get refreshes activity, so back off past the idle timeout.
		time.Sleep(30 * time.Millisecond)
	}

	if p.Get(id) != nil {
		t.Fatal("idle sandbox was not reaped within the deadline")
	}
	if deleted := backend.deleted(); len(deleted) != 1 || deleted[0] != id {
		t.Errorf("backend deletes = %v; want [%s]", deleted, id)
	}
}

func TestShutdown_ReleasesAllAndIsIdempotent(t *testing.T) {
	p, backend := newTestProvider(nil)
	ctx := context.Background()

	ids := make(map[string]bool)
	for i := 0; i < 3; i++ {
		id, err := p.Acquire(ctx, fmt.Sprintf("t%d", i), "u1")
		if err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
		ids[id] = true
	}

	p.Shutdown()
	p.Shutdown() // second call is a no-op

	deleted := backend.deleted()
	if len(deleted) != 3 {
		t.Fatalf("backend saw %d deletes; want 3", len(deleted))
	}
	for _, id := range deleted {
		if !ids[id] {
			t.Errorf("unexpected delete for %q", id)
		}
	}
}

func TestShutdown_StopsIdleSweep(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleTimeout = time.Hour
	cfg.SweepInterval = 10 * time.Millisecond
	p, _ := newTestProvider(cfg)

	p.Shutdown()

	select {
	case <-p.sweepDone:
	case <-time.After(time.Second):
		t.Fatal("idle sweep goroutine did not stop after Shutdown")
	}
}

func TestRunShutdownHooks_RunsInRegistrationOrder(t *testing.T) {
	var order []int
	OnShutdown(func() { order = append(order, 1) })
	OnShutdown(func() { order = append(order, 2) })

	RunShutdownHooks()

	if len(order) < 2 {
		t.Fatalf("ran %d hooks; want at least 2", len(order))
	}
	last := order[len(order)-2:]
	if last[0] != 1 || last[1] != 2 {
		t.Errorf("hooks ran in order %v; want [... 1 2]", order)
	}
}
