package dbpool

import (
	"context"
	"testing"
	"time"
)

// fakeConfig builds a Config against the package's registered fake
// driver, keyed by the test's own name so each test gets an isolated
// in-memory table instead of sharing state through the DSN.
func fakeConfig(t *testing.T, size int) Config {
	t.Helper()
	return Config{
		Driver:   FakeDriverName,
		Host:     "fake",
		Database: t.Name(),
		Size:     size,
	}
}

func TestAcquireReleaseBalancesPermits(t *testing.T) {
	cfg := fakeConfig(t, 4)
	pool, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pool.Close()

	if pool.Available() != cfg.Size {
		t.Fatalf("Available() = %d, want %d", pool.Available(), cfg.Size)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if pool.Available() != cfg.Size-1 {
		t.Fatalf("Available() after acquire = %d, want %d", pool.Available(), cfg.Size-1)
	}
	h.Release()
	if pool.Available() != cfg.Size {
		t.Fatalf("Available() after release = %d, want %d", pool.Available(), cfg.Size)
	}
}

func TestAcquireBlocksWhenExhausted(t *testing.T) {
	cfg := fakeConfig(t, 1)
	pool, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pool.Close()

	ctx := context.Background()
	h, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	shortCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if _, err := pool.Acquire(shortCtx); err == nil {
		t.Fatal("expected Acquire to block past the deadline with the pool exhausted")
	}

	h.Release()
	h2, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	h2.Release()
}

func TestWithConnReleasesOnError(t *testing.T) {
	cfg := fakeConfig(t, 4)
	pool, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pool.Close()

	wantErr := context.DeadlineExceeded
	err = pool.WithConn(context.Background(), func(h *Handle) error {
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("WithConn err = %v, want %v", err, wantErr)
	}
	if pool.Available() != pool.Size() {
		t.Fatalf("Available() = %d after WithConn error, want %d", pool.Available(), pool.Size())
	}
}

// TestAcquireReturnsErrClosedAfterClose proves a pool closed with no
// permits outstanding rejects new acquisitions rather than hanging,
// the fake-driver equivalent of the integration check this package
// ran only against a live MySQL instance before.
func TestAcquireReturnsErrClosedAfterClose(t *testing.T) {
	cfg := fakeConfig(t, 2)
	pool, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// drain every permit so the semaphore channel is empty when it's
	// closed -- otherwise a buffered permit would still satisfy the
	// next Acquire with ok=true before the close is observed.
	ctx := context.Background()
	handles := make([]*Handle, cfg.Size)
	for i := range handles {
		h, err := pool.Acquire(ctx)
		if err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
		handles[i] = h
	}
	for _, h := range handles {
		h.Release()
	}
	for i := range handles {
		h, err := pool.Acquire(ctx)
		if err != nil {
			t.Fatalf("re-acquire %d: %v", i, err)
		}
		handles[i] = h
	}

	pool.Close()

	if _, err := pool.Acquire(ctx); err != ErrClosed {
		t.Fatalf("Acquire after Close err = %v, want ErrClosed", err)
	}
}
