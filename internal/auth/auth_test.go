package auth

import (
	"context"
	"testing"
	"time"

	"github.com/yourusername/ember/internal/dbpool"
)

// openTestPool opens a Pool backed by dbpool's fake database/sql
// driver, keyed by the test's own name so each test operates on an
// isolated in-memory user table.
func openTestPool(t *testing.T) *dbpool.Pool {
	t.Helper()
	pool, err := dbpool.Open(dbpool.Config{
		Driver:   dbpool.FakeDriverName,
		Host:     "fake",
		Database: t.Name(),
		Size:     2,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func TestHandleEmptyCredentialsRejected(t *testing.T) {
	pool := openTestPool(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := Handle(ctx, pool, "login", map[string]string{"username": "", "password": "x"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out.RedirectPath != errorPath || out.Succeeded {
		t.Fatalf("unexpected outcome for empty username: %+v", out)
	}
}

func TestHandleRegisterThenLogin(t *testing.T) {
	pool := openTestPool(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	form := map[string]string{"username": "tester", "password": "s3cret"}

	out, err := Handle(ctx, pool, "register", form)
	if err != nil {
		t.Fatalf("Handle register: %v", err)
	}
	if out.RedirectPath != welcomePath || !out.Succeeded {
		t.Fatalf("register outcome = %+v, want success", out)
	}

	dup, err := Handle(ctx, pool, "register", form)
	if err != nil {
		t.Fatalf("Handle duplicate register: %v", err)
	}
	if dup.RedirectPath != errorPath || dup.Succeeded {
		t.Fatalf("duplicate register outcome = %+v, want error path", dup)
	}

	loginOK, err := Handle(ctx, pool, "login", form)
	if err != nil {
		t.Fatalf("Handle login: %v", err)
	}
	if loginOK.RedirectPath != welcomePath || !loginOK.Succeeded {
		t.Fatalf("login outcome = %+v, want success", loginOK)
	}

	wrong := map[string]string{"username": "tester", "password": "nope"}
	loginBad, err := Handle(ctx, pool, "login", wrong)
	if err != nil {
		t.Fatalf("Handle bad login: %v", err)
	}
	if loginBad.RedirectPath != errorPath || loginBad.Succeeded {
		t.Fatalf("bad-password login outcome = %+v, want error path", loginBad)
	}
}

func TestHandleLoginUnknownUserFails(t *testing.T) {
	pool := openTestPool(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := Handle(ctx, pool, "login", map[string]string{"username": "no-such-user-ever", "password": "x"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out.RedirectPath != errorPath || out.Succeeded {
		t.Fatalf("unexpected outcome for unknown user: %+v", out)
	}
}
