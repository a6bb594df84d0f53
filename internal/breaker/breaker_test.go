// breaker_test.go
package breaker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var errBoom = errors.New("boom")

func fail(context.Context) error { return errBoom }
func ok(context.Context) error   { return nil }

func TestBreakerOpensAfterMaxFailures(t *testing.T) {
	b := New("test", Config{MaxFailures: 3, ResetTimeout: time.Hour}, discard())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Execute(ctx, fail); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: err=%v", i, err)
		}
	}
	if b.State() != Open {
		t.Fatalf("state=%v want open", b.State())
	}
	if err := b.Execute(ctx, ok); !errors.Is(err, ErrOpen) {
		t.Fatalf("open breaker must fast-fail, got %v", err)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := New("test", Config{MaxFailures: 3, ResetTimeout: time.Hour}, discard())
	ctx := context.Background()

	b.Execute(ctx, fail)
	b.Execute(ctx, fail)
	b.Execute(ctx, ok)
	b.Execute(ctx, fail)
	b.Execute(ctx, fail)
	if b.State() != Closed {
		t.Fatalf("state=%v want closed: the success must clear the streak", b.State())
	}
}

func TestBreakerHalfOpenProbeCloses(t *testing.T) {
	b := New("test", Config{MaxFailures: 1, ResetTimeout: 10 * time.Millisecond}, discard())
	ctx := context.Background()

	b.Execute(ctx, fail)
	if b.State() != Open {
		t.Fatalf("state=%v want open", b.State())
	}
	time.Sleep(20 * time.Millisecond)
	if err := b.Execute(ctx, ok); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if b.State() != Closed {
		t.Fatalf("state=%v want closed after successful probe", b.State())
	}
}

func TestBreakerHalfOpenProbeReopens(t *testing.T) {
	b := New("test", Config{MaxFailures: 1, ResetTimeout: 10 * time.Millisecond}, discard())
	ctx := context.Background()

	b.Execute(ctx, fail)
	time.Sleep(20 * time.Millisecond)
	if err := b.Execute(ctx, fail); !errors.Is(err, errBoom) {
		t.Fatalf("probe err=%v", err)
	}
	if b.State() != Open {
		t.Fatalf("state=%v want reopened", b.State())
	}
	if err := b.Execute(ctx, ok); !errors.Is(err, ErrOpen) {
		t.Fatalf("reopened breaker must fast-fail, got %v", err)
	}
}
