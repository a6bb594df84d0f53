// breaker.go
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

// ErrOpen is returned without invoking the operation while the breaker is open.
var ErrOpen = errors.New("circuit breaker is open; fast-fail")

type Config struct {
	MaxFailures      int           // consecutive failures before opening
	ResetTimeout     time.Duration // how long to wait before probing again
	SuccessesToClose int
}

func DefaultConfig() Config {
	return Config{MaxFailures: 5, ResetTimeout: 30 * time.Second, SuccessesToClose: 1}
}

// Breaker guards a single external dependency. Consecutive failures open it;
// after the reset timeout one half-open probe decides whether it closes again.
type Breaker struct {
	name   string
	cfg    Config
	logger *slog.Logger

	mu            sync.Mutex
	state         State
	recentFails   int
	recentSuccess int
	openedAt      time.Time
}

func New(name string, cfg Config, logger *slog.Logger) *Breaker {
	if cfg.MaxFailures < 1 {
		cfg.MaxFailures = 1
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.SuccessesToClose < 1 {
		cfg.SuccessesToClose = 1
	}
	b := &Breaker{name: name, cfg: cfg, logger: logger, state: Closed}
	logger.Info("breaker_created", "name", name, "maxFailures", cfg.MaxFailures, "resetTimeout", cfg.ResetTimeout.String())
	return b
}

// Execute runs op under breaker protection. While open it fast-fails with
// ErrOpen until the reset timeout elapses, then lets one call through as a
// half-open probe.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	b.mu.Lock()
	switch b.state {
	case Open:
		if time.Since(b.openedAt) < b.cfg.ResetTimeout {
			since := time.Since(b.openedAt)
			b.mu.Unlock()
			b.logger.Warn("breaker_fast_fail", "name", b.name, "since_open", since.String())
			return ErrOpen
		}
		b.state = HalfOpen
		b.recentSuccess = 0
		b.logger.Info("breaker_half_open", "name", b.name)
	case HalfOpen, Closed:
	}
	b.mu.Unlock()

	err := op(ctx)
	if err == nil {
		b.onSuccess()
		return nil
	}
	b.onFailure(err)
	return err
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recentFails = 0
	switch b.state {
	case HalfOpen:
		b.recentSuccess++
		if b.recentSuccess >= b.cfg.SuccessesToClose {
			b.state = Closed
			b.logger.Info("breaker_closed", "name", b.name)
		}
	case Open:
		b.state = Closed
	}
}

func (b *Breaker) onFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == HalfOpen {
		b.state = Open
		b.openedAt = time.Now()
		b.logger.Error("breaker_reopened", "name", b.name, "error", err)
		return
	}
	b.recentFails++
	if b.recentFails >= b.cfg.MaxFailures && b.state == Closed {
		b.state = Open
		b.openedAt = time.Now()
		b.logger.Error("breaker_opened", "name", b.name, "maxFailures", b.cfg.MaxFailures, "error", err)
	}
}
