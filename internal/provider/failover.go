package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"relaybot/internal/domain"
)

// defaultMinBudget is the least time left on the caller's deadline for the
// chain to try another backend.
const defaultMinBudget = 2 * time.Second

// ErrBudgetExhausted ends a chain whose remaining deadline is too short for
// another attempt.
var ErrBudgetExhausted = errors.New("not enough time left for the next backend")

type FailoverConfig struct {
	Providers []domain.Provider // tried in order, at least one
	MinBudget time.Duration
	Logger    *slog.Logger
}

// FailoverChain answers completions from the first backend that succeeds.
// All attempts share the caller's context, so the relay's call timeout
// bounds the whole chain rather than each backend.
type FailoverChain struct {
	providers []domain.Provider
	minBudget time.Duration
	logger    *slog.Logger
}

func NewFailoverChain(cfg FailoverConfig) *FailoverChain {
	if cfg.MinBudget <= 0 {
		cfg.MinBudget = defaultMinBudget
	}
	return &FailoverChain{
		providers: cfg.Providers,
		minBudget: cfg.MinBudget,
		logger:    cfg.Logger,
	}
}

func (c *FailoverChain) Name() string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

// Healthy succeeds when any backend is reachable.
func (c *FailoverChain) Healthy(ctx context.Context) error {
	var errs []error
	for _, p := range c.providers {
		err := p.Healthy(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return fmt.Errorf("no healthy backend: %w", errors.Join(errs...))
}

func (c *FailoverChain) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	var errs []error
	for i, p := range c.providers {
		if i > 0 {
			if err := c.budgetLeft(ctx); err != nil {
				errs = append(errs, err)
				break
			}
		}

		resp, err := p.Chat(ctx, req)
		if err == nil {
			if i > 0 {
				c.logger.Info("completion served by fallback backend", "provider", p.Name(), "attempt", i+1)
			}
			return resp, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		if ctx.Err() != nil {
			break
		}
		c.logger.Warn("completion backend failed", "provider", p.Name(), "attempt", i+1, "err", err)
	}
	return nil, fmt.Errorf("completion failed on every backend: %w", errors.Join(errs...))
}

func (c *FailoverChain) budgetLeft(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < c.minBudget {
		return ErrBudgetExhausted
	}
	return nil
}
