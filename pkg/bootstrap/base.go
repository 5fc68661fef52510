package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"habitat/internal/broker"
	"habitat/internal/config"
	"habitat/internal/logger"
)

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// Base owns everything the process opened. Resources are closed in reverse
// order of opening, so a dependency outlives whatever was built on it.
type Base struct {
	Config   *config.Config
	Logger   logger.Logger
	Producer broker.Producer
	Consumer broker.Consumer

	closers []closer
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

// OnShutdown registers fn to run during Shutdown.
func (b *Base) OnShutdown(name string, fn func(ctx context.Context) error) {
	b.closers = append(b.closers, closer{name: name, fn: fn})
}

func (b *Base) InitBroker(service string) error {
	conn, err := broker.Open(b.Config.Broker, service, b.Logger.Named("broker"))
	if err != nil {
		return fmt.Errorf("failed to open broker: %w", err)
	}
	b.Producer = conn.Producer
	b.Consumer = conn.Consumer
	b.OnShutdown("broker", func(context.Context) error { return conn.Close() })
	return nil
}

// Shutdown runs every registered closer even when earlier ones fail.
func (b *Base) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		c := b.closers[i]
		if err := c.fn(ctx); err != nil {
			b.Logger.ErrorwCtx(ctx, "Shutdown step failed", "resource", c.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
			continue
		}
		b.Logger.DebugwCtx(ctx, "Resource closed", "resource", c.name)
	}
	b.closers = nil
	return errors.Join(errs...)
}
