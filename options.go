package conveyor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Option configures a Kernel.
type Option func(*Kernel) error

// Storer is the minimal store interface held by the Kernel. It covers
// lifecycle operations only. The full composite interface (store.Store)
// is used in subsystem layers that don't create import cycles.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// runtimeRunner is an internal interface for worker runtime lifecycle.
type runtimeRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Kernel is the central coordinator: it owns configuration, the store
// handle, and the worker runtime lifecycle. There are no ambient
// singletons — construct a Kernel at startup and pass it by reference.
type Kernel struct {
	config  Config
	logger  *slog.Logger
	store   Storer
	runtime runtimeRunner

	mu      sync.Mutex
	started bool
}

// New creates a Kernel with the given options.
func New(opts ...Option) (*Kernel, error) {
	k := &Kernel{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(k); err != nil {
			return nil, err
		}
	}
	return k, nil
}

// Logger returns the kernel's logger.
func (k *Kernel) Logger() *slog.Logger { return k.logger }

// Store returns the kernel's store.
func (k *Kernel) Store() Storer { return k.store }

// Config returns a copy of the kernel's configuration.
func (k *Kernel) Config() Config { return k.config }

// SetRuntime sets the worker runtime (called at wiring time).
func (k *Kernel) SetRuntime(r runtimeRunner) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.runtime = r
}

// Migrate runs the store's schema migrations.
func (k *Kernel) Migrate(ctx context.Context) error {
	if k.store == nil {
		return ErrNoStore
	}
	if err := k.store.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks store connectivity.
func (k *Kernel) Ping(ctx context.Context) error {
	if k.store == nil {
		return ErrNoStore
	}
	return k.store.Ping(ctx)
}

// Start begins message processing.
func (k *Kernel) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.runtime == nil {
		return errors.New("conveyor: kernel has no worker runtime")
	}
	if k.started {
		return nil
	}
	if err := k.runtime.Start(ctx); err != nil {
		return err
	}
	k.started = true
	return nil
}

// Stop gracefully shuts down the kernel.
func (k *Kernel) Stop(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.runtime != nil && k.started {
		if err := k.runtime.Stop(ctx); err != nil {
			k.logger.Error("runtime stop error", "error", err)
		}
		k.started = false
	}
	if k.store != nil {
		return k.store.Close()
	}
	return nil
}

// WithConfig replaces the kernel configuration wholesale.
func WithConfig(cfg Config) Option {
	return func(k *Kernel) error {
		k.config = cfg
		return nil
	}
}

// WithQueues sets the queues the worker runtime will poll.
func WithQueues(queues []string) Option {
	return func(k *Kernel) error {
		k.config.Queues = queues
		return nil
	}
}

// WithLogger sets the structured logger for the kernel.
func WithLogger(l *slog.Logger) Option {
	return func(k *Kernel) error {
		k.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the kernel. The store must
// implement Storer at minimum; typically it will be a store.Store which
// embeds all subsystem store interfaces.
func WithStore(s Storer) Option {
	return func(k *Kernel) error {
		k.store = s
		return nil
	}
}
