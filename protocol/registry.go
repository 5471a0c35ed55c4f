package protocol

import (
	"context"
	"fmt"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"

	"github.com/Alexchinaxian/fieldbus/logger"
)

// Factory creates a protocol instance of one specific kind from a typed
// configuration value. Factories are registered per Kind with
// Registry.RegisterFactory; the config argument is the kind's own typed
// configuration struct.
type Factory func(name string, config any) (Protocol, error)

// CreatedHandler is invoked after an instance has been created and registered.
type CreatedHandler func(name string, kind Kind)

// DestroyedHandler is invoked after an instance has been destroyed.
type DestroyedHandler func(name string)

// Registry owns all protocol instances by name.
//
// It is created once at startup with NewRegistry and passed by reference to
// consumers; there is no package-level singleton. Each registered instance is
// exclusively owned by its registry entry: Destroy disconnects the instance
// before removing it.
type Registry struct {
	logger    logger.Logger
	instances *xsync.MapOf[string, Protocol]

	mu                sync.RWMutex
	factories         map[Kind]Factory
	createdHandlers   []CreatedHandler
	destroyedHandlers []DestroyedHandler
}

// NewRegistry creates an empty protocol registry.
func NewRegistry(l logger.Logger) *Registry {
	if l == nil {
		l = logger.GetLogger()
	}

	return &Registry{
		logger:    l,
		instances: xsync.NewMapOf[string, Protocol](),
		factories: make(map[Kind]Factory),
	}
}

// RegisterFactory registers the factory used by Create for the given kind.
// Registering a factory for a kind that already has one replaces it.
func (r *Registry) RegisterFactory(kind Kind, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// OnCreated registers a handler invoked after every successful Create/Register.
func (r *Registry) OnCreated(handler CreatedHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createdHandlers = append(r.createdHandlers, handler)
}

// OnDestroyed registers a handler invoked after every successful Destroy.
func (r *Registry) OnDestroyed(handler DestroyedHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.destroyedHandlers = append(r.destroyedHandlers, handler)
}

// Create builds a protocol instance through the factory registered for kind
// and registers it under name. A duplicate name is rejected with
// ErrDuplicateName; a kind without a factory is rejected with ErrUnknownKind.
func (r *Registry) Create(name string, kind Kind, config any) (Protocol, error) {
	r.mu.RLock()
	factory, ok := r.factories[kind]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	if _, exists := r.instances.Load(name); exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}

	inst, err := factory(name, config)
	if err != nil {
		return nil, fmt.Errorf("create %s instance %q: %w", kind, name, err)
	}

	if err := r.Register(inst); err != nil {
		// Lost the race against a concurrent Create with the same name.
		_ = inst.Disconnect()

		return nil, err
	}

	return inst, nil
}

// Register adds an already constructed protocol instance to the registry.
// A duplicate name is rejected with ErrDuplicateName.
func (r *Registry) Register(p Protocol) error {
	if _, loaded := r.instances.LoadOrStore(p.Name(), p); loaded {
		return fmt.Errorf("%w: %s", ErrDuplicateName, p.Name())
	}

	r.logger.Info("protocol instance registered", "name", p.Name(), "kind", p.Kind().String())

	r.mu.RLock()
	handlers := r.createdHandlers
	r.mu.RUnlock()

	for _, handler := range handlers {
		handler(p.Name(), p.Kind())
	}

	return nil
}

// Get returns the instance registered under name, or false if none exists.
func (r *Registry) Get(name string) (Protocol, bool) {
	return r.instances.Load(name)
}

// GetByKind returns all registered instances of the given kind.
func (r *Registry) GetByKind(kind Kind) []Protocol {
	var result []Protocol
	r.instances.Range(func(_ string, p Protocol) bool {
		if p.Kind() == kind {
			result = append(result, p)
		}

		return true
	})

	return result
}

// Names returns the names of all registered instances.
func (r *Registry) Names() []string {
	names := make([]string, 0, r.instances.Size())
	r.instances.Range(func(name string, _ Protocol) bool {
		names = append(names, name)

		return true
	})

	return names
}

// Count returns the number of registered instances.
func (r *Registry) Count() int {
	return r.instances.Size()
}

// Destroy disconnects and removes the instance registered under name.
func (r *Registry) Destroy(name string) error {
	p, loaded := r.instances.LoadAndDelete(name)
	if !loaded {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if p.IsConnected() {
		if err := p.Disconnect(); err != nil {
			r.logger.Error("failed to disconnect instance during destroy",
				"name", name, "error", err)
		}
	}

	r.logger.Info("protocol instance destroyed", "name", name)

	r.mu.RLock()
	handlers := r.destroyedHandlers
	r.mu.RUnlock()

	for _, handler := range handlers {
		handler(name)
	}

	return nil
}

// DestroyAll disconnects and removes every registered instance.
func (r *Registry) DestroyAll() {
	for _, name := range r.Names() {
		_ = r.Destroy(name)
	}
}

// ConnectAll connects every registered instance that is not yet connected.
//
// All instances are attempted concurrently; the first error is returned but
// remaining connection attempts still run to completion.
func (r *Registry) ConnectAll(ctx context.Context) error {
	g, _ := errgroup.WithContext(ctx)

	r.instances.Range(func(name string, p Protocol) bool {
		g.Go(func() error {
			if p.IsConnected() {
				return nil
			}
			if err := p.Connect(); err != nil {
				r.logger.Error("connect failed", "name", name, "error", err)

				return fmt.Errorf("connect %s: %w", name, err)
			}

			return nil
		})

		return true
	})

	return g.Wait()
}

// DisconnectAll disconnects every registered instance that is connected.
func (r *Registry) DisconnectAll(ctx context.Context) error {
	g, _ := errgroup.WithContext(ctx)

	r.instances.Range(func(name string, p Protocol) bool {
		g.Go(func() error {
			if !p.IsConnected() {
				return nil
			}
			if err := p.Disconnect(); err != nil {
				r.logger.Error("disconnect failed", "name", name, "error", err)

				return fmt.Errorf("disconnect %s: %w", name, err)
			}

			return nil
		})

		return true
	})

	return g.Wait()
}
