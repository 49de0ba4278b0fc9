package async

import (
	"context"
	"fmt"
	"sync"
)

// TaskHandler executes one kind of task.
//
// Domain packages implement it; the worker pool routes tasks by Name without
// knowing what the payload means. Handlers must watch ctx.Done(): the pool
// cancels it on shutdown and requeues the task.
type TaskHandler interface {
	Execute(ctx context.Context, task *Task) error
	Name() string
}

// TaskExecutor runs a task by whatever means
type TaskExecutor interface {
	Execute(ctx context.Context, task *Task) error
}

// HandlerRegistry manages task handlers by name. Safe for concurrent use.
type HandlerRegistry struct {
	handlers map[string]TaskHandler
	mu       sync.RWMutex
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[string]TaskHandler),
	}
}

// Register adds a handler using its name.
// Panics if a handler is already registered with that name.
func (r *HandlerRegistry) Register(handler TaskHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := handler.Name()
	if _, exists := r.handlers[name]; exists {
		panic(fmt.Sprintf("handler already registered for name: %s", name))
	}
	r.handlers[name] = handler
}

// Get retrieves the handler for a name, or nil.
func (r *HandlerRegistry) Get(name string) TaskHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[name]
}

// Has checks if a handler is registered for a name.
func (r *HandlerRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.handlers[name]
	return exists
}

// Names returns all registered handler names.
func (r *HandlerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// RegistryExecutor adapts a HandlerRegistry to the TaskExecutor interface.
type RegistryExecutor struct {
	registry *HandlerRegistry
}

// NewRegistryExecutor creates an executor backed by a handler registry.
func NewRegistryExecutor(registry *HandlerRegistry) *RegistryExecutor {
	return &RegistryExecutor{registry: registry}
}

// Execute dispatches to the registered handler.
func (e *RegistryExecutor) Execute(ctx context.Context, task *Task) error {
	if task.HandlerName == "" {
		return fmt.Errorf("task missing handler_name")
	}

	handler := e.registry.Get(task.HandlerName)
	if handler == nil {
		return fmt.Errorf("no handler registered for handler name: %s", task.HandlerName)
	}
	return handler.Execute(ctx, task)
}
