package task

import (
	"errors"
	"sort"
	"sync"
)

// Registration errors.
var (
	ErrEmptyTaskTypeTag = errors.New("task type tag cannot be empty")
	ErrNilHandler       = errors.New("handler cannot be nil")
	ErrDuplicateHandler = errors.New("handler already registered for task type")
)

// Registry maps task type tags to their handler implementations.
//
// Registration is static at startup; adding a task type means adding one
// Register call, not editing a dispatch branch chain. Resolution failures
// surface as ErrUnknownTaskType at submission time.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

// Register binds a handler to a task type tag.
// Returns an error for an empty tag, a nil handler, or a duplicate tag.
func (r *Registry) Register(taskType string, handler HandlerFunc) error {
	if taskType == "" {
		return ErrEmptyTaskTypeTag
	}
	if handler == nil {
		return ErrNilHandler
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[taskType]; exists {
		return ErrDuplicateHandler
	}
	r.handlers[taskType] = handler
	return nil
}

// Resolve returns the handler registered for the given task type.
// Returns ErrUnknownTaskType if no handler is registered.
func (r *Registry) Resolve(taskType string) (HandlerFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, exists := r.handlers[taskType]
	if !exists {
		return nil, fmtUnknownType(taskType)
	}
	return handler, nil
}

// Types returns the registered task type tags in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for taskType := range r.handlers {
		types = append(types, taskType)
	}
	sort.Strings(types)
	return types
}
