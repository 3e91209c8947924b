package saga

import (
	"context"
	"sync"

	apperrors "backbone/pkg/errors"
)

// StepExecutor performs a step's action, or its compensation, against the
// named external collaborator. The collaborator protocol is out of scope
// here; an implementation only reports success or failure.
type StepExecutor interface {
	Execute(ctx context.Context, service, action string, payload map[string]interface{}) error
	Compensate(ctx context.Context, service, compensation string, payload map[string]interface{}) error
}

// ServiceFunc handles both actions and compensations for one collaborator.
type ServiceFunc func(ctx context.Context, operation string, payload map[string]interface{}) error

// Registry is a StepExecutor backed by per-service callbacks registered at
// wiring time. It is an instance, not package state, and safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	services map[string]ServiceFunc
}

func NewRegistry() *Registry {
	return &Registry{
		services: make(map[string]ServiceFunc),
	}
}

func (r *Registry) Register(service string, fn ServiceFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[service] = fn
}

func (r *Registry) Execute(ctx context.Context, service, action string, payload map[string]interface{}) error {
	return r.invoke(ctx, service, action, payload)
}

func (r *Registry) Compensate(ctx context.Context, service, compensation string, payload map[string]interface{}) error {
	return r.invoke(ctx, service, compensation, payload)
}

func (r *Registry) invoke(ctx context.Context, service, operation string, payload map[string]interface{}) error {
	r.mu.RLock()
	fn, ok := r.services[service]
	r.mu.RUnlock()

	if !ok {
		return apperrors.ErrServiceUnavailable.
			WithDetail("service", service).
			WithDetail("operation", operation).
			AsFatal()
	}
	return fn(ctx, operation, payload)
}
