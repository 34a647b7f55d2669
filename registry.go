package swi

import (
	"context"
	"sync"
)

type Registry interface {
	Register(kind CommandKind, h Handler) error
	Execute(ctx context.Context, cmd Command) error
}

type registryImpl struct {
	handlers map[CommandKind]Handler
	mu       sync.RWMutex
}

func (r *registryImpl) Register(kind CommandKind, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[kind]; exists {
		return ErrHandlerAlreadyExists
	}
	r.handlers[kind] = h
	return nil
}

func (r *registryImpl) Execute(ctx context.Context, cmd Command) error {
	r.mu.RLock()
	h, ok := r.handlers[cmd.Kind]
	r.mu.RUnlock()
	if !ok {
		return ErrHandlerNotFound
	}
	return h(ctx, cmd)
}

func NewRegistry() Registry {
	return &registryImpl{handlers: make(map[CommandKind]Handler)}
}
