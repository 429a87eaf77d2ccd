package storage

import (
	"context"
	"sync"
)

// Scope groups the backend calls issued by one composite operation, such
// as an emulated copy that reads the source and writes the destination.
//
// Layers that gate admission (see layers.ConcurrentLimitLayer) acquire
// their resource once per scope through Hold; every nested call made
// within the scope reuses it, so a composite operation never waits on a
// permit held by itself. Resources are released by Close.
type Scope struct {
	mu     sync.Mutex
	held   map[any]func()
	order  []any
	closed bool
}

type scopeKey struct{}

// WithScope returns a context carrying a new Scope. When ctx already
// carries one, it is reused and the returned Scope's Close is a no-op, so
// only the outermost composite operation releases resources.
func WithScope(ctx context.Context) (context.Context, *Scope) {
	if s := ScopeFrom(ctx); s != nil {
		return ctx, nil
	}
	s := &Scope{held: make(map[any]func())}
	return context.WithValue(ctx, scopeKey{}, s), s
}

// ScopeFrom returns the Scope carried by ctx, or nil.
func ScopeFrom(ctx context.Context) *Scope {
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}

// Hold acquires the resource identified by key unless the scope already
// holds it. acquire returns the release function.
func (s *Scope) Hold(key any, acquire func() (release func(), err error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return NewError(KindUnexpected, "scope is closed")
	}
	if _, ok := s.held[key]; ok {
		return nil
	}
	release, err := acquire()
	if err != nil {
		return err
	}
	s.held[key] = release
	s.order = append(s.order, key)
	return nil
}

// Close releases every held resource in reverse acquisition order. A nil
// Scope is valid and does nothing.
func (s *Scope) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for i := len(s.order) - 1; i >= 0; i-- {
		s.held[s.order[i]]()
	}
	s.held = nil
	s.order = nil
}
