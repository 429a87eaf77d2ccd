package runtime

import (
	"context"
	"sync"
)

// The process-wide runtime.
var global struct {
	mu       sync.Mutex
	rt       *Runtime
	shutdown bool
}

// Init creates the process-wide runtime. It must be called exactly once,
// typically when the host loads the library.
func Init(opts Options) error {
	global.mu.Lock()
	defer global.mu.Unlock()

	if global.rt != nil || global.shutdown {
		return ErrAlreadyInitialized
	}
	global.rt = New(opts)
	return nil
}

// Default returns the process-wide runtime.
func Default() (*Runtime, error) {
	global.mu.Lock()
	defer global.mu.Unlock()

	if global.shutdown {
		return nil, ErrShutdown
	}
	if global.rt == nil {
		return nil, ErrNotInitialized
	}
	return global.rt, nil
}

// Shutdown tears down the process-wide runtime. It must be called exactly
// once, after Init; the runtime cannot be initialized again.
func Shutdown(ctx context.Context) error {
	global.mu.Lock()
	rt := global.rt
	switch {
	case global.shutdown:
		global.mu.Unlock()
		return ErrShutdown
	case rt == nil:
		global.mu.Unlock()
		return ErrNotInitialized
	}
	global.shutdown = true
	global.rt = nil
	global.mu.Unlock()

	return rt.Shutdown(ctx)
}
