package config

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/metrics"
	"github.com/marmos91/dittostore/pkg/storage"
	"github.com/marmos91/dittostore/pkg/storage/services/badger"
	"github.com/marmos91/dittostore/pkg/storage/services/fs"
	"github.com/marmos91/dittostore/pkg/storage/services/memory"
	"github.com/marmos91/dittostore/pkg/storage/services/redis"
	"github.com/marmos91/dittostore/pkg/storage/services/s3"
	"github.com/mitchellh/mapstructure"
)

// Factory builds a backend from its raw options.
//
// Check decodes and validates the options without touching the backend;
// Open does the same and then constructs the Accessor, which may connect to
// remote services.
type Factory struct {
	Check func(options map[string]any) error
	Open  func(ctx context.Context, options map[string]any) (storage.Accessor, error)
}

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

func init() {
	Register(memory.Scheme, backend(func(_ context.Context, c memory.Config) (storage.Accessor, error) {
		return memory.New(c), nil
	}))
	Register(fs.Scheme, backend(func(ctx context.Context, c fs.Config) (storage.Accessor, error) {
		return fs.New(ctx, c)
	}))
	Register(s3.Scheme, backend(func(ctx context.Context, c s3.Config) (storage.Accessor, error) {
		return s3.NewFromConfig(ctx, c, metrics.NewS3Metrics())
	}))
	Register(badger.Scheme, backend(func(ctx context.Context, c badger.Config) (storage.Accessor, error) {
		return badger.New(ctx, c)
	}))
	Register(redis.Scheme, backend(func(ctx context.Context, c redis.Config) (storage.Accessor, error) {
		return redis.New(ctx, c)
	}))
}

// Register makes a backend available under scheme, replacing any previous
// registration. Schemes are case-insensitive.
func Register(scheme string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[strings.ToLower(scheme)] = f
}

// Schemes returns the registered schemes, sorted.
func Schemes() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	out := make([]string, 0, len(factories))
	for s := range factories {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func lookup(scheme string) (Factory, error) {
	factoriesMu.RLock()
	f, ok := factories[strings.ToLower(scheme)]
	factoriesMu.RUnlock()

	if !ok {
		return Factory{}, storage.NewError(storage.KindConfigInvalid,
			"unknown scheme %q (available: %s)", scheme, strings.Join(Schemes(), ", "))
	}
	return f, nil
}

// backend adapts a typed constructor into a Factory: options are decoded
// into C and validated with C's struct tags first.
func backend[C any](open func(ctx context.Context, cfg C) (storage.Accessor, error)) Factory {
	return Factory{
		Check: func(options map[string]any) error {
			_, err := decodeOptions[C](options)
			return err
		},
		Open: func(ctx context.Context, options map[string]any) (storage.Accessor, error) {
			cfg, err := decodeOptions[C](options)
			if err != nil {
				return nil, err
			}
			return open(ctx, cfg)
		},
	}
}

// decodeOptions decodes options into a C.
//
// Decoding is weakly typed so that string maps (as received from CLI flags,
// environment variables or host bindings) work: "true" becomes a bool, "5m"
// a duration, "0755" an octal file mode. Unknown keys are rejected.
func decodeOptions[C any](options map[string]any) (C, error) {
	var cfg C
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &cfg,
	})
	if err != nil {
		return cfg, storage.NewError(storage.KindUnexpected, "build options decoder").WithCause(err)
	}
	if err := decoder.Decode(options); err != nil {
		return cfg, storage.NewError(storage.KindConfigInvalid, "invalid %s options", typeName[C]()).WithCause(err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return cfg, storage.NewError(storage.KindConfigInvalid, "invalid %s options", typeName[C]()).
			WithCause(formatValidationError(err))
	}
	return cfg, nil
}

// typeName returns "s3" for s3.Config and so on.
func typeName[C any]() string {
	t := reflect.TypeOf((*C)(nil)).Elem()
	if pkg := t.PkgPath(); pkg != "" {
		return pkg[strings.LastIndex(pkg, "/")+1:]
	}
	return t.String()
}

// NewAccessor builds the backend registered for scheme.
//
// Parameters:
//   - ctx: Context for initialization operations (connecting, bucket checks)
//   - scheme: backend identifier, see Schemes()
//   - options: backend-specific settings
//
// Returns:
//   - storage.Accessor: initialized backend
//   - error: ConfigInvalid for an unknown scheme or bad options, or the
//     backend's initialization error
func NewAccessor(ctx context.Context, scheme string, options map[string]any) (storage.Accessor, error) {
	f, err := lookup(scheme)
	if err != nil {
		return nil, err
	}
	acc, err := f.Open(ctx, options)
	if err != nil {
		return nil, asConfigError(err, scheme)
	}
	logger.Debug("Backend %s initialized", scheme)
	return acc, nil
}

// NewOperator builds an unlayered Operator for scheme from string options.
// Every error is a storage.Error; configuration problems have kind
// ConfigInvalid.
func NewOperator(scheme string, cfg map[string]string) (*storage.Operator, error) {
	return NewOperatorContext(context.Background(), scheme, cfg)
}

// NewOperatorContext is NewOperator with a context for initialization.
func NewOperatorContext(ctx context.Context, scheme string, cfg map[string]string) (*storage.Operator, error) {
	options := make(map[string]any, len(cfg))
	for k, v := range cfg {
		options[k] = v
	}
	acc, err := NewAccessor(ctx, scheme, options)
	if err != nil {
		return nil, err
	}
	return storage.NewOperator(acc), nil
}

// Build creates the Operator described by cfg, wrapped in the configured
// layers.
func Build(ctx context.Context, cfg *Config) (*storage.Operator, error) {
	acc, err := NewAccessor(ctx, cfg.Operator.Scheme, cfg.Operator.Options)
	if err != nil {
		return nil, err
	}
	stack, err := BuildLayers(cfg)
	if err != nil {
		if c, ok := acc.(interface{ Close() error }); ok {
			_ = c.Close()
		}
		return nil, err
	}
	return storage.NewOperator(acc).Layer(stack...), nil
}

// asConfigError keeps storage errors as they are and classifies anything
// else coming out of a constructor as ConfigInvalid.
func asConfigError(err error, scheme string) error {
	var serr *storage.Error
	if errors.As(err, &serr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return storage.NewError(storage.KindConfigInvalid, "%s backend", scheme).WithCause(fmt.Errorf("initialize: %w", err))
}
