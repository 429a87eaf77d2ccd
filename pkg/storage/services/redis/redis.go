// Package redis implements a storage.Accessor on Redis.
//
// Each object is a string key holding its data plus a hash holding its
// metadata. Listings walk the metadata keys with SCAN, so they are
// unordered. Redis has no server-side copy, so Copy is left to the
// Operator's read-and-write emulation.
package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/storage"
	"github.com/redis/go-redis/v9"
)

// Scheme is the scheme name of the redis backend.
const Scheme = "redis"

const (
	// DefaultKeyPrefix namespaces every key the backend writes.
	DefaultKeyPrefix = "dittostore:"

	// DefaultPageSize is the SCAN COUNT hint and listing page size.
	DefaultPageSize = 256

	// MaxBatchOperations bounds the deletes sent in one pipeline.
	MaxBatchOperations = 1000

	defaultDialTimeout = 5 * time.Second
)

// Config configures the redis backend.
type Config struct {
	// URL is a redis:// or rediss:// connection URL. When set, Addr,
	// Password and DB are ignored.
	URL string `mapstructure:"url"`

	// Addr is host:port. Default: 127.0.0.1:6379.
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"omitempty,gte=0"`

	// KeyPrefix namespaces every key. Default: "dittostore:".
	KeyPrefix string `mapstructure:"key_prefix"`

	Root string `mapstructure:"root"`
	Name string `mapstructure:"name"`

	PageSize int `mapstructure:"page_size" validate:"omitempty,gte=1,lte=10000"`

	// TTL expires every written object after the given duration. Zero
	// keeps objects forever.
	TTL time.Duration `mapstructure:"ttl" validate:"omitempty,gte=0"`

	DialTimeout time.Duration `mapstructure:"dial_timeout" validate:"omitempty,gte=0"`
}

// Accessor implements storage.Accessor on Redis.
//
// Thread Safety:
// Safe for concurrent use. Read-modify-write operations (append, rename)
// use WATCH; a concurrent change aborts them with a temporary error.
type Accessor struct {
	storage.UnsupportedAccessor

	client    *redis.Client
	keyPrefix string
	root      string
	name      string
	pageSize  int
	ttl       time.Duration
}

// New connects to Redis and verifies the connection with PING.
//
// Parameters:
//   - ctx: Context for the connection check
//   - cfg: backend configuration
//
// Returns:
//   - *Accessor: ready to use; Close releases the connection pool
//   - error: ConfigInvalid for a bad URL, Unexpected when PING fails
func New(ctx context.Context, cfg Config) (*Accessor, error) {
	opts, err := buildOptions(cfg)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, storage.NewError(storage.KindUnexpected, "redis ping failed").WithCause(err)
	}

	acc := NewFromClient(client, cfg)
	logger.Info("Redis backend connected: addr=%s, db=%d, prefix=%s, root=%s", opts.Addr, opts.DB, acc.keyPrefix, acc.root)
	return acc, nil
}

// NewFromClient wraps an existing client. The connection settings of cfg
// are ignored.
func NewFromClient(client *redis.Client, cfg Config) *Accessor {
	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Accessor{
		client:    client,
		keyPrefix: keyPrefix,
		root:      storage.NormalizeRoot(cfg.Root),
		name:      cfg.Name,
		pageSize:  pageSize,
		ttl:       cfg.TTL,
	}
}

func buildOptions(cfg Config) (*redis.Options, error) {
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}

	if cfg.URL != "" {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, storage.NewError(storage.KindConfigInvalid, "redis backend: invalid url").WithCause(err)
		}
		opts.DialTimeout = dialTimeout
		return opts, nil
	}

	addr := cfg.Addr
	if addr == "" {
		addr = net.JoinHostPort("127.0.0.1", "6379")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return nil, storage.NewError(storage.KindConfigInvalid, "redis backend: invalid addr %q", addr).WithCause(err)
	}
	return &redis.Options{
		Addr:        addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: dialTimeout,
	}, nil
}

// Close closes the connection pool.
func (a *Accessor) Close() error {
	if err := a.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	return nil
}

// Info implements storage.Accessor.
func (a *Accessor) Info() storage.AccessorInfo {
	return storage.AccessorInfo{
		Scheme: Scheme,
		Root:   a.root,
		Name:   a.instanceName(),
		Capability: storage.Capability{
			Stat:                        true,
			StatWithIfMatch:             true,
			StatWithIfNoneMatch:         true,
			Read:                        true,
			ReadCanSeek:                 true,
			ReadWithRange:               true,
			ReadWithIfMatch:             true,
			ReadWithIfNoneMatch:         true,
			Write:                       true,
			WriteCanAppend:              true,
			WriteWithContentType:        true,
			WriteWithContentDisposition: true,
			WriteWithCacheControl:       true,
			CreateDir:                   true,
			Delete:                      true,
			Rename:                      true,
			List:                        true,
			ListWithLimit:               true,
			ListWithStartAfter:          true,
			ListWithDelimiterSlash:      true,
			ListWithoutDelimiter:        true,
			Batch:                       true,
			BatchDelete:                 true,
			BatchMaxOperations:          MaxBatchOperations,
		},
	}
}

func (a *Accessor) instanceName() string {
	if a.name != "" {
		return a.name
	}
	return a.client.Options().Addr
}

// objectKey returns the path below the root without a leading slash.
func (a *Accessor) objectKey(path string) string {
	return storage.AbsPath(a.root, path)
}

func (a *Accessor) dataKey(key string) string {
	return a.keyPrefix + "d:" + key
}

func (a *Accessor) metaKey(key string) string {
	return a.keyPrefix + "m:" + key
}

// fromMetaKey is the inverse of metaKey.
func (a *Accessor) fromMetaKey(redisKey string) string {
	return strings.TrimPrefix(redisKey, a.keyPrefix+"m:")
}

// mapError converts a go-redis error into a storage error.
func mapError(err error) error {
	var se *storage.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &se):
		return se
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, redis.Nil):
		return storage.NewError(storage.KindNotFound, "key not found").WithCause(err)
	case errors.Is(err, redis.TxFailedErr):
		return storage.NewError(storage.KindUnexpected, "concurrent modification").WithCause(err).SetTemporary()
	case strings.Contains(err.Error(), "no such key"):
		return storage.NewError(storage.KindNotFound, "key not found").WithCause(err)
	case strings.HasPrefix(err.Error(), "NOPERM"), strings.HasPrefix(err.Error(), "NOAUTH"):
		return storage.NewError(storage.KindPermissionDenied, "redis refused the command").WithCause(err)
	case strings.HasPrefix(err.Error(), "LOADING"), strings.HasPrefix(err.Error(), "BUSY"), strings.HasPrefix(err.Error(), "TRYAGAIN"):
		return storage.NewError(storage.KindUnexpected, "redis is busy").WithCause(err).SetTemporary()
	default:
		var netErr net.Error
		e := storage.NewError(storage.KindUnexpected, "redis command failed").WithCause(err)
		if errors.As(err, &netErr) {
			e = e.SetTemporary()
		}
		return e
	}
}
