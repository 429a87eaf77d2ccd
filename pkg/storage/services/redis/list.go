package redis

import (
	"context"
	"strconv"
	"strings"

	"github.com/marmos91/dittostore/pkg/storage"
	"github.com/redis/go-redis/v9"
)

// List implements storage.Accessor with SCAN over the metadata keys.
//
// The page token is the SCAN cursor. SCAN may return a key more than once
// and in no particular order, so the lister remembers the paths it has
// produced; entries come out unordered. File metadata is loaded with one
// pipelined HGETALL per page.
func (a *Accessor) List(ctx context.Context, path string, opts storage.ListOptions) (storage.Lister, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := a.objectKey(path)
	pattern := escapeGlob(a.metaKey(prefix)) + "*"
	count := int64(a.pageSize)
	if opts.Limit > 0 {
		count = int64(opts.Limit)
	}
	seen := make(map[string]struct{})

	return storage.NewPageLister(func(ctx context.Context, token string) ([]storage.Entry, string, bool, error) {
		var cursor uint64
		if token != "" {
			c, err := strconv.ParseUint(token, 10, 64)
			if err != nil {
				return nil, "", false, storage.NewError(storage.KindUnexpected, "invalid scan cursor %q", token)
			}
			cursor = c
		}

		for {
			keys, next, err := a.client.Scan(ctx, cursor, pattern, count).Result()
			if err != nil {
				return nil, "", false, mapError(err)
			}
			entries, err := a.entries(ctx, prefix, keys, opts, seen)
			if err != nil {
				return nil, "", false, err
			}
			cursor = next
			if len(entries) > 0 || cursor == 0 {
				return entries, strconv.FormatUint(cursor, 10), cursor == 0, nil
			}
		}
	}), nil
}

// entries converts one SCAN batch of metadata keys.
func (a *Accessor) entries(ctx context.Context, prefix string, keys []string, opts storage.ListOptions, seen map[string]struct{}) ([]storage.Entry, error) {
	var (
		out   []storage.Entry
		files []string
	)
	accept := func(rel string) bool {
		if opts.StartAfter != "" && rel <= opts.StartAfter {
			return false
		}
		if _, dup := seen[rel]; dup {
			return false
		}
		seen[rel] = struct{}{}
		return true
	}

	for _, k := range keys {
		key := a.fromMetaKey(k)
		if key == prefix {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		if i := strings.IndexByte(rest, '/'); i >= 0 && i < len(rest)-1 && !opts.Recursive {
			rel := storage.RelPath(a.root, prefix+rest[:i+1])
			if accept(rel) {
				out = append(out, storage.NewEntry(rel, storage.NewMetadata(storage.ModeDir)))
			}
			continue
		}
		if accept(storage.RelPath(a.root, key)) {
			files = append(files, key)
		}
	}
	if len(files) == 0 {
		return out, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(files))
	_, err := a.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range files {
			cmds[i] = pipe.HGetAll(ctx, a.metaKey(key))
		}
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}

	for i, key := range files {
		m, ok, err := parseObjectMeta(cmds[i].Val())
		if err != nil {
			return nil, err
		}
		if !ok {
			// Deleted between SCAN and HGETALL.
			continue
		}
		out = append(out, storage.NewEntry(storage.RelPath(a.root, key), m.metadata()))
	}
	return out, nil
}

// escapeGlob escapes the characters SCAN MATCH treats as pattern syntax.
func escapeGlob(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
