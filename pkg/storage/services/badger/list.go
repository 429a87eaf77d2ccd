package badger

import (
	"context"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/marmos91/dittostore/pkg/storage"
)

// List implements storage.Accessor with a prefix iterator over the record
// namespace.
//
// Every page runs in its own read transaction and resumes by seeking past
// the last key it returned, so a long listing never pins an old snapshot.
// Without Recursive, the records below a child directory collapse into one
// directory entry and the iterator skips the whole child range.
func (a *Accessor) List(ctx context.Context, path string, opts storage.ListOptions) (storage.Lister, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := a.key(path)
	pageSize := a.pageSize
	if opts.Limit > 0 {
		pageSize = opts.Limit
	}
	first := ""
	if opts.StartAfter != "" {
		first = a.key(opts.StartAfter)
	}

	return storage.NewPageLister(func(ctx context.Context, token string) ([]storage.Entry, string, bool, error) {
		after := token
		if after == "" {
			after = first
		}
		entries, last, done, err := a.page(ctx, prefix, after, pageSize, opts)
		if err != nil {
			return nil, "", false, mapError(err)
		}
		return entries, last, done, nil
	}), nil
}

// page collects up to size entries whose record keys sort after the
// object key after. It returns the key to resume from and whether the
// range is exhausted.
func (a *Accessor) page(ctx context.Context, prefix, after string, size int, opts storage.ListOptions) ([]storage.Entry, string, bool, error) {
	entries := make([]storage.Entry, 0, size)
	last := after
	done := false

	err := a.db.View(func(txn *badger.Txn) error {
		itOpts := badger.DefaultIteratorOptions
		itOpts.Prefix = keyRecord(prefix)

		it := txn.NewIterator(itOpts)
		defer it.Close()

		seek := keyRecord(prefix)
		if after != "" {
			seek = keyRecord(after + "\x00")
		}

		for it.Seek(seek); it.Valid(); {
			if len(entries) == size {
				return nil
			}
			if len(entries)%100 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}

			item := it.Item()
			key := objectKey(item.Key())
			if key == prefix {
				it.Next()
				continue
			}

			rest := key[len(prefix):]
			if i := strings.IndexByte(rest, '/'); i >= 0 && !opts.Recursive {
				child := prefix + rest[:i+1]
				rel := storage.RelPath(a.root, child)
				if opts.StartAfter == "" || rel > opts.StartAfter {
					entries = append(entries, storage.NewEntry(rel, storage.NewMetadata(storage.ModeDir)))
				}
				last = afterPrefix(child)
				it.Seek(keyRecord(last))
				continue
			}

			var r *record
			err := item.Value(func(val []byte) error {
				var err error
				r, err = decodeRecord(val)
				return err
			})
			if err != nil {
				return err
			}
			entries = append(entries, storage.NewEntry(storage.RelPath(a.root, key), r.metadata()))
			last = key
			it.Next()
		}
		done = true
		return nil
	})
	if err != nil {
		return nil, "", false, err
	}
	return entries, last, done, nil
}
