package fs

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/marmos91/dittostore/pkg/storage"
)

// List implements storage.Accessor.
//
// Direct children are read lazily, one page of directory entries at a
// time, in directory order. Recursive listings walk the tree up front and
// are served in lexical order. A missing directory lists as empty.
func (a *Accessor) List(ctx context.Context, path string, opts storage.ListOptions) (storage.Lister, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pageSize := a.pageSize
	if opts.Limit > 0 {
		pageSize = opts.Limit
	}
	if opts.Recursive {
		return a.listRecursive(path, opts, pageSize)
	}

	dir, err := os.Open(a.osPath(path))
	if errors.Is(err, fs.ErrNotExist) {
		return storage.NewSliceLister(nil), nil
	}
	if err != nil {
		return nil, mapError(err)
	}

	l := storage.NewPageLister(func(ctx context.Context, _ string) ([]storage.Entry, string, bool, error) {
		for {
			if err := ctx.Err(); err != nil {
				return nil, "", false, err
			}
			children, err := dir.ReadDir(pageSize)
			done := errors.Is(err, io.EOF)
			if err != nil && !done {
				return nil, "", false, mapError(err)
			}

			page := make([]storage.Entry, 0, len(children))
			for _, d := range children {
				e, ok := a.entry(path, d, opts)
				if ok {
					page = append(page, e)
				}
			}
			// A fully filtered page is not the end of the directory.
			if len(page) > 0 || done {
				return page, "more", done, nil
			}
		}
	})
	return l.OnClose(dir.Close), nil
}

// entry builds the listing entry of a directory child. ok is false for
// entries that must be skipped.
func (a *Accessor) entry(parent string, d fs.DirEntry, opts storage.ListOptions) (storage.Entry, bool) {
	name := d.Name()
	if strings.HasSuffix(name, tempSuffix) {
		return storage.Entry{}, false
	}

	rel := name
	if parent != "/" {
		rel = parent + name
	}
	if d.IsDir() {
		rel += "/"
	}
	if opts.StartAfter != "" && rel <= opts.StartAfter {
		return storage.Entry{}, false
	}

	if d.IsDir() || !needsInfo(opts.Metakey) {
		mode := storage.ModeFile
		if d.IsDir() {
			mode = storage.ModeDir
		}
		return storage.NewEntry(rel, storage.NewMetadata(mode)), true
	}

	info, err := d.Info()
	if err != nil {
		// Removed between ReadDir and Info.
		return storage.Entry{}, false
	}
	return storage.NewEntry(rel, fileMetadata(info)), true
}

func needsInfo(mask storage.Metakey) bool {
	return mask&(storage.MetakeyContentLength|storage.MetakeyLastModified|storage.MetakeyComplete) != 0
}

func (a *Accessor) listRecursive(path string, opts storage.ListOptions, pageSize int) (storage.Lister, error) {
	root := a.osPath(path)
	var entries []storage.Entry

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(a.base, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if e, ok := a.entry(storage.ParentDir(rel), d, opts); ok {
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path() < entries[j].Path() })

	return storage.NewPageLister(func(_ context.Context, token string) ([]storage.Entry, string, bool, error) {
		start := 0
		if token != "" {
			start, _ = strconv.Atoi(token)
		}
		end := min(start+pageSize, len(entries))
		return entries[start:end], strconv.Itoa(end), end >= len(entries), nil
	}), nil
}
