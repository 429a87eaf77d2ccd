// Package fs implements the storage backend over a local directory tree.
//
// Paths map to files below the configured root. Directories are real
// directories, so they exist independently of their content and must be
// empty to be deleted. Writes go to a temporary file next to the target
// and are renamed into place on Close, so readers never observe a partial
// file.
package fs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/marmos91/dittostore/pkg/storage"
)

// Scheme is the scheme name of the filesystem backend.
const Scheme = "fs"

// DefaultPageSize is the number of directory entries read per page.
const DefaultPageSize = 256

// tempSuffix marks in-progress writes. Listings skip these files.
const tempSuffix = ".dittostore-tmp"

// Config configures the filesystem backend.
type Config struct {
	// Root is the directory holding the data. Created if missing.
	Root string `mapstructure:"root" validate:"required"`

	// Name identifies the instance in OperatorInfo.
	Name string `mapstructure:"name"`

	// PageSize is the number of directory entries read per listing page.
	PageSize int `mapstructure:"page_size" validate:"omitempty,gte=1,lte=100000"`

	// DirPerm and FilePerm are the permissions of created directories and
	// files. Default to 0755 and 0644.
	DirPerm  os.FileMode `mapstructure:"dir_perm"`
	FilePerm os.FileMode `mapstructure:"file_perm"`
}

// Accessor implements storage.Accessor on the local filesystem.
//
// Thread Safety:
// Operations rely on the atomicity of rename(2). Concurrent writers of the
// same path do not corrupt it; the last Close wins.
type Accessor struct {
	storage.UnsupportedAccessor

	base     string
	name     string
	pageSize int
	dirPerm  os.FileMode
	filePerm os.FileMode
}

// New creates a filesystem accessor, creating the root directory if it
// does not exist.
//
// Returns:
//   - *Accessor: ready to use
//   - error: ConfigInvalid when Root is empty, or the error of creating it
func New(ctx context.Context, cfg Config) (*Accessor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Root == "" {
		return nil, storage.NewError(storage.KindConfigInvalid, "fs root is required")
	}

	base, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, storage.NewError(storage.KindConfigInvalid, "invalid fs root %q", cfg.Root).WithCause(err)
	}

	a := &Accessor{
		base:     base,
		name:     cfg.Name,
		pageSize: cfg.PageSize,
		dirPerm:  cfg.DirPerm,
		filePerm: cfg.FilePerm,
	}
	if a.pageSize <= 0 {
		a.pageSize = DefaultPageSize
	}
	if a.dirPerm == 0 {
		a.dirPerm = 0755
	}
	if a.filePerm == 0 {
		a.filePerm = 0644
	}

	if err := os.MkdirAll(base, a.dirPerm); err != nil {
		return nil, mapError(err).WithContext("root", base)
	}
	return a, nil
}

// Info implements storage.Accessor.
func (a *Accessor) Info() storage.AccessorInfo {
	return storage.AccessorInfo{
		Scheme: Scheme,
		Root:   storage.NormalizeRoot(filepath.ToSlash(a.base)),
		Name:   a.name,
		Capability: storage.Capability{
			Stat:                   true,
			Read:                   true,
			ReadCanSeek:            true,
			ReadWithRange:          true,
			Write:                  true,
			WriteCanMulti:          true,
			WriteCanAppend:         true,
			CreateDir:              true,
			Delete:                 true,
			Copy:                   true,
			Rename:                 true,
			List:                   true,
			ListWithLimit:          true,
			ListWithStartAfter:     true,
			ListWithDelimiterSlash: true,
			ListWithoutDelimiter:   true,
			Blocking:               true,
		},
	}
}

// osPath returns the filesystem path of a normalized storage path.
func (a *Accessor) osPath(path string) string {
	if path == "/" {
		return a.base
	}
	return filepath.Join(a.base, filepath.FromSlash(strings.TrimSuffix(path, "/")))
}

// ============================================================================
// Stat / Read
// ============================================================================

// Stat implements storage.Accessor.
func (a *Accessor) Stat(ctx context.Context, path string, _ storage.StatOptions) (storage.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return storage.Metadata{}, err
	}

	info, err := os.Stat(a.osPath(path))
	if err != nil {
		return storage.Metadata{}, mapError(err)
	}
	if storage.IsDirPath(path) && !info.IsDir() {
		return storage.Metadata{}, storage.NewError(storage.KindNotADirectory, "path is a file")
	}
	return fileMetadata(info), nil
}

func fileMetadata(info os.FileInfo) storage.Metadata {
	if info.IsDir() {
		return storage.NewMetadata(storage.ModeDir).WithLastModified(info.ModTime())
	}
	return storage.NewMetadata(storage.ModeFile).
		WithContentLength(info.Size()).
		WithLastModified(info.ModTime())
}

// Read implements storage.Accessor. The returned stream is seekable; for a
// ranged read, offsets are relative to the start of the range.
func (a *Accessor) Read(ctx context.Context, path string, opts storage.ReadOptions) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(a.osPath(path))
	if err != nil {
		return nil, mapError(err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, mapError(err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, storage.NewError(storage.KindIsADirectory, "path is a directory")
	}

	r := opts.Range
	if r.IsFull() {
		return f, nil
	}
	offset := min(r.Offset, info.Size())
	length := info.Size() - offset
	if r.Length >= 0 {
		length = min(r.Length, length)
	}
	return &sectionFile{SectionReader: io.NewSectionReader(f, offset, length), f: f}, nil
}

// sectionFile serves a byte range of an open file.
type sectionFile struct {
	*io.SectionReader
	f *os.File
}

func (s *sectionFile) Close() error { return s.f.Close() }

// ============================================================================
// Write
// ============================================================================

// Write implements storage.Accessor.
//
// Plain writes stream into a temporary file that Close renames over the
// target. Appends write to the target directly.
func (a *Accessor) Write(ctx context.Context, path string, opts storage.WriteOptions) (storage.Writer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	target := a.osPath(path)
	if err := os.MkdirAll(filepath.Dir(target), a.dirPerm); err != nil {
		return nil, mapError(err)
	}

	if opts.Append {
		f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_APPEND, a.filePerm)
		if err != nil {
			return nil, mapError(err)
		}
		return &fileWriter{ctx: ctx, f: f}, nil
	}

	f, tmp, err := a.createTemp(target)
	if err != nil {
		return nil, err
	}
	return &fileWriter{ctx: ctx, f: f, tmp: tmp, target: target}, nil
}

func (a *Accessor) createTemp(target string) (*os.File, string, error) {
	tmp := filepath.Join(filepath.Dir(target), "."+filepath.Base(target)+"."+uuid.NewString()+tempSuffix)
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, a.filePerm)
	if err != nil {
		return nil, "", mapError(err)
	}
	return f, tmp, nil
}

// fileWriter writes to f. When tmp is set, Close moves it to target.
type fileWriter struct {
	ctx    context.Context
	f      *os.File
	tmp    string
	target string
	done   bool
}

func (w *fileWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, storage.NewError(storage.KindUnexpected, "writer is closed")
	}
	if err := w.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := w.f.Write(p)
	if err != nil {
		return n, mapError(err)
	}
	return n, nil
}

func (w *fileWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true

	if err := w.f.Close(); err != nil {
		w.cleanup()
		return mapError(err)
	}
	if w.tmp == "" {
		return nil
	}
	if err := w.ctx.Err(); err != nil {
		w.cleanup()
		return err
	}
	if err := os.Rename(w.tmp, w.target); err != nil {
		w.cleanup()
		return mapError(err)
	}
	return nil
}

// Abort discards a plain write. Bytes already appended stay.
func (w *fileWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	_ = w.f.Close()
	w.cleanup()
	return nil
}

func (w *fileWriter) cleanup() {
	if w.tmp != "" {
		_ = os.Remove(w.tmp)
	}
}

// ============================================================================
// Delete / CreateDir
// ============================================================================

// Delete implements storage.Accessor. Directories must be empty.
func (a *Accessor) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if path == "/" {
		return nil
	}

	target := a.osPath(path)
	if storage.IsDirPath(path) {
		info, err := os.Stat(target)
		if err != nil {
			return mapError(err)
		}
		if !info.IsDir() {
			return storage.NewError(storage.KindNotADirectory, "path is a file")
		}
	}
	if err := os.Remove(target); err != nil {
		return mapError(err)
	}
	return nil
}

// CreateDir implements storage.Accessor.
func (a *Accessor) CreateDir(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(a.osPath(path), a.dirPerm); err != nil {
		return mapError(err)
	}
	return nil
}

// ============================================================================
// Copy / Rename
// ============================================================================

// Copy implements storage.Accessor. The destination appears atomically.
func (a *Accessor) Copy(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := os.Open(a.osPath(from))
	if err != nil {
		return mapError(err)
	}
	defer src.Close()

	w, err := a.Write(ctx, to, storage.WriteOptions{})
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, src); err != nil {
		_ = w.Abort()
		return mapError(err)
	}
	return w.Close()
}

// Rename implements storage.Accessor.
func (a *Accessor) Rename(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src := a.osPath(from)
	if _, err := os.Stat(src); err != nil {
		return mapError(err)
	}
	dst := a.osPath(to)
	if err := os.MkdirAll(filepath.Dir(dst), a.dirPerm); err != nil {
		return mapError(err)
	}
	if err := os.Rename(src, dst); err != nil {
		return mapError(err)
	}
	return nil
}
