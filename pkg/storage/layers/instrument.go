package layers

import (
	"context"
	"io"

	"github.com/marmos91/dittostore/pkg/storage"
)

// probe observes one call. begin is invoked before the call reaches the
// inner accessor; the returned finish is invoked exactly once with the
// outcome. For streaming operations finish runs when the stream is
// closed, with n the bytes (or entries) transferred.
type probe interface {
	begin(ctx context.Context, op storage.Operation, path string) (context.Context, func(n int64, err error))
}

// instrumented forwards every call to the inner accessor through a probe.
// The logging, metrics and tracing layers share it.
type instrumented struct {
	storage.Accessor
	p probe
}

func (a *instrumented) CreateDir(ctx context.Context, path string) error {
	ctx, finish := a.p.begin(ctx, storage.OperationCreateDir, path)
	err := a.Accessor.CreateDir(ctx, path)
	finish(0, err)
	return err
}

func (a *instrumented) Stat(ctx context.Context, path string, opts storage.StatOptions) (storage.Metadata, error) {
	ctx, finish := a.p.begin(ctx, storage.OperationStat, path)
	md, err := a.Accessor.Stat(ctx, path, opts)
	finish(0, err)
	return md, err
}

func (a *instrumented) Read(ctx context.Context, path string, opts storage.ReadOptions) (io.ReadCloser, error) {
	ctx, finish := a.p.begin(ctx, storage.OperationRead, path)
	rc, err := a.Accessor.Read(ctx, path, opts)
	if err != nil {
		finish(0, err)
		return nil, err
	}
	return observeReader(rc, finish), nil
}

func (a *instrumented) Write(ctx context.Context, path string, opts storage.WriteOptions) (storage.Writer, error) {
	ctx, finish := a.p.begin(ctx, storage.OperationWrite, path)
	w, err := a.Accessor.Write(ctx, path, opts)
	if err != nil {
		finish(0, err)
		return nil, err
	}
	return observeWriter(w, finish), nil
}

func (a *instrumented) Delete(ctx context.Context, path string) error {
	ctx, finish := a.p.begin(ctx, storage.OperationDelete, path)
	err := a.Accessor.Delete(ctx, path)
	finish(0, err)
	return err
}

func (a *instrumented) List(ctx context.Context, path string, opts storage.ListOptions) (storage.Lister, error) {
	ctx, finish := a.p.begin(ctx, storage.OperationList, path)
	l, err := a.Accessor.List(ctx, path, opts)
	if err != nil {
		finish(0, err)
		return nil, err
	}
	return observeLister(l, finish), nil
}

func (a *instrumented) Copy(ctx context.Context, from, to string) error {
	ctx, finish := a.p.begin(ctx, storage.OperationCopy, from)
	err := a.Accessor.Copy(ctx, from, to)
	finish(0, err)
	return err
}

func (a *instrumented) Rename(ctx context.Context, from, to string) error {
	ctx, finish := a.p.begin(ctx, storage.OperationRename, from)
	err := a.Accessor.Rename(ctx, from, to)
	finish(0, err)
	return err
}

func (a *instrumented) Presign(ctx context.Context, path string, opts storage.PresignOptions) (storage.PresignedRequest, error) {
	ctx, finish := a.p.begin(ctx, storage.OperationPresign, path)
	req, err := a.Accessor.Presign(ctx, path, opts)
	finish(0, err)
	return req, err
}

func (a *instrumented) Batch(ctx context.Context, req storage.BatchRequest) ([]storage.BatchResult, error) {
	ctx, finish := a.p.begin(ctx, storage.OperationBatch, "")
	results, err := a.Accessor.Batch(ctx, req)
	finish(int64(len(req.Paths)), err)
	return results, err
}
