package fs

import (
	"errors"
	"io/fs"
	"syscall"

	"github.com/marmos91/dittostore/pkg/storage"
)

// mapError converts an OS error into a storage error of the matching kind.
func mapError(err error) *storage.Error {
	var se *storage.Error
	if errors.As(err, &se) {
		return se
	}

	kind := storage.KindUnexpected
	temporary := false
	switch {
	case errors.Is(err, fs.ErrNotExist):
		kind = storage.KindNotFound
	case errors.Is(err, fs.ErrPermission):
		kind = storage.KindPermissionDenied
	case errors.Is(err, fs.ErrExist):
		kind = storage.KindAlreadyExists
	case errors.Is(err, syscall.ENOTDIR):
		kind = storage.KindNotADirectory
	case errors.Is(err, syscall.EISDIR):
		kind = storage.KindIsADirectory
	case errors.Is(err, syscall.EINTR), errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EBUSY):
		temporary = true
	}

	e := storage.NewError(kind, "filesystem operation failed").WithCause(err)
	if temporary {
		e = e.SetTemporary()
	}
	return e
}
