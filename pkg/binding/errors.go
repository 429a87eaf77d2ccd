package binding

import (
	"errors"

	"github.com/marmos91/dittostore/pkg/storage"
)

// HostError names the native error type a host language raises for one
// storage.ErrorKind.
type HostError struct {
	// Class is the host type: a Python exception name or a JVM class
	// descriptor.
	Class string

	// Code is the stable kind name handed to the host alongside the message.
	Code string
}

// ErrorTable maps error kinds to host errors. Kinds missing from Kinds map
// to Default.
type ErrorTable struct {
	Default HostError
	Kinds   map[storage.ErrorKind]HostError
}

// PythonErrors maps kinds onto Python's builtin OSError subclasses where one
// fits; everything else raises the package's own exception.
var PythonErrors = ErrorTable{
	Default: HostError{Class: "dittostore.Error"},
	Kinds: map[storage.ErrorKind]HostError{
		storage.KindNotFound:         {Class: "FileNotFoundError"},
		storage.KindAlreadyExists:    {Class: "FileExistsError"},
		storage.KindPermissionDenied: {Class: "PermissionError"},
		storage.KindUnsupported:      {Class: "NotImplementedError"},
		storage.KindIsADirectory:     {Class: "IsADirectoryError"},
		storage.KindNotADirectory:    {Class: "NotADirectoryError"},
	},
}

// JavaErrors maps every kind onto one exception class; the kind travels as
// the exception code.
var JavaErrors = ErrorTable{
	Default: HostError{Class: "io/dittostore/DittoStoreException"},
	Kinds: map[storage.ErrorKind]HostError{
		storage.KindUnsupported: {Class: "java/lang/UnsupportedOperationException"},
	},
}

// HostErrorFor returns the host error for kind. It is total: unmapped and
// unknown kinds yield table.Default. Code is always filled with the kind
// name.
func HostErrorFor(kind storage.ErrorKind, table ErrorTable) HostError {
	h, ok := table.Kinds[kind]
	if !ok {
		h = table.Default
	}
	if h.Code == "" {
		h.Code = kind.String()
	}
	return h
}

// HostErrorOf classifies err and maps it through table. Errors that are not
// a *storage.Error are treated as Unexpected.
func HostErrorOf(err error, table ErrorTable) HostError {
	var serr *storage.Error
	if errors.As(err, &serr) {
		return HostErrorFor(serr.Kind, table)
	}
	return HostErrorFor(storage.KindUnexpected, table)
}
