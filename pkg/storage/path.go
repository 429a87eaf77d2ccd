package storage

import "strings"

// Path conventions
//
// Paths handed to an Operator are relative to the operator root, use "/" as
// separator and end with "/" when they denote a directory. The root itself
// is "/". NormalizePath collapses repeated separators and "." segments and
// strips the leading "/", so "a//b/./c" and "/a/b/c" name the same object.

// NormalizePath returns the canonical form of p. The empty string and any
// spelling of the root normalize to "/".
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	isDir := strings.HasSuffix(p, "/")

	segments := strings.Split(p, "/")
	kept := segments[:0]
	for _, s := range segments {
		if s == "" || s == "." {
			continue
		}
		kept = append(kept, s)
	}
	if len(kept) == 0 {
		return "/"
	}

	out := strings.Join(kept, "/")
	if isDir {
		out += "/"
	}
	return out
}

// NormalizeRoot returns root in "/a/b/" form.
func NormalizeRoot(root string) string {
	p := NormalizePath(root)
	if p == "/" {
		return p
	}
	p = "/" + p
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// ValidatePath normalizes p and rejects paths the engine refuses to
// handle: empty input, ".." segments and NUL bytes.
func ValidatePath(op Operation, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", NewError(KindInvalidInput, "path must not be empty").WithOperation(op)
	}
	if strings.ContainsRune(p, 0) {
		return "", NewError(KindInvalidInput, "path contains a NUL byte").WithOperation(op).WithPath(p)
	}
	for _, s := range strings.Split(p, "/") {
		if s == ".." {
			return "", NewError(KindInvalidInput, "path must not contain '..' segments").WithOperation(op).WithPath(p)
		}
	}
	return NormalizePath(p), nil
}

// IsDirPath reports whether p denotes a directory.
func IsDirPath(p string) bool {
	return strings.HasSuffix(p, "/")
}

// AbsPath joins a normalized root and a normalized path into a backend key
// without a leading "/". The root itself maps to "".
func AbsPath(root, p string) string {
	root = strings.TrimPrefix(NormalizeRoot(root), "/")
	if p == "/" {
		return root
	}
	return root + strings.TrimPrefix(p, "/")
}

// RelPath is the inverse of AbsPath: it strips root from a backend key.
// A key equal to the root maps to "/".
func RelPath(root, abs string) string {
	root = strings.TrimPrefix(NormalizeRoot(root), "/")
	rel := strings.TrimPrefix(abs, root)
	if rel == "" {
		return "/"
	}
	return rel
}

// BaseName returns the last segment of p, keeping the trailing "/" of
// directories.
func BaseName(p string) string {
	if p == "/" {
		return "/"
	}
	trimmed := strings.TrimSuffix(p, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// ParentDir returns the parent directory of p, ending with "/".
func ParentDir(p string) string {
	trimmed := strings.TrimSuffix(p, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[:i+1]
	}
	return "/"
}
