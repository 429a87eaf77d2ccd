package storage

import (
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

// EntryMode is the kind of object a path points at.
type EntryMode uint8

const (
	ModeUnknown EntryMode = iota
	ModeFile
	ModeDir
)

func (m EntryMode) String() string {
	switch m {
	case ModeFile:
		return "file"
	case ModeDir:
		return "dir"
	default:
		return "unknown"
	}
}

// IsFile reports whether the mode is ModeFile.
func (m EntryMode) IsFile() bool { return m == ModeFile }

// IsDir reports whether the mode is ModeDir.
func (m EntryMode) IsDir() bool { return m == ModeDir }

// Metakey is a bitmask of Metadata fields a caller wants populated.
type Metakey uint32

const (
	// MetakeyComplete requests every field.
	MetakeyComplete Metakey = 1 << iota
	MetakeyMode
	MetakeyCacheControl
	MetakeyContentDisposition
	MetakeyContentLength
	MetakeyContentMD5
	MetakeyContentType
	MetakeyETag
	MetakeyLastModified
	MetakeyVersion
)

// metakeyFields is every field bit, without MetakeyComplete.
const metakeyFields = MetakeyMode | MetakeyCacheControl | MetakeyContentDisposition |
	MetakeyContentLength | MetakeyContentMD5 | MetakeyContentType | MetakeyETag |
	MetakeyLastModified | MetakeyVersion

// Contains reports whether every bit of other is set in k. A mask holding
// MetakeyComplete contains everything.
func (k Metakey) Contains(other Metakey) bool {
	return k.Normalize()&other.Normalize() == other.Normalize()
}

// Normalize expands MetakeyComplete into the individual field bits. Mode is
// always part of a normalized mask.
func (k Metakey) Normalize() Metakey {
	if k&MetakeyComplete != 0 {
		return MetakeyComplete | metakeyFields
	}
	return k | MetakeyMode
}

// FieldState is the tri-state carried by every optional Metadata field.
type FieldState uint8

const (
	// FieldNotRequested: the caller did not ask for the field, the value is
	// meaningless.
	FieldNotRequested FieldState = iota
	// FieldAbsent: the caller asked, the backend has no value for it.
	FieldAbsent
	// FieldKnown: the value is valid.
	FieldKnown
)

func (s FieldState) String() string {
	switch s {
	case FieldAbsent:
		return "absent"
	case FieldKnown:
		return "known"
	default:
		return "not_requested"
	}
}

// Field is one optional metadata value together with its FieldState.
type Field[T any] struct {
	state FieldState
	value T
}

// KnownField returns a Field holding v.
func KnownField[T any](v T) Field[T] {
	return Field[T]{state: FieldKnown, value: v}
}

// AbsentField returns a requested-but-absent Field.
func AbsentField[T any]() Field[T] {
	return Field[T]{state: FieldAbsent}
}

// State returns the field's state.
func (f Field[T]) State() FieldState { return f.state }

// Known reports whether the value is valid.
func (f Field[T]) Known() bool { return f.state == FieldKnown }

// Get returns the value and whether it is known.
func (f Field[T]) Get() (T, bool) { return f.value, f.state == FieldKnown }

// Value returns the value, the zero value when not known.
func (f Field[T]) Value() T { return f.value }

// Metadata is a partially populated, immutable descriptor of a stored
// object. The With* methods return modified copies.
//
// Backends build Metadata with NewMetadata + With*, then call
// WithRequested(mask) to mark which fields they actually looked up; any
// field in the mask without a value becomes FieldAbsent. The Operator
// finally calls Project with the caller's mask so fields the caller did not
// ask for read as FieldNotRequested.
type Metadata struct {
	mode      EntryMode
	requested Metakey

	cacheControl       Field[string]
	contentDisposition Field[string]
	contentLength      Field[int64]
	contentMD5         Field[string]
	contentType        Field[string]
	etag               Field[string]
	lastModified       Field[time.Time]
	version            Field[string]
}

// NewMetadata returns Metadata holding only a mode.
func NewMetadata(mode EntryMode) Metadata {
	return Metadata{mode: mode, requested: MetakeyMode}
}

// Mode returns the entry mode.
func (m Metadata) Mode() EntryMode { return m.mode }

// IsFile reports whether the metadata describes a file.
func (m Metadata) IsFile() bool { return m.mode.IsFile() }

// IsDir reports whether the metadata describes a directory.
func (m Metadata) IsDir() bool { return m.mode.IsDir() }

// Requested returns the mask of fields that are either known or absent.
func (m Metadata) Requested() Metakey { return m.requested }

// Contains reports whether every field in mask has been looked up.
func (m Metadata) Contains(mask Metakey) bool {
	return m.requested.Contains(mask)
}

// ContentLength returns the content length. It is -1 only when the length
// was not requested; a requested length the backend did not report (a
// directory, for instance) reads as 0. Use ContentLengthField to tell a
// known zero from an absent length.
func (m Metadata) ContentLength() int64 {
	if v, ok := m.contentLength.Get(); ok {
		return v
	}
	if m.contentLength.State() == FieldNotRequested {
		return -1
	}
	return 0
}

func (m Metadata) ContentLengthField() Field[int64] { return m.contentLength }
func (m Metadata) CacheControl() Field[string] { return m.cacheControl }
func (m Metadata) ContentDisposition() Field[string] { return m.contentDisposition }
func (m Metadata) ContentMD5() Field[string] { return m.contentMD5 }
func (m Metadata) ContentType() Field[string] { return m.contentType }
func (m Metadata) ETag() Field[string] { return m.etag }
func (m Metadata) LastModified() Field[time.Time] { return m.lastModified }
func (m Metadata) Version() Field[string] { return m.version }

func (m Metadata) WithCacheControl(v string) Metadata {
	m.cacheControl = KnownField(v)
	m.requested |= MetakeyCacheControl
	return m
}

func (m Metadata) WithContentDisposition(v string) Metadata {
	m.contentDisposition = KnownField(v)
	m.requested |= MetakeyContentDisposition
	return m
}

func (m Metadata) WithContentLength(v int64) Metadata {
	m.contentLength = KnownField(v)
	m.requested |= MetakeyContentLength
	return m
}

func (m Metadata) WithContentMD5(v string) Metadata {
	m.contentMD5 = KnownField(v)
	m.requested |= MetakeyContentMD5
	return m
}

func (m Metadata) WithContentType(v string) Metadata {
	m.contentType = KnownField(v)
	m.requested |= MetakeyContentType
	return m
}

func (m Metadata) WithETag(v string) Metadata {
	m.etag = KnownField(v)
	m.requested |= MetakeyETag
	return m
}

func (m Metadata) WithLastModified(v time.Time) Metadata {
	m.lastModified = KnownField(v.UTC())
	m.requested |= MetakeyLastModified
	return m
}

func (m Metadata) WithVersion(v string) Metadata {
	m.version = KnownField(v)
	m.requested |= MetakeyVersion
	return m
}

// WithRequested marks every field in mask as looked up. Fields in mask that
// hold no value become FieldAbsent.
func (m Metadata) WithRequested(mask Metakey) Metadata {
	mask = mask.Normalize()
	markAbsent(&m.cacheControl, mask&MetakeyCacheControl != 0)
	markAbsent(&m.contentDisposition, mask&MetakeyContentDisposition != 0)
	markAbsent(&m.contentLength, mask&MetakeyContentLength != 0)
	markAbsent(&m.contentMD5, mask&MetakeyContentMD5 != 0)
	markAbsent(&m.contentType, mask&MetakeyContentType != 0)
	markAbsent(&m.etag, mask&MetakeyETag != 0)
	markAbsent(&m.lastModified, mask&MetakeyLastModified != 0)
	markAbsent(&m.version, mask&MetakeyVersion != 0)
	m.requested |= mask
	return m
}

// Project drops every field outside mask back to FieldNotRequested.
func (m Metadata) Project(mask Metakey) Metadata {
	mask = mask.Normalize()
	dropUnrequested(&m.cacheControl, mask&MetakeyCacheControl != 0)
	dropUnrequested(&m.contentDisposition, mask&MetakeyContentDisposition != 0)
	dropUnrequested(&m.contentLength, mask&MetakeyContentLength != 0)
	dropUnrequested(&m.contentMD5, mask&MetakeyContentMD5 != 0)
	dropUnrequested(&m.contentType, mask&MetakeyContentType != 0)
	dropUnrequested(&m.etag, mask&MetakeyETag != 0)
	dropUnrequested(&m.lastModified, mask&MetakeyLastModified != 0)
	dropUnrequested(&m.version, mask&MetakeyVersion != 0)
	m.requested &= mask
	return m
}

func markAbsent[T any](f *Field[T], requested bool) {
	if requested && f.state == FieldNotRequested {
		f.state = FieldAbsent
	}
}

func dropUnrequested[T any](f *Field[T], requested bool) {
	if !requested {
		*f = Field[T]{}
	}
}

// Standard header names understood by MetadataFromHeaders.
const (
	HeaderCacheControl       = "Cache-Control"
	HeaderContentDisposition = "Content-Disposition"
	HeaderContentLength      = "Content-Length"
	HeaderContentMD5         = "Content-Md5"
	HeaderContentType        = "Content-Type"
	HeaderETag               = "Etag"
	HeaderLastModified       = "Last-Modified"
	HeaderVersion            = "X-Object-Version"
)

// MetadataFromHeaders builds Metadata from a raw key/value response (HTTP
// headers, a redis hash...). Keys are matched case-insensitively. Only the
// fields in requested are parsed; the rest stay FieldNotRequested so no work
// is spent on them.
func MetadataFromHeaders(mode EntryMode, headers map[string]string, requested Metakey) (Metadata, error) {
	requested = requested.Normalize()
	canon := make(map[string]string, len(headers))
	for k, v := range headers {
		canon[textproto.CanonicalMIMEHeaderKey(k)] = v
	}

	md := NewMetadata(mode)
	if v, ok := canon[HeaderCacheControl]; ok && requested&MetakeyCacheControl != 0 {
		md = md.WithCacheControl(v)
	}
	if v, ok := canon[HeaderContentDisposition]; ok && requested&MetakeyContentDisposition != 0 {
		md = md.WithContentDisposition(v)
	}
	if v, ok := canon[HeaderContentLength]; ok && requested&MetakeyContentLength != 0 {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil || n < 0 {
			return Metadata{}, NewError(KindUnexpected, "invalid %s %q", HeaderContentLength, v)
		}
		md = md.WithContentLength(n)
	}
	if v, ok := canon[HeaderContentMD5]; ok && requested&MetakeyContentMD5 != 0 {
		md = md.WithContentMD5(v)
	}
	if v, ok := canon[HeaderContentType]; ok && requested&MetakeyContentType != 0 {
		md = md.WithContentType(v)
	}
	if v, ok := canon[HeaderETag]; ok && requested&MetakeyETag != 0 {
		md = md.WithETag(v)
	}
	if v, ok := canon[HeaderLastModified]; ok && requested&MetakeyLastModified != 0 {
		t, err := http.ParseTime(v)
		if err != nil {
			return Metadata{}, NewError(KindUnexpected, "invalid %s %q", HeaderLastModified, v).WithCause(err)
		}
		md = md.WithLastModified(t)
	}
	if v, ok := canon[HeaderVersion]; ok && requested&MetakeyVersion != 0 {
		md = md.WithVersion(v)
	}
	return md.WithRequested(requested), nil
}

// Headers renders the known fields back into a header map, the inverse of
// MetadataFromHeaders.
func (m Metadata) Headers() map[string]string {
	h := make(map[string]string)
	if v, ok := m.cacheControl.Get(); ok {
		h[HeaderCacheControl] = v
	}
	if v, ok := m.contentDisposition.Get(); ok {
		h[HeaderContentDisposition] = v
	}
	if v, ok := m.contentLength.Get(); ok {
		h[HeaderContentLength] = strconv.FormatInt(v, 10)
	}
	if v, ok := m.contentMD5.Get(); ok {
		h[HeaderContentMD5] = v
	}
	if v, ok := m.contentType.Get(); ok {
		h[HeaderContentType] = v
	}
	if v, ok := m.etag.Get(); ok {
		h[HeaderETag] = v
	}
	if v, ok := m.lastModified.Get(); ok {
		h[HeaderLastModified] = v.UTC().Format(http.TimeFormat)
	}
	if v, ok := m.version.Get(); ok {
		h[HeaderVersion] = v
	}
	return h
}

// Entry is a path paired with a Metadata snapshot, produced by listing.
// Directory paths end with "/".
type Entry struct {
	path     string
	metadata Metadata
}

// NewEntry creates an Entry.
func NewEntry(path string, md Metadata) Entry {
	return Entry{path: path, metadata: md}
}

// Path returns the entry path relative to the operator root.
func (e Entry) Path() string { return e.path }

// Name returns the last path segment, with the trailing "/" for dirs.
func (e Entry) Name() string { return BaseName(e.path) }

// Metadata returns the entry metadata.
func (e Entry) Metadata() Metadata { return e.metadata }

func (e Entry) withMetadata(md Metadata) Entry {
	e.metadata = md
	return e
}
