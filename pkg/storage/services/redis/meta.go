package redis

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittostore/pkg/storage"
)

// Metadata hash fields.
const (
	fieldDir                = "dir"
	fieldSize               = "size"
	fieldETag               = "etag"
	fieldMD5                = "md5"
	fieldContentType        = "content_type"
	fieldContentDisposition = "content_disposition"
	fieldCacheControl       = "cache_control"
	fieldModified           = "modified"
	fieldVersion            = "version"
)

// objectMeta is the content of one metadata hash.
type objectMeta struct {
	dir                bool
	size               int64
	etag               string
	md5                string
	contentType        string
	contentDisposition string
	cacheControl       string
	modified           time.Time
	version            string
}

// newObjectMeta describes data written with opts.
func newObjectMeta(data []byte, opts storage.WriteOptions) objectMeta {
	sum := md5.Sum(data)
	return objectMeta{
		size:               int64(len(data)),
		etag:               `"` + hex.EncodeToString(sum[:]) + `"`,
		md5:                base64.StdEncoding.EncodeToString(sum[:]),
		contentType:        opts.ContentType,
		contentDisposition: opts.ContentDisposition,
		cacheControl:       opts.CacheControl,
		modified:           time.Now().UTC(),
		version:            uuid.NewString(),
	}
}

// fields returns the HSET arguments. Empty optional fields are omitted.
func (m objectMeta) fields() map[string]any {
	if m.dir {
		return map[string]any{
			fieldDir:      "1",
			fieldModified: m.modified.Format(time.RFC3339Nano),
		}
	}

	f := map[string]any{
		fieldSize:     strconv.FormatInt(m.size, 10),
		fieldETag:     m.etag,
		fieldMD5:      m.md5,
		fieldModified: m.modified.Format(time.RFC3339Nano),
		fieldVersion:  m.version,
	}
	if m.contentType != "" {
		f[fieldContentType] = m.contentType
	}
	if m.contentDisposition != "" {
		f[fieldContentDisposition] = m.contentDisposition
	}
	if m.cacheControl != "" {
		f[fieldCacheControl] = m.cacheControl
	}
	return f
}

// parseObjectMeta decodes an HGETALL result. An empty hash means the key
// does not exist.
func parseObjectMeta(h map[string]string) (objectMeta, bool, error) {
	if len(h) == 0 {
		return objectMeta{}, false, nil
	}

	m := objectMeta{
		dir:                h[fieldDir] == "1",
		etag:               h[fieldETag],
		md5:                h[fieldMD5],
		contentType:        h[fieldContentType],
		contentDisposition: h[fieldContentDisposition],
		cacheControl:       h[fieldCacheControl],
		version:            h[fieldVersion],
	}
	if s, ok := h[fieldSize]; ok {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return objectMeta{}, false, storage.NewError(storage.KindUnexpected, "corrupt size field %q", s).WithCause(err)
		}
		m.size = n
	}
	if s, ok := h[fieldModified]; ok {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return objectMeta{}, false, storage.NewError(storage.KindUnexpected, "corrupt modified field %q", s).WithCause(err)
		}
		m.modified = t
	}
	return m, true, nil
}

func (m objectMeta) metadata() storage.Metadata {
	if m.dir {
		return storage.NewMetadata(storage.ModeDir)
	}

	md := storage.NewMetadata(storage.ModeFile).
		WithContentLength(m.size).
		WithETag(m.etag).
		WithContentMD5(m.md5).
		WithLastModified(m.modified).
		WithVersion(m.version)
	if m.contentType != "" {
		md = md.WithContentType(m.contentType)
	}
	if m.contentDisposition != "" {
		md = md.WithContentDisposition(m.contentDisposition)
	}
	if m.cacheControl != "" {
		md = md.WithCacheControl(m.cacheControl)
	}
	return md.WithRequested(storage.MetakeyComplete)
}

func (m objectMeta) checkConditions(ifMatch, ifNoneMatch string) error {
	if ifMatch != "" && ifMatch != "*" && ifMatch != m.etag {
		return storage.NewError(storage.KindConditionNotMatch, "etag %s does not match %s", m.etag, ifMatch)
	}
	if ifNoneMatch != "" && (ifNoneMatch == "*" || ifNoneMatch == m.etag) {
		return storage.NewError(storage.KindConditionNotMatch, "etag %s matches %s", m.etag, ifNoneMatch)
	}
	return nil
}
