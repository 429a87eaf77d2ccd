package badger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/marmos91/dittostore/pkg/storage"
)

// record is the persisted metadata of one object or explicit directory.
//
// JSON keeps the stored records readable with badger's own tooling; they
// are small next to the data they describe.
type record struct {
	Dir                bool      `json:"dir,omitempty"`
	Size               int64     `json:"size"`
	ETag               string    `json:"etag,omitempty"`
	MD5                string    `json:"md5,omitempty"`
	ContentType        string    `json:"content_type,omitempty"`
	ContentDisposition string    `json:"content_disposition,omitempty"`
	CacheControl       string    `json:"cache_control,omitempty"`
	Modified           time.Time `json:"modified"`
	Version            string    `json:"version,omitempty"`

	// Chunk is the size of every data chunk but the last
	Chunk int64 `json:"chunk,omitempty"`
}

// chunks returns the number of data chunks of a file record.
func (r *record) chunks() int64 {
	if r.Dir || r.Chunk <= 0 || r.Size <= 0 {
		return 0
	}
	return (r.Size + r.Chunk - 1) / r.Chunk
}

func encodeRecord(r *record) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return data, nil
}

func decodeRecord(data []byte) (*record, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &r, nil
}

func (r *record) metadata() storage.Metadata {
	if r.Dir {
		return storage.NewMetadata(storage.ModeDir)
	}

	md := storage.NewMetadata(storage.ModeFile).
		WithContentLength(r.Size).
		WithETag(r.ETag).
		WithContentMD5(r.MD5).
		WithLastModified(r.Modified).
		WithVersion(r.Version)
	if r.ContentType != "" {
		md = md.WithContentType(r.ContentType)
	}
	if r.ContentDisposition != "" {
		md = md.WithContentDisposition(r.ContentDisposition)
	}
	if r.CacheControl != "" {
		md = md.WithCacheControl(r.CacheControl)
	}
	return md.WithRequested(storage.MetakeyComplete)
}

func (r *record) checkConditions(ifMatch, ifNoneMatch string) error {
	if ifMatch != "" && ifMatch != "*" && ifMatch != r.ETag {
		return storage.NewError(storage.KindConditionNotMatch, "etag %s does not match %s", r.ETag, ifMatch)
	}
	if ifNoneMatch != "" && (ifNoneMatch == "*" || ifNoneMatch == r.ETag) {
		return storage.NewError(storage.KindConditionNotMatch, "etag %s matches %s", r.ETag, ifNoneMatch)
	}
	return nil
}
