// Package binding holds what host-language bindings need from the engine:
// flat records for the values crossing the boundary, their XDR encoding,
// and the mapping from error kinds to host error types.
//
// Records are positional. Field order is part of the public contract and
// matches the constructors on the host side; append fields, never reorder.
package binding

import (
	"bytes"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	xdr "github.com/rasky/go-xdr/xdr2"

	"github.com/marmos91/dittostore/pkg/storage"
)

// Mode values in MetadataRecord.
const (
	ModeFile    int32 = 0
	ModeDir     int32 = 1
	ModeUnknown int32 = 2
)

// OptionalString is a string the host receives as null unless Set.
type OptionalString struct {
	Set   bool
	Value string
}

// OptionalTime is an instant as seconds and nanoseconds since the Unix
// epoch, null unless Set.
type OptionalTime struct {
	Set     bool
	Seconds int64
	Nanos   uint32
}

// MetadataRecord is the host view of storage.Metadata. Fields that are not
// known (not requested or absent) are null. ContentLength follows
// Metadata.ContentLength: -1 when not requested, 0 when absent.
type MetadataRecord struct {
	Mode               int32
	ContentLength      int64
	ContentDisposition OptionalString
	ContentMD5         OptionalString
	ContentType        OptionalString
	CacheControl       OptionalString
	ETag               OptionalString
	LastModified       OptionalTime
	Version            OptionalString
}

// EntryRecord is the host view of storage.Entry.
type EntryRecord struct {
	Path     string
	Metadata MetadataRecord
}

// HeaderRecord is one presigned request header.
type HeaderRecord struct {
	Name  string
	Value string
}

// PresignedRequestRecord is the host view of storage.PresignedRequest.
// Headers are sorted by name.
type PresignedRequestRecord struct {
	Method  string
	URI     string
	Headers []HeaderRecord
}

// OperatorInfoRecord is the host view of storage.OperatorInfo.
type OperatorInfoRecord struct {
	Scheme           string
	Root             string
	Name             string
	FullCapability   storage.Capability
	NativeCapability storage.Capability
}

func optionalString(f storage.Field[string]) OptionalString {
	v, ok := f.Get()
	return OptionalString{Set: ok, Value: v}
}

// NewMetadataRecord flattens md.
func NewMetadataRecord(md storage.Metadata) MetadataRecord {
	rec := MetadataRecord{
		Mode:               modeOf(md.Mode()),
		ContentLength:      md.ContentLength(),
		ContentDisposition: optionalString(md.ContentDisposition()),
		ContentMD5:         optionalString(md.ContentMD5()),
		ContentType:        optionalString(md.ContentType()),
		CacheControl:       optionalString(md.CacheControl()),
		ETag:               optionalString(md.ETag()),
		Version:            optionalString(md.Version()),
	}
	if t, ok := md.LastModified().Get(); ok {
		rec.LastModified = OptionalTime{Set: true, Seconds: t.Unix(), Nanos: uint32(t.Nanosecond())}
	}
	return rec
}

func modeOf(m storage.EntryMode) int32 {
	switch m {
	case storage.ModeFile:
		return ModeFile
	case storage.ModeDir:
		return ModeDir
	default:
		return ModeUnknown
	}
}

// Time returns the instant, or false when the field is null.
func (t OptionalTime) Time() (time.Time, bool) {
	if !t.Set {
		return time.Time{}, false
	}
	return time.Unix(t.Seconds, int64(t.Nanos)).UTC(), true
}

// NewEntryRecord flattens e.
func NewEntryRecord(e storage.Entry) EntryRecord {
	return EntryRecord{Path: e.Path(), Metadata: NewMetadataRecord(e.Metadata())}
}

// NewPresignedRequestRecord flattens req.
func NewPresignedRequestRecord(req storage.PresignedRequest) PresignedRequestRecord {
	header := req.Header()
	rec := PresignedRequestRecord{
		Method:  req.Method(),
		URI:     req.URI(),
		Headers: make([]HeaderRecord, 0, len(header)),
	}
	for k, v := range header {
		rec.Headers = append(rec.Headers, HeaderRecord{Name: k, Value: v})
	}
	sort.Slice(rec.Headers, func(i, j int) bool { return rec.Headers[i].Name < rec.Headers[j].Name })
	return rec
}

// NewOperatorInfoRecord flattens info.
func NewOperatorInfoRecord(info storage.OperatorInfo) OperatorInfoRecord {
	return OperatorInfoRecord{
		Scheme:           info.Scheme,
		Root:             info.Root,
		Name:             info.Name,
		FullCapability:   info.FullCapability,
		NativeCapability: info.NativeCapability,
	}
}

// ============================================================================
// XDR encoding
// ============================================================================

// Encode XDR-encodes one of the records of this package, or a
// storage.Capability.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, v); err != nil {
		return nil, storage.NewError(storage.KindUnexpected, "encode %T", v).WithCause(err)
	}
	return buf.Bytes(), nil
}

// Decode XDR-decodes data into the record pointed to by v.
func Decode(data []byte, v any) error {
	if _, err := xdr.Unmarshal(bytes.NewReader(data), v); err != nil {
		return storage.NewError(storage.KindInvalidInput, "decode %T", v).WithCause(err)
	}
	return nil
}

// EncodeCapability encodes c positionally: every bool as an XDR bool and
// every size limit as an XDR hyper, in field order.
func EncodeCapability(c storage.Capability) ([]byte, error) {
	return Encode(&c)
}

// DecodeCapability is the inverse of EncodeCapability.
func DecodeCapability(data []byte) (storage.Capability, error) {
	var c storage.Capability
	err := Decode(data, &c)
	return c, err
}

// CapabilitySignature returns the JVM constructor descriptor matching the
// positional layout of storage.Capability: Z per bool, J per int64.
func CapabilitySignature() string {
	t := reflect.TypeOf(storage.Capability{})

	var b strings.Builder
	b.WriteByte('(')
	for i := 0; i < t.NumField(); i++ {
		switch k := t.Field(i).Type.Kind(); k {
		case reflect.Bool:
			b.WriteByte('Z')
		case reflect.Int64:
			b.WriteByte('J')
		default:
			panic(fmt.Sprintf("binding: capability field %s has unsupported kind %s", t.Field(i).Name, k))
		}
	}
	b.WriteString(")V")
	return b.String()
}
