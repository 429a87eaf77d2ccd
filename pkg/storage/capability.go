package storage

import "fmt"

// Operation names one entry of the uniform operation set.
type Operation string

const (
	OperationInfo      Operation = "info"
	OperationCreateDir Operation = "create_dir"
	OperationStat      Operation = "stat"
	OperationRead      Operation = "read"
	OperationWrite     Operation = "write"
	OperationDelete    Operation = "delete"
	OperationList      Operation = "list"
	OperationCopy      Operation = "copy"
	OperationRename    Operation = "rename"
	OperationPresign   Operation = "presign"
	OperationBatch     Operation = "batch"

	// Stream-level operations, reported by layers that observe streams.
	OperationReaderRead  Operation = "reader_read"
	OperationWriterWrite Operation = "writer_write"
	OperationWriterClose Operation = "writer_close"
	OperationListerNext  Operation = "lister_next"
)

// Capability describes which operations and operation variants a backend
// supports.
//
// The field order is a stable public contract: host bindings construct
// their capability objects positionally from it (see pkg/binding). Append
// new fields at the end only.
//
// Size limits are in bytes; zero means "no limit".
type Capability struct {
	Stat                bool `mapstructure:"stat"`
	StatWithIfMatch     bool `mapstructure:"stat_with_if_match"`
	StatWithIfNoneMatch bool `mapstructure:"stat_with_if_none_match"`

	Read                               bool `mapstructure:"read"`
	ReadCanSeek                        bool `mapstructure:"read_can_seek"`
	ReadCanNext                        bool `mapstructure:"read_can_next"`
	ReadWithRange                      bool `mapstructure:"read_with_range"`
	ReadWithIfMatch                    bool `mapstructure:"read_with_if_match"`
	ReadWithIfNoneMatch                bool `mapstructure:"read_with_if_none_match"`
	ReadWithOverrideCacheControl       bool `mapstructure:"read_with_override_cache_control"`
	ReadWithOverrideContentDisposition bool `mapstructure:"read_with_override_content_disposition"`
	ReadWithOverrideContentType        bool `mapstructure:"read_with_override_content_type"`

	Write                       bool  `mapstructure:"write"`
	WriteCanMulti               bool  `mapstructure:"write_can_multi"`
	WriteCanAppend              bool  `mapstructure:"write_can_append"`
	WriteWithContentType        bool  `mapstructure:"write_with_content_type"`
	WriteWithContentDisposition bool  `mapstructure:"write_with_content_disposition"`
	WriteWithCacheControl       bool  `mapstructure:"write_with_cache_control"`
	WriteMultiMaxSize           int64 `mapstructure:"write_multi_max_size"`
	WriteMultiMinSize           int64 `mapstructure:"write_multi_min_size"`
	WriteMultiAlignSize         int64 `mapstructure:"write_multi_align_size"`

	CreateDir bool `mapstructure:"create_dir"`
	Delete    bool `mapstructure:"delete"`
	Copy      bool `mapstructure:"copy"`
	Rename    bool `mapstructure:"rename"`

	List                   bool `mapstructure:"list"`
	ListWithLimit          bool `mapstructure:"list_with_limit"`
	ListWithStartAfter     bool `mapstructure:"list_with_start_after"`
	ListWithDelimiterSlash bool `mapstructure:"list_with_delimiter_slash"`
	ListWithoutDelimiter   bool `mapstructure:"list_without_delimiter"`

	Presign      bool `mapstructure:"presign"`
	PresignRead  bool `mapstructure:"presign_read"`
	PresignStat  bool `mapstructure:"presign_stat"`
	PresignWrite bool `mapstructure:"presign_write"`

	Batch              bool  `mapstructure:"batch"`
	BatchDelete        bool  `mapstructure:"batch_delete"`
	BatchMaxOperations int64 `mapstructure:"batch_max_operations"`

	Blocking bool `mapstructure:"blocking"`
}

// Supports reports whether the top-level operation is available at all.
// Variant flags (ranges, conditions, overrides) are checked by the Operator
// per call.
func (c Capability) Supports(op Operation) bool {
	switch op {
	case OperationInfo:
		return true
	case OperationCreateDir:
		return c.CreateDir
	case OperationStat:
		return c.Stat
	case OperationRead, OperationReaderRead:
		return c.Read
	case OperationWrite, OperationWriterWrite, OperationWriterClose:
		return c.Write
	case OperationDelete:
		return c.Delete
	case OperationList, OperationListerNext:
		return c.List
	case OperationCopy:
		return c.Copy
	case OperationRename:
		return c.Rename
	case OperationPresign:
		return c.Presign
	case OperationBatch:
		return c.Batch
	default:
		return false
	}
}

// ValidateMultipartChunk checks a multipart chunk size against the write limits.
// The last chunk of an upload may be smaller than the minimum and need not
// be aligned.
func (c Capability) ValidateMultipartChunk(size int64, last bool) error {
	if size <= 0 && !last {
		return NewError(KindInvalidInput, "multipart chunk size must be positive, got %d", size)
	}
	if c.WriteMultiMaxSize > 0 && size > c.WriteMultiMaxSize {
		return NewError(KindInvalidInput, "multipart chunk of %d bytes exceeds maximum %d", size, c.WriteMultiMaxSize)
	}
	if last {
		return nil
	}
	if c.WriteMultiMinSize > 0 && size < c.WriteMultiMinSize {
		return NewError(KindInvalidInput, "multipart chunk of %d bytes is below minimum %d", size, c.WriteMultiMinSize)
	}
	if c.WriteMultiAlignSize > 0 && size%c.WriteMultiAlignSize != 0 {
		return NewError(KindInvalidInput, "multipart chunk of %d bytes is not aligned to %d", size, c.WriteMultiAlignSize)
	}
	return nil
}

func (c Capability) String() string {
	return fmt.Sprintf("%+v", struct {
		Read, Write, List, Delete, Copy, Rename, Presign, Batch bool
	}{c.Read, c.Write, c.List, c.Delete, c.Copy, c.Rename, c.Presign, c.Batch})
}

// fullCapability derives what the Operator can offer on top of a native
// capability by emulation.
func fullCapability(native Capability) Capability {
	full := native

	if native.Read {
		// Ranges are emulated by skipping and truncating a full read.
		full.ReadWithRange = true
	}
	if native.Read && native.Write {
		full.Copy = true
		if native.Delete {
			full.Rename = true
		}
	}
	if native.Write {
		// Chunked writes against a backend without native multipart support
		// are accepted and buffered by the backend writer.
		full.WriteCanMulti = true
	}
	if native.List {
		// Page sizes are a hint, backends that ignore them stay correct.
		full.ListWithLimit = true
	}
	if native.Delete {
		full.Batch = true
		full.BatchDelete = true
	}
	full.Blocking = true

	return full
}

// OperatorInfo describes an Operator. Native is what the backend reports,
// Full is what the Operator exposes once emulation is accounted for; the
// difference tells callers which capabilities are emulated.
type OperatorInfo struct {
	Scheme           string
	Root             string
	Name             string
	FullCapability   Capability
	NativeCapability Capability
}

// IsEmulated reports whether op is available only through emulation.
func (i OperatorInfo) IsEmulated(op Operation) bool {
	return i.FullCapability.Supports(op) && !i.NativeCapability.Supports(op)
}
