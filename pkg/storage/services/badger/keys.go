package badger

// Database Key Namespace
// ======================
//
// Every object is stored as a record plus its data chunks, so that
// listings and stats never load object data:
//
// Data Type        Prefix   Key Format            Value Type
// ==============================================================
// Object record    "o:"     o:<key>               record (JSON)
// Object data      "b:"     b:<key>\x00<index>    raw bytes, one chunk
//
// <key> is the path below the accessor root, without a leading slash.
// <index> is the chunk number as 8 hex digits. Chunks are at most
// record.Chunk bytes, which keeps every value below badger's value
// threshold; in-memory databases have no value log to hold larger ones.
// Explicit directories are records whose key ends with "/" and that have
// no data chunks. Keys sort lexically, so the records of a directory form a
// contiguous range starting at "o:<dir>".

import "fmt"

const (
	prefixRecord = "o:"
	prefixData   = "b:"
)

// ChunkSize is the size of the data chunks of newly written objects.
const ChunkSize = 256 << 10

func keyRecord(key string) []byte {
	return []byte(prefixRecord + key)
}

func keyChunk(key string, index int64) []byte {
	return fmt.Appendf(nil, "%s%s\x00%08x", prefixData, key, index)
}

// objectKey strips the record prefix from a raw iterator key.
func objectKey(raw []byte) string {
	return string(raw[len(prefixRecord):])
}

// afterPrefix is the smallest key sorting after every key that starts with
// prefix. Storage paths are UTF-8, which never contains the byte 0xff.
func afterPrefix(prefix string) string {
	return prefix + "\xff"
}
