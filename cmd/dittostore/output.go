package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/marmos91/dittostore/pkg/binding"
	"github.com/marmos91/dittostore/pkg/storage"
)

func printMetadata(w io.Writer, path string, md storage.Metadata) {
	rec := binding.NewMetadataRecord(md)

	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "mode: %s\n", md.Mode())
	if rec.ContentLength >= 0 {
		fmt.Fprintf(w, "content_length: %d\n", rec.ContentLength)
	}
	printOptional(w, "content_type", rec.ContentType)
	printOptional(w, "content_disposition", rec.ContentDisposition)
	printOptional(w, "cache_control", rec.CacheControl)
	printOptional(w, "content_md5", rec.ContentMD5)
	printOptional(w, "etag", rec.ETag)
	printOptional(w, "version", rec.Version)
	if t, ok := rec.LastModified.Time(); ok {
		fmt.Fprintf(w, "last_modified: %s\n", t.Format(time.RFC3339))
	}
}

func printOptional(w io.Writer, name string, v binding.OptionalString) {
	if v.Set {
		fmt.Fprintf(w, "%s: %s\n", name, v.Value)
	}
}

func printEntryLong(w io.Writer, e storage.Entry) {
	md := e.Metadata()

	size := "-"
	if n, ok := md.ContentLengthField().Get(); ok {
		size = fmt.Sprintf("%d", n)
	}
	modified := "-"
	if t, ok := md.LastModified().Get(); ok {
		modified = t.UTC().Format(time.RFC3339)
	}
	fmt.Fprintf(w, "%-4s %12s %-20s %s\n", md.Mode(), size, modified, e.Path())
}

func printPresigned(w io.Writer, req storage.PresignedRequest) {
	rec := binding.NewPresignedRequestRecord(req)

	fmt.Fprintf(w, "%s %s\n", rec.Method, rec.URI)
	for _, h := range rec.Headers {
		fmt.Fprintf(w, "%s: %s\n", h.Name, h.Value)
	}
}

// enabledCapabilities returns the names of the supported operations and
// the non-zero limits of c, sorted.
func enabledCapabilities(c map[string]any) []string {
	var out []string
	for k, v := range c {
		switch v := v.(type) {
		case bool:
			if v {
				out = append(out, k)
			}
		case int64:
			if v != 0 {
				out = append(out, fmt.Sprintf("%s=%d", k, v))
			}
		}
	}
	sort.Strings(out)
	return out
}
