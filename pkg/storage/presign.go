package storage

import (
	"context"
	"io"
	"net/http"
	"net/textproto"
	"sort"
	"strings"
)

// PresignedRequest is a time-limited, pre-authorized HTTP request. It
// carries no body and does not track its own expiry.
type PresignedRequest struct {
	method string
	uri    string
	header map[string]string
}

// NewPresignedRequest builds a PresignedRequest. Header keys are
// canonicalized, so keys differing only in case collapse into one entry;
// multiple values of one key are joined with ", ".
func NewPresignedRequest(method, uri string, header http.Header) PresignedRequest {
	h := make(map[string]string, len(header))
	for k, values := range header {
		ck := textproto.CanonicalMIMEHeaderKey(k)
		if prev, ok := h[ck]; ok {
			values = append([]string{prev}, values...)
		}
		h[ck] = strings.Join(values, ", ")
	}
	return PresignedRequest{method: strings.ToUpper(method), uri: uri, header: h}
}

// Method returns the HTTP method.
func (r PresignedRequest) Method() string { return r.method }

// URI returns the absolute request URI.
func (r PresignedRequest) URI() string { return r.uri }

// Header returns a copy of the header mapping.
func (r PresignedRequest) Header() map[string]string {
	out := make(map[string]string, len(r.header))
	for k, v := range r.header {
		out[k] = v
	}
	return out
}

// HeaderKeys returns the header keys in sorted order.
func (r PresignedRequest) HeaderKeys() []string {
	keys := make([]string, 0, len(r.header))
	for k := range r.header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HTTPRequest builds an *http.Request for the presigned request with the
// given body.
func (r PresignedRequest) HTTPRequest(ctx context.Context, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, r.method, r.uri, body)
	if err != nil {
		return nil, NewError(KindInvalidInput, "invalid presigned request").WithCause(err)
	}
	for k, v := range r.header {
		req.Header.Set(k, v)
	}
	return req, nil
}
