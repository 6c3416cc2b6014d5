package httputil

import (
	"net/http"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// excludedHeaders are tied to the relay hop and are regenerated by the local call.
var excludedHeaders = map[string]struct{}{
	"host":              {},
	"content-length":    {},
	"x-forwarded-for":   {},
	"x-forwarded-proto": {},
	"connection":        {},
}

// IsExcludedHeader reports whether name must not be forwarded to the local target.
func IsExcludedHeader(name string) bool {
	_, ok := excludedHeaders[strings.ToLower(name)]
	return ok
}

// CopyForwardHeaders copies src into dst, skipping excluded headers and
// any name or value that could not appear on the wire. It returns the
// names that were rejected as invalid.
func CopyForwardHeaders(dst http.Header, src map[string]string) []string {
	var rejected []string
	for name, value := range src {
		if IsExcludedHeader(name) {
			continue
		}
		if !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(value) {
			rejected = append(rejected, name)
			continue
		}
		dst.Set(name, value)
	}
	return rejected
}

// FirstValues flattens h keeping the first value of each header.
func FirstValues(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if len(values) > 0 {
			out[name] = values[0]
		}
	}
	return out
}
