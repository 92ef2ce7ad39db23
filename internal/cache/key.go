package cache

import (
	"net/url"
	"sort"
	"strings"
)

// Key derives a cache key from a request path and its query parameters.
// Parameters are sorted by name and then by value, so the same logical request
// always yields the same key regardless of parameter order, while any
// difference in path, name or value yields a different key.
func Key(path string, query url.Values) string {
	if len(query) == 0 {
		return path
	}

	names := make([]string, 0, len(query))
	for name := range query {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(path)
	b.WriteByte('?')
	first := true
	for _, name := range names {
		values := append([]string(nil), query[name]...)
		sort.Strings(values)
		for _, v := range values {
			if !first {
				b.WriteByte('&')
			}
			first = false
			b.WriteString(url.QueryEscape(name))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	if first {
		return path
	}
	return b.String()
}
