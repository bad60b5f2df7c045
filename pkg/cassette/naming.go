package cassette

import (
	"fmt"
	"strings"
	"time"
)

// DateDir returns the date-partitioned directory component for a cassette
// recorded at t, e.g. "2026-08-23".
func DateDir(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Filename builds the deterministic cassette filename for a recorded
// request: METHOD_route-slug_shortid.json, with .gz appended for gzip
// containers.
func Filename(method, route, sessionID string, compression Compression) string {
	if method == "" {
		method = "UNKNOWN"
	}
	short := sessionID
	if len(short) > 8 {
		short = short[:8]
	}
	name := fmt.Sprintf("%s_%s_%s.json", strings.ToUpper(method), routeSlug(route), short)
	if compression == CompressionGzip {
		name += ".gz"
	}
	return name
}

// Key returns the full storage key (date dir + filename) for a cassette.
func Key(c *Cassette, compression Compression) string {
	route := c.Request.RouteTemplate
	if route == "" {
		route = c.Request.Path
	}
	return DateDir(c.Session.RecordedAt) + "/" + Filename(c.Request.Method, route, c.Session.ID, compression)
}

// routeSlug flattens a route template into a filename-safe slug:
// "/users/{id}/orders" becomes "users-id-orders".
func routeSlug(route string) string {
	if route == "" || route == "/" {
		return "root"
	}
	var b strings.Builder
	for _, r := range route {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '/' || r == '_' || r == '-' || r == '.':
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "-") {
				b.WriteByte('-')
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
