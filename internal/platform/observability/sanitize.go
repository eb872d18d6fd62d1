package observability

import (
	"strings"
	"unicode"

	"github.com/garage-pos/settlement/internal/platform/httpx"
)

const defaultStringLimit = 256

// sanitizeString drops control characters other than whitespace and caps the result at
// limit bytes on a character boundary, so client input cannot forge log lines.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, value)
	return httpx.Truncate(cleaned, limit)
}

// SanitizeRoute bounds request paths and route patterns for log fields and span attributes.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizeMethod bounds the HTTP method.
func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}
