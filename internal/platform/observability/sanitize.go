package observability

import "strings"

const maxFieldRunes = 256

// sanitizeString strips control characters from a log field value and caps
// its length. Newlines and tabs survive so multi-line values stay readable.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = maxFieldRunes
	}

	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\t':
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, value)

	runes := []rune(cleaned)
	if len(runes) > limit {
		return string(runes[:limit])
	}
	return cleaned
}

// SanitizeRoute prepares a route pattern for use as a log field.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizeMethod prepares an HTTP method for use as a log field.
func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}
