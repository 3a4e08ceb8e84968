// Package sanitize scrubs user-controlled strings before they are echoed in
// error responses or logs. The filter is intentionally aggressive: anything
// matching a dangerous pattern is replaced with the [FILTERED] marker, HTML
// angle brackets are escaped, and output length is bounded.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"
)

// Filtered is the marker substituted for dangerous content.
const Filtered = "[FILTERED]"

// DefaultMaxLength bounds sanitized strings unless a caller overrides it.
const DefaultMaxLength = 200

// maxListItems caps how many elements of a detail list are echoed back.
const maxListItems = 3

var dangerousPatterns = []*regexp.Regexp{
	// URL schemes usable for script injection or local file access.
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)vbscript\s*:`),
	regexp.MustCompile(`(?i)data\s*:`),
	regexp.MustCompile(`(?i)file\s*:`),
	// Inline event handlers: onload=, onerror=, onclick=, ...
	regexp.MustCompile(`(?i)\bon[a-z]+\s*=`),
	// CSS-based vectors.
	regexp.MustCompile(`(?i)expression\s*\(`),
	regexp.MustCompile(`(?i)@import`),
	// Path traversal.
	regexp.MustCompile(`\.\.[/\\]`),
	// Hex / unicode escape smuggling.
	regexp.MustCompile(`(?i)\\x[0-9a-f]{2}`),
	regexp.MustCompile(`(?i)\\u[0-9a-f]{4}`),
	// Literal escape sequences in already-escaped input.
	regexp.MustCompile(`\\[rnt]`),
}

// dangerousStrings is a fixed denylist filtered case-insensitively.
var dangerousStrings = []string{
	"document.cookie",
	"window.location",
	"xmlhttprequest",
	"javascript",
	"vbscript",
	"script",
	"iframe",
	"object",
	"embed",
	"eval",
	"alert",
}

var (
	controlChars       = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f-\x9f]`)
	collapseFiltered   = regexp.MustCompile(regexp.QuoteMeta(Filtered) + `(\s*` + regexp.QuoteMeta(Filtered) + `)+`)
	dangerousStringRes = compileDenylist()
)

func compileDenylist() []*regexp.Regexp {
	res := make([]*regexp.Regexp, 0, len(dangerousStrings))
	for _, s := range dangerousStrings {
		res = append(res, regexp.MustCompile(`(?i)`+regexp.QuoteMeta(s)))
	}
	return res
}

// String sanitizes a single string with the default length cap.
func String(s string) string {
	return StringN(s, DefaultMaxLength)
}

// StringN sanitizes a single string, bounding the result to maxLength runes
// (plus a "..." suffix when truncated).
//
// The transformation is idempotent: sanitizing an already-sanitized string
// yields the same string.
func StringN(s string, maxLength int) string {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}

	// Null bytes and control characters are removed outright, leaving a
	// marker so callers can tell the input was touched.
	if controlChars.MatchString(s) {
		s = controlChars.ReplaceAllString(s, Filtered)
	}

	for _, re := range dangerousPatterns {
		s = re.ReplaceAllString(s, Filtered)
	}
	for _, re := range dangerousStringRes {
		s = re.ReplaceAllString(s, Filtered)
	}

	// HTML-escape angle brackets after pattern filtering so a surviving
	// tag cannot re-form an element.
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")

	s = collapseFiltered.ReplaceAllString(s, Filtered)

	if runes := []rune(s); len(runes) > maxLength {
		s = string(runes[:maxLength]) + "..."
	}
	return s
}

// Value sanitizes an arbitrary error-detail value recursively. Maps and
// slices are flattened into a bounded, human-readable summary; slices are
// truncated to maxListItems entries with an "... and more" sentinel so an
// oversized detail cannot be reflected back as a log bomb.
func Value(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return String(val)
	case []string:
		items := make([]any, len(val))
		for i, s := range val {
			items[i] = s
		}
		return sanitizeList(items)
	case []any:
		return sanitizeList(val)
	case map[string]any:
		return sanitizeMap(val)
	case map[string][]string:
		m := make(map[string]any, len(val))
		for k, list := range val {
			m[k] = anySlice(list)
		}
		return sanitizeMap(m)
	case error:
		return String(val.Error())
	default:
		return String(fmt.Sprintf("%v", val))
	}
}

func anySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func sanitizeList(items []any) string {
	parts := make([]string, 0, maxListItems+1)
	for i, item := range items {
		if i >= maxListItems {
			parts = append(parts, "... and more")
			break
		}
		parts = append(parts, Value(item))
	}
	return strings.Join(parts, "; ")
}

func sanitizeMap(m map[string]any) string {
	parts := make([]string, 0, len(m))
	for k, v := range m {
		parts = append(parts, String(k)+": "+Value(v))
	}
	return strings.Join(parts, "; ")
}
