// sanitizer.go turns arbitrary values into JSON-safe structures, redacting
// sensitive keys and bounding string length and nesting depth.

package crashline

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	filteredMarker  = "[FILTERED]"
	badEncoding     = "[BADENCODING]"
	recursiveMarker = "[RECURSIVE]"
	truncatedMarker = "[TRUNCATED]"

	defaultMaxDepth = 20
)

// Compiled once; applied to error and breadcrumb messages when redact_messages is set.
var messageRedactPatterns = []*regexp.Regexp{
	// API keys and tokens
	regexp.MustCompile(`(?i)(api[_-]?key|token)[=:\s]+['"]?[\w\-\.]+['"]?`),
	regexp.MustCompile(`(?i)(authorization|bearer)[=:\s]+['"]?[\w\-\.]+['"]?[\s]+['"]?[\w\-\.]+['"]?`),
	regexp.MustCompile(`(?i)sk-[a-zA-Z0-9_-]{20,}`),
	regexp.MustCompile(`(?i)ghp_[a-zA-Z0-9]{36}`),
	regexp.MustCompile(`(?i)gho_[a-zA-Z0-9]{36}`),
	regexp.MustCompile(`(?i)github_pat_[a-zA-Z0-9_]{22,}`),
	regexp.MustCompile(`(?i)xox[baprs]-[a-zA-Z0-9\-]{10,}`),
	regexp.MustCompile(`(?i)eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`), // JWT

	// Credentials
	regexp.MustCompile(`(?i)password[=:\s]+['"]?[^\s'"",]+['"]?`),
	regexp.MustCompile(`(?i)secret[=:\s]+['"]?[^\s'"",]+['"]?`),
	regexp.MustCompile(`(?i)passwd[=:\s]+['"]?[^\s'"",]+['"]?`),
	regexp.MustCompile(`(?i)credential[=:\s]+['"]?[^\s'"",]+['"]?`),

	// PII
	regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`), // Email
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),                                 // SSN
	regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`),           // Credit card
}

// RedactMessage replaces secrets and PII in msg with "[REDACTED]".
func RedactMessage(msg string) string {
	for _, pattern := range messageRedactPatterns {
		msg = pattern.ReplaceAllString(msg, "[REDACTED]")
	}
	return msg
}

var (
	timeType     = reflect.TypeOf(time.Time{})
	errorType    = reflect.TypeOf((*error)(nil)).Elem()
	stringerType = reflect.TypeOf((*fmt.Stringer)(nil)).Elem()
)

// Sanitizer converts values to JSON-safe structures. Map keys and struct
// fields matching a filter are replaced with "[FILTERED]". The zero value
// filters nothing and does not truncate.
type Sanitizer struct {
	filters         []string
	maxStringLength int
	maxDepth        int
}

// NewSanitizer creates a sanitizer. Filters match keys as case-insensitive
// substrings. A maxStringLength of zero or less disables truncation.
func NewSanitizer(filters []string, maxStringLength int) *Sanitizer {
	lower := make([]string, 0, len(filters))
	for _, f := range filters {
		if f = strings.ToLower(f); f != "" {
			lower = append(lower, f)
		}
	}
	return &Sanitizer{
		filters:         lower,
		maxStringLength: maxStringLength,
		maxDepth:        defaultMaxDepth,
	}
}

// Sanitize returns a JSON-safe copy of v. It never panics.
func (s *Sanitizer) Sanitize(v any) (out any) {
	defer func() {
		if r := recover(); r != nil {
			out = badEncoding
		}
	}()
	return s.walk(reflect.ValueOf(v), 0, make(map[uintptr]struct{}))
}

// SanitizeMap sanitizes a map and always returns a map, even for nil input.
func (s *Sanitizer) SanitizeMap(m map[string]any) map[string]any {
	if out, ok := s.Sanitize(m).(map[string]any); ok {
		return out
	}
	return map[string]any{}
}

// Truncate bounds str to the configured length, appending "[TRUNCATED]".
func (s *Sanitizer) Truncate(str string) string {
	if s.maxStringLength <= 0 || utf8.RuneCountInString(str) <= s.maxStringLength {
		return str
	}
	n := 0
	for i := range str {
		if n == s.maxStringLength {
			return str[:i] + truncatedMarker
		}
		n++
	}
	return str
}

func (s *Sanitizer) isFiltered(key string) bool {
	if len(s.filters) == 0 {
		return false
	}
	key = strings.ToLower(key)
	for _, f := range s.filters {
		if strings.Contains(key, f) {
			return true
		}
	}
	return false
}

func (s *Sanitizer) str(str string) string {
	if !utf8.ValidString(str) {
		return badEncoding
	}
	return s.Truncate(str)
}

func (s *Sanitizer) walk(v reflect.Value, depth int, seen map[uintptr]struct{}) any {
	if !v.IsValid() {
		return nil
	}
	if depth > s.maxDepth {
		return recursiveMarker
	}

	// Types with their own textual form win over structural walking.
	if v.Type() == timeType {
		return v.Interface().(time.Time).UTC().Format(time.RFC3339Nano)
	}
	if v.Kind() != reflect.Interface && v.CanInterface() {
		if v.Kind() == reflect.Pointer && v.IsNil() {
			return nil
		}
		if v.Type().Implements(errorType) {
			return s.str(stringify(func() string { return v.Interface().(error).Error() }))
		}
		if v.Type().Implements(stringerType) {
			return s.str(stringify(func() string { return v.Interface().(fmt.Stringer).String() }))
		}
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return s.walk(v.Elem(), depth, seen)

	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		ptr := v.Pointer()
		if _, ok := seen[ptr]; ok {
			return recursiveMarker
		}
		seen[ptr] = struct{}{}
		defer delete(seen, ptr)
		return s.walk(v.Elem(), depth+1, seen)

	case reflect.String:
		return s.str(v.String())

	case reflect.Bool:
		return v.Bool()

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint()

	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Sprint(f)
		}
		return f

	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		ptr := v.Pointer()
		if _, ok := seen[ptr]; ok {
			return recursiveMarker
		}
		seen[ptr] = struct{}{}
		defer delete(seen, ptr)

		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			key := mapKey(iter.Key())
			if s.isFiltered(key) {
				out[key] = filteredMarker
				continue
			}
			out[key] = s.walk(iter.Value(), depth+1, seen)
		}
		return out

	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return s.str(string(v.Bytes()))
		}
		ptr := v.Pointer()
		if _, ok := seen[ptr]; ok && v.Len() > 0 {
			return recursiveMarker
		}
		seen[ptr] = struct{}{}
		defer delete(seen, ptr)
		return s.walkList(v, depth, seen)

	case reflect.Array:
		return s.walkList(v, depth, seen)

	case reflect.Struct:
		return s.walkStruct(v, depth, seen)

	default:
		// Channels, funcs, complex numbers and unsafe pointers have no JSON form.
		return s.str(safeSprint(v.Interface()))
	}
}

func (s *Sanitizer) walkList(v reflect.Value, depth int, seen map[uintptr]struct{}) []any {
	out := make([]any, v.Len())
	for i := 0; i < v.Len(); i++ {
		out[i] = s.walk(v.Index(i), depth+1, seen)
	}
	return out
}

// walkStruct emits exported fields, named the way encoding/json would name them.
func (s *Sanitizer) walkStruct(v reflect.Value, depth int, seen map[uintptr]struct{}) map[string]any {
	t := v.Type()
	out := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name := field.Name
		if tag, ok := field.Tag.Lookup("json"); ok {
			tagName, _, _ := strings.Cut(tag, ",")
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}
		if s.isFiltered(name) {
			out[name] = filteredMarker
			continue
		}
		out[name] = s.walk(v.Field(i), depth+1, seen)
	}
	return out
}

func mapKey(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	return safeSprint(k.Interface())
}

// stringify calls fn, returning the bad-encoding marker if it panics.
func stringify(fn func() string) (s string) {
	defer func() {
		if r := recover(); r != nil {
			s = badEncoding
		}
	}()
	return fn()
}
