// fingerprint.go generates stable hashes for grouping similar errors.

package crashline

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// fingerprintFrames is how many in-project methods contribute to a fingerprint.
const fingerprintFrames = 3

// Fingerprint generates a hash for grouping similar errors.
// The fingerprint is based on:
//   - the error class of every record
//   - the first 3 in-project methods of the outermost record (normalized),
//     falling back to its first 3 methods when none are in-project
//
// It ignores variable data like messages, line numbers, closure suffixes and
// memory addresses.
func Fingerprint(records []ErrorRecord) string {
	if len(records) == 0 {
		return ""
	}

	var parts []string
	for _, rec := range records {
		parts = append(parts, rec.ErrorClass)
	}
	parts = append(parts, fingerprintMethods(records[0].Stacktrace)...)

	input := strings.Join(parts, "|")
	hash := sha256.Sum256([]byte(input))

	// Return hex-encoded first 16 bytes (32 hex chars)
	return hex.EncodeToString(hash[:16])
}

var (
	// Match closure suffixes like ".func1" or ".func2.3"
	closurePattern = regexp.MustCompile(`\.func\d+(\.\d+)*$`)

	// Match memory addresses like "0x1234abcd"
	memAddrPattern = regexp.MustCompile(`0x[0-9a-fA-F]+`)
)

// fingerprintMethods returns up to three normalized method names, preferring
// in-project frames.
func fingerprintMethods(frames []Frame) []string {
	methods := collectMethods(frames, true)
	if len(methods) == 0 {
		methods = collectMethods(frames, false)
	}
	return methods
}

func collectMethods(frames []Frame, inProjectOnly bool) []string {
	var methods []string
	for _, f := range frames {
		if inProjectOnly && !f.InProject {
			continue
		}
		m := normalizeMethod(f.Method)
		if m == "" {
			continue
		}
		methods = append(methods, m)
		if len(methods) >= fingerprintFrames {
			break
		}
	}
	return methods
}

func normalizeMethod(method string) string {
	method = memAddrPattern.ReplaceAllString(method, "")
	method = closurePattern.ReplaceAllString(method, "")
	return strings.TrimSpace(method)
}
