// source.go reads source lines around stack frames.

package crashline

import (
	"bufio"
	"os"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	sourceContextLines = 7
	sourceCacheSize    = 64
)

// Only errors if the size is not positive, so it's safe to ignore.
var sourceFiles, _ = lru.New[string, []string](sourceCacheSize)

// codeContext returns up to seven lines centred on line, keyed by line number,
// clamped to the bounds of the file. Unreadable files yield nil.
func codeContext(path string, line int) map[int]string {
	lines, ok := sourceLines(path)
	if !ok || line < 1 || line > len(lines) {
		return nil
	}

	start := line - sourceContextLines/2
	end := line + sourceContextLines/2
	if start < 1 {
		end += 1 - start
		start = 1
	}
	if end > len(lines) {
		start -= end - len(lines)
		end = len(lines)
	}
	if start < 1 {
		start = 1
	}

	code := make(map[int]string, end-start+1)
	for n := start; n <= end; n++ {
		code[n] = lines[n-1]
	}
	return code
}

// sourceLines returns the lines of path, caching successful reads.
func sourceLines(path string) ([]string, bool) {
	if lines, ok := sourceFiles.Get(path); ok {
		return lines, true
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if scanner.Err() != nil {
		return nil, false
	}

	sourceFiles.Add(path, lines)
	return lines, true
}
