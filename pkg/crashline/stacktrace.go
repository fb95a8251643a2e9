// stacktrace.go converts an error, its causal chain and its group members into
// ordered error records with stack frames.

package crashline

import (
	"path/filepath"
	"reflect"
	"runtime"
	"strings"

	"github.com/pkg/errors"
)

const (
	errorRecordType = "go"
	maxChainLength  = 64
	maxStackDepth   = 64

	// Frames from non-test files of this package are never reported.
	internalPackagePrefix = "github.com/strongdm/crashline/pkg/crashline."
)

// Frame is one line of a stack trace. Frame 0 of a record is the frame that
// raised the error.
type Frame struct {
	File       string
	LineNumber int
	Method     string
	InProject  bool
	Code       map[int]string
}

// ErrorRecord describes one error in a causal chain or group.
type ErrorRecord struct {
	ErrorClass string
	Message    string
	Stacktrace []Frame
	Type       string
}

// StackOptions controls frame extraction.
type StackOptions struct {
	ProjectRoot    string
	LibRoot        string
	ExcludeModules []string
	SendCode       bool

	// SourceFunc, when a func value, is reported as a synthetic first frame of
	// the outermost record.
	SourceFunc any

	// Panic drops the runtime's panic machinery from captured stacks.
	Panic bool
}

// stackTracer is implemented by errors created with github.com/pkg/errors.
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// callerser is implemented by error libraries that record raw program counters.
type callerser interface {
	Callers() []uintptr
}

// ErrorClasser lets an error name its own class.
type ErrorClasser interface {
	ErrorClass() string
}

// causeSuppressor lets an error opt out of reporting its implicit cause.
type causeSuppressor interface {
	SuppressCause() bool
}

// BuildErrorRecords returns one record per error in err's causal chain,
// outermost first. When err is a group (Unwrap() []error), the group's own
// record and chain come first, followed by one record per immediate member.
func BuildErrorRecords(err error, opts StackOptions) []ErrorRecord {
	if err == nil {
		return nil
	}

	records := chainRecords(err, opts)

	if group, ok := outermost(err).(interface{ Unwrap() []error }); ok {
		for _, member := range group.Unwrap() {
			if member == nil {
				continue
			}
			records = append(records, newErrorRecord(member, framesFromError(member, opts)))
		}
	}

	if fn := opts.SourceFunc; fn != nil && len(records) > 0 {
		if frame, ok := sourceFuncFrame(fn, opts); ok {
			records[0].Stacktrace = append([]Frame{frame}, records[0].Stacktrace...)
		}
	}
	return records
}

// chainRecords walks explicit then implicit causes. Stack-only wrappers that
// repeat their cause's message are folded into the cause, which inherits the
// wrapper's stack when it has none of its own.
func chainRecords(err error, opts StackOptions) []ErrorRecord {
	var (
		records   []ErrorRecord
		inherited []Frame
	)
	for i := 0; err != nil && i < maxChainLength; i++ {
		cause := causeOf(err)

		frames := framesFromError(err, opts)
		if frames == nil {
			frames = inherited
		}
		inherited = nil

		if cause != nil && isStackOnlyWrapper(err, cause) {
			inherited = frames
			err = cause
			continue
		}

		// Only the outermost record falls back to the current stack.
		if frames == nil && len(records) == 0 {
			frames = currentFrames(opts)
		}
		records = append(records, newErrorRecord(err, frames))
		err = cause
	}
	return records
}

// outermost returns the error reported as the first record, skipping
// stack-only wrappers the same way chainRecords does.
func outermost(err error) error {
	for i := 0; i < maxChainLength; i++ {
		cause := causeOf(err)
		if cause == nil || !isStackOnlyWrapper(err, cause) {
			return err
		}
		err = cause
	}
	return err
}

func newErrorRecord(err error, frames []Frame) ErrorRecord {
	if frames == nil {
		frames = []Frame{}
	}
	return ErrorRecord{
		ErrorClass: errorClass(err),
		Message:    errorMessage(err),
		Stacktrace: frames,
		Type:       errorRecordType,
	}
}

// causeOf returns the explicit cause (Unwrap) or else the implicit cause
// (Cause), unless the error suppresses it.
func causeOf(err error) error {
	if u, ok := err.(interface{ Unwrap() error }); ok {
		if cause := u.Unwrap(); cause != nil {
			return cause
		}
	}
	if s, ok := err.(causeSuppressor); ok && s.SuppressCause() {
		return nil
	}
	if c, ok := err.(interface{ Cause() error }); ok {
		return c.Cause()
	}
	return nil
}

// isStackOnlyWrapper reports whether err only attaches a stack to cause.
func isStackOnlyWrapper(err, cause error) bool {
	if _, ok := err.(stackTracer); !ok {
		return false
	}
	return errorMessage(err) == errorMessage(cause)
}

// errorMessage returns err.Error(), surviving a panicking implementation.
func errorMessage(err error) string {
	return stringify(func() string { return err.Error() })
}

// errorClass returns the error's own class name, or its Go type.
func errorClass(err error) string {
	if c, ok := err.(ErrorClasser); ok {
		if name := stringify(func() string { return c.ErrorClass() }); name != "" && name != badEncoding {
			return name
		}
	}
	return reflect.TypeOf(err).String()
}

func framesFromError(err error, opts StackOptions) []Frame {
	switch e := err.(type) {
	case stackTracer:
		st := e.StackTrace()
		if len(st) == 0 {
			return nil
		}
		pcs := make([]uintptr, len(st))
		for i, f := range st {
			pcs[i] = uintptr(f)
		}
		return buildFrames(pcs, opts)
	case callerser:
		if pcs := e.Callers(); len(pcs) > 0 {
			return buildFrames(pcs, opts)
		}
	}
	return nil
}

// currentFrames captures the calling goroutine's stack.
func currentFrames(opts StackOptions) []Frame {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(2, pcs)
	return buildFrames(pcs[:n], opts)
}

func buildFrames(pcs []uintptr, opts StackOptions) []Frame {
	var raw []runtime.Frame
	iter := runtime.CallersFrames(pcs)
	for {
		f, more := iter.Next()
		if f.Function != "" || f.File != "" {
			raw = append(raw, f)
		}
		if !more {
			break
		}
	}

	if opts.Panic {
		raw = trimPanicFrames(raw)
	}

	frames := make([]Frame, 0, len(raw))
	for _, f := range raw {
		if excludedFrame(f, opts.ExcludeModules) {
			continue
		}
		frames = append(frames, newFrame(f.File, f.Line, f.Function, opts))
	}
	return frames
}

// trimPanicFrames drops everything up to and including runtime.gopanic, plus
// any runtime frames directly beneath it.
func trimPanicFrames(raw []runtime.Frame) []runtime.Frame {
	cut := -1
	for i, f := range raw {
		if f.Function == "runtime.gopanic" {
			cut = i
		}
	}
	if cut < 0 {
		return raw
	}
	raw = raw[cut+1:]
	for len(raw) > 0 && strings.HasPrefix(raw[0].Function, "runtime.") {
		raw = raw[1:]
	}
	return raw
}

func excludedFrame(f runtime.Frame, excluded []string) bool {
	if strings.HasPrefix(f.Function, internalPackagePrefix) && !strings.HasSuffix(f.File, "_test.go") {
		return true
	}
	for _, mod := range excluded {
		if mod != "" && strings.HasPrefix(f.Function, mod) {
			return true
		}
	}
	return false
}

func newFrame(file string, line int, function string, opts StackOptions) Frame {
	frame := Frame{LineNumber: line, Method: function}
	frame.File, frame.InProject = rewritePath(file, opts)
	if opts.SendCode {
		frame.Code = codeContext(file, line)
	}
	return frame
}

// rewritePath strips lib_root, else project_root, from file. Only a project
// root match marks the frame as in-project.
func rewritePath(file string, opts StackOptions) (string, bool) {
	if rel, ok := trimRoot(file, opts.LibRoot); ok {
		return rel, false
	}
	if rel, ok := trimRoot(file, opts.ProjectRoot); ok {
		return rel, true
	}
	return file, false
}

func trimRoot(file, root string) (string, bool) {
	if root == "" {
		return file, false
	}
	root = filepath.ToSlash(filepath.Clean(root))
	file = filepath.ToSlash(file)
	if !strings.HasPrefix(file, root+"/") {
		return file, false
	}
	return strings.TrimPrefix(file, root+"/"), true
}

// sourceFuncFrame derives a frame from a function's declared location.
func sourceFuncFrame(fn any, opts StackOptions) (Frame, bool) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return Frame{}, false
	}
	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		return Frame{}, false
	}
	file, line := f.FileLine(f.Entry())
	return newFrame(file, line, f.Name(), opts), true
}
