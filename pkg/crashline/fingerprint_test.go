package crashline

import (
	"testing"
)

func records(class string, frames ...Frame) []ErrorRecord {
	return []ErrorRecord{{ErrorClass: class, Message: "boom", Stacktrace: frames, Type: errorRecordType}}
}

func TestFingerprint_Stability(t *testing.T) {
	recs := records("*errors.errorString",
		Frame{File: "main.go", LineNumber: 42, Method: "main.doSomething", InProject: true},
		Frame{File: "main.go", LineNumber: 30, Method: "main.helper", InProject: true},
		Frame{File: "main.go", LineNumber: 10, Method: "main.main", InProject: true},
	)

	fp1 := Fingerprint(recs)
	fp2 := Fingerprint(recs)

	if fp1 != fp2 {
		t.Errorf("Same records produced different fingerprints: %q vs %q", fp1, fp2)
	}

	// Should be 32 hex characters (16 bytes)
	if len(fp1) != 32 {
		t.Errorf("Fingerprint length = %d, want 32", len(fp1))
	}
}

func TestFingerprint_Empty(t *testing.T) {
	if fp := Fingerprint(nil); fp != "" {
		t.Errorf("Fingerprint(nil) = %q, want empty", fp)
	}
}

func TestFingerprint_DifferentLineNumbers_SameFingerprint(t *testing.T) {
	fp1 := Fingerprint(records("panic",
		Frame{LineNumber: 42, Method: "main.doSomething", InProject: true},
		Frame{LineNumber: 10, Method: "main.main", InProject: true},
	))
	fp2 := Fingerprint(records("panic",
		Frame{LineNumber: 99, Method: "main.doSomething", InProject: true},
		Frame{LineNumber: 55, Method: "main.main", InProject: true},
	))

	if fp1 != fp2 {
		t.Errorf("Records differing only in line numbers should have same fingerprint: %q vs %q", fp1, fp2)
	}
}

func TestFingerprint_DifferentMessages_SameFingerprint(t *testing.T) {
	r1 := records("panic", Frame{Method: "main.handler", InProject: true})
	r2 := records("panic", Frame{Method: "main.handler", InProject: true})
	r2[0].Message = "a different message"

	if Fingerprint(r1) != Fingerprint(r2) {
		t.Error("Records differing only in message should have same fingerprint")
	}
}

func TestFingerprint_ClosureSuffix_SameFingerprint(t *testing.T) {
	fp1 := Fingerprint(records("panic", Frame{Method: "main.handler.func1", InProject: true}))
	fp2 := Fingerprint(records("panic", Frame{Method: "main.handler.func2.1", InProject: true}))

	if fp1 != fp2 {
		t.Errorf("Closures of the same function should have same fingerprint: %q vs %q", fp1, fp2)
	}
}

func TestFingerprint_DifferentClass_DifferentFingerprint(t *testing.T) {
	fp1 := Fingerprint(records("*net.OpError", Frame{Method: "main.dial", InProject: true}))
	fp2 := Fingerprint(records("*os.PathError", Frame{Method: "main.dial", InProject: true}))

	if fp1 == fp2 {
		t.Error("Records with different error classes should have different fingerprints")
	}
}

func TestFingerprint_PrefersInProjectFrames(t *testing.T) {
	fp1 := Fingerprint(records("panic",
		Frame{Method: "net/http.(*conn).serve", InProject: false},
		Frame{Method: "main.handler", InProject: true},
	))
	fp2 := Fingerprint(records("panic",
		Frame{Method: "database/sql.(*DB).Query", InProject: false},
		Frame{Method: "main.handler", InProject: true},
	))

	if fp1 != fp2 {
		t.Errorf("Library frames should not affect the fingerprint when in-project frames exist: %q vs %q", fp1, fp2)
	}
}

func TestFingerprint_OnlyFirstThreeMethods(t *testing.T) {
	base := []Frame{
		{Method: "main.a", InProject: true},
		{Method: "main.b", InProject: true},
		{Method: "main.c", InProject: true},
	}
	fp1 := Fingerprint(records("panic", append(base, Frame{Method: "main.d", InProject: true})...))
	fp2 := Fingerprint(records("panic", append(base, Frame{Method: "main.e", InProject: true})...))

	if fp1 != fp2 {
		t.Errorf("Frames beyond the third should not affect the fingerprint: %q vs %q", fp1, fp2)
	}
}

func TestFingerprint_NoInProjectFrames_FallsBackToAll(t *testing.T) {
	fp1 := Fingerprint(records("panic", Frame{Method: "lib.a"}))
	fp2 := Fingerprint(records("panic", Frame{Method: "lib.b"}))

	if fp1 == fp2 {
		t.Error("Without in-project frames, methods should still distinguish fingerprints")
	}
}
