package crashline

import (
	"testing"
)

func messages(crumbs []Breadcrumb) []string {
	out := make([]string, len(crumbs))
	for i, c := range crumbs {
		out[i] = c.Message
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TestBreadcrumbBuffer_EvictsOldest verifies FIFO behavior when the buffer is full.
func TestBreadcrumbBuffer_EvictsOldest(t *testing.T) {
	buf := NewBreadcrumbBuffer(2)
	buf.Append(NewBreadcrumb("A", nil, BreadcrumbManual))
	buf.Append(NewBreadcrumb("B", nil, BreadcrumbManual))
	buf.Append(NewBreadcrumb("C", nil, BreadcrumbManual))

	got := messages(buf.ToList())
	if !equalStrings(got, []string{"B", "C"}) {
		t.Errorf("ToList() = %v, want [B C]", got)
	}
}

func TestBreadcrumbBuffer_WrapsRepeatedly(t *testing.T) {
	buf := NewBreadcrumbBuffer(3)
	for _, m := range []string{"1", "2", "3", "4", "5", "6", "7"} {
		buf.Append(NewBreadcrumb(m, nil, BreadcrumbLog))
	}

	got := messages(buf.ToList())
	if !equalStrings(got, []string{"5", "6", "7"}) {
		t.Errorf("ToList() = %v, want [5 6 7]", got)
	}
}

func TestBreadcrumbBuffer_ZeroCapacityRetainsNothing(t *testing.T) {
	buf := NewBreadcrumbBuffer(0)
	buf.Append(NewBreadcrumb("A", nil, BreadcrumbManual))

	if buf.Len() != 0 {
		t.Errorf("Len() = %d, want 0", buf.Len())
	}
}

func TestBreadcrumbBuffer_ResizeShrinkKeepsNewest(t *testing.T) {
	buf := NewBreadcrumbBuffer(4)
	for _, m := range []string{"A", "B", "C", "D", "E"} {
		buf.Append(NewBreadcrumb(m, nil, BreadcrumbManual))
	}

	buf.Resize(2)
	if got := messages(buf.ToList()); !equalStrings(got, []string{"D", "E"}) {
		t.Errorf("after Resize(2) ToList() = %v, want [D E]", got)
	}

	buf.Resize(0)
	if buf.Len() != 0 {
		t.Errorf("after Resize(0) Len() = %d, want 0", buf.Len())
	}
	buf.Append(NewBreadcrumb("F", nil, BreadcrumbManual))
	if buf.Len() != 0 {
		t.Errorf("Append after Resize(0) retained a breadcrumb")
	}
}

func TestBreadcrumbBuffer_ResizeGrowPreservesOrder(t *testing.T) {
	buf := NewBreadcrumbBuffer(2)
	for _, m := range []string{"A", "B", "C"} {
		buf.Append(NewBreadcrumb(m, nil, BreadcrumbManual))
	}

	buf.Resize(4)
	buf.Append(NewBreadcrumb("D", nil, BreadcrumbManual))
	buf.Append(NewBreadcrumb("E", nil, BreadcrumbManual))

	if got := messages(buf.ToList()); !equalStrings(got, []string{"B", "C", "D", "E"}) {
		t.Errorf("ToList() = %v, want [B C D E]", got)
	}
}

func TestBreadcrumbBuffer_CopyIsIndependent(t *testing.T) {
	buf := NewBreadcrumbBuffer(5)
	buf.Append(NewBreadcrumb("A", map[string]any{"k": "v"}, BreadcrumbState))

	cp := buf.Copy()
	cp.Append(NewBreadcrumb("B", nil, BreadcrumbState))
	cp.ToList()[0].Metadata["k"] = "changed"

	if buf.Len() != 1 {
		t.Errorf("original Len() = %d, want 1", buf.Len())
	}
	if cp.Cap() != 5 {
		t.Errorf("copy Cap() = %d, want 5", cp.Cap())
	}
	if v := buf.ToList()[0].Metadata["k"]; v != "v" {
		t.Errorf("original metadata = %v, want v", v)
	}
}

func TestNewBreadcrumb_UnknownTypeFallsBackToManual(t *testing.T) {
	b := NewBreadcrumb("x", nil, BreadcrumbType("bogus"))
	if b.Type != BreadcrumbManual {
		t.Errorf("Type = %q, want manual", b.Type)
	}
	if b.Metadata == nil {
		t.Error("Metadata should default to an empty map")
	}
	if b.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestBreadcrumbBuffer_AppendCopiesMetadata(t *testing.T) {
	buf := NewBreadcrumbBuffer(2)
	m := map[string]any{"k": "v"}
	m["self"] = m
	buf.Append(NewBreadcrumb("A", m, BreadcrumbState))
	m["k"] = "changed"

	got := buf.ToList()[0].Metadata
	if got["k"] != "v" {
		t.Errorf("metadata k = %v, want v", got["k"])
	}
	if got["self"] != recursiveMarker {
		t.Errorf("metadata self = %v, want %s", got["self"], recursiveMarker)
	}
}
