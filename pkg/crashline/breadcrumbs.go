// breadcrumbs.go implements the bounded breadcrumb log attached to events.

package crashline

import (
	"sync"
	"time"
)

// BreadcrumbType classifies a breadcrumb.
type BreadcrumbType string

const (
	BreadcrumbNavigation BreadcrumbType = "navigation"
	BreadcrumbRequest    BreadcrumbType = "request"
	BreadcrumbProcess    BreadcrumbType = "process"
	BreadcrumbLog        BreadcrumbType = "log"
	BreadcrumbUser       BreadcrumbType = "user"
	BreadcrumbState      BreadcrumbType = "state"
	BreadcrumbError      BreadcrumbType = "error"
	BreadcrumbManual     BreadcrumbType = "manual"
)

// AllBreadcrumbTypes lists every breadcrumb type in a stable order.
var AllBreadcrumbTypes = []BreadcrumbType{
	BreadcrumbNavigation,
	BreadcrumbRequest,
	BreadcrumbProcess,
	BreadcrumbLog,
	BreadcrumbUser,
	BreadcrumbState,
	BreadcrumbError,
	BreadcrumbManual,
}

// valid reports whether t is one of the known breadcrumb types.
func (t BreadcrumbType) valid() bool {
	for _, known := range AllBreadcrumbTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Breadcrumb is a timestamped record of something the application did before
// an error occurred.
type Breadcrumb struct {
	Message   string
	Type      BreadcrumbType
	Metadata  map[string]any
	Timestamp time.Time
}

// NewBreadcrumb creates a breadcrumb stamped with the current UTC time.
// Unknown types fall back to manual.
func NewBreadcrumb(message string, metadata map[string]any, typ BreadcrumbType) Breadcrumb {
	if !typ.valid() {
		typ = BreadcrumbManual
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return Breadcrumb{
		Message:   message,
		Type:      typ,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
	}
}

// clone returns a breadcrumb whose metadata is not shared with b.
func (b Breadcrumb) clone() Breadcrumb {
	b.Metadata = copyMetadata(b.Metadata)
	return b
}

// BreadcrumbBuffer is a fixed-capacity FIFO of breadcrumbs. When full, the
// oldest breadcrumb is evicted. Safe for concurrent use.
type BreadcrumbBuffer struct {
	mu       sync.Mutex
	records  []Breadcrumb
	maxSize  int
	writeIdx int
}

// NewBreadcrumbBuffer creates a buffer holding at most maxSize breadcrumbs.
// A capacity of zero or less retains nothing.
func NewBreadcrumbBuffer(maxSize int) *BreadcrumbBuffer {
	if maxSize < 0 {
		maxSize = 0
	}
	return &BreadcrumbBuffer{maxSize: maxSize}
}

// Append records a copy of crumb, evicting the oldest if the buffer is full.
// Later changes to crumb's metadata do not affect the recorded breadcrumb.
func (b *BreadcrumbBuffer) Append(crumb Breadcrumb) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.maxSize == 0 {
		return
	}
	crumb = crumb.clone()
	if len(b.records) < b.maxSize {
		b.records = append(b.records, crumb)
		return
	}
	// Full: writeIdx points at the oldest record.
	b.records[b.writeIdx] = crumb
	b.writeIdx = (b.writeIdx + 1) % b.maxSize
}

// ToList returns the breadcrumbs oldest first. The returned slice is a copy.
func (b *BreadcrumbBuffer) ToList() []Breadcrumb {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.orderedLocked()
}

// orderedLocked returns a chronological copy. Caller must hold b.mu.
func (b *BreadcrumbBuffer) orderedLocked() []Breadcrumb {
	result := make([]Breadcrumb, 0, len(b.records))
	if len(b.records) < b.maxSize {
		for _, r := range b.records {
			result = append(result, r.clone())
		}
		return result
	}
	for i := 0; i < len(b.records); i++ {
		result = append(result, b.records[(b.writeIdx+i)%len(b.records)].clone())
	}
	return result
}

// Resize changes the capacity. Shrinking discards the oldest breadcrumbs;
// growing preserves order.
func (b *BreadcrumbBuffer) Resize(maxSize int) {
	if maxSize < 0 {
		maxSize = 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ordered := b.orderedLocked()
	if len(ordered) > maxSize {
		ordered = ordered[len(ordered)-maxSize:]
	}
	b.records = ordered
	b.maxSize = maxSize
	b.writeIdx = 0
}

// Len returns the number of retained breadcrumbs.
func (b *BreadcrumbBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// Cap returns the buffer capacity.
func (b *BreadcrumbBuffer) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxSize
}

// Clear removes every breadcrumb.
func (b *BreadcrumbBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = nil
	b.writeIdx = 0
}

// Copy returns an independent buffer with the same capacity and contents.
func (b *BreadcrumbBuffer) Copy() *BreadcrumbBuffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &BreadcrumbBuffer{
		records: b.orderedLocked(),
		maxSize: b.maxSize,
	}
}
