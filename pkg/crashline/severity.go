// severity.go defines event severities and the tagged reasons explaining them.

package crashline

// Severity is the importance of an event.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// normalize returns s if it is a known severity and warning otherwise.
func (s Severity) normalize() Severity {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError:
		return s
	default:
		return SeverityWarning
	}
}

// SeverityReasonType names why an event has its severity.
type SeverityReasonType string

const (
	ReasonHandledException             SeverityReasonType = "handledException"
	ReasonHandledPanic                 SeverityReasonType = "handledPanic"
	ReasonUnhandledException           SeverityReasonType = "unhandledException"
	ReasonUnhandledPanic               SeverityReasonType = "unhandledPanic"
	ReasonUnhandledExceptionMiddleware SeverityReasonType = "unhandledExceptionMiddleware"
	ReasonUserSpecifiedSeverity        SeverityReasonType = "userSpecifiedSeverity"
	ReasonUserCallbackSetSeverity      SeverityReasonType = "userCallbackSetSeverity"
	ReasonUserContextSetSeverity       SeverityReasonType = "userContextSetSeverity"
)

// SeverityReason is a tagged explanation of an event's severity.
type SeverityReason struct {
	Type       SeverityReasonType
	Attributes map[string]string
}

// NewSeverityReason creates a reason with optional attributes.
func NewSeverityReason(typ SeverityReasonType, attrs map[string]string) SeverityReason {
	return SeverityReason{Type: typ, Attributes: attrs}
}

// Equal reports whether r and o carry the same type and attributes.
func (r SeverityReason) Equal(o SeverityReason) bool {
	if r.Type != o.Type || len(r.Attributes) != len(o.Attributes) {
		return false
	}
	for k, v := range r.Attributes {
		if ov, ok := o.Attributes[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

func (r SeverityReason) clone() SeverityReason {
	if r.Attributes == nil {
		return r
	}
	attrs := make(map[string]string, len(r.Attributes))
	for k, v := range r.Attributes {
		attrs[k] = v
	}
	r.Attributes = attrs
	return r
}

// toJSON returns the wire form. Attributes are omitted when empty.
func (r SeverityReason) toJSON() map[string]any {
	out := map[string]any{"type": string(r.Type)}
	if len(r.Attributes) > 0 {
		out["attributes"] = r.Attributes
	}
	return out
}
