// featureflags.go tracks the feature flags and experiment variants active
// when an event is reported.

package crashline

import (
	"fmt"
	"sync"
)

// FeatureFlag is a named flag with an optional variant.
type FeatureFlag struct {
	Name    string
	Variant *string
}

// NewFeatureFlag creates a flag. An empty variant means "no variant".
func NewFeatureFlag(name, variant string) FeatureFlag {
	f := FeatureFlag{Name: name}
	if variant != "" {
		f.Variant = &variant
	}
	return f
}

// VariantOrEmpty returns the variant, or "" when absent.
func (f FeatureFlag) VariantOrEmpty() string {
	if f.Variant == nil {
		return ""
	}
	return *f.Variant
}

// ToJSON returns the wire form. The variant key is omitted when absent.
func (f FeatureFlag) ToJSON() map[string]any {
	out := map[string]any{"featureFlag": f.Name}
	if f.Variant != nil {
		out["variant"] = *f.Variant
	}
	return out
}

// flagName validates a flag name. Only non-empty strings and byte slices are
// accepted.
func flagName(name any) (string, bool) {
	switch n := name.(type) {
	case string:
		return n, n != ""
	case []byte:
		return string(n), len(n) > 0
	default:
		return "", false
	}
}

// flagVariant normalises a variant value. nil means absent.
func flagVariant(variant any) *string {
	var s string
	switch v := variant.(type) {
	case nil:
		return nil
	case string:
		s = v
	case *string:
		if v == nil {
			return nil
		}
		s = *v
	case []byte:
		s = string(v)
	default:
		s = safeSprint(v)
	}
	return &s
}

// FeatureFlagDelegate is an ordered set of feature flags keyed by name.
// Insertion order is kept; re-adding a name replaces its variant in place.
// Safe for concurrent use.
type FeatureFlagDelegate struct {
	mu    sync.Mutex
	order []string
	flags map[string]*string
}

// NewFeatureFlagDelegate creates an empty delegate.
func NewFeatureFlagDelegate() *FeatureFlagDelegate {
	return &FeatureFlagDelegate{flags: make(map[string]*string)}
}

// Add inserts or replaces a flag. Invalid names are ignored.
func (d *FeatureFlagDelegate) Add(name any, variant any) {
	n, ok := flagName(name)
	if !ok {
		return
	}
	v := flagVariant(variant)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.addLocked(n, v)
}

func (d *FeatureFlagDelegate) addLocked(name string, variant *string) {
	if d.flags == nil {
		d.flags = make(map[string]*string)
	}
	if _, exists := d.flags[name]; !exists {
		d.order = append(d.order, name)
	}
	d.flags[name] = variant
}

// Merge adds each valid element in order. Elements may be FeatureFlag,
// *FeatureFlag, or map[string]any with "name" and optional "variant" keys.
// Anything else is skipped.
func (d *FeatureFlagDelegate) Merge(flags []any) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, raw := range flags {
		var (
			name    any
			variant any
		)
		switch f := raw.(type) {
		case FeatureFlag:
			name, variant = f.Name, f.Variant
		case *FeatureFlag:
			if f == nil {
				continue
			}
			name, variant = f.Name, f.Variant
		case map[string]any:
			var ok bool
			if name, ok = f["name"]; !ok {
				continue
			}
			variant = f["variant"]
		default:
			continue
		}

		n, ok := flagName(name)
		if !ok {
			continue
		}
		d.addLocked(n, flagVariant(variant))
	}
}

// Remove deletes the named flag if present.
func (d *FeatureFlagDelegate) Remove(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.flags[name]; !ok {
		return
	}
	delete(d.flags, name)
	for i, n := range d.order {
		if n == name {
			d.order = append(d.order[:i:i], d.order[i+1:]...)
			break
		}
	}
}

// Clear removes every flag.
func (d *FeatureFlagDelegate) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.order = nil
	d.flags = make(map[string]*string)
}

// Copy returns an independent delegate with the same flags.
func (d *FeatureFlagDelegate) Copy() *FeatureFlagDelegate {
	d.mu.Lock()
	defer d.mu.Unlock()

	c := &FeatureFlagDelegate{
		order: append([]string(nil), d.order...),
		flags: make(map[string]*string, len(d.flags)),
	}
	for name, v := range d.flags {
		if v != nil {
			s := *v
			v = &s
		}
		c.flags[name] = v
	}
	return c
}

// ToList returns the flags in insertion order.
func (d *FeatureFlagDelegate) ToList() []FeatureFlag {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]FeatureFlag, 0, len(d.order))
	for _, name := range d.order {
		f := FeatureFlag{Name: name}
		if v := d.flags[name]; v != nil {
			s := *v
			f.Variant = &s
		}
		out = append(out, f)
	}
	return out
}

// ToJSON returns the flags in wire form.
func (d *FeatureFlagDelegate) ToJSON() []map[string]any {
	list := d.ToList()
	out := make([]map[string]any, 0, len(list))
	for _, f := range list {
		out = append(out, f.ToJSON())
	}
	return out
}

// String implements fmt.Stringer for debugging.
func (d *FeatureFlagDelegate) String() string {
	return fmt.Sprintf("%v", d.ToJSON())
}
