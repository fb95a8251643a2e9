// request_config.go holds metadata scoped to one logical unit of work, such as
// an inbound request, applied to every event reported from that scope.

package crashline

import (
	"github.com/spf13/cast"
)

// RequestConfig is context-scoped metadata. It is copied, never shared, when
// work forks into a new context.
type RequestConfig struct {
	User            map[string]string
	Context         string
	GroupingHash    string
	Severity        Severity
	RequestData     map[string]any
	EnvironmentData map[string]any
	SessionData     map[string]any
	ExtraData       map[string]any

	// MetaData holds custom tabs merged into every event.
	MetaData map[string]map[string]any
}

// NewRequestConfig returns an empty request configuration.
func NewRequestConfig() *RequestConfig {
	return &RequestConfig{}
}

// Copy returns a deep copy of rc.
func (rc *RequestConfig) Copy() *RequestConfig {
	cp := *rc
	if rc.User != nil {
		cp.User = make(map[string]string, len(rc.User))
		for k, v := range rc.User {
			cp.User[k] = v
		}
	}
	cp.RequestData = copyMetadata(rc.RequestData)
	cp.EnvironmentData = copyMetadata(rc.EnvironmentData)
	cp.SessionData = copyMetadata(rc.SessionData)
	cp.ExtraData = copyMetadata(rc.ExtraData)
	if rc.MetaData != nil {
		cp.MetaData = make(map[string]map[string]any, len(rc.MetaData))
		for name, tab := range rc.MetaData {
			cp.MetaData[name] = copyMetadata(tab)
		}
	}
	return &cp
}

// Configure applies every key in options. Unknown keys are kept in ExtraData.
func (rc *RequestConfig) Configure(options map[string]any) []error {
	var warnings []error
	for key, value := range options {
		if err := rc.Set(key, value); err != nil {
			warnings = append(warnings, err)
		}
	}
	return warnings
}

// Set assigns one request-scoped value.
func (rc *RequestConfig) Set(key string, value any) error {
	switch key {
	case "user":
		m, err := cast.ToStringMapStringE(value)
		if err != nil {
			return ConfigError.New("%s: %v", key, err)
		}
		rc.User = m
	case "user_id", "user_name", "user_email":
		s, err := cast.ToStringE(value)
		if err != nil {
			return ConfigError.New("%s: %v", key, err)
		}
		if rc.User == nil {
			rc.User = make(map[string]string)
		}
		rc.User[key[len("user_"):]] = s
	case "context":
		return setString(&rc.Context, key, value)
	case "grouping_hash":
		return setString(&rc.GroupingHash, key, value)
	case "severity":
		var s string
		if err := setString(&s, key, value); err != nil {
			return err
		}
		rc.Severity = Severity(s).normalize()
	case "request_data":
		return setAnyMap(&rc.RequestData, key, value)
	case "environment_data":
		return setAnyMap(&rc.EnvironmentData, key, value)
	case "session_data":
		return setAnyMap(&rc.SessionData, key, value)
	case "extra_data":
		return setAnyMap(&rc.ExtraData, key, value)
	case "meta_data", "metadata":
		tabs, err := toTabs(value)
		if err != nil {
			return ConfigError.New("%s: %v", key, err)
		}
		if rc.MetaData == nil {
			rc.MetaData = make(map[string]map[string]any)
		}
		for name, tab := range tabs {
			rc.MetaData[name] = mergeTab(rc.MetaData[name], tab)
		}
	default:
		if rc.ExtraData == nil {
			rc.ExtraData = make(map[string]any)
		}
		rc.ExtraData[key] = copyValue(value)
	}
	return nil
}

func setAnyMap(dst *map[string]any, key string, value any) error {
	m, err := toAnyMap(value)
	if err != nil {
		return ConfigError.New("%s: %v", key, err)
	}
	*dst = copyMetadata(m)
	return nil
}

// toAnyMap accepts maps with any key type, or a JSON object string.
func toAnyMap(value any) (map[string]any, error) {
	if m, ok := asMap(value); ok {
		return m, nil
	}
	return cast.ToStringMapE(value)
}

// toTabs coerces a map of tabs, each itself a map, into the tab layout.
func toTabs(value any) (map[string]map[string]any, error) {
	raw, err := toAnyMap(value)
	if err != nil {
		return nil, err
	}
	tabs := make(map[string]map[string]any, len(raw))
	for name, v := range raw {
		tab, err := toAnyMap(v)
		if err != nil {
			return nil, Error.New("tab %q: %v", name, err)
		}
		tabs[name] = copyMetadata(tab)
	}
	return tabs, nil
}
