// event.go defines Event, the aggregate describing one reported error, and
// the options accepted when reporting it.

package crashline

import (
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/spf13/cast"
)

// customTab receives non-map values passed to AddTab.
const customTab = "custom"

// Event is one reportable occurrence of an error with its context. It is
// owned by the goroutine reporting it until it is handed to a Delivery.
type Event struct {
	// ID uniquely identifies the event (UUID).
	ID string

	// Timestamp is when the event was created.
	Timestamp time.Time

	// Error is the error as reported, after coercion.
	Error error

	// Errors is the causal chain followed by any group members, outermost first.
	Errors []ErrorRecord

	Context        string
	Severity       Severity
	SeverityReason SeverityReason
	Unhandled      bool
	User           map[string]string
	MetaData       map[string]map[string]any
	GroupingHash   string

	APIKey          string
	ReleaseStage    string
	AppVersion      string
	AppType         string
	Hostname        string
	RuntimeVersions map[string]string
	ProjectRoot     string
	LibRoot         string

	// Device is sampled when the event is created.
	Device DeviceState

	// Breadcrumbs is a snapshot taken when the event was created.
	Breadcrumbs []Breadcrumb

	// Session is a copy of the live session, attached during middleware.
	Session *SessionSnapshot

	// RequestConfig is the context-scoped configuration at report time.
	RequestConfig *RequestConfig

	// Asynchronous selects background delivery.
	Asynchronous bool

	featureFlags *FeatureFlagDelegate
	config       Configuration
	session      *liveSession
}

// NotifyOption overrides configuration defaults for one report.
type NotifyOption func(*notifyOptions)

type notifyOptions struct {
	severity     *Severity
	reason       *SeverityReason
	unhandled    bool
	context      *string
	user         map[string]string
	tabs         []tabValue
	groupingHash *string
	apiKey       *string
	releaseStage *string
	appVersion   *string
	appType      *string
	hostname     *string
	asynchronous *bool
	sourceFunc   any
	panic        bool
}

type tabValue struct {
	name  string
	value any
}

// WithSeverity sets the severity. The reason becomes userSpecifiedSeverity
// unless WithSeverityReason is also given.
func WithSeverity(s Severity) NotifyOption {
	return func(o *notifyOptions) {
		s = s.normalize()
		o.severity = &s
	}
}

// WithSeverityReason sets the severity reason explicitly.
func WithSeverityReason(r SeverityReason) NotifyOption {
	return func(o *notifyOptions) {
		r = r.clone()
		o.reason = &r
	}
}

// WithUnhandled marks the event unhandled, defaulting its severity to error.
func WithUnhandled(unhandled bool) NotifyOption {
	return func(o *notifyOptions) {
		o.unhandled = unhandled
	}
}

// WithContext sets the event context, typically a route or job name.
func WithContext(context string) NotifyOption {
	return func(o *notifyOptions) {
		o.context = &context
	}
}

// WithUser sets user fields. Empty values are ignored.
func WithUser(id, name, email string) NotifyOption {
	return func(o *notifyOptions) {
		o.user = userMap(id, name, email)
	}
}

// WithMetadata adds a metadata tab. See Event.AddTab.
func WithMetadata(tab string, value any) NotifyOption {
	return func(o *notifyOptions) {
		o.tabs = append(o.tabs, tabValue{name: tab, value: value})
	}
}

// WithGroupingHash overrides server-side grouping.
func WithGroupingHash(hash string) NotifyOption {
	return func(o *notifyOptions) {
		o.groupingHash = &hash
	}
}

// WithAPIKey overrides the configured API key.
func WithAPIKey(key string) NotifyOption {
	return func(o *notifyOptions) {
		o.apiKey = &key
	}
}

// WithReleaseStage overrides the configured release stage.
func WithReleaseStage(stage string) NotifyOption {
	return func(o *notifyOptions) {
		o.releaseStage = &stage
	}
}

// WithAppVersion overrides the configured app version.
func WithAppVersion(version string) NotifyOption {
	return func(o *notifyOptions) {
		o.appVersion = &version
	}
}

// WithAppType overrides the configured app type.
func WithAppType(appType string) NotifyOption {
	return func(o *notifyOptions) {
		o.appType = &appType
	}
}

// WithHostname overrides the configured hostname.
func WithHostname(hostname string) NotifyOption {
	return func(o *notifyOptions) {
		o.hostname = &hostname
	}
}

// WithAsynchronous overrides the configured delivery mode.
func WithAsynchronous(async bool) NotifyOption {
	return func(o *notifyOptions) {
		o.asynchronous = &async
	}
}

// WithSourceFunc reports fn's declaration as the first stack frame.
func WithSourceFunc(fn any) NotifyOption {
	return func(o *notifyOptions) {
		o.sourceFunc = fn
	}
}

// withPanic strips panic machinery from the captured stack.
func withPanic() NotifyOption {
	return func(o *notifyOptions) {
		o.panic = true
	}
}

// WithOptions applies a free-form options map. Keys naming an event setting
// override it; any other key is added as a metadata tab.
func WithOptions(options map[string]any) NotifyOption {
	return func(o *notifyOptions) {
		for key, value := range options {
			applyOption(o, key, value)
		}
	}
}

func applyOption(o *notifyOptions, key string, value any) {
	str := func(dst **string) {
		if s, err := cast.ToStringE(value); err == nil {
			*dst = &s
		}
	}
	switch key {
	case "severity":
		if s, err := cast.ToStringE(value); err == nil {
			WithSeverity(Severity(s))(o)
		}
	case "severity_reason":
		switch r := value.(type) {
		case SeverityReason:
			WithSeverityReason(r)(o)
		case string:
			WithSeverityReason(SeverityReason{Type: SeverityReasonType(r)})(o)
		}
	case "unhandled":
		if b, err := cast.ToBoolE(value); err == nil {
			o.unhandled = b
		}
	case "context":
		str(&o.context)
	case "user":
		if m, err := cast.ToStringMapStringE(value); err == nil {
			o.user = userMap(m["id"], m["name"], m["email"])
		}
	case "grouping_hash":
		str(&o.groupingHash)
	case "api_key":
		str(&o.apiKey)
	case "release_stage":
		str(&o.releaseStage)
	case "app_version":
		str(&o.appVersion)
	case "app_type":
		str(&o.appType)
	case "hostname":
		str(&o.hostname)
	case "asynchronous":
		if b, err := cast.ToBoolE(value); err == nil {
			o.asynchronous = &b
		}
	case "source_func":
		o.sourceFunc = value
	case "meta_data", "metadata":
		if tabs, err := toTabs(value); err == nil {
			for name, tab := range tabs {
				o.tabs = append(o.tabs, tabValue{name: name, value: tab})
			}
		}
	default:
		o.tabs = append(o.tabs, tabValue{name: key, value: value})
	}
}

// newEvent builds an event from err, applying configuration defaults first and
// then per-call options.
func newEvent(err error, cfg Configuration, rc *RequestConfig, opts []NotifyOption) *Event {
	o := &notifyOptions{}
	for _, opt := range opts {
		opt(o)
	}

	e := &Event{
		ID:              uuid.NewString(),
		Timestamp:       cfg.clock().Now().UTC(),
		Error:           err,
		Unhandled:       o.unhandled,
		User:            map[string]string{},
		MetaData:        map[string]map[string]any{},
		APIKey:          cfg.APIKey,
		ReleaseStage:    cfg.ReleaseStage,
		AppVersion:      cfg.AppVersion,
		AppType:         cfg.AppType,
		Hostname:        cfg.Hostname,
		RuntimeVersions: lo.Assign(cfg.RuntimeVersions),
		ProjectRoot:     cfg.ProjectRoot,
		LibRoot:         cfg.LibRoot,
		Asynchronous:    cfg.Asynchronous,
		RequestConfig:   rc,
		featureFlags:    NewFeatureFlagDelegate(),
		config:          cfg,
	}

	e.Severity = SeverityWarning
	e.SeverityReason = SeverityReason{Type: ReasonHandledException}
	if o.unhandled {
		e.Severity = SeverityError
		e.SeverityReason = SeverityReason{Type: ReasonUnhandledException}
	}
	if o.severity != nil {
		e.Severity = *o.severity
		e.SeverityReason = SeverityReason{Type: ReasonUserSpecifiedSeverity}
	}
	if o.reason != nil {
		e.SeverityReason = *o.reason
	}

	if o.context != nil {
		e.Context = *o.context
	}
	if o.groupingHash != nil {
		e.GroupingHash = *o.groupingHash
	}
	if o.apiKey != nil {
		e.APIKey = *o.apiKey
	}
	if o.releaseStage != nil {
		e.ReleaseStage = *o.releaseStage
	}
	if o.appVersion != nil {
		e.AppVersion = *o.appVersion
	}
	if o.appType != nil {
		e.AppType = *o.appType
	}
	if o.hostname != nil {
		e.Hostname = *o.hostname
	}
	if o.asynchronous != nil {
		e.Asynchronous = *o.asynchronous
	}
	for k, v := range o.user {
		e.User[k] = v
	}
	for _, tab := range o.tabs {
		e.AddTab(tab.name, tab.value)
	}

	e.Errors = BuildErrorRecords(err, StackOptions{
		ProjectRoot:    e.ProjectRoot,
		LibRoot:        e.LibRoot,
		ExcludeModules: cfg.TracebackExcludeModules,
		SendCode:       cfg.SendCode,
		SourceFunc:     o.sourceFunc,
		Panic:          o.panic,
	})
	if cfg.RedactMessages {
		for i := range e.Errors {
			e.Errors[i].Message = RedactMessage(e.Errors[i].Message)
		}
	}

	e.Device = CaptureDeviceState(e.Hostname, e.RuntimeVersions, processStart)
	return e
}

// ErrorClass returns the class of the outermost error record.
func (e *Event) ErrorClass() string {
	if len(e.Errors) == 0 {
		return ""
	}
	return e.Errors[0].ErrorClass
}

// Message returns the message of the outermost error record.
func (e *Event) Message() string {
	if len(e.Errors) == 0 {
		return ""
	}
	return e.Errors[0].Message
}

// AddTab merges value into the named metadata tab. Map values are merged key
// by key, new keys overwriting old. Any other value is stored under the
// "custom" tab keyed by name.
func (e *Event) AddTab(name string, value any) {
	if e.MetaData == nil {
		e.MetaData = make(map[string]map[string]any)
	}
	m, ok := asMap(value)
	if !ok {
		e.MetaData[customTab] = mergeTab(e.MetaData[customTab], map[string]any{name: value})
		return
	}
	e.MetaData[name] = mergeTab(e.MetaData[name], m)
}

// ClearTab removes a metadata tab.
func (e *Event) ClearTab(name string) {
	delete(e.MetaData, name)
}

// SetUser updates the user fields that are non-empty.
func (e *Event) SetUser(id, name, email string) {
	if e.User == nil {
		e.User = make(map[string]string)
	}
	for k, v := range userMap(id, name, email) {
		e.User[k] = v
	}
}

// SetSeverity sets the severity. Unknown values become warning.
func (e *Event) SetSeverity(s Severity) {
	e.Severity = s.normalize()
}

// AddFeatureFlag records a flag on this event only.
func (e *Event) AddFeatureFlag(name any, variant any) {
	e.flags().Add(name, variant)
}

// AddFeatureFlags records several flags on this event only.
func (e *Event) AddFeatureFlags(flags []any) {
	e.flags().Merge(flags)
}

// ClearFeatureFlag removes a flag from this event.
func (e *Event) ClearFeatureFlag(name string) {
	e.flags().Remove(name)
}

// ClearFeatureFlags removes every flag from this event.
func (e *Event) ClearFeatureFlags() {
	e.flags().Clear()
}

// FeatureFlags returns this event's flags in insertion order.
func (e *Event) FeatureFlags() []FeatureFlag {
	return e.flags().ToList()
}

func (e *Event) flags() *FeatureFlagDelegate {
	if e.featureFlags == nil {
		e.featureFlags = NewFeatureFlagDelegate()
	}
	return e.featureFlags
}

// Config returns the configuration snapshot the event was built with.
func (e *Event) Config() Configuration {
	return e.config
}

func userMap(id, name, email string) map[string]string {
	m := make(map[string]string, 3)
	if id != "" {
		m["id"] = id
	}
	if name != "" {
		m["name"] = name
	}
	if email != "" {
		m["email"] = email
	}
	return m
}

// mergeTab shallowly merges src into dst, returning a new map.
func mergeTab(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	return lo.Assign(dst, src)
}

// asMap converts a map with any key type into map[string]any.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case nil:
		return nil, false
	case map[string]any:
		return m, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[k] = val
		}
		return out, true
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[mapKey(iter.Key())] = iter.Value().Interface()
	}
	return out, true
}
