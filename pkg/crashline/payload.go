// payload.go encodes events and session counts in the collector's JSON
// format, bounding payload size.

package crashline

import (
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
)

const (
	// Version is the notifier version reported in payloads.
	Version = "1.0.0"

	notifierName = "crashline Go"
	notifierURL  = "https://github.com/strongdm/crashline"

	eventPayloadVersion   = "4.0"
	sessionPayloadVersion = "1.0"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type notifierJSON struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Version string `json:"version"`
}

var notifier = notifierJSON{Name: notifierName, URL: notifierURL, Version: Version}

type eventPayloadJSON struct {
	APIKey         string       `json:"apiKey"`
	PayloadVersion string       `json:"payloadVersion"`
	Notifier       notifierJSON `json:"notifier"`
	Events         []eventJSON  `json:"events"`
}

type eventJSON struct {
	ID             string           `json:"id"`
	PayloadVersion string           `json:"payloadVersion"`
	Severity       Severity         `json:"severity"`
	SeverityReason map[string]any   `json:"severityReason"`
	Unhandled      bool             `json:"unhandled"`
	ReleaseStage   string           `json:"releaseStage"`
	App            appJSON          `json:"app"`
	Context        string           `json:"context,omitempty"`
	GroupingHash   string           `json:"groupingHash,omitempty"`
	Exceptions     []exceptionJSON  `json:"exceptions"`
	MetaData       map[string]any   `json:"metaData"`
	User           map[string]any   `json:"user"`
	Device         map[string]any   `json:"device"`
	ProjectRoot    string           `json:"projectRoot,omitempty"`
	LibRoot        string           `json:"libRoot,omitempty"`
	Session        *sessionJSON     `json:"session,omitempty"`
	Breadcrumbs    []breadcrumbJSON `json:"breadcrumbs"`
	FeatureFlags   []map[string]any `json:"featureFlags"`
}

type appJSON struct {
	Version      string `json:"version,omitempty"`
	Type         string `json:"type,omitempty"`
	ReleaseStage string `json:"releaseStage,omitempty"`
}

type exceptionJSON struct {
	ErrorClass string      `json:"errorClass"`
	Message    string      `json:"message"`
	Stacktrace []frameJSON `json:"stacktrace"`
	Type       string      `json:"type"`
}

type frameJSON struct {
	File       string            `json:"file"`
	LineNumber int               `json:"lineNumber"`
	Method     string            `json:"method"`
	InProject  bool              `json:"inProject"`
	Code       map[string]string `json:"code,omitempty"`
}

type sessionJSON struct {
	ID        string            `json:"id"`
	StartedAt string            `json:"startedAt"`
	Events    sessionCountsJSON `json:"events"`
}

type sessionCountsJSON struct {
	Handled   int `json:"handled"`
	Unhandled int `json:"unhandled"`
}

type breadcrumbJSON struct {
	Timestamp string         `json:"timestamp"`
	Name      string         `json:"name"`
	Type      BreadcrumbType `json:"type"`
	MetaData  map[string]any `json:"metaData"`
}

// Payload encodes the event for delivery. It never panics. Payloads larger
// than max_payload_size are shrunk by dropping breadcrumbs, then metadata.
func (e *Event) Payload() (payload []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			payload, err = nil, PayloadError.New("encoding event: %s", formatRecovered(r))
		}
	}()

	cfg := e.config
	sanitizer := NewSanitizer(cfg.ParamsFilters, cfg.MaxStringLength)
	ev := e.toJSON(sanitizer)

	body := eventPayloadJSON{
		APIKey:         e.APIKey,
		PayloadVersion: eventPayloadVersion,
		Notifier:       notifier,
		Events:         []eventJSON{ev},
	}

	payload, err = json.Marshal(body)
	if err != nil {
		return nil, PayloadError.Wrap(err)
	}
	if cfg.MaxPayloadSize <= 0 || len(payload) <= cfg.MaxPayloadSize {
		return payload, nil
	}

	body.Events[0].Breadcrumbs = []breadcrumbJSON{}
	if payload, err = json.Marshal(body); err != nil {
		return nil, PayloadError.Wrap(err)
	}
	if len(payload) <= cfg.MaxPayloadSize {
		return payload, nil
	}

	body.Events[0].MetaData = map[string]any{}
	if payload, err = json.Marshal(body); err != nil {
		return nil, PayloadError.Wrap(err)
	}
	return payload, nil
}

func (e *Event) toJSON(s *Sanitizer) eventJSON {
	groupingHash := e.GroupingHash
	if groupingHash == "" && e.config.AutoGroupingHash {
		groupingHash = Fingerprint(e.Errors)
	}

	ev := eventJSON{
		ID:             e.ID,
		PayloadVersion: eventPayloadVersion,
		Severity:       e.Severity.normalize(),
		SeverityReason: e.SeverityReason.toJSON(),
		Unhandled:      e.Unhandled,
		ReleaseStage:   e.ReleaseStage,
		App: appJSON{
			Version:      e.AppVersion,
			Type:         e.AppType,
			ReleaseStage: e.ReleaseStage,
		},
		Context:      s.Truncate(e.Context),
		GroupingHash: groupingHash,
		Exceptions:   make([]exceptionJSON, 0, len(e.Errors)),
		MetaData:     s.SanitizeMap(tabsToAny(e.MetaData)),
		User:         s.SanitizeMap(stringsToAny(e.User)),
		Device:       e.Device.toJSON(),
		ProjectRoot:  e.ProjectRoot,
		LibRoot:      e.LibRoot,
		Breadcrumbs:  make([]breadcrumbJSON, 0, len(e.Breadcrumbs)),
		FeatureFlags: e.flags().ToJSON(),
	}

	for _, rec := range e.Errors {
		ev.Exceptions = append(ev.Exceptions, exceptionJSON{
			ErrorClass: rec.ErrorClass,
			Message:    s.Truncate(rec.Message),
			Stacktrace: framesToJSON(rec.Stacktrace),
			Type:       rec.Type,
		})
	}

	for _, b := range e.Breadcrumbs {
		message := b.Message
		if e.config.RedactMessages {
			message = RedactMessage(message)
		}
		ev.Breadcrumbs = append(ev.Breadcrumbs, breadcrumbJSON{
			Timestamp: b.Timestamp.UTC().Format(time.RFC3339Nano),
			Name:      s.Truncate(message),
			Type:      b.Type,
			MetaData:  s.SanitizeMap(b.Metadata),
		})
	}

	if e.Session != nil {
		ev.Session = e.Session.toJSON()
	}
	return ev
}

func framesToJSON(frames []Frame) []frameJSON {
	out := make([]frameJSON, 0, len(frames))
	for _, f := range frames {
		fj := frameJSON{
			File:       f.File,
			LineNumber: f.LineNumber,
			Method:     f.Method,
			InProject:  f.InProject,
		}
		if f.Code != nil {
			fj.Code = make(map[string]string, len(f.Code))
			for line, text := range f.Code {
				fj.Code[strconv.Itoa(line)] = text
			}
		}
		out = append(out, fj)
	}
	return out
}

func tabsToAny(tabs map[string]map[string]any) map[string]any {
	out := make(map[string]any, len(tabs))
	for name, tab := range tabs {
		out[name] = tab
	}
	return out
}

func stringsToAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type sessionPayloadJSON struct {
	Notifier      notifierJSON       `json:"notifier"`
	Device        map[string]any     `json:"device"`
	App           appJSON            `json:"app"`
	SessionCounts []sessionCountJSON `json:"sessionCounts"`
}

type sessionCountJSON struct {
	StartedAt       string `json:"startedAt"`
	SessionsStarted int    `json:"sessionsStarted"`
}

// sessionPayload encodes minute buckets of session starts.
func sessionPayload(cfg Configuration, counts map[time.Time]int) ([]byte, error) {
	body := sessionPayloadJSON{
		Notifier: notifier,
		Device:   CaptureDeviceState(cfg.Hostname, cfg.RuntimeVersions, processStart).toJSON(),
		App: appJSON{
			Version:      cfg.AppVersion,
			Type:         cfg.AppType,
			ReleaseStage: cfg.ReleaseStage,
		},
		SessionCounts: make([]sessionCountJSON, 0, len(counts)),
	}
	for _, minute := range sortedMinutes(counts) {
		body.SessionCounts = append(body.SessionCounts, sessionCountJSON{
			StartedAt:       minute.UTC().Format(time.RFC3339),
			SessionsStarted: counts[minute],
		})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, PayloadError.Wrap(err)
	}
	return payload, nil
}
