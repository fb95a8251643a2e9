// internal_middleware.go holds the middleware every client runs before user
// middleware: applying request-scoped configuration and stamping sessions.

package crashline

const (
	defaultMiddlewareName = "default"
	sessionMiddlewareName = "session"
)

// DefaultMiddleware applies the event's RequestConfig: user, context, grouping
// hash, severity and the request, environment, session, extraData and custom
// metadata tabs. Values set explicitly at notify time take precedence.
func DefaultMiddleware() Middleware {
	return MiddlewareFunc(func(event *Event, next func(*Event)) {
		applyRequestConfig(event)
		next(event)
	})
}

func applyRequestConfig(event *Event) {
	rc := event.RequestConfig
	if rc == nil {
		return
	}

	for k, v := range rc.User {
		if _, set := event.User[k]; !set && v != "" {
			if event.User == nil {
				event.User = make(map[string]string)
			}
			event.User[k] = v
		}
	}
	if event.Context == "" {
		event.Context = rc.Context
	}
	if event.GroupingHash == "" {
		event.GroupingHash = rc.GroupingHash
	}
	if rc.Severity != "" && event.SeverityReason.Type != ReasonUserSpecifiedSeverity {
		event.SetSeverity(rc.Severity)
		event.SeverityReason = SeverityReason{Type: ReasonUserContextSetSeverity}
	}

	if len(rc.RequestData) > 0 {
		event.AddTab("request", rc.RequestData)
	}
	if event.config.SendEnvironment && len(rc.EnvironmentData) > 0 {
		event.AddTab("environment", rc.EnvironmentData)
	}
	if len(rc.SessionData) > 0 {
		event.AddTab("session", rc.SessionData)
	}
	if len(rc.ExtraData) > 0 {
		event.AddTab("extraData", rc.ExtraData)
	}
	for name, tab := range rc.MetaData {
		event.AddTab(name, tab)
	}
}

// SessionMiddleware counts the event against the active session and attaches
// a copy of the session's counters.
func SessionMiddleware() Middleware {
	return MiddlewareFunc(func(event *Event, next func(*Event)) {
		if event.session != nil {
			event.Session = event.session.stamp(event.Unhandled)
		}
		next(event)
	})
}

// severityChangeDetector wraps a run of user middleware. When the severity
// changes and the reason is left alone, the reason becomes
// userCallbackSetSeverity. When the severity is unchanged, the original reason
// is restored.
type severityChangeDetector struct {
	severity Severity
	reason   SeverityReason
}

func detectSeverityChange(event *Event) *severityChangeDetector {
	return &severityChangeDetector{severity: event.Severity, reason: event.SeverityReason.clone()}
}

func (d *severityChangeDetector) apply(event *Event) {
	event.Severity = event.Severity.normalize()
	if event.Severity != d.severity {
		if event.SeverityReason.Equal(d.reason) {
			event.SeverityReason = SeverityReason{Type: ReasonUserCallbackSetSeverity}
		}
		return
	}
	event.SeverityReason = d.reason
}
