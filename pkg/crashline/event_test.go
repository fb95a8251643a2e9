package crashline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent_Defaults(t *testing.T) {
	e := testEvent(t)

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, SeverityWarning, e.Severity)
	assert.Equal(t, ReasonHandledException, e.SeverityReason.Type)
	assert.False(t, e.Unhandled)
	assert.Equal(t, "*errors.errorString", e.ErrorClass())
	assert.Equal(t, "boom", e.Message())
	assert.NotEmpty(t, e.Device.OSName)
}

func TestNewEvent_UnhandledDefaultsToError(t *testing.T) {
	e := testEvent(t, WithUnhandled(true))
	assert.Equal(t, SeverityError, e.Severity)
	assert.Equal(t, ReasonUnhandledException, e.SeverityReason.Type)
}

func TestNewEvent_SeverityOptions(t *testing.T) {
	e := testEvent(t, WithSeverity(SeverityInfo))
	assert.Equal(t, SeverityInfo, e.Severity)
	assert.Equal(t, ReasonUserSpecifiedSeverity, e.SeverityReason.Type)

	e = testEvent(t, WithSeverity("catastrophic"))
	assert.Equal(t, SeverityWarning, e.Severity, "unknown severities normalize to warning")

	reason := NewSeverityReason(ReasonUnhandledExceptionMiddleware, map[string]string{"framework": "jobs"})
	e = testEvent(t, WithSeverity(SeverityError), WithSeverityReason(reason))
	assert.Equal(t, SeverityError, e.Severity)
	assert.True(t, reason.Equal(e.SeverityReason))
}

func TestNewEvent_OverridesConfiguration(t *testing.T) {
	e := testEvent(t,
		WithAPIKey("override-key"),
		WithReleaseStage("staging"),
		WithAppVersion("2.0.0"),
		WithAppType("worker"),
		WithHostname("box-1"),
		WithContext("jobs/import"),
		WithGroupingHash("group-1"),
		WithAsynchronous(false),
	)

	assert.Equal(t, "override-key", e.APIKey)
	assert.Equal(t, "staging", e.ReleaseStage)
	assert.Equal(t, "2.0.0", e.AppVersion)
	assert.Equal(t, "worker", e.AppType)
	assert.Equal(t, "box-1", e.Hostname)
	assert.Equal(t, "box-1", e.Device.Hostname)
	assert.Equal(t, "jobs/import", e.Context)
	assert.Equal(t, "group-1", e.GroupingHash)
	assert.False(t, e.Asynchronous)
}

func TestWithOptions_MapsKnownKeysAndTabsTheRest(t *testing.T) {
	e := testEvent(t, WithOptions(map[string]any{
		"severity":  "info",
		"context":   "ctx",
		"user":      map[string]any{"id": "u1", "email": "u@example.com"},
		"unhandled": true,
		"account":   map[string]any{"plan": "pro"},
		"attempt":   3,
	}))

	assert.Equal(t, SeverityInfo, e.Severity)
	assert.True(t, e.Unhandled)
	assert.Equal(t, "ctx", e.Context)
	assert.Equal(t, map[string]string{"id": "u1", "email": "u@example.com"}, e.User)
	assert.Equal(t, "pro", e.MetaData["account"]["plan"])
	assert.Equal(t, 3, e.MetaData[customTab]["attempt"])
}

func TestEvent_AddTabMerges(t *testing.T) {
	e := testEvent(t)
	e.AddTab("account", map[string]any{"id": 1, "plan": "free"})
	e.AddTab("account", map[string]string{"plan": "pro"})
	e.AddTab("note", "just a string")

	assert.Equal(t, map[string]any{"id": 1, "plan": "pro"}, e.MetaData["account"])
	assert.Equal(t, "just a string", e.MetaData[customTab]["note"])

	e.ClearTab("account")
	assert.NotContains(t, e.MetaData, "account")
}

func TestEvent_SetUserKeepsUnsetFields(t *testing.T) {
	e := testEvent(t, WithUser("id-1", "Ada", ""))
	e.SetUser("", "", "ada@example.com")

	assert.Equal(t, map[string]string{"id": "id-1", "name": "Ada", "email": "ada@example.com"}, e.User)
}

func TestEvent_FeatureFlagsAreEventLocal(t *testing.T) {
	e := testEvent(t)
	e.AddFeatureFlag("checkout-v2", "on")
	e.AddFeatureFlags([]any{NewFeatureFlag("beta", "")})
	e.ClearFeatureFlag("beta")

	require.Len(t, e.FeatureFlags(), 1)
	assert.Equal(t, "checkout-v2", e.FeatureFlags()[0].Name)

	e.ClearFeatureFlags()
	assert.Empty(t, e.FeatureFlags())
}

func TestNewEvent_RedactMessages(t *testing.T) {
	cfg := DefaultConfiguration()
	cfg.SendCode = false
	cfg.RedactMessages = true

	e := newEvent(errors.New("login failed: password=hunter2"), cfg, NewRequestConfig(), nil)
	assert.NotContains(t, e.Message(), "hunter2")
	assert.Contains(t, e.Message(), "[REDACTED]")
}

func TestCoerceError(t *testing.T) {
	err, coerced := coerceError("not an error")
	assert.True(t, coerced)
	assert.Equal(t, "not an error", err.Error())

	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "not an error", pe.Value)

	original := errors.New("real")
	err, coerced = coerceError(original)
	assert.False(t, coerced)
	assert.Same(t, original, err)

	err, coerced = coerceError(nil)
	assert.True(t, coerced)
	assert.Equal(t, "<nil>", err.Error())
}
