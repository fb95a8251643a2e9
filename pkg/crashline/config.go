// config.go holds the client-wide configuration and its validate-and-set
// dispatch.

package crashline

import (
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// DefaultEndpoint receives event payloads.
	DefaultEndpoint = "https://notify.crashline.dev"

	// DefaultSessionEndpoint receives session payloads.
	DefaultSessionEndpoint = "https://sessions.crashline.dev"

	defaultMaxBreadcrumbs       = 25
	maxBreadcrumbsLimit         = 100
	defaultMaxStringLength      = 1024
	defaultMaxPayloadSize       = 1024 * 1024
	defaultSessionFlushInterval = 30 * time.Second
	defaultTimeout              = 10 * time.Second
)

// Configuration controls how errors are captured and delivered. Use
// DefaultConfiguration to get a populated value and Set or Configure to
// change it.
type Configuration struct {
	APIKey              string
	ReleaseStage        string
	NotifyReleaseStages []string // nil means every stage is notified
	Endpoint            string
	SessionEndpoint     string
	Asynchronous        bool
	AutoCaptureSessions bool
	AutoNotify          bool
	AutoGroupingHash    bool

	ParamsFilters           []string
	TracebackExcludeModules []string
	ProjectRoot             string
	LibRoot                 string
	SendCode                bool
	SendEnvironment         bool
	IgnoreClasses           []string
	RedactMessages          bool

	AppVersion      string
	AppType         string
	Hostname        string
	RuntimeVersions map[string]string

	ProxyHost            string
	Timeout              time.Duration
	MaxBreadcrumbs       int
	EnabledBreadcrumbs   []BreadcrumbType
	MaxStringLength      int
	MaxPayloadSize       int
	SessionFlushInterval time.Duration

	// Delivery sends encoded payloads. Defaults to an HTTP delivery.
	Delivery Delivery

	// Logger receives diagnostics from the reporting path. Defaults to a no-op logger.
	Logger *zap.Logger

	// Clock drives session timestamps and the flush ticker.
	Clock clock.Clock
}

// DefaultConfiguration returns production defaults overlaid with CRASHLINE_*
// environment variables.
func DefaultConfiguration() Configuration {
	projectRoot, _ := os.Getwd()
	hostname, _ := os.Hostname()

	libRoot := ""
	if goroot := os.Getenv("GOROOT"); goroot != "" {
		libRoot = filepath.Join(goroot, "src")
	}

	return Configuration{
		APIKey:              os.Getenv("CRASHLINE_API_KEY"),
		ReleaseStage:        getenv("CRASHLINE_RELEASE_STAGE", "production"),
		Endpoint:            getenv("CRASHLINE_ENDPOINT", DefaultEndpoint),
		SessionEndpoint:     getenv("CRASHLINE_SESSION_ENDPOINT", DefaultSessionEndpoint),
		Asynchronous:        true,
		AutoCaptureSessions: true,
		AutoNotify:          true,
		ParamsFilters:       []string{"password", "password_confirmation", "cookie", "authorization"},
		ProjectRoot:         projectRoot,
		LibRoot:             libRoot,
		SendCode:            true,
		AppVersion:          os.Getenv("CRASHLINE_APP_VERSION"),
		Hostname:            getenv("CRASHLINE_HOSTNAME", hostname),
		RuntimeVersions:     map[string]string{"go": runtime.Version()},
		Timeout:             defaultTimeout,
		MaxBreadcrumbs:      defaultMaxBreadcrumbs,
		EnabledBreadcrumbs:  append([]BreadcrumbType(nil), AllBreadcrumbTypes...),
		MaxStringLength:     defaultMaxStringLength,
		MaxPayloadSize:      defaultMaxPayloadSize,

		SessionFlushInterval: defaultSessionFlushInterval,
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// ShouldNotify reports whether events for the given release stage are sent.
func (c *Configuration) ShouldNotify(stage string) bool {
	if c.NotifyReleaseStages == nil {
		return true
	}
	return lo.Contains(c.NotifyReleaseStages, stage)
}

// BreadcrumbTypeEnabled reports whether automatic breadcrumbs of typ are kept.
// Manual breadcrumbs are always kept.
func (c *Configuration) BreadcrumbTypeEnabled(typ BreadcrumbType) bool {
	if typ == BreadcrumbManual || c.EnabledBreadcrumbs == nil {
		return true
	}
	return lo.Contains(c.EnabledBreadcrumbs, typ)
}

// ShouldIgnore reports whether errorClass is listed in IgnoreClasses.
func (c *Configuration) ShouldIgnore(errorClass string) bool {
	return lo.Contains(c.IgnoreClasses, errorClass)
}

// logger returns the configured logger or a no-op logger.
func (c *Configuration) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// clock returns the configured clock or the wall clock.
func (c *Configuration) clock() clock.Clock {
	if c.Clock == nil {
		return clock.New()
	}
	return c.Clock
}

// Configure applies every key in options. Rejected keys leave their previous
// value in place and are returned as ConfigError warnings.
func (c *Configuration) Configure(options map[string]any) []error {
	var warnings []error
	for key, value := range options {
		if err := c.Set(key, value); err != nil {
			warnings = append(warnings, err)
		}
	}
	return warnings
}

// Set validates value and assigns it to the field named by key.
func (c *Configuration) Set(key string, value any) error {
	switch key {
	case "api_key":
		return setString(&c.APIKey, key, value)
	case "release_stage":
		return setString(&c.ReleaseStage, key, value)
	case "notify_release_stages":
		if value == nil {
			c.NotifyReleaseStages = nil
			return nil
		}
		return setStrings(&c.NotifyReleaseStages, key, value)
	case "endpoint":
		return setURL(&c.Endpoint, key, value)
	case "session_endpoint":
		return setURL(&c.SessionEndpoint, key, value)
	case "asynchronous":
		return setBool(&c.Asynchronous, key, value)
	case "auto_capture_sessions":
		return setBool(&c.AutoCaptureSessions, key, value)
	case "auto_notify":
		return setBool(&c.AutoNotify, key, value)
	case "auto_grouping_hash":
		return setBool(&c.AutoGroupingHash, key, value)
	case "params_filters":
		return setStrings(&c.ParamsFilters, key, value)
	case "traceback_exclude_modules":
		return setStrings(&c.TracebackExcludeModules, key, value)
	case "project_root":
		return setString(&c.ProjectRoot, key, value)
	case "lib_root":
		return setString(&c.LibRoot, key, value)
	case "send_code":
		return setBool(&c.SendCode, key, value)
	case "send_environment":
		return setBool(&c.SendEnvironment, key, value)
	case "ignore_classes":
		return setStrings(&c.IgnoreClasses, key, value)
	case "redact_messages":
		return setBool(&c.RedactMessages, key, value)
	case "app_version":
		return setString(&c.AppVersion, key, value)
	case "app_type":
		return setString(&c.AppType, key, value)
	case "hostname":
		return setString(&c.Hostname, key, value)
	case "runtime_versions":
		m, err := cast.ToStringMapStringE(value)
		if err != nil {
			return ConfigError.New("%s: %v", key, err)
		}
		c.RuntimeVersions = m
		return nil
	case "proxy_host":
		if s, ok := value.(string); ok && s == "" {
			c.ProxyHost = ""
			return nil
		}
		return setURL(&c.ProxyHost, key, value)
	case "timeout":
		return setPositiveDuration(&c.Timeout, key, value)
	case "session_flush_interval":
		return setPositiveDuration(&c.SessionFlushInterval, key, value)
	case "max_breadcrumbs":
		n, err := cast.ToIntE(value)
		if err != nil {
			return ConfigError.New("%s: %v", key, err)
		}
		if n < 0 || n > maxBreadcrumbsLimit {
			return ConfigError.New("%s: must be between 0 and %d, got %d", key, maxBreadcrumbsLimit, n)
		}
		c.MaxBreadcrumbs = n
		return nil
	case "enabled_breadcrumb_types":
		raw, err := cast.ToStringSliceE(value)
		if err != nil {
			return ConfigError.New("%s: %v", key, err)
		}
		types := make([]BreadcrumbType, 0, len(raw))
		for _, r := range raw {
			t := BreadcrumbType(strings.ToLower(r))
			if !t.valid() {
				return ConfigError.New("%s: unknown breadcrumb type %q", key, r)
			}
			types = append(types, t)
		}
		c.EnabledBreadcrumbs = types
		return nil
	case "max_string_length":
		return setPositiveInt(&c.MaxStringLength, key, value)
	case "max_payload_size":
		return setPositiveInt(&c.MaxPayloadSize, key, value)
	default:
		return ConfigError.New("unknown option %q", key)
	}
}

func setString(dst *string, key string, value any) error {
	// cast would happily stringify numbers and booleans; only strings are accepted.
	switch value.(type) {
	case string, []byte:
	default:
		return ConfigError.New("%s: expected string, got %T", key, value)
	}
	s, err := cast.ToStringE(value)
	if err != nil {
		return ConfigError.New("%s: %v", key, err)
	}
	*dst = s
	return nil
}

func setStrings(dst *[]string, key string, value any) error {
	if s, ok := value.(string); ok {
		// A lone string is a common mistake for a one-element list.
		*dst = []string{s}
		return nil
	}
	list, err := cast.ToStringSliceE(value)
	if err != nil {
		return ConfigError.New("%s: %v", key, err)
	}
	*dst = list
	return nil
}

func setBool(dst *bool, key string, value any) error {
	b, err := cast.ToBoolE(value)
	if err != nil {
		return ConfigError.New("%s: %v", key, err)
	}
	*dst = b
	return nil
}

func setURL(dst *string, key string, value any) error {
	var s string
	if err := setString(&s, key, value); err != nil {
		return err
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ConfigError.New("%s: invalid URL %q", key, s)
	}
	*dst = s
	return nil
}

func setPositiveDuration(dst *time.Duration, key string, value any) error {
	d, err := cast.ToDurationE(value)
	if err != nil {
		return ConfigError.New("%s: %v", key, err)
	}
	if d <= 0 {
		return ConfigError.New("%s: must be positive, got %s", key, d)
	}
	*dst = d
	return nil
}

func setPositiveInt(dst *int, key string, value any) error {
	n, err := cast.ToIntE(value)
	if err != nil {
		return ConfigError.New("%s: %v", key, err)
	}
	if n <= 0 {
		return ConfigError.New("%s: must be positive, got %d", key, n)
	}
	*dst = n
	return nil
}

// NewProductionLogger builds a JSON logger writing to stderr at the given
// level. Unknown levels fall back to info.
func NewProductionLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return logger.Named("crashline"), nil
}
