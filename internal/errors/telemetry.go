package errors

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter is an interface for reporting errors to telemetry systems
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

// SentryReporter implements TelemetryReporter for Sentry
type SentryReporter struct {
	enabled bool
}

// NewSentryReporter creates a new Sentry telemetry reporter
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

// InitSentry configures the Sentry SDK and installs a SentryReporter as the global reporter.
func InitSentry(dsn, release, environment string) error {
	if dsn == "" {
		return New(NewStd("sentry dsn is empty")).
			Component("telemetry").
			Category(CategoryConfiguration).
			Build()
	}
	if err := sentry.Init(sentryOptions(dsn, release, environment)); err != nil {
		return New(fmt.Errorf("sentry init: %w", err)).
			Component("telemetry").
			Category(CategoryConfiguration).
			Build()
	}
	SetTelemetryReporter(NewSentryReporter(true))
	return nil
}

func sentryOptions(dsn, release, environment string) sentry.ClientOptions {
	return sentry.ClientOptions{
		Dsn:              dsn,
		Release:          release,
		Environment:      environment,
		AttachStacktrace: true,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return scrubEvent(event)
		},
	}
}

// scrubEvent removes user identity from an outgoing event. Uploaded images
// are keyed by user name, so neither may leave the process.
func scrubEvent(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.Message = scrubMessage(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = scrubMessage(event.Exception[i].Value)
	}
	for key, values := range event.Contexts {
		if sensitiveContextKeys[key] {
			delete(event.Contexts, key)
			continue
		}
		for k, v := range values {
			values[k] = scrubContextValue(key, v)
		}
	}
	return event
}

// FlushSentry waits for buffered events to be delivered.
func FlushSentry(timeout time.Duration) {
	sentry.Flush(timeout)
}

// IsEnabled returns whether Sentry telemetry is enabled
func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError sends an enhanced error to Sentry once
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() {
		return
	}

	message := scrubMessage(fmt.Sprintf("[%s] %s", ee.Category, ee.Error()))
	title := errorTitle(ee)

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.GetComponent())
		scope.SetTag("category", string(ee.Category))
		for key, value := range ee.GetContext() {
			if sensitiveContextKeys[key] {
				continue
			}
			scope.SetContext(key, map[string]any{"value": scrubContextValue(key, value)})
		}
		scope.SetFingerprint([]string{title, ee.GetComponent(), string(ee.Category)})

		event := sentry.NewEvent()
		event.Message = message
		event.Level = levelFor(ee.Category)
		event.Exception = []sentry.Exception{{Type: title, Value: message}}
		sentry.CaptureEvent(event)
	})

	ee.MarkReported()
}

func errorTitle(ee *EnhancedError) string {
	parts := make([]string, 0, 3)
	if c := ee.GetComponent(); c != "" && c != ComponentUnknown {
		parts = append(parts, strings.ToUpper(c[:1])+c[1:])
	}
	parts = append(parts, string(ee.Category))
	if op, ok := ee.GetContext()["operation"].(string); ok && op != "" {
		parts = append(parts, strings.ReplaceAll(op, "_", " "))
	}
	return strings.Join(parts, " ")
}

func levelFor(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryNetwork, CategoryMQTT, CategoryHTTP, CategoryFileIO, CategoryCamera:
		return sentry.LevelWarning
	case CategoryValidation, CategoryNotFound:
		return sentry.LevelInfo
	default:
		return sentry.LevelError
	}
}

var (
	reporterMu              sync.RWMutex
	globalTelemetryReporter TelemetryReporter
)

// SetTelemetryReporter sets the global telemetry reporter; nil disables reporting.
func SetTelemetryReporter(reporter TelemetryReporter) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	globalTelemetryReporter = reporter
	hasActiveReporting.Store(reporter != nil && reporter.IsEnabled())
}

// GetTelemetryReporter returns the current telemetry reporter
func GetTelemetryReporter() TelemetryReporter {
	reporterMu.RLock()
	defer reporterMu.RUnlock()
	return globalTelemetryReporter
}

func reportToTelemetry(ee *EnhancedError) {
	if r := GetTelemetryReporter(); r != nil && r.IsEnabled() {
		r.ReportError(ee)
	}
}

var (
	queryStringPattern = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)
	secretPatterns     = []*regexp.Regexp{
		regexp.MustCompile(`(?i)password[=:]\S+`),
		regexp.MustCompile(`(?i)token[=:]\S+`),
		regexp.MustCompile(`(?i)user_name[=:]\S+`),
		regexp.MustCompile(`[0-9a-fA-F]{32,}`),
	}
	credentialURLPattern = regexp.MustCompile(`(\w+://)[^:@/\s]+:[^@/\s]+@`)
)

// sensitiveContextKeys are never sent.
var sensitiveContextKeys = map[string]bool{
	"user_name": true,
	"user":      true,
}

func scrubContextValue(key string, value any) any {
	s, ok := value.(string)
	if !ok {
		return value
	}
	if key == "file_name" {
		s = anonymizeFileName(s)
	}
	return scrubMessage(s)
}

// scrubMessage strips query strings, credentials and user names from a message.
func scrubMessage(message string) string {
	scrubbed := queryStringPattern.ReplaceAllString(message, "$1?[REDACTED]")
	scrubbed = credentialURLPattern.ReplaceAllString(scrubbed, "$1[REDACTED]@")
	for _, p := range secretPatterns {
		scrubbed = p.ReplaceAllString(scrubbed, "[REDACTED]")
	}
	return scrubbed
}
