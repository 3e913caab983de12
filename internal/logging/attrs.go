package logging

import (
	"log/slog"
	"time"
)

type Attr = slog.Attr

func Bool(key string, value bool) Attr { return slog.Bool(key, value) }

func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func String(key string, value string) Attr { return slog.String(key, value) }

func Strings(key string, values []string) Attr { return slog.Any(key, values) }

// RunID tags a line with the backend run it concerns.
func RunID(id string) Attr { return slog.String(FieldRunID, id) }

// Volume tags a line with the shared volume it concerns.
func Volume(name string) Attr { return slog.String(FieldVolume, name) }

// Step tags a line with a pipeline step name.
func Step(name string) Attr { return slog.String(FieldStep, name) }

func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

func Args(attrs ...Attr) []any {
	args := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		args = append(args, attr)
	}
	return args
}

func NewNop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// NewComponentLogger creates a logger with a standardized component attribute.
// If logger is nil, a no-op logger is used as the base.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(String(FieldComponent, component))
}

// WarnWithContext logs a warning that always carries event_type, error_hint and
// impact. Attributes passed by the caller win over the defaults.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	defaults := map[string]string{
		FieldEventType: eventType,
		FieldErrorHint: "check logs for details",
		FieldImpact:    "run continued with warnings",
	}
	args := make([]any, 0, len(attrs)+len(defaults))
	for _, attr := range attrs {
		delete(defaults, attr.Key)
		args = append(args, attr)
	}
	for _, key := range []string{FieldEventType, FieldErrorHint, FieldImpact} {
		if value, ok := defaults[key]; ok {
			args = append(args, slog.String(key, value))
		}
	}
	logger.Warn(msg, args...)
}
