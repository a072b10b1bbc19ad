package logger

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"strings"
)

// NewSlogHandler returns a slog.Handler that forwards records to the provided Logger.
// If logger is nil, it returns nil.
func NewSlogHandler(l *Logger) slog.Handler {
	if l == nil {
		return nil
	}
	return &slogAdapter{log: l}
}

// NewStdLogger returns a *log.Logger whose output lands in l at the given
// level, for APIs such as http.Server.ErrorLog that want the stdlib type.
func NewStdLogger(l *Logger, level Level) *log.Logger {
	return slog.NewLogLogger(NewSlogHandler(l), loggerLevelToSlogLevel(level))
}

type slogAdapter struct {
	log    *Logger
	groups []string
	// attrs added through WithAttrs, already qualified with the groups
	// that were open at the time
	preformatted string
}

func (h *slogAdapter) Enabled(_ context.Context, level slog.Level) bool {
	return h.log.Enabled(slogLevelToLoggerLevel(level))
}

func (h *slogAdapter) Handle(_ context.Context, record slog.Record) error {
	message := record.Message

	var builder strings.Builder
	builder.WriteString(h.preformatted)
	record.Attrs(func(attr slog.Attr) bool {
		writeAttr(&builder, attr, h.groups)
		return true
	})

	if attrText := builder.String(); attrText != "" {
		if message != "" {
			message = message + " " + attrText
		} else {
			message = attrText
		}
	}

	h.log.Logf(slogLevelToLoggerLevel(record.Level), "%s", message)
	return nil
}

func (h *slogAdapter) WithAttrs(attrs []slog.Attr) slog.Handler {
	var builder strings.Builder
	builder.WriteString(h.preformatted)
	for _, attr := range attrs {
		writeAttr(&builder, attr, h.groups)
	}
	return &slogAdapter{
		log:          h.log,
		groups:       append([]string(nil), h.groups...),
		preformatted: builder.String(),
	}
}

func (h *slogAdapter) WithGroup(name string) slog.Handler {
	newGroups := append([]string(nil), h.groups...)
	if name != "" {
		newGroups = append(newGroups, name)
	}
	return &slogAdapter{
		log:          h.log,
		groups:       newGroups,
		preformatted: h.preformatted,
	}
}

func slogLevelToLoggerLevel(level slog.Level) Level {
	switch {
	case level >= slog.LevelError:
		return LevelError
	case level >= slog.LevelWarn:
		return LevelWarn
	case level >= slog.LevelInfo:
		return LevelInfo
	default:
		return LevelDebug
	}
}

func loggerLevelToSlogLevel(level Level) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError, LevelNone:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func writeAttr(builder *strings.Builder, attr slog.Attr, prefix []string) {
	if attr.Equal(slog.Attr{}) {
		return
	}

	if attr.Value.Kind() == slog.KindGroup {
		groupPrefix := append(append([]string(nil), prefix...), attr.Key)
		for _, nested := range attr.Value.Group() {
			writeAttr(builder, nested, groupPrefix)
		}
		return
	}

	key := attr.Key
	if key == "" {
		key = "attr"
	}
	if builder.Len() > 0 {
		builder.WriteByte(' ')
	}
	keyParts := append(append([]string(nil), prefix...), key)
	fmt.Fprintf(builder, "%s=%v", strings.Join(keyParts, "."), attr.Value)
}
