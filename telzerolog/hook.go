// Package telzerolog records rs/zerolog events as log entries.
package telzerolog

import (
	"github.com/peterbourgon/telescope"
	"github.com/rs/zerolog"
)

// Hook is a zerolog hook which records every event as a log entry. Events
// created with a context, via Ctx or Logger.WithContext, are correlated to the
// request carried by that context.
//
// Zerolog doesn't expose the fields of an event to hooks, so entries carry the
// level and message only, plus the static fields given to NewHook.
type Hook struct {
	tel    *telescope.Telescope
	fields map[string]any
}

var _ zerolog.Hook = (*Hook)(nil)

// NewHook returns a hook recording to tel. The fields, which may be nil, are
// recorded as the context of every entry.
func NewHook(tel *telescope.Telescope, fields map[string]any) *Hook {
	return &Hook{tel: tel, fields: fields}
}

// Run implements zerolog.Hook.
func (h *Hook) Run(e *zerolog.Event, level zerolog.Level, message string) {
	if !e.Enabled() || level == zerolog.Disabled {
		return
	}

	h.tel.RecordLog(&telescope.Log{
		Entry:   telescope.Entry{ParentID: telescope.RequestID(e.GetCtx())},
		Level:   Level(level),
		Message: message,
		Context: h.fields,
	})
}

// Level maps a zerolog level to a log entry level.
func Level(l zerolog.Level) telescope.Level {
	switch l {
	case zerolog.TraceLevel, zerolog.DebugLevel:
		return telescope.LevelDebug
	case zerolog.WarnLevel:
		return telescope.LevelWarning
	case zerolog.ErrorLevel:
		return telescope.LevelError
	case zerolog.FatalLevel, zerolog.PanicLevel:
		return telescope.LevelCritical
	default:
		return telescope.LevelInfo
	}
}
