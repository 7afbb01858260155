// Package telslog records log/slog records as log entries.
package telslog

import (
	"context"
	"log/slog"
	"slices"

	"github.com/peterbourgon/telescope"
)

// Handler is a slog.Handler which records every log record as a log entry, with
// the request carried by the context passed to the logger, if any, as its
// parent. Records are also passed to the next handler, if it's not nil.
//
// Use the context-aware logging methods, like InfoContext, so records can be
// correlated to requests.
type Handler struct {
	tel    *telescope.Telescope
	next   slog.Handler
	attrs  []groupedAttr
	groups []string
}

type groupedAttr struct {
	groups []string
	attr   slog.Attr
}

var _ slog.Handler = (*Handler)(nil)

// NewHandler returns a handler recording to tel, and passing records to next,
// which may be nil. If next is already a handler for tel, it's returned as-is.
func NewHandler(tel *telescope.Telescope, next slog.Handler) *Handler {
	if h, ok := next.(*Handler); ok && h.tel == tel {
		return h
	}
	return &Handler{tel: tel, next: next}
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.tel.Watching(telescope.CategoryLogs) {
		return true
	}
	return h.next != nil && h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if h.tel.Watching(telescope.CategoryLogs) {
		fields := map[string]any{}
		for _, ga := range h.attrs {
			addAttr(fields, ga.groups, ga.attr)
		}
		r.Attrs(func(a slog.Attr) bool {
			addAttr(fields, h.groups, a)
			return true
		})
		if len(fields) <= 0 {
			fields = nil
		}

		h.tel.RecordLog(&telescope.Log{
			Entry:   telescope.Entry{ParentID: telescope.RequestID(ctx)},
			Level:   Level(r.Level),
			Message: r.Message,
			Context: fields,
		})
	}

	if h.next != nil && h.next.Enabled(ctx, r.Level) {
		return h.next.Handle(ctx, r)
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) <= 0 {
		return h
	}
	cp := h.clone()
	for _, a := range attrs {
		cp.attrs = append(cp.attrs, groupedAttr{groups: h.groups, attr: a})
	}
	if h.next != nil {
		cp.next = h.next.WithAttrs(attrs)
	}
	return cp
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	cp := h.clone()
	cp.groups = append(slices.Clip(h.groups), name)
	if h.next != nil {
		cp.next = h.next.WithGroup(name)
	}
	return cp
}

func (h *Handler) clone() *Handler {
	return &Handler{
		tel:    h.tel,
		next:   h.next,
		attrs:  slices.Clip(h.attrs),
		groups: slices.Clip(h.groups),
	}
}

// Level maps a slog level to a log entry level.
func Level(l slog.Level) telescope.Level {
	switch {
	case l < slog.LevelInfo:
		return telescope.LevelDebug
	case l < slog.LevelInfo+2:
		return telescope.LevelInfo
	case l < slog.LevelWarn:
		return telescope.LevelNotice
	case l < slog.LevelError:
		return telescope.LevelWarning
	case l < slog.LevelError+4:
		return telescope.LevelError
	default:
		return telescope.LevelCritical
	}
}

func addAttr(dst map[string]any, groups []string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	for _, g := range groups {
		sub, ok := dst[g].(map[string]any)
		if !ok {
			sub = map[string]any{}
			dst[g] = sub
		}
		dst = sub
	}

	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		if len(attrs) <= 0 {
			return
		}
		var sub []string
		if a.Key != "" {
			sub = []string{a.Key}
		}
		for _, ga := range attrs {
			addAttr(dst, sub, ga)
		}
		return
	}

	dst[a.Key] = value(a.Value)
}

func value(v slog.Value) any {
	switch v.Kind() {
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time()
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return v.Any()
	default:
		return v.Any()
	}
}
