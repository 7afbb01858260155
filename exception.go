package telescope

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-stack/stack"
)

const maxTraceFrames = 64

var myPackagePath = fmt.Sprintf("%+k", stack.Caller(0))

// NewException returns an exception describing err, with a stack trace of the
// caller. The parent id is not set.
func NewException(err error, fields map[string]any) *Exception {
	if err == nil {
		err = errors.New("<nil>")
	}
	return &Exception{
		Class:   errorClass(err),
		Code:    errorCode(err),
		Message: err.Error(),
		Trace:   captureTrace(),
		Context: fields,
	}
}

// NewPanicException returns an exception describing a value recovered from a
// panic. It should be called from the deferred function which recovered the
// value, so that the stack trace includes the panicking code.
func NewPanicException(v any, fields map[string]any) *Exception {
	if err, ok := v.(error); ok {
		return NewException(err, fields)
	}
	return &Exception{
		Class:   fmt.Sprintf("panic(%T)", v),
		Message: fmt.Sprint(v),
		Trace:   captureTrace(),
		Context: fields,
	}
}

// RecordError records err as an exception, with the request in ctx, if any, as
// its parent. It returns the id of the recorded entry. A nil error records
// nothing.
func (t *Telescope) RecordError(ctx context.Context, err error, fields map[string]any) string {
	if err == nil {
		return ""
	}
	ex := NewException(err, fields)
	ex.ParentID = RequestID(ctx)
	return t.RecordException(ex)
}

// WriteLog records a log with the given level and message, with the request
// in ctx, if any, as its parent. It returns the id of the recorded entry.
func (t *Telescope) WriteLog(ctx context.Context, level Level, message string, fields map[string]any) string {
	return t.RecordLog(&Log{
		Entry:   Entry{ParentID: RequestID(ctx)},
		Level:   level,
		Message: message,
		Context: fields,
	})
}

// Go runs fn in a new goroutine, with the given context. If fn panics, the
// panic is recovered and recorded as an exception, with the request in ctx, if
// any, as its parent, and the goroutine exits without crashing the program.
func (t *Telescope) Go(ctx context.Context, fn func(context.Context)) {
	go func() {
		defer func() {
			if v := recover(); v != nil {
				ex := NewPanicException(v, map[string]any{"goroutine": true})
				ex.ParentID = RequestID(ctx)
				id := t.RecordException(ex)
				t.Logger().Error().Str("exception_id", id).Str("request_id", ex.ParentID).Msgf("recovered panic: %v", v)
			}
		}()
		fn(ctx)
	}()
}

// errorClass returns the type name of err, looking through the wrappers
// produced by fmt.Errorf and errors.Join.
func errorClass(err error) string {
unwrap:
	for isStdWrapper(err) {
		switch x := err.(type) {
		case interface{ Unwrap() error }:
			next := x.Unwrap()
			if next == nil {
				break unwrap
			}
			err = next
		case interface{ Unwrap() []error }:
			errs := x.Unwrap()
			if len(errs) <= 0 {
				break unwrap
			}
			err = errs[0]
		default:
			break unwrap
		}
	}
	return fmt.Sprintf("%T", err)
}

func isStdWrapper(err error) bool {
	switch fmt.Sprintf("%T", err) {
	case "*fmt.wrapError", "*fmt.wrapErrors", "*errors.joinError":
		return true
	default:
		return false
	}
}

// errorCode returns the code of the first error in the chain which has one.
func errorCode(err error) string {
	var coder interface{ Code() string }
	if errors.As(err, &coder) {
		return coder.Code()
	}
	var statuser interface{ StatusCode() int }
	if errors.As(err, &statuser) {
		return fmt.Sprint(statuser.StatusCode())
	}
	return ""
}

// captureTrace returns the current call stack, without runtime frames or
// frames from this package. Panic machinery is also runtime frames.
func captureTrace() []Frame {
	frames := []Frame{}
	for _, c := range stack.Trace().TrimRuntime() {
		f := c.Frame()
		if strings.HasPrefix(f.Function, myPackagePath+".") || strings.HasPrefix(f.Function, "runtime.") {
			continue
		}
		frames = append(frames, Frame{
			Function: f.Function,
			File:     f.File,
			Line:     f.Line,
		})
		if len(frames) >= maxTraceFrames {
			break
		}
	}
	return frames
}
