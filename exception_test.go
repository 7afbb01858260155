package telescope_test

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/peterbourgon/telescope"
)

type codedError struct{ code string }

func (e *codedError) Error() string { return "coded: " + e.code }
func (e *codedError) Code() string  { return e.code }

type statusError struct{ status int }

func (e statusError) Error() string   { return fmt.Sprintf("status %d", e.status) }
func (e statusError) StatusCode() int { return e.status }

func TestNewException(t *testing.T) {
	t.Parallel()

	for _, testcase := range []struct {
		name  string
		err   error
		class string
		code  string
	}{
		{"plain", errors.New("x"), "*errors.errorString", ""},
		{"wrapped", fmt.Errorf("open config: %w", fs.ErrNotExist), "*errors.errorString", ""},
		{"path error", &fs.PathError{Op: "open", Path: "/x", Err: fs.ErrNotExist}, "*fs.PathError", ""},
		{"coded", fmt.Errorf("a: %w", fmt.Errorf("b: %w", &codedError{code: "E42"})), "*telescope_test.codedError", "E42"},
		{"status", statusError{status: 503}, "telescope_test.statusError", "503"},
		{"joined", errors.Join(&codedError{code: "J"}, errors.New("y")), "*telescope_test.codedError", "J"},
	} {
		testcase := testcase
		t.Run(testcase.name, func(t *testing.T) {
			t.Parallel()

			ex := telescope.NewException(testcase.err, map[string]any{"k": "v"})
			AssertEqual(t, testcase.class, ex.Class)
			AssertEqual(t, testcase.code, ex.Code)
			AssertEqual(t, testcase.err.Error(), ex.Message)
			AssertEqual(t, map[string]any{"k": "v"}, ex.Context)
		})
	}
}

func TestNewExceptionTrace(t *testing.T) {
	t.Parallel()

	ex := telescope.NewException(errors.New("x"), nil)
	if len(ex.Trace) <= 0 {
		t.Fatal("empty trace")
	}
	top := ex.Trace[0]
	if !strings.HasSuffix(top.Function, "TestNewExceptionTrace") {
		t.Errorf("top frame: want this test, have %s", top.Function)
	}
	if !strings.HasSuffix(top.File, "exception_test.go") {
		t.Errorf("top frame: want this file, have %s", top.File)
	}
	for _, f := range ex.Trace {
		if strings.HasPrefix(f.Function, "github.com/peterbourgon/telescope.") {
			t.Errorf("trace includes internal frame %s", f.Function)
		}
	}
}

func TestNewPanicException(t *testing.T) {
	t.Parallel()

	ex := telescope.NewPanicException("oh no", nil)
	AssertEqual(t, "panic(string)", ex.Class)
	AssertEqual(t, "oh no", ex.Message)

	ex = telescope.NewPanicException(&codedError{code: "P"}, nil)
	AssertEqual(t, "*telescope_test.codedError", ex.Class)
	AssertEqual(t, "P", ex.Code)
}

func TestRecordError(t *testing.T) {
	t.Parallel()

	tel := newTestTelescope(t)
	ctx := telescope.WithRequest(context.Background(), telescope.RequestContext{RequestID: "req"})

	AssertEqual(t, "", tel.RecordError(ctx, nil, nil))

	id := tel.RecordError(ctx, fmt.Errorf("load: %w", &codedError{code: "404"}), map[string]any{"user": 7})
	ex, ok := tel.Exception(id)
	AssertEqual(t, true, ok)
	AssertEqual(t, "req", ex.ParentID)
	AssertEqual(t, "*telescope_test.codedError", ex.Class)
	AssertEqual(t, "404", ex.Code)
	AssertEqual(t, "load: coded: 404", ex.Message)
	AssertEqual(t, []string{id}, ids(tel.Children("req").Exceptions))

	id = tel.RecordError(context.Background(), errors.New("orphan"), nil)
	ex, _ = tel.Exception(id)
	AssertEqual(t, "", ex.ParentID)
}

func TestGoRecoversPanic(t *testing.T) {
	t.Parallel()

	tel := newTestTelescope(t)
	ctx := telescope.WithRequest(context.Background(), telescope.RequestContext{RequestID: "req"})

	done := make(chan struct{})
	tel.Go(ctx, func(ctx context.Context) {
		defer close(done)
		panicInBackground()
	})
	<-done

	var exceptions []*telescope.Exception
	deadline := time.Now().Add(5 * time.Second)
	for len(exceptions) == 0 && time.Now().Before(deadline) {
		exceptions = tel.ExceptionsByParent("req")
		time.Sleep(time.Millisecond)
	}
	AssertEqual(t, 1, len(exceptions))

	ex := exceptions[0]
	AssertEqual(t, "panic(string)", ex.Class)
	AssertEqual(t, "background job failed", ex.Message)
	AssertEqual(t, map[string]any{"goroutine": true}, ex.Context)

	var found bool
	for _, f := range ex.Trace {
		if strings.HasSuffix(f.Function, "panicInBackground") {
			found = true
		}
	}
	AssertEqual(t, true, found)
}

func panicInBackground() {
	panic("background job failed")
}
